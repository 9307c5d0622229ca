package infra

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileAuditSink_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit_log.jsonl")
	ctx := context.Background()

	sink, err := NewFileAuditSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Write(ctx, domain.NewDecisionRecord(decision("r1"))))
	require.NoError(t, sink.Close())

	// reabrir não trunca
	sink, err = NewFileAuditSink(path)
	require.NoError(t, err)
	deny := decision("r2")
	deny.Verdict = domain.VerdictDeny
	deny.LimitingScope = domain.ScopeIP
	require.NoError(t, sink.Write(ctx, domain.NewDecisionRecord(deny)))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var recs []domain.DecisionRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec domain.DecisionRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		recs = append(recs, rec)
	}
	require.NoError(t, sc.Err())

	require.Len(t, recs, 2)
	assert.Equal(t, "r1", recs[0].RequestID)
	assert.Equal(t, domain.VerdictDeny, recs[1].Verdict)
	assert.Equal(t, domain.ScopeIP, recs[1].LimitingScope)
	require.Len(t, recs[1].EvaluatedKeys, 1)
	assert.Equal(t, "10.0.0.1", recs[1].EvaluatedKeys[0].ID)
}

func TestSQLAuditSink_IdempotentByRequestID(t *testing.T) {
	ctx := context.Background()
	sink, err := OpenSQLAuditSink(ctx, filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	rec := domain.NewDecisionRecord(decision("r1"))
	require.NoError(t, sink.Write(ctx, rec))
	require.NoError(t, sink.Write(ctx, rec))
	require.NoError(t, sink.Write(ctx, domain.NewDecisionRecord(decision("r2"))))

	n, err := sink.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLAuditSink_ReopenKeepsRows(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "audit.db")

	sink, err := OpenSQLAuditSink(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, sink.Write(ctx, domain.NewDecisionRecord(decision("r1"))))
	require.NoError(t, sink.Close())

	sink, err = OpenSQLAuditSink(ctx, dsn)
	require.NoError(t, err)
	defer sink.Close()

	n, err := sink.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
