package infra

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	_ "modernc.org/sqlite"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	request_id        TEXT PRIMARY KEY,
	client_request_id TEXT NOT NULL DEFAULT '',
	ts                TEXT NOT NULL,
	endpoint          TEXT NOT NULL,
	method            TEXT NOT NULL,
	verdict           TEXT NOT NULL,
	limiting_scope    TEXT NOT NULL DEFAULT '',
	retry_after_ms    INTEGER NOT NULL DEFAULT 0,
	degraded          INTEGER NOT NULL DEFAULT 0,
	evaluated_keys    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_ts ON audit_log (ts);
`

// SQLAuditSink grava decisões numa tabela append-only (sqlite).
// INSERT OR IGNORE torna a escrita idempotente por request_id, que o gateway
// gera por decisão; reenvio do mesmo registro não duplica linha.
type SQLAuditSink struct {
	db *sql.DB
}

// OpenSQLAuditSink abre (ou cria) o banco sqlite em dsn e aplica o schema.
func OpenSQLAuditSink(ctx context.Context, dsn string) (*SQLAuditSink, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// sqlite aceita um escritor por vez
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, auditSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}
	return &SQLAuditSink{db: db}, nil
}

func (s *SQLAuditSink) Name() string { return "audit_sql" }

func (s *SQLAuditSink) Write(ctx context.Context, rec domain.DecisionRecord) error {
	keys, err := json.Marshal(rec.EvaluatedKeys)
	if err != nil {
		return err
	}
	degraded := 0
	if rec.Degraded {
		degraded = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO audit_log
			(request_id, client_request_id, ts, endpoint, method, verdict, limiting_scope, retry_after_ms, degraded, evaluated_keys)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID,
		rec.ClientRequestID,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.Endpoint,
		rec.Method,
		string(rec.Verdict),
		string(rec.LimitingScope),
		rec.RetryAfterMS,
		degraded,
		string(keys),
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// Count devolve o total de registros (diagnóstico/testes).
func (s *SQLAuditSink) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&n)
	return n, err
}

func (s *SQLAuditSink) Close() error { return s.db.Close() }
