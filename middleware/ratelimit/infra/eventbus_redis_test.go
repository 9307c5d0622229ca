package infra

import (
	"context"
	"encoding/json"
	"testing"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisEventBus_Topic(t *testing.T) {
	b := NewRedisEventBus(nil, WithEventsPrefix("gw:"))

	assert.Equal(t, "gw:requests", b.Topic(domain.DecisionRecord{Verdict: domain.VerdictAllow}))
	assert.Equal(t, "gw:blocked:user", b.Topic(domain.DecisionRecord{Verdict: domain.VerdictDeny, LimitingScope: domain.ScopeUser}))
	assert.Equal(t, "gw:blocked:none", b.Topic(domain.DecisionRecord{Verdict: domain.VerdictDeny}))
}

func TestRedisEventBus_WritesToStreams(t *testing.T) {
	_, rdb := newTestRedis(t)
	b := NewRedisEventBus(rdb, WithEventsMaxLen(100))
	ctx := context.Background()

	allow := domain.NewDecisionRecord(decision("r1"))
	d := decision("r2")
	d.Verdict = domain.VerdictDeny
	d.LimitingScope = domain.ScopeIP
	deny := domain.NewDecisionRecord(d)

	require.NoError(t, b.Write(ctx, allow))
	require.NoError(t, b.Write(ctx, deny))

	msgs, err := rdb.XRange(ctx, "events:decisions:requests", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "r1", msgs[0].Values["request_id"])

	msgs, err = rdb.XRange(ctx, "events:decisions:blocked:ip", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var got domain.DecisionRecord
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["payload"].(string)), &got))
	assert.Equal(t, "r2", got.RequestID)
	assert.Equal(t, domain.ScopeIP, got.LimitingScope)
}
