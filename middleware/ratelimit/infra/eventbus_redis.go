package infra

import (
	"context"
	"encoding/json"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisEventBus publica decisões em Redis Streams.
//
// ALLOW vai para <prefix>:requests; DENY vai para <prefix>:blocked:<scope>
// (particionado pelo escopo limitante). Consumidores deduplicam por request_id.
type RedisEventBus struct {
	rdb    redis.UniversalClient
	prefix string
	maxLen int64
}

type EventBusOption func(*RedisEventBus)

func WithEventsPrefix(prefix string) EventBusOption {
	return func(b *RedisEventBus) { b.prefix = strings.Trim(prefix, ":") }
}

// WithEventsMaxLen limita o tamanho aproximado de cada stream (0 = sem limite).
func WithEventsMaxLen(n int64) EventBusOption {
	return func(b *RedisEventBus) { b.maxLen = n }
}

func NewRedisEventBus(rdb redis.UniversalClient, opts ...EventBusOption) *RedisEventBus {
	b := &RedisEventBus{
		rdb:    rdb,
		prefix: "events:decisions",
		maxLen: 10000,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisEventBus) Name() string { return "event_bus" }

// Topic devolve o stream de destino de um registro.
func (b *RedisEventBus) Topic(rec domain.DecisionRecord) string {
	if rec.Verdict == domain.VerdictAllow {
		return b.prefix + ":requests"
	}
	scope := string(rec.LimitingScope)
	if scope == "" {
		scope = "none"
	}
	return b.prefix + ":blocked:" + scope
}

func (b *RedisEventBus) Write(ctx context.Context, rec domain.DecisionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: b.Topic(rec),
		Values: map[string]any{
			"request_id":        rec.RequestID,
			"client_request_id": rec.ClientRequestID,
			"endpoint":          rec.Endpoint,
			"verdict":           string(rec.Verdict),
			"payload":           string(payload),
		},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	return b.rdb.XAdd(ctx, args).Err()
}
