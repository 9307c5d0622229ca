package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava contadores cumulativos em stats:endpoint:<path>.
//
// Campos do hash: allowed, blocked, errors, count, totalLatencyMs e um
// histograma le:<ms> (consultável por ferramentas operacionais).
type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix string
	// ttl aplica apenas em chaves de série temporal.
	// os hashes por endpoint são cumulativos e não expiram.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) endpointKey(endpoint string) string {
	return s.prefix + ":endpoint:" + endpoint
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "blocked"
	if ev.Verdict == domain.VerdictAllow {
		field = "allowed"
	}
	lat := ev.Latency
	if lat < 0 {
		lat = 0
	}

	key := s.endpointKey(ev.Endpoint)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, key, field, 1)
	pipe.HIncrBy(ctx, key, "count", 1)
	pipe.HIncrBy(ctx, key, "totalLatencyMs", lat.Milliseconds())
	pipe.HIncrBy(ctx, key, bucketField(bucketIndex(lat)), 1)
	if ev.Failed {
		pipe.HIncrBy(ctx, key, "errors", 1)
	}

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if ev.Failed {
			pipe.HIncrBy(ctx, bucketKey, "errors", 1)
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Read lê o hash de um endpoint. ok=false quando não existe.
func (s *RedisStatsStore) Read(ctx context.Context, endpoint string) (domain.EndpointStats, bool, error) {
	m, err := s.rdb.HGetAll(ctx, s.endpointKey(endpoint)).Result()
	if err != nil {
		return domain.EndpointStats{}, false, err
	}
	if len(m) == 0 {
		return domain.EndpointStats{}, false, nil
	}

	atoi := func(k string) int64 {
		v, _ := strconv.ParseInt(m[k], 10, 64)
		return v
	}

	counts := make([]int64, numLatencyBuckets)
	for i := range counts {
		counts[i] = atoi(bucketField(i))
	}
	total := atoi("count")

	return domain.EndpointStats{
		Allowed: atoi("allowed"),
		Blocked: atoi("blocked"),
		Errors:  atoi("errors"),
		Count:   total,
		P50:     percentile(counts, total, 0.50, 0),
		P95:     percentile(counts, total, 0.95, 0),
		P99:     percentile(counts, total, 0.99, 0),
	}, true, nil
}

// Endpoints lista os paths com estatísticas (SCAN, sem bloquear o Redis).
func (s *RedisStatsStore) Endpoints(ctx context.Context) ([]string, error) {
	prefix := s.endpointKey("")
	var out []string
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
