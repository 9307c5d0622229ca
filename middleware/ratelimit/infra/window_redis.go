package infra

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingLogScript descarta, adiciona e conta num único passo no servidor.
//
// KEYS[1] = chave; ARGV = now(ms), window(ms), member.
// Retorna {count, score do mais antigo}.
var slidingLogScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
redis.call('ZADD', key, ARGV[1], ARGV[3])
redis.call('PEXPIRE', key, window)
local count = redis.call('ZCARD', key)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {count, oldest[2]}
`)

// RedisWindowStore implementa domain.WindowStore sobre sorted sets do Redis.
// Os membros são timestamps (score em ms) e a chave expira junto com a janela.
type RedisWindowStore struct {
	rdb     redis.UniversalClient
	timeout time.Duration
}

type RedisWindowOption func(*RedisWindowStore)

// WithWindowTimeout define o timeout de cada chamada ao Redis. Deve ser bem menor
// que o SLA do cliente para um Redis degradado não travar o gateway.
func WithWindowTimeout(d time.Duration) RedisWindowOption {
	return func(s *RedisWindowStore) { s.timeout = d }
}

func NewRedisWindowStore(rdb redis.UniversalClient, opts ...RedisWindowOption) *RedisWindowStore {
	s := &RedisWindowStore{
		rdb:     rdb,
		timeout: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisWindowStore) RecordAndCount(ctx context.Context, key domain.Key, window time.Duration, now time.Time) (domain.WindowCount, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	nowMS := now.UnixMilli()
	member := strconv.FormatInt(nowMS, 10) + "-" + uuid.NewString()

	vals, err := slidingLogScript.Run(ctx, s.rdb, []string{key.String()}, nowMS, windowMS(window), member).Slice()
	if err != nil {
		return domain.WindowCount{}, unavailable(key, err)
	}
	if len(vals) != 2 {
		return domain.WindowCount{}, unavailable(key, fmt.Errorf("unexpected script reply %v", vals))
	}

	count, ok := vals[0].(int64)
	if !ok {
		return domain.WindowCount{}, unavailable(key, fmt.Errorf("unexpected count %T", vals[0]))
	}
	oldest, err := parseScore(vals[1])
	if err != nil {
		return domain.WindowCount{}, unavailable(key, err)
	}
	return domain.WindowCount{Count: int(count), Oldest: oldest}, nil
}

func (s *RedisWindowStore) Peek(ctx context.Context, key domain.Key, window time.Duration, now time.Time) (domain.WindowCount, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	lo := "(" + strconv.FormatInt(now.UnixMilli()-windowMS(window), 10)
	var (
		countCmd  *redis.IntCmd
		oldestCmd *redis.ZSliceCmd
	)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		countCmd = pipe.ZCount(ctx, key.String(), lo, "+inf")
		oldestCmd = pipe.ZRangeByScoreWithScores(ctx, key.String(), &redis.ZRangeBy{Min: lo, Max: "+inf", Count: 1})
		return nil
	})
	if err != nil {
		return domain.WindowCount{}, unavailable(key, err)
	}

	wc := domain.WindowCount{Count: int(countCmd.Val())}
	if zs := oldestCmd.Val(); len(zs) > 0 {
		wc.Oldest = time.UnixMilli(int64(zs[0].Score))
	}
	return wc, nil
}

func (s *RedisWindowStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func windowMS(window time.Duration) int64 {
	if ms := window.Milliseconds(); ms > 0 {
		return ms
	}
	return 1
}

func parseScore(v any) (time.Time, error) {
	switch x := v.(type) {
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse oldest score: %w", err)
		}
		return time.UnixMilli(int64(f)), nil
	case int64:
		return time.UnixMilli(x), nil
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("unexpected oldest score %T", v)
}

func unavailable(key domain.Key, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, key, err)
}
