package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisWindowStore_RecordAndCount(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisWindowStore(rdb, WithWindowTimeout(time.Second))
	ctx := context.Background()
	t0 := time.UnixMilli(1_700_000_000_000)

	for i := 1; i <= 3; i++ {
		wc, err := s.RecordAndCount(ctx, ipKey, time.Minute, t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.Equal(t, i, wc.Count)
		assert.Equal(t, t0.Add(time.Second), wc.Oldest)
	}

	assert.True(t, mr.Exists("ratelimit:ip:10.0.0.1"))
	assert.Greater(t, mr.TTL("ratelimit:ip:10.0.0.1"), time.Duration(0))
}

func TestRedisWindowStore_SameMillisecondIsCountedTwice(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewRedisWindowStore(rdb, WithWindowTimeout(time.Second))
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	_, err := s.RecordAndCount(ctx, ipKey, time.Minute, now)
	require.NoError(t, err)
	wc, err := s.RecordAndCount(ctx, ipKey, time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 2, wc.Count)
}

func TestRedisWindowStore_WindowSlides(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewRedisWindowStore(rdb, WithWindowTimeout(time.Second))
	ctx := context.Background()
	t0 := time.UnixMilli(1_700_000_000_000)

	_, err := s.RecordAndCount(ctx, ipKey, time.Minute, t0)
	require.NoError(t, err)
	_, err = s.RecordAndCount(ctx, ipKey, time.Minute, t0.Add(30*time.Second))
	require.NoError(t, err)

	wc, err := s.RecordAndCount(ctx, ipKey, time.Minute, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, wc.Count)
	assert.Equal(t, t0.Add(30*time.Second), wc.Oldest)
}

func TestRedisWindowStore_Peek(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewRedisWindowStore(rdb, WithWindowTimeout(time.Second))
	ctx := context.Background()
	t0 := time.UnixMilli(1_700_000_000_000)

	wc, err := s.Peek(ctx, ipKey, time.Minute, t0)
	require.NoError(t, err)
	assert.Zero(t, wc.Count)

	_, _ = s.RecordAndCount(ctx, ipKey, time.Minute, t0)
	_, _ = s.RecordAndCount(ctx, ipKey, time.Minute, t0.Add(10*time.Second))

	wc, err = s.Peek(ctx, ipKey, time.Minute, t0.Add(20*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, wc.Count)

	wc, err = s.Peek(ctx, ipKey, time.Minute, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, wc.Count)
	assert.Equal(t, t0.Add(10*time.Second), wc.Oldest)

	// Peek não grava
	wc, err = s.Peek(ctx, ipKey, time.Minute, t0.Add(20*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, wc.Count)
}

func TestRedisWindowStore_UnavailableWrapsSentinel(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisWindowStore(rdb, WithWindowTimeout(200*time.Millisecond))
	mr.Close()

	_, err := s.RecordAndCount(context.Background(), ipKey, time.Minute, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))

	_, err = s.Peek(context.Background(), ipKey, time.Minute, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
}

func TestParseScore(t *testing.T) {
	got, err := parseScore("1700000000123")
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1_700_000_000_123), got)

	got, err = parseScore(int64(5))
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(5), got)

	_, err = parseScore("abc")
	assert.Error(t, err)
	_, err = parseScore(3.5)
	assert.Error(t, err)
}
