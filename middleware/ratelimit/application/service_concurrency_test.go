package application_test

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	concurrentLimit    = 50
	concurrentRequests = 400
	concurrentRounds   = 5
)

// Com N requisições simultâneas contra um limite L na mesma chave,
// exatamente L são admitidas, qualquer que seja a intercalação.
func TestService_Evaluate_ConcurrentExactlyLimitAllowed(t *testing.T) {
	for round := 0; round < concurrentRounds; round++ {
		runConcurrentRound(t, round, infra.NewMemoryWindowStore(), application.FailOpen)
	}
}

// Mesma propriedade pelo script Lua do RedisWindowStore. Fail-closed faz
// qualquer erro do store aparecer como negação degradada.
func TestService_Evaluate_ConcurrentExactlyLimitAllowed_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), PoolSize: 64})
	t.Cleanup(func() { _ = rdb.Close() })
	store := infra.NewRedisWindowStore(rdb, infra.WithWindowTimeout(10*time.Second))

	for round := 0; round < concurrentRounds; round++ {
		mr.FlushAll()
		runConcurrentRound(t, round, store, application.FailClosed)
	}
}

func runConcurrentRound(t *testing.T, round int, store domain.WindowStore, mode application.FailMode) {
	t.Helper()

	tiers := domain.DefaultTiers()
	tiers[0] = domain.Tier{Scope: domain.ScopeIP, Limit: concurrentLimit, Window: time.Minute}
	reg, err := application.NewTierRegistry(tiers)
	if err != nil {
		t.Fatalf("tiers: %v", err)
	}

	now := time.Unix(1_700_000_000, 0)
	svc := application.Service{
		Store:    store,
		Tiers:    reg,
		FailMode: mode,
		Now:      func() time.Time { return now },
	}

	var allowed, denied atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < concurrentRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			time.Sleep(time.Duration(rand.IntN(200)) * time.Microsecond)
			dec := svc.Evaluate(context.Background(), application.RequestInfo{
				RemoteIP: "203.0.113.9",
				Endpoint: "/api/v1/resource",
				Method:   "GET",
			})
			if dec.Degraded {
				t.Errorf("unexpected degraded decision: %+v", dec)
			}
			if dec.Allowed() {
				allowed.Add(1)
				return
			}
			if dec.LimitingScope != domain.ScopeIP {
				t.Errorf("limiting scope = %q, want ip", dec.LimitingScope)
			}
			denied.Add(1)
		}()
	}
	close(start)
	wg.Wait()

	if got := allowed.Load(); got != concurrentLimit {
		t.Fatalf("round %d: allowed = %d, want %d", round, got, concurrentLimit)
	}
	if got := denied.Load(); got != concurrentRequests-concurrentLimit {
		t.Fatalf("round %d: denied = %d, want %d", round, got, concurrentRequests-concurrentLimit)
	}
}
