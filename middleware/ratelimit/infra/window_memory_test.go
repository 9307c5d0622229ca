package infra

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ipKey = domain.Key{Scope: domain.ScopeIP, ID: "10.0.0.1"}

func TestMemoryWindowStore_RecordAndCount_CountsEveryCall(t *testing.T) {
	s := NewMemoryWindowStore()
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	for i := 1; i <= 5; i++ {
		wc, err := s.RecordAndCount(ctx, ipKey, time.Minute, t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.Equal(t, i, wc.Count)
		assert.Equal(t, t0.Add(time.Second), wc.Oldest)
	}
}

func TestMemoryWindowStore_RecordAndCount_WindowSlides(t *testing.T) {
	s := NewMemoryWindowStore()
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	_, err := s.RecordAndCount(ctx, ipKey, time.Minute, t0)
	require.NoError(t, err)
	_, err = s.RecordAndCount(ctx, ipKey, time.Minute, t0.Add(30*time.Second))
	require.NoError(t, err)

	// now - t0 == window: t0 já não conta
	wc, err := s.RecordAndCount(ctx, ipKey, time.Minute, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, wc.Count)
	assert.Equal(t, t0.Add(30*time.Second), wc.Oldest)
}

func TestMemoryWindowStore_RecordAndCount_KeysAreIndependent(t *testing.T) {
	s := NewMemoryWindowStore()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	other := domain.Key{Scope: domain.ScopeUser, ID: "10.0.0.1"}
	_, err := s.RecordAndCount(ctx, ipKey, time.Minute, now)
	require.NoError(t, err)
	wc, err := s.RecordAndCount(ctx, other, time.Minute, now)
	require.NoError(t, err)

	assert.Equal(t, 1, wc.Count)
	assert.Equal(t, 2, s.Len())
}

func TestMemoryWindowStore_RecordAndCount_OutOfOrderStampsStaySorted(t *testing.T) {
	s := NewMemoryWindowStore()
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	_, _ = s.RecordAndCount(ctx, ipKey, time.Minute, t0.Add(2*time.Second))
	wc, err := s.RecordAndCount(ctx, ipKey, time.Minute, t0.Add(time.Second))
	require.NoError(t, err)

	assert.Equal(t, 2, wc.Count)
	assert.Equal(t, t0.Add(time.Second), wc.Oldest)
}

func TestMemoryWindowStore_RecordAndCount_CanceledContext(t *testing.T) {
	s := NewMemoryWindowStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.RecordAndCount(ctx, ipKey, time.Minute, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
}

func TestMemoryWindowStore_Peek_DoesNotRecord(t *testing.T) {
	s := NewMemoryWindowStore()
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	wc, err := s.Peek(ctx, ipKey, time.Minute, t0)
	require.NoError(t, err)
	assert.Zero(t, wc.Count)

	_, _ = s.RecordAndCount(ctx, ipKey, time.Minute, t0)
	_, _ = s.RecordAndCount(ctx, ipKey, time.Minute, t0.Add(10*time.Second))

	for range 3 {
		wc, err = s.Peek(ctx, ipKey, time.Minute, t0.Add(20*time.Second))
		require.NoError(t, err)
		assert.Equal(t, 2, wc.Count)
	}

	wc, err = s.Peek(ctx, ipKey, time.Minute, t0.Add(65*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, wc.Count)
	assert.Equal(t, t0.Add(10*time.Second), wc.Oldest)
}

func TestMemoryWindowStore_Cleanup_RemovesIdleKeys(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	now := t0
	s := NewMemoryWindowStore(WithWindowClock(func() time.Time { return now }))
	ctx := context.Background()

	active := domain.Key{Scope: domain.ScopeIP, ID: "10.0.0.2"}
	_, _ = s.RecordAndCount(ctx, ipKey, time.Minute, t0)
	_, _ = s.RecordAndCount(ctx, active, time.Minute, t0.Add(50*time.Second))

	now = t0.Add(70 * time.Second)
	s.Cleanup()

	assert.Equal(t, 1, s.Len())

	// a chave removida volta do zero
	wc, err := s.RecordAndCount(ctx, ipKey, time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 1, wc.Count)
}

func TestMemoryWindowStore_StartJanitor_StopsWithContext(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	s := NewMemoryWindowStore(WithWindowCleanupEvery(5*time.Millisecond), WithWindowClock(clock))

	_, _ = s.RecordAndCount(context.Background(), ipKey, time.Second, now)

	mu.Lock()
	now = now.Add(time.Hour)
	mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartJanitor(ctx)

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryWindowStore_ConcurrentRecordsAreNotLost(t *testing.T) {
	s := NewMemoryWindowStore()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	const goroutines, perG = 50, 20
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				_, err := s.RecordAndCount(ctx, ipKey, time.Minute, now)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	wc, err := s.Peek(ctx, ipKey, time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, goroutines*perG, wc.Count)
}

func TestMemoryWindowStore_ConcurrentWithCleanup(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	// relógio do cleanup bem à frente: toda chave parece ociosa
	s := NewMemoryWindowStore(WithWindowClock(func() time.Time { return now.Add(time.Hour) }))
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				s.Cleanup()
			}
		}
	}()

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				wc, err := s.RecordAndCount(ctx, ipKey, time.Minute, now)
				assert.NoError(t, err)
				assert.GreaterOrEqual(t, wc.Count, 1)
			}
		}()
	}
	wg.Wait()
	close(stop)
}

// Chave quente com janela cheia: o custo por chamada não cresce com o
// tamanho da janela e o slice fica limitado a ~2x os vivos.
func TestMemoryWindowStore_HotKeyStaysLinear(t *testing.T) {
	if testing.Short() {
		t.Skip("carga")
	}
	const (
		calls    = 400_000
		retained = 100_000
		step     = 600 * time.Microsecond
	)
	s := NewMemoryWindowStore()
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	began := time.Now()
	for i := 0; i < calls; i++ {
		wc, err := s.RecordAndCount(ctx, ipKey, time.Minute, t0.Add(time.Duration(i)*step))
		require.NoError(t, err)
		if want := min(i+1, retained); wc.Count != want {
			t.Fatalf("call %d: count = %d, want %d", i, wc.Count, want)
		}
	}
	assert.Less(t, time.Since(began), 10*time.Second)

	ent := s.entries[ipKey.String()]
	ent.mu.Lock()
	defer ent.mu.Unlock()
	assert.Len(t, ent.live(), retained)
	assert.LessOrEqual(t, len(ent.stamps), 2*retained+1)
}

func TestMemoryWindowStore_OutOfOrderAfterHead(t *testing.T) {
	s := NewMemoryWindowStore()
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	for i := 0; i < 10; i++ {
		_, err := s.RecordAndCount(ctx, ipKey, 10*time.Second, t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	// t0+12s descarta t0..t0+2s; o atrasado entra entre os vivos
	_, err := s.RecordAndCount(ctx, ipKey, 10*time.Second, t0.Add(12*time.Second))
	require.NoError(t, err)
	wc, err := s.RecordAndCount(ctx, ipKey, 10*time.Second, t0.Add(5500*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 9, wc.Count)
	assert.Equal(t, t0.Add(3*time.Second), wc.Oldest)

	ent := s.entries[ipKey.String()]
	assert.True(t, slicesSorted(ent.live()))
}

func slicesSorted(ts []time.Time) bool {
	for i := 1; i < len(ts); i++ {
		if ts[i].Before(ts[i-1]) {
			return false
		}
	}
	return true
}

// Enquanto o Cleanup espera por uma entrada ocupada, outras chaves continuam
// sendo criadas: a varredura não segura o lock do mapa.
func TestMemoryWindowStore_CleanupDoesNotBlockNewKeys(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	s := NewMemoryWindowStore(WithWindowClock(func() time.Time { return t0.Add(time.Hour) }))
	ctx := context.Background()

	_, err := s.RecordAndCount(ctx, ipKey, time.Minute, t0)
	require.NoError(t, err)
	busy := s.entries[ipKey.String()]
	busy.mu.Lock()

	cleaned := make(chan struct{})
	go func() {
		s.Cleanup()
		close(cleaned)
	}()
	time.Sleep(20 * time.Millisecond)

	recorded := make(chan struct{})
	go func() {
		other := domain.Key{Scope: domain.ScopeIP, ID: "10.0.0.9"}
		_, err := s.RecordAndCount(ctx, other, time.Minute, t0.Add(time.Hour))
		assert.NoError(t, err)
		close(recorded)
	}()

	select {
	case <-recorded:
	case <-time.After(time.Second):
		busy.mu.Unlock()
		t.Fatal("RecordAndCount blocked behind Cleanup")
	}
	busy.mu.Unlock()
	<-cleaned

	assert.Equal(t, 1, s.Len())
}

func BenchmarkMemoryWindowStore_RecordAndCount_HotKey(b *testing.B) {
	s := NewMemoryWindowStore()
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)
	// pré-enche ~100k timestamps vivos
	for i := 0; i < 100_000; i++ {
		_, _ = s.RecordAndCount(ctx, ipKey, time.Minute, t0.Add(time.Duration(i)*600*time.Microsecond))
	}
	base := t0.Add(60 * time.Second)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.RecordAndCount(ctx, ipKey, time.Minute, base.Add(time.Duration(i)*600*time.Microsecond))
	}
}
