package infra

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

type endpointCounters struct {
	allowed atomic.Int64
	blocked atomic.Int64
	errors  atomic.Int64
	maxNS   atomic.Int64
	buckets [numLatencyBuckets]atomic.Int64
}

// MemoryStatsStore é o agregador em memória: só incrementos atômicos,
// nunca bloqueia o caminho da requisição.
//
// Entradas vivem até o processo reiniciar.
type MemoryStatsStore struct {
	byEndpoint sync.Map // string -> *endpointCounters
	total      endpointCounters
}

func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{}
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	c := s.counters(ev.Endpoint)
	c.add(ev)
	s.total.add(ev)
	return nil
}

func (s *MemoryStatsStore) counters(endpoint string) *endpointCounters {
	if v, ok := s.byEndpoint.Load(endpoint); ok {
		return v.(*endpointCounters)
	}
	v, _ := s.byEndpoint.LoadOrStore(endpoint, &endpointCounters{})
	return v.(*endpointCounters)
}

func (c *endpointCounters) add(ev domain.StatsEvent) {
	if ev.Verdict == domain.VerdictAllow {
		c.allowed.Add(1)
	} else {
		c.blocked.Add(1)
	}
	if ev.Failed {
		c.errors.Add(1)
	}

	lat := ev.Latency
	if lat < 0 {
		lat = 0
	}
	c.buckets[bucketIndex(lat)].Add(1)
	for {
		cur := c.maxNS.Load()
		if int64(lat) <= cur || c.maxNS.CompareAndSwap(cur, int64(lat)) {
			break
		}
	}
}

func (c *endpointCounters) snapshot() domain.EndpointStats {
	counts := make([]int64, numLatencyBuckets)
	var total int64
	for i := range c.buckets {
		counts[i] = c.buckets[i].Load()
		total += counts[i]
	}
	peak := time.Duration(c.maxNS.Load())

	return domain.EndpointStats{
		Allowed: c.allowed.Load(),
		Blocked: c.blocked.Load(),
		Errors:  c.errors.Load(),
		Count:   total,
		P50:     percentile(counts, total, 0.50, peak),
		P95:     percentile(counts, total, 0.95, peak),
		P99:     percentile(counts, total, 0.99, peak),
		Max:     peak,
	}
}

// Endpoint devolve as estatísticas de um endpoint.
func (s *MemoryStatsStore) Endpoint(endpoint string) (domain.EndpointStats, bool) {
	v, ok := s.byEndpoint.Load(endpoint)
	if !ok {
		return domain.EndpointStats{}, false
	}
	return v.(*endpointCounters).snapshot(), true
}

func (s *MemoryStatsStore) Total() domain.EndpointStats {
	return s.total.snapshot()
}

// Snapshot copia todas as estatísticas (export para ferramentas operacionais).
func (s *MemoryStatsStore) Snapshot() map[string]domain.EndpointStats {
	out := make(map[string]domain.EndpointStats)
	s.byEndpoint.Range(func(k, v any) bool {
		out[k.(string)] = v.(*endpointCounters).snapshot()
		return true
	})
	return out
}

// Endpoints devolve os paths conhecidos em ordem alfabética.
func (s *MemoryStatsStore) Endpoints() []string {
	var out []string
	s.byEndpoint.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}
