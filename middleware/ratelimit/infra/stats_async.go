package infra

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// AsyncStatsStore coloca eventos numa fila limitada e grava no store de
// destino em background. Quando a fila enche, o evento é descartado e contado.
type AsyncStatsStore struct {
	next    domain.StatsStore
	queue   chan domain.StatsEvent
	timeout time.Duration
	logger  *slog.Logger
	onDrop  func()

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
	failed  atomic.Int64
}

type AsyncStatsOption func(*AsyncStatsStore)

func WithAsyncQueueSize(n int) AsyncStatsOption {
	return func(s *AsyncStatsStore) {
		if n > 0 {
			s.queue = make(chan domain.StatsEvent, n)
		}
	}
}

func WithAsyncTimeout(d time.Duration) AsyncStatsOption {
	return func(s *AsyncStatsStore) { s.timeout = d }
}

func WithAsyncLogger(l *slog.Logger) AsyncStatsOption {
	return func(s *AsyncStatsStore) { s.logger = l }
}

func WithAsyncOnDrop(fn func()) AsyncStatsOption {
	return func(s *AsyncStatsStore) { s.onDrop = fn }
}

func NewAsyncStatsStore(next domain.StatsStore, opts ...AsyncStatsOption) *AsyncStatsStore {
	s := &AsyncStatsStore{
		next:    next,
		queue:   make(chan domain.StatsEvent, 1024),
		timeout: time.Second,
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Record nunca bloqueia.
func (s *AsyncStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.drop()
		return nil
	}

	select {
	case s.queue <- ev:
	default:
		s.drop()
	}
	return nil
}

func (s *AsyncStatsStore) drop() {
	s.dropped.Add(1)
	if s.onDrop != nil {
		s.onDrop()
	}
}

func (s *AsyncStatsStore) run() {
	defer close(s.done)
	for ev := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.next.Record(ctx, ev); err != nil {
			s.failed.Add(1)
			s.logger.Warn("stats write failed", "endpoint", ev.Endpoint, "error", err)
		}
		cancel()
	}
}

func (s *AsyncStatsStore) Dropped() int64 { return s.dropped.Load() }
func (s *AsyncStatsStore) Failed() int64  { return s.failed.Load() }

// Close para de aceitar eventos e espera a fila esvaziar (ou ctx encerrar).
func (s *AsyncStatsStore) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MultiStatsStore repassa o evento para todos os stores.
type MultiStatsStore []domain.StatsStore

func (m MultiStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
