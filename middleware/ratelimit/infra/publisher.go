package infra

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// OverflowPolicy define o que Publish faz com a fila cheia.
type OverflowPolicy int

const (
	// OverflowDrop descarta a decisão e conta o descarte.
	OverflowDrop OverflowPolicy = iota
	// OverflowBlock espera vaga na fila (pode atrasar a requisição).
	OverflowBlock
)

func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop":
		return OverflowDrop, nil
	case "block":
		return OverflowBlock, nil
	}
	return OverflowDrop, &domain.ConfigError{Field: "publish_overflow", Reason: fmt.Sprintf("unknown value %q (use drop|block)", s)}
}

func (p OverflowPolicy) String() string {
	if p == OverflowBlock {
		return "block"
	}
	return "drop"
}

// Publisher distribui decisões para os sinks (auditoria, barramento) em background.
//
// Falhas de sink são logadas e contadas; nunca voltam para o caminho da requisição.
type Publisher struct {
	sinks        []domain.DecisionSink
	queue        chan domain.Decision
	workers      int
	overflow     OverflowPolicy
	writeTimeout time.Duration
	logger       *slog.Logger
	metrics      *Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	written  atomic.Int64
	dropped  atomic.Int64
	failures atomic.Int64
}

type PublisherOption func(*Publisher)

func WithQueueSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.queue = make(chan domain.Decision, n)
		}
	}
}

func WithWorkers(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithOverflow(policy OverflowPolicy) PublisherOption {
	return func(p *Publisher) { p.overflow = policy }
}

func WithWriteTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.writeTimeout = d }
}

func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = l }
}

func WithPublisherMetrics(m *Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// NewPublisher cria o publisher e já inicia os workers.
func NewPublisher(sinks []domain.DecisionSink, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		sinks:        sinks,
		queue:        make(chan domain.Decision, 1024),
		workers:      2,
		writeTimeout: 2 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.work()
	}
	return p
}

// Publish implementa domain.DecisionPublisher.
func (p *Publisher) Publish(d domain.Decision) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.drop()
		return
	}

	if p.overflow == OverflowBlock {
		p.queue <- d
		return
	}

	select {
	case p.queue <- d:
	default:
		p.drop()
	}
}

func (p *Publisher) drop() {
	p.dropped.Add(1)
	p.metrics.PublishDropped()
}

func (p *Publisher) work() {
	defer p.wg.Done()
	for d := range p.queue {
		rec := domain.NewDecisionRecord(d)
		for _, sink := range p.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
			err := sink.Write(ctx, rec)
			cancel()
			if err != nil {
				p.failures.Add(1)
				p.metrics.PublishFailed(sink.Name())
				p.logger.Warn("decision publish failed",
					"sink", sink.Name(),
					"request_id", rec.RequestID,
					"error", err)
				continue
			}
			p.written.Add(1)
		}
	}
}

// Written conta escritas bem-sucedidas (uma por sink).
func (p *Publisher) Written() int64  { return p.written.Load() }
func (p *Publisher) Dropped() int64  { return p.dropped.Load() }
func (p *Publisher) Failures() int64 { return p.failures.Load() }

// Close para de aceitar decisões e espera os workers esvaziarem a fila.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []string
	for _, sink := range p.sinks {
		if c, ok := sink.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, sink.Name()+": "+err.Error())
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close sinks: %s", strings.Join(errs, "; "))
	}
	return nil
}
