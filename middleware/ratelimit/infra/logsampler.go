package infra

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// sampledHandler descarta registros acima de uma taxa (token bucket).
// Com o Redis fora, cada requisição geraria um warning; isso evita inundar o log.
type sampledHandler struct {
	next slog.Handler
	lim  *rate.Limiter
}

// NewSampledLogger devolve um logger que deixa passar no máximo `burst`
// registros de uma vez e depois um a cada `every`.
func NewSampledLogger(l *slog.Logger, every time.Duration, burst int) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	if burst <= 0 {
		burst = 1
	}
	return slog.New(&sampledHandler{
		next: l.Handler(),
		lim:  rate.NewLimiter(rate.Every(every), burst),
	})
}

func (h *sampledHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *sampledHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.lim.Allow() {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *sampledHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sampledHandler{next: h.next.WithAttrs(attrs), lim: h.lim}
}

func (h *sampledHandler) WithGroup(name string) slog.Handler {
	return &sampledHandler{next: h.next.WithGroup(name), lim: h.lim}
}
