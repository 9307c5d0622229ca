package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	requestIDHeader = "X-Request-Id"
	scopeHeader     = "X-RateLimit-Scope"

	maxClientRequestID = 128

	tracerName = "admission-gateway/middleware/ratelimit"
)

type Options struct {
	Service application.Service
	// Stats recebe um evento por requisição (best-effort).
	Stats domain.StatsStore
	// Publisher recebe a decisão; deve ser não-bloqueante.
	Publisher domain.DecisionPublisher

	RequestInfoFn      RequestInfoFunc
	TrustXForwardedFor bool
	UserHeader         string
	APIKeyHeader       string

	// BackendTimeout limita o handler seguinte (0 = sem limite).
	BackendTimeout time.Duration

	Metrics *infra.Metrics
	Logger  *slog.Logger
}

// Middleware é o ponto de admissão: avalia, responde DENY direto ou repassa para next.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.UserHeader == "" {
		opts.UserHeader = "X-User-Id"
	}
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = "X-API-Key"
	}
	if opts.RequestInfoFn == nil {
		opts.RequestInfoFn = DefaultRequestInfo(opts.UserHeader, opts.APIKeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	tracer := otel.Tracer(tracerName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// o id da decisão é sempre nosso; o do cliente só acompanha o registro
			reqID := uuid.NewString()
			w.Header().Set(requestIDHeader, reqID)

			info := opts.RequestInfoFn(r)
			info.RequestID = reqID
			info.ClientRequestID = clientRequestID(r)

			ctx, span := tracer.Start(r.Context(), "ratelimit.admission", trace.WithSpanKind(trace.SpanKindInternal))
			dec := opts.Service.Evaluate(ctx, info)
			span.SetAttributes(
				attribute.String("ratelimit.request_id", reqID),
				attribute.String("ratelimit.verdict", string(dec.Verdict)),
				attribute.String("ratelimit.limiting_scope", string(dec.LimitingScope)),
				attribute.String("http.route", dec.Endpoint),
				attribute.Bool("ratelimit.degraded", dec.Degraded),
			)
			if !dec.Allowed() {
				span.SetStatus(codes.Error, "rate limited")
			}
			span.End()

			setLimitHeaders(w.Header(), dec)
			if opts.Publisher != nil {
				opts.Publisher.Publish(dec)
			}

			if !dec.Allowed() {
				reject(w, dec)
				finish(r.Context(), opts, dec, false, start)
				return
			}

			fctx := r.Context()
			if opts.BackendTimeout > 0 {
				var cancel context.CancelFunc
				fctx, cancel = context.WithTimeout(fctx, opts.BackendTimeout)
				defer cancel()
			}

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r.WithContext(fctx))

			failed := sw.Status() >= http.StatusInternalServerError
			if failed {
				opts.Logger.Debug("backend failure after admission",
					"request_id", reqID,
					"endpoint", dec.Endpoint,
					"status", sw.Status())
			}
			finish(r.Context(), opts, dec, failed, start)
		})
	}
}

// clientRequestID devolve o X-Request-Id enviado pelo cliente, truncado.
func clientRequestID(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get(requestIDHeader))
	if len(v) > maxClientRequestID {
		v = v[:maxClientRequestID]
	}
	return v
}

// setLimitHeaders escreve limite e saldo por escopo avaliado. Chave degradada
// não tem contagem conhecida, então só o limite vai no header.
func setLimitHeaders(h http.Header, dec domain.Decision) {
	for _, kr := range dec.Keys {
		h.Set(limitHeader(kr.Key.Scope), formatInt(kr.Limit))
		if !kr.Degraded {
			h.Set(remainingHeader(kr.Key.Scope), formatInt(kr.Remaining))
		}
	}
}

func reject(w http.ResponseWriter, dec domain.Decision) {
	status := http.StatusTooManyRequests
	if dec.Degraded {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set(scopeHeader, string(dec.LimitingScope))
	if dec.RetryAfter > 0 {
		w.Header().Set("Retry-After", formatRetryAfter(dec.RetryAfter))
	}
	http.Error(w, http.StatusText(status), status)
}

// finish registra estatísticas e a métrica de latência ponta a ponta.
func finish(ctx context.Context, opts Options, dec domain.Decision, failed bool, start time.Time) {
	lat := time.Since(start)

	outcome := "allowed"
	switch {
	case !dec.Allowed():
		outcome = "blocked"
	case failed:
		outcome = "error"
	}
	opts.Metrics.ObserveRequest(outcome, lat)

	if opts.Stats == nil {
		return
	}
	// contexto desacoplado: o cliente pode já ter ido embora
	err := opts.Stats.Record(context.WithoutCancel(ctx), domain.StatsEvent{
		Endpoint: dec.Endpoint,
		Method:   dec.Method,
		Verdict:  dec.Verdict,
		Failed:   failed,
		Latency:  lat,
		At:       dec.At,
	})
	if err != nil {
		opts.Logger.Warn("stats record failed", "endpoint", dec.Endpoint, "error", err)
	}
}

// statusWriter guarda o status escrito pelo handler seguinte.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Unwrap expõe o writer original para http.ResponseController (flush do proxy).
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
