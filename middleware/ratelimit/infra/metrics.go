package infra

import (
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics agrupa os coletores prometheus do gateway.
// Todos os métodos aceitam receiver nil (métricas desligadas).
type Metrics struct {
	decisions           *prometheus.CounterVec
	storeDegraded       *prometheus.CounterVec
	publishFailures     *prometheus.CounterVec
	publishDropped      prometheus.Counter
	statsDropped        prometheus.Counter
	concurrencyRejected prometheus.Counter
	requestDuration     *prometheus.HistogramVec

	reg prometheus.Registerer
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,

		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_decisions_total",
			Help: "Admission decisions by verdict and limiting scope.",
		}, []string{"verdict", "scope"}),
		storeDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_store_degraded_total",
			Help: "Window store calls that failed and fell back to the fail mode.",
		}, []string{"scope"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_publish_failures_total",
			Help: "Decision records that a sink failed to accept.",
		}, []string{"sink"}),
		publishDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_publish_dropped_total",
			Help: "Decisions dropped because the publish queue was full or closed.",
		}),
		statsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_stats_dropped_total",
			Help: "Stats events dropped by the async stats queue.",
		}),
		concurrencyRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_concurrency_rejected_total",
			Help: "Requests rejected because no in-flight slot was available.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request latency by outcome (allowed, blocked, error).",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.decisions,
			m.storeDegraded,
			m.publishFailures,
			m.publishDropped,
			m.statsDropped,
			m.concurrencyRejected,
			m.requestDuration,
		)
	}
	return m
}

// Decided implementa application.Observer.
func (m *Metrics) Decided(d domain.Decision) {
	if m == nil {
		return
	}
	scope := string(d.LimitingScope)
	if scope == "" {
		scope = "none"
	}
	m.decisions.WithLabelValues(string(d.Verdict), scope).Inc()
}

// StoreDegraded implementa application.Observer.
func (m *Metrics) StoreDegraded(sc domain.Scope, _ error) {
	if m == nil {
		return
	}
	m.storeDegraded.WithLabelValues(string(sc)).Inc()
}

func (m *Metrics) PublishFailed(sink string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) PublishDropped() {
	if m == nil {
		return
	}
	m.publishDropped.Inc()
}

func (m *Metrics) StatsDropped() {
	if m == nil {
		return
	}
	m.statsDropped.Inc()
}

func (m *Metrics) ConcurrencyRejected() {
	if m == nil {
		return
	}
	m.concurrencyRejected.Inc()
}

// TrackInFlight expõe a ocupação do pool como gauge.
func (m *Metrics) TrackInFlight(pool domain.SlotPool) {
	if m == nil || m.reg == nil || pool == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gateway_inflight_requests",
		Help: "Requests currently holding a concurrency slot.",
	}, func() float64 { return float64(pool.InUse()) }))
}

func (m *Metrics) ObserveRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
