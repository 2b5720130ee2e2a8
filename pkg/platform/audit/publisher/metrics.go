package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "entityid/pkg/platform/audit"
)

// Metrics holds Prometheus metrics for audit delivery.
type Metrics struct {
	Emitted         *prometheus.CounterVec
	Dropped         *prometheus.CounterVec
	PersistFailures prometheus.Counter
	CircuitOpen     prometheus.Gauge
}

// NewMetrics registers audit metrics with reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Emitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "euid_audit_events_emitted_total",
			Help: "Audit events written to the sink, by category",
		}, []string{"category"}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "euid_audit_events_dropped_total",
			Help: "Audit events dropped before reaching the sink, by reason",
		}, []string{"reason"}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "euid_audit_persist_failures_total",
			Help: "Audit sink write failures",
		}),
		CircuitOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "euid_audit_circuit_open",
			Help: "Audit circuit breaker state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) incEmitted(category audit.EventCategory) {
	if m == nil {
		return
	}
	m.Emitted.WithLabelValues(string(category)).Inc()
}

func (m *Metrics) incDropped(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) incPersistFailures() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

func (m *Metrics) setCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitOpen.Set(1)
		return
	}
	m.CircuitOpen.Set(0)
}
