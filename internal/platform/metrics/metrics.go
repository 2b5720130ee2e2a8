package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the identifier lifecycle.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Generated           *prometheus.CounterVec
	SequenceAllocations *prometheus.CounterVec
	Conflicts           *prometheus.CounterVec
	Tombstones          prometheus.Counter
	StatusChanges       *prometheus.CounterVec
	SweepRuns           *prometheus.CounterVec
	SweepDuration       *prometheus.HistogramVec
	DoeIdentities       *prometheus.CounterVec
	RecoveryAttempts    *prometheus.CounterVec
	Quarantined         prometheus.Counter
	HTTPDuration        *prometheus.HistogramVec
}

// New creates and registers all lifecycle metrics with reg. A nil reg
// creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Generated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "euid_generated_total",
			Help: "Identifiers issued, by entity type",
		}, []string{"entity_type"}),
		SequenceAllocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "euid_sequence_allocations_total",
			Help: "Sequence numbers handed out, by outcome",
		}, []string{"outcome"}),
		Conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "euid_conflicts_total",
			Help: "Candidate identifiers that were unavailable, by conflict kind",
		}, []string{"kind"}),
		Tombstones: factory.NewCounter(prometheus.CounterOpts{
			Name: "euid_tombstones_total",
			Help: "Identifiers permanently retired by deletion",
		}),
		StatusChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "euid_status_changes_total",
			Help: "Status transitions, by new status and whether they were cascaded",
		}, []string{"status", "cascaded"}),
		SweepRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "euid_sweep_runs_total",
			Help: "Periodic sweep passes, by sweep and outcome",
		}, []string{"sweep", "outcome"}),
		SweepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "euid_sweep_duration_seconds",
			Help:    "Duration of periodic sweep passes",
			Buckets: prometheus.DefBuckets,
		}, []string{"sweep"}),
		DoeIdentities: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "euid_doe_identities_total",
			Help: "Placeholder identities assigned to corrupted records, by kind",
		}, []string{"kind"}),
		RecoveryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "euid_recovery_attempts_total",
			Help: "Recovery attempts on corrupted records, by outcome",
		}, []string{"outcome"}),
		Quarantined: factory.NewCounter(prometheus.CounterOpts{
			Name: "euid_quarantined_total",
			Help: "Corrupted records moved to quarantine",
		}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "euid_http_request_duration_seconds",
			Help:    "HTTP request latency, by route pattern and status code",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

func (m *Metrics) IncGenerated(entityType string) {
	if m == nil {
		return
	}
	m.Generated.WithLabelValues(entityType).Inc()
}

func (m *Metrics) IncSequenceAllocation(outcome string) {
	if m == nil {
		return
	}
	m.SequenceAllocations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncConflict(kind string) {
	if m == nil {
		return
	}
	m.Conflicts.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncTombstone() {
	if m == nil {
		return
	}
	m.Tombstones.Inc()
}

func (m *Metrics) IncStatusChange(status string, cascaded bool) {
	if m == nil {
		return
	}
	label := "false"
	if cascaded {
		label = "true"
	}
	m.StatusChanges.WithLabelValues(status, label).Inc()
}

// ObserveSweep records one sweep pass.
func (m *Metrics) ObserveSweep(sweep string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.SweepRuns.WithLabelValues(sweep, outcome).Inc()
	m.SweepDuration.WithLabelValues(sweep).Observe(time.Since(started).Seconds())
}

// IncSweepSkipped records a pass that did not start because the previous one was still running.
func (m *Metrics) IncSweepSkipped(sweep string) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(sweep, "skipped").Inc()
}

func (m *Metrics) IncDoeIdentity(kind string) {
	if m == nil {
		return
	}
	m.DoeIdentities.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncRecoveryAttempt(outcome string) {
	if m == nil {
		return
	}
	m.RecoveryAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncQuarantined() {
	if m == nil {
		return
	}
	m.Quarantined.Inc()
}

func (m *Metrics) ObserveHTTP(route string, status int, started time.Time) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(time.Since(started).Seconds())
}
