// Package metrics holds the prometheus collectors of leapguard.
//
// All recording methods are safe on a nil *Metrics so components can run
// without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "leapguard"

// Metrics groups every collector.
type Metrics struct {
	batchesValidated  *prometheus.CounterVec
	violations        *prometheus.CounterVec
	checkExecutions   *prometheus.CounterVec
	checkDuration     *prometheus.HistogramVec
	monitorRuns       *prometheus.CounterVec
	monitorEvents     *prometheus.CounterVec
	watermarkUpdates  *prometheus.CounterVec
	governanceVersion prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Labels: source, outcome (valid, invalid, no_contract, duplicate)
		batchesValidated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validator",
			Name:      "batches_total",
			Help:      "Batches validated by outcome",
		}, []string{"source", "outcome"}),
		violations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_recorded_total",
			Help:      "Violation records written to the stream",
		}, []string{"type", "severity"}),
		// Labels: check_type, status (ok, violation, error, timeout)
		checkExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verifier",
			Name:      "check_executions_total",
			Help:      "Quality check executions by status",
		}, []string{"check_type", "status"}),
		checkDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "verifier",
			Name:      "check_duration_seconds",
			Help:      "Quality check execution time in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"check_type"}),
		// Labels: monitor, outcome (event_emitted, no_signal, errored)
		monitorRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "runs_total",
			Help:      "Monitor runs by outcome",
		}, []string{"monitor", "outcome"}),
		monitorEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "events_recorded_total",
			Help:      "Monitor events written to the stream",
		}, []string{"kind", "severity"}),
		// Labels: source, outcome (written, regression_rejected, regression_allowed)
		watermarkUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watermark",
			Name:      "updates_total",
			Help:      "Watermark updates by outcome",
		}, []string{"source", "outcome"}),
		governanceVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "snapshot_version",
			Help:      "Version of the active governance snapshot",
		}),
	}
}

// BatchValidated counts one validated batch.
func (m *Metrics) BatchValidated(source, outcome string) {
	if m == nil {
		return
	}
	m.batchesValidated.WithLabelValues(source, outcome).Inc()
}

// ViolationRecorded counts one persisted violation record.
func (m *Metrics) ViolationRecorded(violationType, severity string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(violationType, severity).Inc()
}

// CheckExecuted records one quality check execution.
func (m *Metrics) CheckExecuted(checkType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.checkExecutions.WithLabelValues(checkType, status).Inc()
	m.checkDuration.WithLabelValues(checkType).Observe(d.Seconds())
}

// MonitorRun counts one finished monitor run.
func (m *Metrics) MonitorRun(monitor, outcome string) {
	if m == nil {
		return
	}
	m.monitorRuns.WithLabelValues(monitor, outcome).Inc()
}

// MonitorEventRecorded counts one persisted monitor event.
func (m *Metrics) MonitorEventRecorded(kind, severity string) {
	if m == nil {
		return
	}
	m.monitorEvents.WithLabelValues(kind, severity).Inc()
}

// WatermarkUpdated counts one watermark update attempt.
func (m *Metrics) WatermarkUpdated(source, outcome string) {
	if m == nil {
		return
	}
	m.watermarkUpdates.WithLabelValues(source, outcome).Inc()
}

// GovernanceLoaded sets the active snapshot version.
func (m *Metrics) GovernanceLoaded(version int64) {
	if m == nil {
		return
	}
	m.governanceVersion.Set(float64(version))
}
