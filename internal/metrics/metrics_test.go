package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.BatchValidated("orders", "invalid")
	m.BatchValidated("orders", "invalid")
	m.ViolationRecorded("data_quality", "critical")
	m.CheckExecuted("not_null", "violation", 20*time.Millisecond)
	m.MonitorRun("demand_spike", "no_signal")
	m.MonitorEventRecorded("signal", "info")
	m.WatermarkUpdated("erp", "written")
	m.GovernanceLoaded(3)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 8)

	values := map[string]float64{}
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			values[fam.GetName()] += metricValue(metric)
		}
	}
	assert.Equal(t, 2.0, values["leapguard_validator_batches_total"])
	assert.Equal(t, 1.0, values["leapguard_violations_recorded_total"])
	assert.Equal(t, 1.0, values["leapguard_verifier_check_executions_total"])
	assert.Equal(t, 1.0, values["leapguard_verifier_check_duration_seconds"])
	assert.Equal(t, 1.0, values["leapguard_monitor_runs_total"])
	assert.Equal(t, 3.0, values["leapguard_governance_snapshot_version"])
}

// metricValue returns the counter or gauge value, or the sample count of a
// histogram.
func metricValue(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetHistogram() != nil:
		return float64(m.GetHistogram().GetSampleCount())
	}
	return 0
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.BatchValidated("x", "valid")
		m.ViolationRecorded("sla", "high")
		m.CheckExecuted("unique", "ok", time.Second)
		m.MonitorRun("x", "errored")
		m.MonitorEventRecorded("monitor_error", "high")
		m.WatermarkUpdated("x", "written")
		m.GovernanceLoaded(1)
	})
}
