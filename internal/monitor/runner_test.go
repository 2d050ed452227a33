package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leapstack-labs/leapguard/internal/events"
	"github.com/leapstack-labs/leapguard/internal/registry"
	"github.com/leapstack-labs/leapguard/internal/state"
	"github.com/leapstack-labs/leapguard/internal/testutil"
	"github.com/leapstack-labs/leapguard/pkg/adapter"
	"github.com/leapstack-labs/leapguard/pkg/adapters/duckdb"
	"github.com/leapstack-labs/leapguard/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 1, 16, 12, 0, 0, 0, time.UTC)

const monitorsYAML = `
allowed_tables: [sales, ghost]
monitors:
  - name: demand_spike
    window_minutes: 60
    threshold: 10
    rule:
      select: [sku, "CAST(sum(qty) AS BIGINT) AS total"]
      from: sales
      where: ts >= @window_start AND ts < @now
      group_by: [sku]
      having: sum(qty) > @threshold
      order_by: [sku]
  - name: quiet
    window_minutes: 30
    rule:
      select: [sku]
      from: sales
      where: qty < 0
  - name: graded
    window_minutes: 60
    severity: warn
    rule:
      select: [sku, "CASE WHEN qty > 50 THEN 'critical' ELSE 'low' END AS severity"]
      from: sales
      where: qty > 20
  - name: broken
    window_minutes: 60
    rule:
      select: [id]
      from: ghost
  - name: paused
    window_minutes: 1
    enabled: false
    rule:
      select: [sku]
      from: sales
`

type fixture struct {
	runner *Runner
	store  *state.SQLiteStore
}

func newFixture(t *testing.T, yaml string, db core.Querier, opts Options) *fixture {
	t.Helper()
	store, err := state.OpenStore(context.Background(), ":memory:", testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	snap, err := registry.BuildYAML("monitors.yaml", []byte(yaml), nil)
	require.NoError(t, err)

	r := NewRunner(registry.Static{Snap: snap}, db, store, events.NewStream(store, nil, nil), nil, testutil.NewTestLogger(t), opts)
	return &fixture{runner: r, store: store}
}

func (f *fixture) events(t *testing.T, name string) []*core.MonitorEvent {
	t.Helper()
	out, err := f.store.ListMonitorEvents(context.Background(), core.EventFilter{MonitorName: name})
	require.NoError(t, err)
	return out
}

func (f *fixture) run(t *testing.T, name string) *core.MonitorRunState {
	t.Helper()
	st, err := f.store.GetMonitorRun(context.Background(), name)
	require.NoError(t, err)
	return st
}

func setupSales(t *testing.T) *duckdb.Adapter {
	t.Helper()
	ctx := context.Background()
	wh := duckdb.New(testutil.NewTestLogger(t))
	require.NoError(t, wh.Connect(ctx, adapter.Config{Type: "duckdb"}))
	t.Cleanup(func() { _ = wh.Close() })

	require.NoError(t, wh.Exec(ctx, `CREATE TABLE sales (sku VARCHAR, qty INTEGER, ts TIMESTAMP)`))
	require.NoError(t, wh.Exec(ctx, `INSERT INTO sales VALUES
		('a', 30, TIMESTAMP '2025-01-16 11:10:00'),
		('b', 12, TIMESTAMP '2025-01-16 11:20:00'),
		('c', 60, TIMESTAMP '2025-01-16 11:30:00'),
		('d', 5,  TIMESTAMP '2025-01-16 11:40:00'),
		('a', 99, TIMESTAMP '2025-01-16 09:00:00')`))
	return wh
}

func TestRunMonitors(t *testing.T) {
	f := newFixture(t, monitorsYAML, setupSales(t), Options{})
	ctx := context.Background()

	emitted, err := f.runner.RunMonitors(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, emitted, "demand_spike and graded signal, broken is a diagnostic")

	spike := f.events(t, "demand_spike")
	require.Len(t, spike, 1, "one event per run regardless of row count")
	assert.Equal(t, core.EventSignal, spike[0].Kind)
	assert.Equal(t, core.SeverityInfo, spike[0].Severity)
	require.Len(t, spike[0].Payload, 3)
	assert.Equal(t, "a", spike[0].Payload[0]["sku"])
	assert.EqualValues(t, 30, spike[0].Payload[0]["total"], "the 09:00 row is outside the window")

	graded := f.events(t, "graded")
	require.Len(t, graded, 1)
	assert.Equal(t, core.SeverityCritical, graded[0].Severity)

	broken := f.events(t, "broken")
	require.Len(t, broken, 1)
	assert.Equal(t, core.EventMonitorError, broken[0].Kind)
	assert.Equal(t, core.SeverityHigh, broken[0].Severity)
	assert.Equal(t, core.MonitorErrored, f.run(t, "broken").LastOutcome)

	assert.Empty(t, f.events(t, "quiet"))
	quiet := f.run(t, "quiet")
	require.NotNil(t, quiet)
	assert.Equal(t, now, quiet.LastRunAt)
	assert.Equal(t, core.MonitorNoSignal, quiet.LastOutcome)

	assert.Nil(t, f.run(t, "paused"), "disabled monitors never run")

	for name, st := range f.runner.States() {
		assert.Equal(t, core.MonitorIdle, st, name)
	}
}

func TestRunMonitors_NoSignalIsIdempotent(t *testing.T) {
	f := newFixture(t, monitorsYAML, setupSales(t), Options{})
	ctx := context.Background()

	_, err := f.runner.RunMonitors(ctx, now)
	require.NoError(t, err)

	// not due yet: nothing runs
	emitted, err := f.runner.RunMonitors(ctx, now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, emitted)
	assert.Equal(t, int64(1), f.run(t, "quiet").RunCount)

	second := now.Add(30 * time.Minute)
	emitted, err = f.runner.RunMonitors(ctx, second)
	require.NoError(t, err)
	assert.Zero(t, emitted, "only quiet was due")

	quiet := f.run(t, "quiet")
	assert.Equal(t, int64(2), quiet.RunCount)
	assert.Equal(t, second, quiet.LastRunAt)
	assert.Empty(t, f.events(t, "quiet"))
	assert.Len(t, f.events(t, "demand_spike"), 1)
}

func TestRunMonitors_SkipsRunning(t *testing.T) {
	f := newFixture(t, monitorsYAML, setupSales(t), Options{})
	require.True(t, f.runner.begin("demand_spike"))

	_, err := f.runner.RunMonitors(context.Background(), now)
	require.NoError(t, err)
	assert.Nil(t, f.run(t, "demand_spike"))
	assert.Equal(t, core.MonitorRunning, f.runner.States()["demand_spike"])
	assert.NotNil(t, f.run(t, "quiet"))
}

func TestRunMonitors_Timeout(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	mock.ExpectQuery(`SELECT sku FROM "sales"`).
		WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"sku"}).AddRow("a"))

	f := newFixture(t, `
allowed_tables: [sales]
monitors:
  - name: slow
    window_minutes: 5
    rule: {select: [sku], from: sales}
`, adapter.NewBase(db, core.DuckDBDialect, nil), Options{RuleTimeout: 30 * time.Millisecond})

	emitted, err := f.runner.RunMonitors(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, emitted)

	evs := f.events(t, "slow")
	require.Len(t, evs, 1)
	assert.Equal(t, core.EventMonitorError, evs[0].Kind)
	assert.Contains(t, evs[0].Payload[0]["error"], "timed out")

	st := f.run(t, "slow")
	require.NotNil(t, st)
	assert.Equal(t, now, st.LastRunAt, "a failing monitor still advances")
}

func TestRunMonitors_Cancelled(t *testing.T) {
	f := newFixture(t, monitorsYAML, setupSales(t), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	emitted, err := f.runner.RunMonitors(ctx, now)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, emitted)
	assert.Nil(t, f.run(t, "quiet"))
}

func TestStatus(t *testing.T) {
	f := newFixture(t, monitorsYAML, setupSales(t), Options{})
	ctx := context.Background()
	_, err := f.runner.RunMonitors(ctx, now)
	require.NoError(t, err)

	status, err := f.runner.Status(ctx, now.Add(45*time.Minute))
	require.NoError(t, err)
	require.Len(t, status, 5)

	byName := map[string]Status{}
	for _, s := range status {
		byName[s.Name] = s
	}
	assert.True(t, byName["quiet"].Due)
	assert.False(t, byName["demand_spike"].Due)
	assert.False(t, byName["paused"].Enabled)
	assert.False(t, byName["paused"].Due)
	assert.Nil(t, byName["paused"].Last)
	assert.Equal(t, core.MonitorIdle, byName["graded"].State)
	assert.Equal(t, core.MonitorEventEmitted, byName["graded"].Last.LastOutcome)
}

func TestEventSeverity(t *testing.T) {
	def := &core.MonitorDefinition{}
	assert.Equal(t, core.SeverityInfo, eventSeverity(def, []map[string]any{{"x": 1}}))

	def.Severity = core.SeverityMedium
	assert.Equal(t, core.SeverityMedium, eventSeverity(def, []map[string]any{{"severity": "bogus"}}))
	assert.Equal(t, core.SeverityHigh, eventSeverity(def, []map[string]any{
		{"severity": "low"}, {"severity": "error"}, {"severity": 3},
	}))
}
