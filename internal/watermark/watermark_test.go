package watermark

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/leapstack-labs/leapguard/internal/events"
	"github.com/leapstack-labs/leapguard/internal/registry"
	"github.com/leapstack-labs/leapguard/internal/state"
	"github.com/leapstack-labs/leapguard/internal/testutil"
	"github.com/leapstack-labs/leapguard/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *state.SQLiteStore {
	t.Helper()
	store, err := state.OpenStore(context.Background(), ":memory:", testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestTracker_RoundTrip(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(openStore(t), "", nil, testutil.NewTestLogger(t))
	assert.Equal(t, PolicyReject, tr.Policy())

	got, err := tr.Get(ctx, "erp", "orders", "updated_at")
	require.NoError(t, err)
	assert.Equal(t, core.EpochSentinel, got)

	require.NoError(t, tr.Update(ctx, Update{
		SourceName:      "erp",
		TableName:       "orders",
		WatermarkColumn: "updated_at",
		Value:           "2025-01-16T12:00:00Z",
		JobRunID:        "run-1",
		RowsProcessed:   120,
	}))

	got, err = tr.Get(ctx, "erp", "orders", "updated_at")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-16T12:00:00Z", got)

	wms, err := tr.List(ctx, "erp")
	require.NoError(t, err)
	require.Len(t, wms, 1)
	assert.Equal(t, "run-1", wms[0].JobRunID)
	assert.Equal(t, int64(120), wms[0].RowsProcessed)
}

func TestTracker_RequiresKey(t *testing.T) {
	tr := NewTracker(openStore(t), PolicyAllow, nil, nil)
	require.Error(t, tr.Update(context.Background(), Update{SourceName: "erp", Value: "1"}))
}

func TestTracker_Policies(t *testing.T) {
	tests := []struct {
		policy    Policy
		wantErr   bool
		wantValue string
	}{
		{PolicyReject, true, "2025-01-16T12:00:00Z"},
		{PolicyWarn, false, "2025-01-15T00:00:00Z"},
		{PolicyAllow, false, "2025-01-15T00:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			ctx := context.Background()
			tr := NewTracker(openStore(t), tt.policy, nil, testutil.NewTestLogger(t))
			u := Update{SourceName: "erp", TableName: "orders", WatermarkColumn: "updated_at", Value: "2025-01-16T12:00:00Z"}
			require.NoError(t, tr.Update(ctx, u))

			// same value is not a regression
			require.NoError(t, tr.Update(ctx, u))

			u.Value = "2025-01-15T00:00:00Z"
			err := tr.Update(ctx, u)
			if tt.wantErr {
				var regErr *RegressionError
				require.True(t, errors.As(err, &regErr))
				assert.Equal(t, "2025-01-16T12:00:00Z", regErr.Current)
				assert.Equal(t, "2025-01-15T00:00:00Z", regErr.Proposed)
			} else {
				require.NoError(t, err)
			}

			got, err := tr.Get(ctx, "erp", "orders", "updated_at")
			require.NoError(t, err)
			assert.Equal(t, tt.wantValue, got)
		})
	}
}

func TestTracker_WarnPolicyLogsRegression(t *testing.T) {
	ctx := context.Background()
	rec, logger := testutil.NewRecorder()
	tr := NewTracker(openStore(t), PolicyWarn, nil, logger)

	u := Update{SourceName: "crm", TableName: "contacts", WatermarkColumn: "updated_at", Value: "2025-02-01T00:00:00Z"}
	require.NoError(t, tr.Update(ctx, u))
	u.Value = "2025-01-01T00:00:00Z"
	require.NoError(t, tr.Update(ctx, u))

	e, ok := rec.Find(slog.LevelWarn, "watermark regressed")
	require.True(t, ok)
	assert.Equal(t, "2025-02-01T00:00:00Z", e.Attrs["current"])
	assert.Equal(t, "2025-01-01T00:00:00Z", e.Attrs["proposed"])
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyReject, p)

	p, err = ParsePolicy(" WARN ")
	require.NoError(t, err)
	assert.Equal(t, PolicyWarn, p)

	_, err = ParsePolicy("ignore")
	require.Error(t, err)
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"2025-01-16T12:00:00Z", "2025-01-16T11:00:00Z", 1},
		{"2025-01-16T12:00:00+02:00", "2025-01-16T11:00:00Z", -1},
		{"2025-01-16T12:00:00Z", "2025-01-16T12:00:00Z", 0},
		{"9", "10", -1},
		{"10.5", "10.25", 1},
		{"100", "100.0", 0},
		{"b", "a", 1},
		{"9", "abc", -1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
		})
	}
}

func TestTracker_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(openStore(t), PolicyReject, nil, nil)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := tr.Update(ctx, Update{
				SourceName:      "erp",
				TableName:       "orders",
				WatermarkColumn: "seq",
				Value:           strconv.Itoa(n),
			})
			var regErr *RegressionError
			if err != nil && !errors.As(err, &regErr) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := tr.Get(ctx, "erp", "orders", "seq")
	require.NoError(t, err)
	assert.Equal(t, "20", got, "the largest value survives regardless of ordering")
}

func TestTracker_ConcurrentUpdates_FileStore(t *testing.T) {
	ctx := context.Background()
	store, err := state.OpenStore(ctx, filepath.Join(t.TempDir(), "state.db"), testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	tr := NewTracker(store, PolicyReject, nil, nil)

	tables := []string{"orders", "payments", "refunds"}
	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		for _, table := range tables {
			wg.Add(1)
			go func(table string, n int) {
				defer wg.Done()
				err := tr.Update(ctx, Update{
					SourceName:      "erp",
					TableName:       table,
					WatermarkColumn: "seq",
					Value:           strconv.Itoa(n),
				})
				var regErr *RegressionError
				if err != nil && !errors.As(err, &regErr) {
					t.Errorf("unexpected error: %v", err)
				}
			}(table, i)
		}
	}
	wg.Wait()

	for _, table := range tables {
		got, err := tr.Get(ctx, "erp", table, "seq")
		require.NoError(t, err)
		assert.Equal(t, "100", got, table)
	}
}

func TestClassify(t *testing.T) {
	now := time.Date(2025, 1, 16, 12, 0, 0, 0, time.UTC)
	sla := 15 * time.Minute

	tests := []struct {
		name string
		ago  time.Duration
		want core.Freshness
	}{
		{"just written", 0, core.FreshnessFresh},
		{"at sla", sla, core.FreshnessFresh},
		{"past sla", sla + time.Second, core.FreshnessWarning},
		{"at double sla", 2 * sla, core.FreshnessWarning},
		{"past double sla", 2*sla + time.Second, core.FreshnessStale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(now, now.Add(-tt.ago), sla))
		})
	}
}

const freshnessYAML = `
contracts:
  - source_name: erp
    version: 1
    sla_minutes: 15
  - source_name: crm
    version: 1
    sla_minutes: 60
  - source_name: batch_only
    version: 1
`

func TestFreshnessReporter(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	tr := NewTracker(store, PolicyAllow, nil, nil)

	base := time.Date(2025, 1, 16, 12, 0, 0, 0, time.UTC)
	write := func(source, table string, at time.Time) {
		tr.now = func() time.Time { return at }
		require.NoError(t, tr.Update(ctx, Update{SourceName: source, TableName: table, WatermarkColumn: "ts", Value: at.Format(time.RFC3339)}))
	}
	write("erp", "orders", base.Add(-5*time.Minute))
	write("erp", "lines", base.Add(-40*time.Minute))
	write("crm", "contacts", base.Add(-90*time.Minute))
	write("batch_only", "dump", base.Add(-48*time.Hour))

	snap, err := registry.BuildYAML("freshness.yaml", []byte(freshnessYAML), nil)
	require.NoError(t, err)

	ch := events.NewChanPublisher(4)
	stream := events.NewStream(store, nil, nil, ch)
	r := NewFreshnessReporter(tr, registry.Static{Snap: snap}, stream, testutil.NewTestLogger(t))

	report, err := r.Report(ctx, base)
	require.NoError(t, err)
	require.Len(t, report, 3, "sources without sla are skipped")
	assert.Equal(t, "crm", report[0].SourceName)
	assert.Equal(t, core.FreshnessWarning, report[0].Freshness)
	assert.Equal(t, "lines", report[1].TableName)
	assert.Equal(t, core.FreshnessStale, report[1].Freshness)
	assert.Equal(t, "orders", report[2].TableName)
	assert.Equal(t, core.FreshnessFresh, report[2].Freshness)

	n, err := r.Record(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msg := <-ch.C()
	require.NotNil(t, msg.Violation)
	v := msg.Violation
	assert.Equal(t, "erp", v.SourceName)
	assert.Equal(t, core.ViolationSLA, v.ViolationType)
	assert.Equal(t, core.SeverityHigh, v.Severity)
	require.Len(t, v.Entries, 1)
	assert.Equal(t, core.EntryStaleSource, v.Entries[0].Kind)
	assert.Equal(t, "lines.ts is 40m0s behind (sla 15m)", v.Entries[0].Error)
}

func TestFreshnessReporter_NoRecorder(t *testing.T) {
	r := NewFreshnessReporter(NewTracker(openStore(t), "", nil, nil), registry.Static{Snap: &registry.Snapshot{}}, nil, nil)
	_, err := r.Record(context.Background(), time.Now())
	require.Error(t, err)
}
