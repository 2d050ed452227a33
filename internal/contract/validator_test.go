package contract

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/leapstack-labs/leapguard/internal/events"
	"github.com/leapstack-labs/leapguard/internal/registry"
	"github.com/leapstack-labs/leapguard/internal/state"
	"github.com/leapstack-labs/leapguard/internal/testutil"
	"github.com/leapstack-labs/leapguard/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const governance = `
contracts:
  - source_name: orders
    version: 1
    required_columns: [id, amount, ts]
    min_rows_per_partition: 100
  - source_name: payments
    version: 3
    fields:
      - {name: id, required: true}
      - {name: note}
    max_null_percentage: 0.2
    rules:
      - name: positive_amount
        expr: record.amount > 0
        severity: high
  - source_name: small
    version: 1
    required_columns: [id]
`

type fixture struct {
	validator *Validator
	store     *state.SQLiteStore
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := state.OpenStore(ctx, ":memory:", testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	snap, err := registry.BuildYAML("governance.yaml", []byte(governance), nil)
	require.NoError(t, err)

	v, err := NewValidator(registry.Static{Snap: snap}, nil, events.NewStream(store, nil, nil), nil, testutil.NewTestLogger(t), opts)
	require.NoError(t, err)
	return &fixture{validator: v, store: store}
}

func (f *fixture) stored(t *testing.T) []*core.ViolationRecord {
	t.Helper()
	out, err := f.store.ListViolations(context.Background(), core.ViolationFilter{})
	require.NoError(t, err)
	return out
}

func orderRecords(n, missingAmount int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		rec := map[string]any{"id": i, "amount": 10.5, "ts": "2025-01-16T12:00:00Z"}
		if i < missingAmount {
			delete(rec, "amount")
		}
		out[i] = rec
	}
	return out
}

func TestValidateBatch_MissingRequired(t *testing.T) {
	f := newFixture(t, Options{})

	res, err := f.validator.ValidateBatch(context.Background(), "orders", orderRecords(120, 15), "2025-01-16")
	require.NoError(t, err)

	assert.False(t, res.IsValid)
	assert.Equal(t, 15, res.InvalidCount)
	assert.Equal(t, 105, res.ValidCount)
	assert.Equal(t, core.SeverityCritical, res.Severity)
	assert.Equal(t, core.ViolationDataQuality, res.ViolationType)
	require.Len(t, res.Violations, 15, "no batch size entry for 120 >= 100 rows")
	assert.Equal(t, core.EntryMissingRequired, res.Violations[0].Kind)
	assert.Equal(t, []string{"amount"}, res.Violations[0].Fields)
	require.NotNil(t, res.Violations[0].RecordIndex)
	assert.Equal(t, 0, *res.Violations[0].RecordIndex)

	stored := f.stored(t)
	require.Len(t, stored, 1)
	assert.Equal(t, res.RecordID, stored[0].ID)
	assert.Equal(t, int64(120), stored[0].RowCount)
	assert.Equal(t, int64(15), stored[0].ViolationCount)
	assert.Equal(t, "2025-01-16", stored[0].PartitionKey)
}

func TestValidateBatch_NoContract(t *testing.T) {
	f := newFixture(t, Options{})

	res, err := f.validator.ValidateBatch(context.Background(), "unknown.source", orderRecords(3, 0), "")
	require.NoError(t, err)

	assert.False(t, res.IsValid)
	assert.Zero(t, res.ValidCount)
	assert.Zero(t, res.InvalidCount)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, ErrNoContract, res.Violations[0].Error)

	stored := f.stored(t)
	require.Len(t, stored, 1)
	assert.Equal(t, core.ViolationSchema, stored[0].ViolationType)
	assert.Equal(t, core.SeverityCritical, stored[0].Severity)
}

func TestValidateBatch_Clean(t *testing.T) {
	f := newFixture(t, Options{})

	res, err := f.validator.ValidateBatch(context.Background(), "orders", orderRecords(100, 0), "")
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Equal(t, 100, res.ValidCount)
	assert.Empty(t, res.Violations)
	assert.Zero(t, res.RecordID)
	assert.Empty(t, f.stored(t))
}

func TestValidateBatch_SeverityBoundaries(t *testing.T) {
	tests := []struct {
		invalid int
		want    core.Severity
	}{
		{0, core.SeverityMedium}, // batch-size only
		{5, core.SeverityMedium},
		{6, core.SeverityHigh},
		{10, core.SeverityHigh},
		{11, core.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			f := newFixture(t, Options{})
			records := orderRecords(100, tt.invalid)
			if tt.invalid == 0 {
				records = orderRecords(50, 0)
			}
			res, err := f.validator.ValidateBatch(context.Background(), "orders", records, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Severity)
			assert.Equal(t, len(records), res.ValidCount+res.InvalidCount)
		})
	}

	assert.Equal(t, core.SeverityHigh, classify(1000, 10000))
	assert.Equal(t, core.SeverityCritical, classify(1001, 10000))
	assert.Equal(t, core.SeverityMedium, classify(500, 10000))
	assert.Equal(t, core.SeverityHigh, classify(501, 10000))
	assert.Equal(t, core.SeverityMedium, classify(0, 0))
}

func TestValidateBatch_BatchSize(t *testing.T) {
	f := newFixture(t, Options{})

	res, err := f.validator.ValidateBatch(context.Background(), "orders", orderRecords(10, 0), "")
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, 10, res.ValidCount)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, core.EntryBatchSize, res.Violations[0].Kind)
	assert.Equal(t, "batch has 10 rows, contract requires at least 100", res.Violations[0].Error)
	assert.Equal(t, core.SeverityMedium, res.Severity)
}

func TestValidateBatch_BusinessRulesAndNulls(t *testing.T) {
	f := newFixture(t, Options{})

	records := make([]map[string]any, 25)
	for i := range records {
		records[i] = map[string]any{"id": i, "amount": 5, "note": "ok"}
	}
	records[1]["amount"] = -1

	res, err := f.validator.ValidateBatch(context.Background(), "payments", records, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.InvalidCount)
	assert.Equal(t, 24, res.ValidCount)
	assert.Equal(t, core.ViolationBusinessRule, res.ViolationType)
	assert.Equal(t, core.SeverityHigh, res.Severity, "raised to the failing rule's severity")
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "rule positive_amount failed", res.Violations[0].Error)

	// a missing amount is an evaluation error and counts as a failure; two
	// null notes out of five exceed the 20% limit
	records = []map[string]any{
		{"id": 1, "amount": 5},
		{"id": 2, "note": "no amount"},
		{"id": 3, "amount": 7},
		{"id": 4, "amount": 9, "note": "y"},
		{"id": 5, "amount": 3, "note": "z"},
	}
	res, err = f.validator.ValidateBatch(context.Background(), "payments", records, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.InvalidCount)
	assert.Equal(t, core.ViolationDataQuality, res.ViolationType)
	require.Len(t, res.Violations, 2)
	assert.Contains(t, res.Violations[0].Error, "could not be evaluated")
	assert.Equal(t, core.EntryNullPercentage, res.Violations[1].Kind)
	assert.Equal(t, []string{"note"}, res.Violations[1].Fields)
}

func TestValidateBatch_StoredEntriesCapped(t *testing.T) {
	f := newFixture(t, Options{MaxStoredEntries: 20})

	res, err := f.validator.ValidateBatch(context.Background(), "orders", orderRecords(150, 150), "")
	require.NoError(t, err)
	assert.Len(t, res.Violations, 150)

	stored := f.stored(t)
	require.Len(t, stored, 1)
	assert.Len(t, stored[0].Entries, 20)
	assert.Equal(t, int64(150), stored[0].ViolationCount)
}

func TestValidateBatch_Idempotent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	records := orderRecords(120, 15)

	first, err := f.validator.ValidateBatch(ctx, "orders", records, "p1")
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.validator.ValidateBatch(ctx, "orders", records, "p1")
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.RecordID, second.RecordID)

	other, err := f.validator.ValidateBatch(ctx, "orders", records, "p2")
	require.NoError(t, err)
	assert.False(t, other.Duplicate)

	assert.Len(t, f.stored(t), 2)
}

func TestValidateBatch_ConcurrentSameBatch(t *testing.T) {
	f := newFixture(t, Options{})
	records := orderRecords(120, 15)

	var wg sync.WaitGroup
	ids := make([]int64, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.validator.ValidateBatch(context.Background(), "orders", records, "p1")
			if err != nil {
				t.Errorf("validate: %v", err)
				return
			}
			ids[i] = res.RecordID
		}(i)
	}
	wg.Wait()

	require.Len(t, f.stored(t), 1)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

type failingRecorder struct{}

func (failingRecorder) RecordViolation(context.Context, *core.ViolationRecord) (int64, bool, error) {
	return 0, false, errors.New("disk full")
}

func (failingRecorder) RecordMonitorEvent(context.Context, *core.MonitorEvent) (int64, error) {
	return 0, errors.New("disk full")
}

func TestValidateBatch_StoreFailure(t *testing.T) {
	snap, err := registry.BuildYAML("governance.yaml", []byte(governance), nil)
	require.NoError(t, err)
	v, err := NewValidator(registry.Static{Snap: snap}, nil, failingRecorder{}, nil, nil, Options{})
	require.NoError(t, err)

	_, err = v.ValidateBatch(context.Background(), "small", []map[string]any{{"x": 1}}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	res, err := v.ValidateBatch(context.Background(), "small", []map[string]any{{"id": 1}}, "")
	require.NoError(t, err, "clean batches never touch the store")
	assert.True(t, res.IsValid)
}

func TestIdempotencyKey(t *testing.T) {
	a := IdempotencyKey("orders", "p1", "1", []map[string]any{{"a": 1, "b": 2}})
	b := IdempotencyKey("orders", "p1", "1", []map[string]any{{"b": 2, "a": 1}})
	assert.Equal(t, a, b, "map key order does not matter")
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, IdempotencyKey("orders", "p2", "1", []map[string]any{{"a": 1, "b": 2}}))
	assert.NotEqual(t, a, IdempotencyKey("orders", "p1", "2", []map[string]any{{"a": 1, "b": 2}}))
	assert.NotEqual(t, a, IdempotencyKey("orders", "p1", "", []map[string]any{{"a": 1, "b": 2}}))

	nan := []map[string]any{{"amount": math.NaN()}}
	assert.Len(t, IdempotencyKey("orders", "", "1", nan), 64)
	assert.Equal(t, IdempotencyKey("orders", "", "1", nan), IdempotencyKey("orders", "", "1", nan))
}

func TestValidateBatch_UnencodableValues(t *testing.T) {
	f := newFixture(t, Options{})

	res, err := f.validator.ValidateBatch(context.Background(), "small", []map[string]any{{"id": math.Inf(1)}, {"x": math.NaN()}}, "")
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, 1, res.InvalidCount)
	assert.Equal(t, 1, res.ValidCount)
}

type swapSource struct {
	mu   sync.Mutex
	snap *registry.Snapshot
}

func (s *swapSource) Current() *registry.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *swapSource) set(snap *registry.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

func TestValidateBatch_ContractChangeIsNewBatch(t *testing.T) {
	ctx := context.Background()
	store, err := state.OpenStore(ctx, ":memory:", testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	before, err := registry.BuildYAML("governance.yaml", []byte("contracts:\n  - source_name: small\n    version: 1\n"), nil)
	require.NoError(t, err)
	after, err := registry.BuildYAML("governance.yaml", []byte(governance), nil)
	require.NoError(t, err)

	src := &swapSource{snap: before}
	v, err := NewValidator(src, nil, events.NewStream(store, nil, nil), nil, testutil.NewTestLogger(t), Options{})
	require.NoError(t, err)

	records := orderRecords(120, 15)
	first, err := v.ValidateBatch(ctx, "orders", records, "p1")
	require.NoError(t, err)
	assert.Equal(t, core.ViolationSchema, first.ViolationType)

	src.set(after)
	second, err := v.ValidateBatch(ctx, "orders", records, "p1")
	require.NoError(t, err)
	assert.False(t, second.Duplicate)
	assert.Equal(t, core.ViolationDataQuality, second.ViolationType)
	assert.NotEqual(t, first.RecordID, second.RecordID)

	out, err := store.ListViolations(ctx, core.ViolationFilter{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	types := []core.ViolationType{out[0].ViolationType, out[1].ViolationType}
	assert.ElementsMatch(t, []core.ViolationType{core.ViolationSchema, core.ViolationDataQuality}, types)
}

// blockingRecorder holds every write until release is closed.
type blockingRecorder struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *blockingRecorder) RecordViolation(ctx context.Context, _ *core.ViolationRecord) (int64, bool, error) {
	r.once.Do(func() { close(r.started) })
	<-r.release
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	return 7, false, nil
}

func (r *blockingRecorder) RecordMonitorEvent(context.Context, *core.MonitorEvent) (int64, error) {
	return 0, nil
}

func TestValidateBatch_FirstCallerCancelled(t *testing.T) {
	snap, err := registry.BuildYAML("governance.yaml", []byte(governance), nil)
	require.NoError(t, err)
	rec := &blockingRecorder{started: make(chan struct{}), release: make(chan struct{})}
	v, err := NewValidator(registry.Static{Snap: snap}, nil, rec, nil, nil, Options{})
	require.NoError(t, err)

	records := []map[string]any{{"x": 1}}
	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := v.ValidateBatch(firstCtx, "small", records, "")
		firstErr <- err
	}()
	<-rec.started

	type outcome struct {
		res *Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := v.ValidateBatch(context.Background(), "small", records, "")
		second <- outcome{res, err}
	}()

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(rec.release)

	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, int64(7), got.res.RecordID)
}
