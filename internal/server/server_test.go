package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapguard/internal/contract"
	"github.com/leapstack-labs/leapguard/internal/engine"
	"github.com/leapstack-labs/leapguard/internal/events"
	"github.com/leapstack-labs/leapguard/internal/testutil"
	"github.com/leapstack-labs/leapguard/internal/watermark"
	"github.com/leapstack-labs/leapguard/pkg/core"

	_ "github.com/leapstack-labs/leapguard/pkg/adapters/duckdb"
)

const governance = `
allowed_tables: [orders]
contracts:
  - source_name: orders
    required_columns: [id, amount]
    sla_minutes: 30
    rules:
      - {name: positive_amount, expr: record.amount > 0}
  - source_name: crm.contacts
    required_columns: [id]
    contains_pii: true
monitors:
  - name: all_orders
    window_minutes: 60
    rule: {select: ["count(*) AS n"], from: orders}
pii_rules:
  - name: email
    pii_type: email
    pattern: '[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}'
    confidence: 0.9
  - name: ssn
    pii_type: ssn
    pattern: '\d{3}-\d{2}-\d{4}'
    confidence: 0.95
    masking_strategy: redact
`

type fixture struct {
	engine *engine.Engine
	reg    *prometheus.Registry
	srv    *Server
	http   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "governance.yaml"), []byte(governance), 0o600))

	reg := prometheus.NewRegistry()
	logger := testutil.NewTestLogger(t)
	e, err := engine.New(context.Background(), engine.Config{
		StatePath:     ":memory:",
		GovernanceDir: dir,
		Target:        &core.TargetConfig{Type: "duckdb"},
		PIITokenKey:   "k",
		Registerer:    reg,
		Logger:        logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	srv := New(Config{Engine: e, Gatherer: reg, Logger: logger})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &fixture{engine: e, reg: reg, srv: srv, http: hs}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, f.http.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","governance_version":1}`, string(body))
}

func TestValidateBatch(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/v1/batches/orders/validate",
		`{"partition_key":"2024-06-01","records":[{"id":1,"amount":10},{"id":2,"amount":-1},{"id":3}]}`)
	require.Equal(t, http.StatusOK, code, string(body))

	var res contract.Result
	require.NoError(t, json.Unmarshal(body, &res))
	assert.False(t, res.IsValid)
	assert.Equal(t, 1, res.ValidCount)
	assert.Equal(t, 2, res.InvalidCount)
	assert.NotZero(t, res.RecordID)

	code, body = f.do(t, http.MethodPost, "/v1/batches/orders/validate", `{"records":[`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), "invalid request body")

	code, body = f.do(t, http.MethodGet, "/v1/violations?source=orders&unresolved=true", "")
	require.Equal(t, http.StatusOK, code)
	var list []core.ViolationRecord
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, res.RecordID, list[0].ID)

	code, _ = f.do(t, http.MethodPost, "/v1/violations/"+strconv.FormatInt(res.RecordID, 10)+"/resolve", `{"by":"oncall","note":"backfilled"}`)
	assert.Equal(t, http.StatusNoContent, code)

	code, body = f.do(t, http.MethodGet, "/v1/violations?source=orders&unresolved=true", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))

	code, _ = f.do(t, http.MethodPost, "/v1/violations/9999/resolve", `{"by":"oncall"}`)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodPost, "/v1/violations/x/resolve", `{"by":"oncall"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodGet, "/v1/violations?limit=-3", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestWatermarks(t *testing.T) {
	f := newFixture(t)
	path := "/v1/watermarks/orders/orders/updated_at"

	code, body := f.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), core.EpochSentinel)

	code, _ = f.do(t, http.MethodPut, path, `{"watermark_value":"2024-06-02T00:00:00Z","rows_processed":50,"job_run_id":"run-1"}`)
	require.Equal(t, http.StatusOK, code)

	code, body = f.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"watermark_value":"2024-06-02T00:00:00Z"`)

	code, body = f.do(t, http.MethodPut, path, `{"watermark_value":"2024-06-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, string(body), "error")

	code, body = f.do(t, http.MethodGet, "/v1/watermarks?source=orders", "")
	require.Equal(t, http.StatusOK, code)
	var wms []core.Watermark
	require.NoError(t, json.Unmarshal(body, &wms))
	require.Len(t, wms, 1)
	assert.Equal(t, int64(50), wms[0].RowsProcessed)

	code, body = f.do(t, http.MethodGet, "/v1/freshness", "")
	require.Equal(t, http.StatusOK, code)
	var fresh []watermark.SourceFreshness
	require.NoError(t, json.Unmarshal(body, &fresh))
	require.Len(t, fresh, 1)
	assert.Equal(t, core.FreshnessFresh, fresh[0].Freshness)
}

func TestPII(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/v1/pii/detect", `{"text":"reach me at bob@example.com, ssn 123-45-6789"}`)
	require.Equal(t, http.StatusOK, code)
	var det struct {
		Matches []core.PIIMatch `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(body, &det))
	require.Len(t, det.Matches, 2)
	assert.Equal(t, core.PIIEmail, det.Matches[0].PIIType)
	assert.Equal(t, core.PIISSN, det.Matches[1].PIIType)

	code, body = f.do(t, http.MethodPost, "/v1/pii/detect", `{"text":"nothing here"}`)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"matches":[]}`, string(body))

	code, body = f.do(t, http.MethodPost, "/v1/pii/mask", `{"text":"4111 1111 1111 1234","pii_type":"credit_card"}`)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"masked":"XXXX-XXXX-XXXX-1234"}`, string(body))

	code, _ = f.do(t, http.MethodPost, "/v1/pii/mask", `{"text":"x","strategy":"shred"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodPost, "/v1/pii/mask",
		`{"source":"crm.contacts","records":[{"id":1,"note":"ssn 123-45-6789"}]}`)
	require.Equal(t, http.StatusOK, code)
	var batch struct {
		Records []map[string]any `json:"records"`
		Masked  map[string]int   `json:"masked"`
	}
	require.NoError(t, json.Unmarshal(body, &batch))
	assert.Equal(t, "ssn ***REDACTED***", batch.Records[0]["note"])
	assert.Equal(t, 1, batch.Masked[core.PIISSN])
}

func TestMonitorsAndMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	db, err := f.engine.Warehouse(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Exec(ctx, "CREATE TABLE orders (id INTEGER)"))

	code, body := f.do(t, http.MethodGet, "/v1/monitors", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"name":"all_orders"`)
	assert.Contains(t, string(body), `"due":true`)

	runner, err := f.engine.Runner(ctx)
	require.NoError(t, err)
	_, err = runner.RunMonitors(ctx, time.Now())
	require.NoError(t, err)

	code, body = f.do(t, http.MethodGet, "/v1/monitor-events?monitor=all_orders", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"kind":"signal"`)

	_, _ = f.do(t, http.MethodPost, "/v1/batches/orders/validate", `{"records":[{"id":1,"amount":1}]}`)
	code, body = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "leapguard_validator_batches_total")
	assert.Contains(t, string(body), "leapguard_governance_snapshot_version 1")
}

func TestServe(t *testing.T) {
	f := newFixture(t)

	sched, err := NewScheduler(f.engine, 2, time.Hour, time.Hour, time.Hour, testutil.NewTestLogger(t))
	require.NoError(t, err)

	srv := New(Config{Engine: f.engine, Addr: "127.0.0.1:0", Scheduler: sched, WatchDebounce: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	assert.Eventually(t, func() bool {
		for _, st := range sched.Stats() {
			if st.Runs == 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond, "every job fires at start")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop on cancel")
	}
}

func TestServe_ListenError(t *testing.T) {
	f := newFixture(t)
	srv := New(Config{Engine: f.engine, Addr: "256.0.0.1:bad"})
	err := srv.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code, body := f.do(t, http.MethodGet, "/v1/activity", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"items":[],"dropped":0}`, string(body))

	code, _ = f.do(t, http.MethodPost, "/v1/batches/orders/validate", `{"records":[{"id":1}]}`)
	require.Equal(t, http.StatusOK, code)
	_, err := f.engine.Stream().RecordMonitorEvent(ctx, &core.MonitorEvent{
		MonitorName: "all_orders",
		Kind:        core.EventSignal,
		OccurredAt:  time.Now(),
		Severity:    core.SeverityInfo,
	})
	require.NoError(t, err)

	code, body = f.do(t, http.MethodGet, "/v1/activity", "")
	require.Equal(t, http.StatusOK, code)
	var got activityResponse
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.Items, 2)
	assert.Equal(t, "monitor_event", got.Items[0].Kind)
	assert.Equal(t, "all_orders", got.Items[0].Event.MonitorName)
	assert.Equal(t, "violation", got.Items[1].Kind)
	assert.Equal(t, "orders", got.Items[1].Violation.SourceName)

	code, body = f.do(t, http.MethodGet, "/v1/activity?limit=1", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Len(t, got.Items, 1)

	code, _ = f.do(t, http.MethodGet, "/v1/activity?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestActivity_RingKeepsNewest(t *testing.T) {
	pub := events.NewChanPublisher(10)
	a := newActivity(pub, 3)
	for i := 1; i <= 5; i++ {
		require.NoError(t, pub.PublishViolation(context.Background(), &core.ViolationRecord{ID: int64(i)}))
	}

	got := a.recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, int64(5), got[0].Violation.ID)
	assert.Equal(t, int64(3), got[2].Violation.ID)
}
