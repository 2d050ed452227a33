// Package monitor runs operator-authored anomaly rules on their cadence
// and schedules the periodic jobs of the service.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapguard/internal/events"
	"github.com/leapstack-labs/leapguard/internal/metrics"
	"github.com/leapstack-labs/leapguard/internal/registry"
	"github.com/leapstack-labs/leapguard/internal/rulequery"
	"github.com/leapstack-labs/leapguard/pkg/adapter"
	"github.com/leapstack-labs/leapguard/pkg/core"
)

// Defaults for Options.
const (
	DefaultRuleTimeout = 30 * time.Second
	DefaultWorkers     = 4
)

// SeverityColumn is the result column a rule can use to grade its signal.
const SeverityColumn = "severity"

// Options tunes a Runner.
type Options struct {
	RuleTimeout time.Duration
	Workers     int
}

// Runner evaluates due monitors and emits one event per signalling run.
type Runner struct {
	source   registry.Source
	db       core.Querier
	store    core.MonitorStore
	recorder events.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
	opts     Options

	mu     sync.Mutex
	states map[string]core.MonitorState
}

// NewRunner creates a runner. store keeps the per-monitor run bookkeeping.
func NewRunner(src registry.Source, db core.Querier, store core.MonitorStore, rec events.Recorder, m *metrics.Metrics, logger *slog.Logger, opts Options) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.RuleTimeout <= 0 {
		opts.RuleTimeout = DefaultRuleTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Runner{
		source:   src,
		db:       db,
		store:    store,
		recorder: rec,
		metrics:  m,
		logger:   logger,
		opts:     opts,
		states:   make(map[string]core.MonitorState),
	}
}

// States returns the in-memory state of every monitor seen so far.
func (r *Runner) States() map[string]core.MonitorState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]core.MonitorState, len(r.states))
	for k, v := range r.states {
		out[k] = v
	}
	return out
}

// begin moves a monitor to Running. It fails when a run is in flight.
func (r *Runner) begin(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states[name] == core.MonitorRunning {
		return false
	}
	r.states[name] = core.MonitorRunning
	return true
}

func (r *Runner) finish(name string) {
	r.mu.Lock()
	r.states[name] = core.MonitorIdle
	r.mu.Unlock()
}

// Due reports whether def should run at now given its last run state.
func Due(def *core.MonitorDefinition, last *core.MonitorRunState, now time.Time) bool {
	if !def.IsEnabled() {
		return false
	}
	if last == nil || last.LastRunAt.IsZero() {
		return true
	}
	return now.Sub(last.LastRunAt) >= def.Window()
}

// RunMonitors runs every due monitor and returns the number of signal
// events emitted. Rule failures become monitor_error events and are not
// counted. Every run advances the monitor's lastRunAt.
func (r *Runner) RunMonitors(ctx context.Context, now time.Time) (int, error) {
	snap := r.source.Current()
	builder := rulequery.NewBuilder(r.db.Dialect(), snap.AllowedTables(), nil)

	var (
		g       errgroup.Group
		countMu sync.Mutex
		emitted int
	)
	g.SetLimit(r.opts.Workers)

	for _, def := range snap.Monitors() {
		if ctx.Err() != nil {
			break
		}
		if !def.IsEnabled() {
			continue
		}
		last, err := r.store.GetMonitorRun(ctx, def.Name)
		if err != nil {
			r.logger.Error("failed to read monitor state", "monitor", def.Name, "error", err)
			continue
		}
		if !Due(def, last, now) {
			continue
		}
		if !r.begin(def.Name) {
			r.logger.Debug("monitor still running, skipped", "monitor", def.Name)
			continue
		}

		g.Go(func() error {
			defer r.finish(def.Name)
			if r.runOne(ctx, builder, def, last, now) {
				countMu.Lock()
				emitted++
				countMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return emitted, ctx.Err()
}

// runOne executes one monitor and reports whether a signal event was
// written.
func (r *Runner) runOne(ctx context.Context, b *rulequery.Builder, def *core.MonitorDefinition, last *core.MonitorRunState, now time.Time) bool {
	cctx, cancel := context.WithTimeout(ctx, r.opts.RuleTimeout)
	defer cancel()

	payload, err := r.query(cctx, b, def, now)
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("rule timed out after %s: %w", r.opts.RuleTimeout, err)
	}

	// Bookkeeping outlives a cancelled pass.
	wctx := context.WithoutCancel(ctx)
	st := &core.MonitorRunState{Name: def.Name, LastRunAt: now}
	if last != nil {
		st.RunCount = last.RunCount
	}
	st.RunCount++

	signalled := false
	switch {
	case err != nil:
		st.LastOutcome = core.MonitorErrored
		st.LastError = err.Error()
		r.logger.Error("monitor failed", "monitor", def.Name, "error", err)
		if ctx.Err() == nil {
			r.emit(wctx, &core.MonitorEvent{
				MonitorName: def.Name,
				Kind:        core.EventMonitorError,
				OccurredAt:  now,
				Payload:     []map[string]any{{"error": err.Error()}},
				Severity:    core.SeverityHigh,
			})
		}
	case len(payload) > 0:
		st.LastOutcome = core.MonitorEventEmitted
		signalled = r.emit(wctx, &core.MonitorEvent{
			MonitorName: def.Name,
			Kind:        core.EventSignal,
			OccurredAt:  now,
			Payload:     payload,
			Severity:    eventSeverity(def, payload),
		})
	default:
		st.LastOutcome = core.MonitorNoSignal
	}

	if err := r.store.SetMonitorRun(wctx, st); err != nil {
		r.logger.Error("failed to save monitor state", "monitor", def.Name, "error", err)
	}
	r.metrics.MonitorRun(def.Name, string(st.LastOutcome))
	r.logger.Debug("monitor ran", "monitor", def.Name, "outcome", st.LastOutcome, "rows", len(payload))
	return signalled
}

func (r *Runner) query(ctx context.Context, b *rulequery.Builder, def *core.MonitorDefinition, now time.Time) ([]map[string]any, error) {
	q, err := b.Monitor(def.Rule, &rulequery.Params{
		Threshold:   def.Threshold,
		WindowStart: now.Add(-def.Window()),
		Now:         now,
	})
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, err
	}
	return adapter.ScanMaps(rows)
}

func (r *Runner) emit(ctx context.Context, e *core.MonitorEvent) bool {
	if _, err := r.recorder.RecordMonitorEvent(ctx, e); err != nil {
		r.logger.Error("failed to record monitor event", "monitor", e.MonitorName, "error", err)
		return false
	}
	return true
}

// eventSeverity is the highest valid severity column value, else the
// definition severity, else info.
func eventSeverity(def *core.MonitorDefinition, payload []map[string]any) core.Severity {
	var sev core.Severity
	for _, row := range payload {
		raw, ok := row[SeverityColumn].(string)
		if !ok {
			continue
		}
		if parsed, ok := core.ParseSeverity(raw); ok {
			sev = core.MaxSeverity(sev, parsed)
		}
	}
	switch {
	case sev.Valid():
		return sev
	case def.Severity.Valid():
		return def.Severity
	default:
		return core.SeverityInfo
	}
}

// Status is the reported position of one monitor.
type Status struct {
	Name          string                `json:"name"`
	Enabled       bool                  `json:"enabled"`
	WindowMinutes int                   `json:"window_minutes"`
	State         core.MonitorState     `json:"state"`
	Last          *core.MonitorRunState `json:"last,omitempty"`
	Due           bool                  `json:"due"`
}

// Status lists every configured monitor with its persisted bookkeeping.
func (r *Runner) Status(ctx context.Context, now time.Time) ([]Status, error) {
	states := r.States()
	var out []Status
	for _, def := range r.source.Current().Monitors() {
		last, err := r.store.GetMonitorRun(ctx, def.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to read state of %s: %w", def.Name, err)
		}
		st := states[def.Name]
		if st == "" {
			st = core.MonitorIdle
		}
		out = append(out, Status{
			Name:          def.Name,
			Enabled:       def.IsEnabled(),
			WindowMinutes: def.WindowMinutes,
			State:         st,
			Last:          last,
			Due:           Due(def, last, now),
		})
	}
	return out, nil
}
