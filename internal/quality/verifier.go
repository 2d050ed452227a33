// Package quality runs declarative quality checks against landed tables
// and records what they find.
package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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
	DefaultWorkers      = 4
	DefaultCheckTimeout = 30 * time.Second
)

// Options tunes a Verifier.
type Options struct {
	Workers      int
	CheckTimeout time.Duration
	// SampleLimit caps sampled rows per record, at most rulequery.MaxSampleLimit.
	SampleLimit int
}

// Verifier runs every active quality check of the current snapshot.
type Verifier struct {
	source   registry.Source
	db       core.Querier
	recorder events.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
	opts     Options
	now      func() time.Time
}

// NewVerifier creates a verifier reading from db.
func NewVerifier(src registry.Source, db core.Querier, rec events.Recorder, m *metrics.Metrics, logger *slog.Logger, opts Options) *Verifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = DefaultCheckTimeout
	}
	if opts.SampleLimit <= 0 || opts.SampleLimit > rulequery.MaxSampleLimit {
		opts.SampleLimit = rulequery.MaxSampleLimit
	}
	return &Verifier{
		source:   src,
		db:       db,
		recorder: rec,
		metrics:  m,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// CheckResult is the outcome of one check execution.
type CheckResult struct {
	Check    *core.QualityCheckDefinition
	Count    int64
	Sample   []map[string]any
	Err      error
	TimedOut bool
	Duration time.Duration
}

// VerifyAll runs the active checks and returns the total number of
// violating rows. Checks that fail to execute are recorded as
// execution_error and do not stop the pass. When ctx is cancelled no new
// checks start and ctx.Err() is returned with the partial total.
func (v *Verifier) VerifyAll(ctx context.Context) (int, error) {
	start := time.Now()
	results, err := v.Run(ctx)

	total := 0
	var writeErr error
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Err == nil {
			total += int(r.Count)
		}
		if werr := v.record(ctx, r); werr != nil && writeErr == nil {
			writeErr = werr
		}
	}

	v.logger.Info("verification pass finished",
		"checks", len(results),
		"violations", total,
		"duration", time.Since(start).Truncate(time.Millisecond))

	if err != nil {
		return total, err
	}
	return total, writeErr
}

// Run executes the active checks without recording anything. Results are
// in check order; checks not started because of cancellation are nil.
func (v *Verifier) Run(ctx context.Context) ([]*CheckResult, error) {
	snap := v.source.Current()
	checks := snap.ActiveQualityChecks()
	builder := rulequery.NewBuilder(v.db.Dialect(), snap.AllowedTables(), nil)

	results := make([]*CheckResult, len(checks))
	var g errgroup.Group
	g.SetLimit(v.opts.Workers)

	for i, def := range checks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = v.execute(ctx, builder, def)
			return nil
		})
	}
	_ = g.Wait()

	// The results of checks interrupted by pass cancellation are dropped.
	if err := ctx.Err(); err != nil {
		for i, r := range results {
			if r != nil && r.Err != nil {
				results[i] = nil
			}
		}
		return results, err
	}
	return results, nil
}

func (v *Verifier) execute(ctx context.Context, b *rulequery.Builder, def *core.QualityCheckDefinition) *CheckResult {
	cctx, cancel := context.WithTimeout(ctx, v.opts.CheckTimeout)
	defer cancel()

	start := time.Now()
	res := &CheckResult{Check: def}
	res.Count, res.Sample, res.Err = v.runCheck(cctx, b, def)
	res.Duration = time.Since(start)

	status := "ok"
	switch {
	case res.Err != nil && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		status = "timeout"
		v.logger.Warn("check timed out", "check", def.Label(), "timeout", v.opts.CheckTimeout)
	case res.Err != nil:
		status = "error"
		v.logger.Error("check failed", "check", def.Label(), "error", res.Err)
	case res.Count > 0:
		status = "violation"
	}
	v.metrics.CheckExecuted(string(def.CheckType), status, res.Duration)
	return res
}

func (v *Verifier) runCheck(ctx context.Context, b *rulequery.Builder, def *core.QualityCheckDefinition) (int64, []map[string]any, error) {
	var countQ, sampleQ rulequery.Query
	var err error

	switch def.CheckType {
	case core.CheckNotNull:
		if countQ, err = b.NullCount(def.TableName, def.ColumnName); err == nil {
			sampleQ, err = b.NullSample(def.TableName, def.ColumnName, v.opts.SampleLimit)
		}
	case core.CheckPositive:
		if countQ, err = b.NonPositiveCount(def.TableName, def.ColumnName); err == nil {
			sampleQ, err = b.NonPositiveSample(def.TableName, def.ColumnName, v.opts.SampleLimit)
		}
	case core.CheckUnique:
		if countQ, err = b.DuplicateCount(def.TableName, def.ColumnName); err == nil {
			sampleQ, err = b.DuplicateSample(def.TableName, def.ColumnName, v.opts.SampleLimit)
		}
	case core.CheckCustom:
		if countQ, err = b.CustomCount(def.TableName, def.CustomExpression); err == nil {
			sampleQ, err = b.CustomSample(def.TableName, def.CustomExpression, v.opts.SampleLimit)
		}
	default:
		err = fmt.Errorf("unknown check type %q", def.CheckType)
	}
	if err != nil {
		return 0, nil, err
	}

	rows, err := v.db.Query(ctx, countQ.SQL, countQ.Args...)
	if err != nil {
		return 0, nil, err
	}
	count, err := adapter.ScanInt64(rows)
	if err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	rows, err = v.db.Query(ctx, sampleQ.SQL, sampleQ.Args...)
	if err != nil {
		return 0, nil, err
	}
	sample, err := adapter.ScanMaps(rows)
	if err != nil {
		return 0, nil, err
	}
	if len(sample) > v.opts.SampleLimit {
		sample = sample[:v.opts.SampleLimit]
	}
	return count, sample, nil
}

// record writes the violation or diagnostic record of r. Clean checks
// write nothing.
func (v *Verifier) record(ctx context.Context, r *CheckResult) error {
	def := r.Check
	rec := &core.ViolationRecord{
		TableName:  def.TableName,
		ColumnName: def.ColumnName,
		CheckType:  def.CheckType,
		ObservedAt: v.now().UTC(),
	}

	switch {
	case r.Err != nil:
		kind := core.EntryCheckError
		if r.TimedOut {
			kind = core.EntryCheckTimeout
		}
		rec.ViolationType = core.ViolationExecutionError
		rec.Severity = core.SeverityMedium
		rec.ViolationCount = 1
		rec.Entries = []core.ViolationEntry{{Kind: kind, Error: r.Err.Error(), Sample: map[string]any{"check": def.Label()}}}
	case r.Count > 0:
		rec.ViolationType = core.ViolationDataQuality
		rec.Severity = def.Severity
		rec.ViolationCount = r.Count
		rec.Entries = make([]core.ViolationEntry, 0, len(r.Sample))
		for _, row := range r.Sample {
			rec.Entries = append(rec.Entries, core.ViolationEntry{
				Kind:   core.EntryCheckSample,
				Error:  def.Label(),
				Sample: row,
			})
		}
	default:
		return nil
	}

	// The pass context may already be cancelled; the record still lands.
	if _, _, err := v.recorder.RecordViolation(context.WithoutCancel(ctx), rec); err != nil {
		v.logger.Error("failed to record check result", "check", def.Label(), "error", err)
		return fmt.Errorf("failed to record result of %s: %w", def.Label(), err)
	}
	return nil
}
