// Package contract validates ingestion batches against the active data
// contract of their source.
package contract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/leapstack-labs/leapguard/internal/celrule"
	"github.com/leapstack-labs/leapguard/internal/events"
	"github.com/leapstack-labs/leapguard/internal/metrics"
	"github.com/leapstack-labs/leapguard/internal/registry"
	"github.com/leapstack-labs/leapguard/pkg/core"
)

// DefaultMaxStoredEntries caps the entries persisted with one record.
const DefaultMaxStoredEntries = 100

// Invalid ratio thresholds, both exclusive.
const (
	criticalRatio = 0.10
	highRatio     = 0.05
)

// ErrNoContract is the entry error written when a source has no active
// contract.
const ErrNoContract = "no contract found"

// Result is the outcome of validating one batch.
type Result struct {
	IsValid       bool                  `json:"is_valid"`
	Violations    []core.ViolationEntry `json:"violations"`
	ValidCount    int                   `json:"valid_count"`
	InvalidCount  int                   `json:"invalid_count"`
	Severity      core.Severity         `json:"severity,omitempty"`
	ViolationType core.ViolationType    `json:"violation_type,omitempty"`
	// RecordID is the id of the persisted violation record, zero when the
	// batch was clean.
	RecordID  int64 `json:"record_id,omitempty"`
	Duplicate bool  `json:"duplicate,omitempty"`
}

// Options tunes a Validator.
type Options struct {
	MaxStoredEntries int
}

// Validator checks batches and writes one violation record per failing
// batch.
type Validator struct {
	source    registry.Source
	eval      *celrule.Evaluator
	recorder  events.Recorder
	metrics   *metrics.Metrics
	logger    *slog.Logger
	maxStored int
	now       func() time.Time
	group     singleflight.Group
}

// NewValidator creates a validator. A nil evaluator builds one.
func NewValidator(src registry.Source, eval *celrule.Evaluator, rec events.Recorder, m *metrics.Metrics, logger *slog.Logger, opts Options) (*Validator, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if eval == nil {
		var err error
		if eval, err = celrule.NewEvaluator(); err != nil {
			return nil, err
		}
	}
	if opts.MaxStoredEntries <= 0 {
		opts.MaxStoredEntries = DefaultMaxStoredEntries
	}
	return &Validator{
		source:    src,
		eval:      eval,
		recorder:  rec,
		metrics:   m,
		logger:    logger,
		maxStored: opts.MaxStoredEntries,
		now:       time.Now,
	}, nil
}

// ValidateBatch validates records against the active contract of source.
// Data and policy failures are reported in the Result; the error is only
// set when the violation record could not be written.
//
// Concurrent calls for the same source, partition, contract version and
// batch content share one validation.
func (v *Validator) ValidateBatch(ctx context.Context, source string, records []map[string]any, partitionKey string) (*Result, error) {
	snap := v.source.Current()
	c, ok := snap.ActiveContract(source)
	version := ""
	if ok {
		version = strconv.Itoa(c.Version)
	}
	key := IdempotencyKey(source, partitionKey, version, records)

	// The shared call outlives any single caller; each caller stops
	// waiting on its own ctx.
	shared := context.WithoutCancel(ctx)
	ch := v.group.DoChan(key, func() (any, error) {
		if !ok {
			return v.noContract(shared, source, records, partitionKey, key)
		}
		return v.validate(shared, c, source, records, partitionKey, key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		out := *r.Val.(*Result)
		return &out, nil
	}
}

func (v *Validator) validate(ctx context.Context, c *core.Contract, source string, records []map[string]any, partitionKey, key string) (*Result, error) {
	res := &Result{Violations: []core.ViolationEntry{}}
	ruleSeverity := core.Severity("")
	required := c.RequiredFields()

	for i, rec := range records {
		idx := i
		if missing := missingFields(rec, required); len(missing) > 0 {
			res.InvalidCount++
			res.Violations = append(res.Violations, core.ViolationEntry{
				Kind:        core.EntryMissingRequired,
				Error:       "missing required fields: " + strings.Join(missing, ", "),
				RecordIndex: &idx,
				Fields:      missing,
			})
			continue
		}

		failed := false
		for _, rule := range c.Rules {
			passed, err := v.eval.Eval(rule.Expr, rec)
			if err == nil && passed {
				continue
			}
			failed = true
			ruleSeverity = core.MaxSeverity(ruleSeverity, rule.Severity)
			msg := fmt.Sprintf("rule %s failed", rule.Name)
			if err != nil {
				msg = fmt.Sprintf("rule %s could not be evaluated: %v", rule.Name, err)
			}
			res.Violations = append(res.Violations, core.ViolationEntry{
				Kind:        core.EntryBusinessRule,
				Error:       msg,
				RecordIndex: &idx,
				Sample:      map[string]any{"rule": rule.Name, "expr": rule.Expr},
			})
		}
		if failed {
			res.InvalidCount++
		} else {
			res.ValidCount++
		}
	}

	if c.MinRowsPerPartition > 0 && len(records) < c.MinRowsPerPartition {
		res.Violations = append(res.Violations, core.ViolationEntry{
			Kind:  core.EntryBatchSize,
			Error: fmt.Sprintf("batch has %d rows, contract requires at least %d", len(records), c.MinRowsPerPartition),
		})
	}
	res.Violations = append(res.Violations, nullShare(c, records)...)

	if len(res.Violations) == 0 {
		res.IsValid = true
		v.metrics.BatchValidated(source, "valid")
		v.logger.Debug("batch valid", "source", source, "rows", len(records))
		return res, nil
	}

	res.Severity = classify(res.InvalidCount, len(records))
	if ruleSeverity.Valid() {
		res.Severity = core.MaxSeverity(res.Severity, ruleSeverity)
	}
	res.ViolationType = violationType(res.Violations)

	if err := v.record(ctx, res, &core.ViolationRecord{
		SourceName:     source,
		PartitionKey:   partitionKey,
		RowCount:       int64(len(records)),
		ViolationType:  res.ViolationType,
		Severity:       res.Severity,
		IdempotencyKey: key,
	}); err != nil {
		return nil, err
	}

	outcome := "invalid"
	if res.Duplicate {
		outcome = "duplicate"
	}
	v.metrics.BatchValidated(source, outcome)
	v.logger.Info("batch failed validation",
		"source", source,
		"contract_version", c.Version,
		"rows", len(records),
		"invalid", res.InvalidCount,
		"violations", len(res.Violations),
		"severity", res.Severity)
	return res, nil
}

func (v *Validator) noContract(ctx context.Context, source string, records []map[string]any, partitionKey, key string) (*Result, error) {
	res := &Result{
		Violations: []core.ViolationEntry{{
			Kind:  core.EntryNoContract,
			Error: ErrNoContract,
		}},
		Severity:      core.SeverityCritical,
		ViolationType: core.ViolationSchema,
	}
	if err := v.record(ctx, res, &core.ViolationRecord{
		SourceName:     source,
		PartitionKey:   partitionKey,
		RowCount:       int64(len(records)),
		ViolationType:  core.ViolationSchema,
		Severity:       core.SeverityCritical,
		IdempotencyKey: key,
	}); err != nil {
		return nil, err
	}
	v.metrics.BatchValidated(source, "no_contract")
	v.logger.Warn("no active contract", "source", source, "rows", len(records))
	return res, nil
}

// record fills in the entries of rec (capped) and writes it.
func (v *Validator) record(ctx context.Context, res *Result, rec *core.ViolationRecord) error {
	rec.ObservedAt = v.now().UTC()
	rec.ViolationCount = int64(len(res.Violations))
	rec.Entries = res.Violations
	if len(rec.Entries) > v.maxStored {
		rec.Entries = rec.Entries[:v.maxStored]
	}
	id, dup, err := v.recorder.RecordViolation(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to persist batch violations for %s: %w", rec.SourceName, err)
	}
	res.RecordID = id
	res.Duplicate = dup
	return nil
}

// classify maps the invalid ratio to a severity.
func classify(invalid, total int) core.Severity {
	if total == 0 {
		return core.SeverityMedium
	}
	r := float64(invalid) / float64(total)
	switch {
	case r > criticalRatio:
		return core.SeverityCritical
	case r > highRatio:
		return core.SeverityHigh
	default:
		return core.SeverityMedium
	}
}

func violationType(entries []core.ViolationEntry) core.ViolationType {
	rules := false
	for _, e := range entries {
		switch e.Kind {
		case core.EntryBusinessRule:
			rules = true
		default:
			return core.ViolationDataQuality
		}
	}
	if rules {
		return core.ViolationBusinessRule
	}
	return core.ViolationDataQuality
}

// missingFields returns the required fields that are absent or null.
func missingFields(rec map[string]any, required []string) []string {
	var missing []string
	for _, name := range required {
		if val, ok := rec[name]; !ok || val == nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// nullShare reports declared fields whose null share exceeds the contract
// limit.
func nullShare(c *core.Contract, records []map[string]any) []core.ViolationEntry {
	if c.MaxNullPercentage <= 0 || len(records) == 0 {
		return nil
	}
	var out []core.ViolationEntry
	for _, name := range c.DeclaredFields() {
		nulls := 0
		for _, rec := range records {
			if val, ok := rec[name]; !ok || val == nil {
				nulls++
			}
		}
		share := float64(nulls) / float64(len(records))
		if share > c.MaxNullPercentage {
			out = append(out, core.ViolationEntry{
				Kind: core.EntryNullPercentage,
				Error: fmt.Sprintf("field %s is %.1f%% null, limit is %.1f%%",
					name, share*100, c.MaxNullPercentage*100),
				Fields: []string{name},
				Sample: map[string]any{"null_count": nulls, "null_share": share},
			})
		}
	}
	return out
}

// IdempotencyKey derives the dedup key of a batch from its source,
// partition, the version of the contract judging it ("" when there is
// none) and its content. JSON encoding sorts map keys, so equal batches
// hash equally. Content JSON cannot encode (NaN, channels) is hashed from
// its fmt representation, which also prints maps in key order.
func IdempotencyKey(source, partitionKey, contractVersion string, records []map[string]any) string {
	if records == nil {
		records = []map[string]any{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", records))
	}
	batch := sha256.Sum256(data)

	if contractVersion == "" {
		contractVersion = "none"
	}
	h := sha256.New()
	for _, part := range []string{source, partitionKey, contractVersion} {
		h.Write([]byte(part))
		h.Write([]byte{'|'})
	}
	h.Write([]byte(hex.EncodeToString(batch[:])))
	return hex.EncodeToString(h.Sum(nil))
}
