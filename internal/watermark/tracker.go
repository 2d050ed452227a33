// Package watermark tracks incremental extraction progress and classifies
// source freshness against contract SLAs.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/leapguard/internal/metrics"
	"github.com/leapstack-labs/leapguard/pkg/core"
)

// Policy decides what happens when an update would move a watermark back.
type Policy string

// Regression policies.
const (
	PolicyReject Policy = "reject"
	PolicyWarn   Policy = "warn"
	PolicyAllow  Policy = "allow"
)

// ParsePolicy converts a config value to a Policy. Empty means reject.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyReject, nil
	case PolicyReject, PolicyWarn, PolicyAllow:
		return p, nil
	default:
		return "", fmt.Errorf("unknown watermark policy %q (want reject, warn or allow)", s)
	}
}

// RegressionError is returned by Update under PolicyReject when the new
// value is older than the stored one.
type RegressionError struct {
	Key      core.WatermarkKey
	Current  string
	Proposed string
}

func (e *RegressionError) Error() string {
	return fmt.Sprintf("watermark %s.%s.%s would regress from %q to %q",
		e.Key.SourceName, e.Key.TableName, e.Key.WatermarkColumn, e.Current, e.Proposed)
}

// Update is one watermark advance reported by ingestion.
type Update struct {
	SourceName      string
	TableName       string
	WatermarkColumn string
	Value           string
	PartitionKey    string
	JobRunID        string
	RowsProcessed   int64
}

// Tracker reads and advances watermarks.
type Tracker struct {
	store   core.WatermarkStore
	policy  Policy
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewTracker creates a tracker. An empty policy means reject.
func NewTracker(store core.WatermarkStore, policy Policy, m *metrics.Metrics, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if policy == "" {
		policy = PolicyReject
	}
	return &Tracker{store: store, policy: policy, metrics: m, logger: logger, now: time.Now}
}

// Policy returns the regression policy in force.
func (t *Tracker) Policy() Policy {
	return t.policy
}

// Get returns the stored watermark value, or core.EpochSentinel when the
// key was never recorded.
func (t *Tracker) Get(ctx context.Context, source, table, column string) (string, error) {
	wm, err := t.store.GetWatermark(ctx, core.WatermarkKey{
		SourceName:      source,
		TableName:       table,
		WatermarkColumn: column,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get watermark: %w", err)
	}
	if wm == nil {
		return core.EpochSentinel, nil
	}
	return wm.WatermarkValue, nil
}

// Update upserts the watermark. The regression check and the write happen
// in one store transaction.
func (t *Tracker) Update(ctx context.Context, u Update) error {
	if u.SourceName == "" || u.TableName == "" || u.WatermarkColumn == "" {
		return fmt.Errorf("source, table and column are required")
	}
	key := core.WatermarkKey{
		SourceName:      u.SourceName,
		TableName:       u.TableName,
		WatermarkColumn: u.WatermarkColumn,
	}
	wm := &core.Watermark{
		WatermarkKey:       key,
		WatermarkValue:     u.Value,
		WatermarkTimestamp: t.now().UTC(),
		PartitionKey:       u.PartitionKey,
		JobRunID:           u.JobRunID,
		RowsProcessed:      u.RowsProcessed,
	}

	outcome := "written"
	check := func(prev *core.Watermark) error {
		if prev == nil || Compare(u.Value, prev.WatermarkValue) >= 0 {
			return nil
		}
		switch t.policy {
		case PolicyAllow:
			outcome = "regression_allowed"
			return nil
		case PolicyWarn:
			outcome = "regression_allowed"
			t.logger.Warn("watermark regressed",
				"source", key.SourceName,
				"table", key.TableName,
				"column", key.WatermarkColumn,
				"current", prev.WatermarkValue,
				"proposed", u.Value)
			return nil
		default:
			return &RegressionError{Key: key, Current: prev.WatermarkValue, Proposed: u.Value}
		}
	}

	if err := t.store.UpsertWatermark(ctx, wm, check); err != nil {
		var regErr *RegressionError
		if errors.As(err, &regErr) {
			t.metrics.WatermarkUpdated(key.SourceName, "regression_rejected")
			return err
		}
		return fmt.Errorf("failed to update watermark: %w", err)
	}
	t.metrics.WatermarkUpdated(key.SourceName, outcome)
	t.logger.Debug("watermark updated",
		"source", key.SourceName,
		"table", key.TableName,
		"column", key.WatermarkColumn,
		"value", u.Value,
		"rows", u.RowsProcessed)
	return nil
}

// List returns all watermarks, or those of one source.
func (t *Tracker) List(ctx context.Context, source string) ([]*core.Watermark, error) {
	wms, err := t.store.ListWatermarks(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to list watermarks: %w", err)
	}
	return wms, nil
}

// Compare orders two watermark values. Both RFC3339 timestamps compare as
// instants, both numbers compare numerically, anything else lexically.
func Compare(a, b string) int {
	if ta, errA := time.Parse(time.RFC3339Nano, a); errA == nil {
		if tb, errB := time.Parse(time.RFC3339Nano, b); errB == nil {
			return ta.Compare(tb)
		}
	}
	if na, errA := strconv.ParseFloat(a, 64); errA == nil {
		if nb, errB := strconv.ParseFloat(b, 64); errB == nil {
			switch {
			case na < nb:
				return -1
			case na > nb:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(a, b)
}
