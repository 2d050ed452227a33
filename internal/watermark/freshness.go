package watermark

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/leapstack-labs/leapguard/internal/events"
	"github.com/leapstack-labs/leapguard/internal/registry"
	"github.com/leapstack-labs/leapguard/pkg/core"
)

// Classify grades a watermark timestamp against an SLA window:
// staleness <= sla is fresh, <= 2*sla is warning, beyond that stale.
func Classify(now, ts time.Time, sla time.Duration) core.Freshness {
	staleness := now.Sub(ts)
	switch {
	case staleness <= sla:
		return core.FreshnessFresh
	case staleness <= 2*sla:
		return core.FreshnessWarning
	default:
		return core.FreshnessStale
	}
}

// SourceFreshness is the freshness of one watermark.
type SourceFreshness struct {
	core.WatermarkKey
	WatermarkValue     string         `json:"watermark_value"`
	WatermarkTimestamp time.Time      `json:"watermark_timestamp"`
	SLAMinutes         int            `json:"sla_minutes"`
	Staleness          time.Duration  `json:"staleness"`
	Freshness          core.Freshness `json:"freshness"`
}

// FreshnessReporter classifies watermarks of sources whose active contract
// declares an SLA.
type FreshnessReporter struct {
	tracker  *Tracker
	source   registry.Source
	recorder events.Recorder
	logger   *slog.Logger
}

// NewFreshnessReporter creates a reporter. recorder may be nil when only
// Report is used.
func NewFreshnessReporter(t *Tracker, src registry.Source, rec events.Recorder, logger *slog.Logger) *FreshnessReporter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FreshnessReporter{tracker: t, source: src, recorder: rec, logger: logger}
}

// Report classifies every watermark of every SLA-bound source, ordered by
// source, table and column.
func (r *FreshnessReporter) Report(ctx context.Context, now time.Time) ([]SourceFreshness, error) {
	snap := r.source.Current()
	var out []SourceFreshness
	for _, c := range snap.ActiveContracts() {
		if c.SLAMinutes <= 0 {
			continue
		}
		wms, err := r.tracker.List(ctx, c.SourceName)
		if err != nil {
			return nil, err
		}
		for _, wm := range wms {
			out = append(out, SourceFreshness{
				WatermarkKey:       wm.WatermarkKey,
				WatermarkValue:     wm.WatermarkValue,
				WatermarkTimestamp: wm.WatermarkTimestamp,
				SLAMinutes:         c.SLAMinutes,
				Staleness:          now.Sub(wm.WatermarkTimestamp),
				Freshness:          Classify(now, wm.WatermarkTimestamp, c.SLA()),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].WatermarkKey, out[j].WatermarkKey
		if a.SourceName != b.SourceName {
			return a.SourceName < b.SourceName
		}
		if a.TableName != b.TableName {
			return a.TableName < b.TableName
		}
		return a.WatermarkColumn < b.WatermarkColumn
	})
	return out, nil
}

// Record writes one sla violation per source with at least one stale
// watermark and returns the number written.
func (r *FreshnessReporter) Record(ctx context.Context, now time.Time) (int, error) {
	if r.recorder == nil {
		return 0, fmt.Errorf("freshness reporter has no recorder")
	}
	report, err := r.Report(ctx, now)
	if err != nil {
		return 0, err
	}

	var order []string
	stale := map[string][]SourceFreshness{}
	for _, f := range report {
		if f.Freshness != core.FreshnessStale {
			continue
		}
		if _, ok := stale[f.SourceName]; !ok {
			order = append(order, f.SourceName)
		}
		stale[f.SourceName] = append(stale[f.SourceName], f)
	}

	written := 0
	for _, source := range order {
		items := stale[source]
		entries := make([]core.ViolationEntry, 0, len(items))
		for _, f := range items {
			entries = append(entries, core.ViolationEntry{
				Kind: core.EntryStaleSource,
				Error: fmt.Sprintf("%s.%s is %s behind (sla %dm)",
					f.TableName, f.WatermarkColumn, f.Staleness.Truncate(time.Second), f.SLAMinutes),
				Fields: []string{f.WatermarkColumn},
				Sample: map[string]any{
					"table":               f.TableName,
					"watermark_value":     f.WatermarkValue,
					"watermark_timestamp": f.WatermarkTimestamp.Format(time.RFC3339),
				},
			})
		}
		v := &core.ViolationRecord{
			SourceName:     source,
			ObservedAt:     now,
			ViolationCount: int64(len(items)),
			ViolationType:  core.ViolationSLA,
			Severity:       core.SeverityHigh,
			Entries:        entries,
		}
		if _, _, err := r.recorder.RecordViolation(ctx, v); err != nil {
			return written, err
		}
		written++
	}
	if written > 0 {
		r.logger.Info("stale sources recorded", "count", written)
	}
	return written, nil
}
