package core

import (
	"context"
	"time"
)

// ViolationStore persists the violation stream.
type ViolationStore interface {
	// InsertViolation stores a record. When the record carries an
	// idempotency key that is already present, nothing is written and
	// duplicate is true.
	InsertViolation(ctx context.Context, v *ViolationRecord) (id int64, duplicate bool, err error)
	ListViolations(ctx context.Context, filter ViolationFilter) ([]*ViolationRecord, error)
	ResolveViolation(ctx context.Context, id int64, by, note string, at time.Time) error
}

// MonitorStore persists monitor events and per-monitor run bookkeeping.
type MonitorStore interface {
	InsertMonitorEvent(ctx context.Context, e *MonitorEvent) (int64, error)
	ListMonitorEvents(ctx context.Context, filter EventFilter) ([]*MonitorEvent, error)
	AcknowledgeEvent(ctx context.Context, id int64) error

	// GetMonitorRun returns nil, nil for a monitor that never ran.
	GetMonitorRun(ctx context.Context, name string) (*MonitorRunState, error)
	SetMonitorRun(ctx context.Context, s *MonitorRunState) error
	ListMonitorRuns(ctx context.Context) ([]*MonitorRunState, error)
}

// WatermarkCheck inspects the stored watermark (nil when absent) before an
// upsert. Returning an error aborts the write.
type WatermarkCheck func(prev *Watermark) error

// WatermarkStore persists incremental extraction progress.
type WatermarkStore interface {
	// GetWatermark returns nil, nil when the key was never recorded.
	GetWatermark(ctx context.Context, key WatermarkKey) (*Watermark, error)
	// UpsertWatermark runs check and the write in one transaction.
	UpsertWatermark(ctx context.Context, wm *Watermark, check WatermarkCheck) error
	// ListWatermarks lists all watermarks, or those of one source.
	ListWatermarks(ctx context.Context, source string) ([]*Watermark, error)
}

// Store is the full state backend.
type Store interface {
	ViolationStore
	MonitorStore
	WatermarkStore

	Migrate(ctx context.Context) error
	Close() error
}
