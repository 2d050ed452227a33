// Package events is the write side of the violation and monitor event
// streams. Records are persisted first and then fanned out to publishers.
package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leapguard/internal/metrics"
	"github.com/leapstack-labs/leapguard/pkg/core"
)

// Publisher forwards persisted records to external consumers.
type Publisher interface {
	PublishViolation(ctx context.Context, v *core.ViolationRecord) error
	PublishMonitorEvent(ctx context.Context, e *core.MonitorEvent) error
	Close() error
}

// Recorder is what the validator, verifier, monitor runner and freshness
// reporter write to.
type Recorder interface {
	RecordViolation(ctx context.Context, v *core.ViolationRecord) (id int64, duplicate bool, err error)
	RecordMonitorEvent(ctx context.Context, e *core.MonitorEvent) (int64, error)
}

// StoreWriter is the persistence needed by a Stream.
type StoreWriter interface {
	InsertViolation(ctx context.Context, v *core.ViolationRecord) (int64, bool, error)
	InsertMonitorEvent(ctx context.Context, e *core.MonitorEvent) (int64, error)
}

// Stream persists records and notifies publishers.
type Stream struct {
	store      StoreWriter
	publishers []Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

var _ Recorder = (*Stream)(nil)

// NewStream creates a stream over store.
func NewStream(store StoreWriter, m *metrics.Metrics, logger *slog.Logger, publishers ...Publisher) *Stream {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Stream{store: store, publishers: publishers, metrics: m, logger: logger}
}

// AddPublisher registers another publisher. Not safe to call concurrently
// with Record*.
func (s *Stream) AddPublisher(p Publisher) {
	s.publishers = append(s.publishers, p)
}

// RecordViolation stores v and publishes it. A duplicate (same idempotency
// key) is neither counted nor published again.
func (s *Stream) RecordViolation(ctx context.Context, v *core.ViolationRecord) (int64, bool, error) {
	id, dup, err := s.store.InsertViolation(ctx, v)
	if err != nil {
		return 0, false, fmt.Errorf("failed to record violation: %w", err)
	}
	if dup {
		s.logger.Debug("violation already recorded", "id", id, "idempotency_key", v.IdempotencyKey)
		return id, true, nil
	}

	s.metrics.ViolationRecorded(string(v.ViolationType), string(v.Severity))
	s.logger.Info("violation recorded",
		"id", id,
		"type", v.ViolationType,
		"severity", v.Severity,
		"source", v.SourceName,
		"table", v.TableName,
		"count", v.ViolationCount)

	for _, p := range s.publishers {
		if err := p.PublishViolation(ctx, v); err != nil {
			s.logger.Warn("failed to publish violation", "id", id, "error", err)
		}
	}
	return id, false, nil
}

// RecordMonitorEvent stores e and publishes it.
func (s *Stream) RecordMonitorEvent(ctx context.Context, e *core.MonitorEvent) (int64, error) {
	id, err := s.store.InsertMonitorEvent(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("failed to record monitor event: %w", err)
	}

	s.metrics.MonitorEventRecorded(string(e.Kind), string(e.Severity))
	s.logger.Info("monitor event recorded",
		"id", id,
		"monitor", e.MonitorName,
		"kind", e.Kind,
		"severity", e.Severity,
		"rows", len(e.Payload))

	for _, p := range s.publishers {
		if err := p.PublishMonitorEvent(ctx, e); err != nil {
			s.logger.Warn("failed to publish monitor event", "id", id, "error", err)
		}
	}
	return id, nil
}

// Close closes every publisher and returns the first error.
func (s *Stream) Close() error {
	var first error
	for _, p := range s.publishers {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
