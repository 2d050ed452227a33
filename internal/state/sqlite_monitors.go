package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/leapguard/pkg/core"
)

// --- Monitor event operations ---

// InsertMonitorEvent stores a monitor event and returns its id.
func (s *SQLiteStore) InsertMonitorEvent(ctx context.Context, e *core.MonitorEvent) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database not opened")
	}

	payload := e.Payload
	if payload == nil {
		payload = []map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO monitor_events (monitor_name, kind, occurred_at, payload, severity, acknowledged)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.MonitorName, string(e.Kind), formatTime(e.OccurredAt), string(payloadJSON),
		string(e.Severity), boolInt(e.Acknowledged),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert monitor event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read monitor event id: %w", err)
	}
	e.ID = id
	return id, nil
}

// ListMonitorEvents returns monitor events, newest first.
func (s *SQLiteStore) ListMonitorEvents(ctx context.Context, filter core.EventFilter) ([]*core.MonitorEvent, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	var w whereClause
	if filter.MonitorName != "" {
		w.add("monitor_name = ?", filter.MonitorName)
	}
	if filter.Kind != "" {
		w.add("kind = ?", string(filter.Kind))
	}
	if filter.Unacknowledged {
		w.add("acknowledged = 0", nil)
	}

	query := `SELECT id, monitor_name, kind, occurred_at, payload, severity, acknowledged
		FROM monitor_events` + w.String() + ` ORDER BY id DESC`
	args := w.args
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list monitor events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.MonitorEvent
	for rows.Next() {
		var e core.MonitorEvent
		var kind, occurredAt, payload, sev string
		var ack int
		if err := rows.Scan(&e.ID, &e.MonitorName, &kind, &occurredAt, &payload, &sev, &ack); err != nil {
			return nil, fmt.Errorf("failed to scan monitor event: %w", err)
		}
		e.Kind = core.MonitorEventKind(kind)
		e.Severity = core.Severity(sev)
		e.Acknowledged = ack != 0
		if e.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode event payload: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating monitor events: %w", err)
	}
	return out, nil
}

// AcknowledgeEvent marks a monitor event as acknowledged.
func (s *SQLiteStore) AcknowledgeEvent(ctx context.Context, id int64) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	res, err := s.db.ExecContext(ctx, `UPDATE monitor_events SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to acknowledge event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("monitor event %d: %w", id, ErrNotFound)
	}
	return nil
}

// --- Monitor run operations ---

// GetMonitorRun returns the bookkeeping of a monitor, nil if it never ran.
func (s *SQLiteStore) GetMonitorRun(ctx context.Context, name string) (*core.MonitorRunState, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT name, last_run_at, last_outcome, last_error, run_count FROM monitor_runs WHERE name = ?`, name)
	st, err := scanMonitorRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// SetMonitorRun upserts the bookkeeping of a monitor.
func (s *SQLiteStore) SetMonitorRun(ctx context.Context, st *core.MonitorRunState) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitor_runs (name, last_run_at, last_outcome, last_error, run_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_outcome = excluded.last_outcome,
			last_error = excluded.last_error,
			run_count = excluded.run_count`,
		st.Name, formatTime(st.LastRunAt), string(st.LastOutcome), st.LastError, st.RunCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save monitor run: %w", err)
	}
	return nil
}

// ListMonitorRuns returns the bookkeeping of every monitor that ran, by name.
func (s *SQLiteStore) ListMonitorRuns(ctx context.Context) ([]*core.MonitorRunState, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, last_run_at, last_outcome, last_error, run_count FROM monitor_runs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list monitor runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.MonitorRunState
	for rows.Next() {
		st, err := scanMonitorRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating monitor runs: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMonitorRun(row scanner) (*core.MonitorRunState, error) {
	var st core.MonitorRunState
	var lastRunAt, outcome string
	if err := row.Scan(&st.Name, &lastRunAt, &outcome, &st.LastError, &st.RunCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan monitor run: %w", err)
	}
	st.LastOutcome = core.MonitorState(outcome)
	t, err := parseTime(lastRunAt)
	if err != nil {
		return nil, err
	}
	st.LastRunAt = t
	return &st, nil
}
