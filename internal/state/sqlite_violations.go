package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/leapguard/pkg/core"
)

// InsertViolation stores a violation record. A record whose idempotency key
// is already stored is not written again; the existing id is returned with
// duplicate set.
func (s *SQLiteStore) InsertViolation(ctx context.Context, v *core.ViolationRecord) (int64, bool, error) {
	if s.db == nil {
		return 0, false, fmt.Errorf("database not opened")
	}

	entries := v.Entries
	if entries == nil {
		entries = []core.ViolationEntry{}
	}
	entriesJSON, err := json.Marshal(entries)
	if err != nil {
		return 0, false, fmt.Errorf("failed to marshal violation entries: %w", err)
	}

	observedAt := v.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO violation_records (
			source_name, table_name, column_name, check_type, observed_at,
			partition_key, row_count, violation_count, violation_type, severity,
			entries, idempotency_key
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		v.SourceName, v.TableName, v.ColumnName, string(v.CheckType), formatTime(observedAt),
		v.PartitionKey, v.RowCount, v.ViolationCount, string(v.ViolationType), string(v.Severity),
		string(entriesJSON), nullString(v.IdempotencyKey),
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert violation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read insert result: %w", err)
	}
	if affected == 0 {
		var id int64
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM violation_records WHERE idempotency_key = ?`, v.IdempotencyKey,
		).Scan(&id)
		if err != nil {
			return 0, false, fmt.Errorf("failed to look up duplicate violation: %w", err)
		}
		s.logger.Debug("violation already recorded",
			slog.String("idempotency_key", v.IdempotencyKey),
			slog.Int64("id", id))
		return id, true, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read violation id: %w", err)
	}
	v.ID = id
	v.ObservedAt = observedAt.UTC()
	return id, false, nil
}

// ListViolations returns violation records, newest first.
func (s *SQLiteStore) ListViolations(ctx context.Context, filter core.ViolationFilter) ([]*core.ViolationRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	var w whereClause
	if filter.SourceName != "" {
		w.add("source_name = ?", filter.SourceName)
	}
	if filter.TableName != "" {
		w.add("table_name = ?", filter.TableName)
	}
	if filter.ViolationType != "" {
		w.add("violation_type = ?", string(filter.ViolationType))
	}
	if filter.Unresolved {
		w.add("resolved = 0", nil)
	}
	if !filter.Since.IsZero() {
		w.add("observed_at >= ?", formatTime(filter.Since))
	}

	query := `
		SELECT id, source_name, table_name, column_name, check_type, observed_at,
			partition_key, row_count, violation_count, violation_type, severity,
			entries, idempotency_key, resolved, resolved_at, resolved_by, resolution_note
		FROM violation_records` + w.String() + ` ORDER BY id DESC`
	args := w.args
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.ViolationRecord
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating violations: %w", err)
	}
	return out, nil
}

func scanViolation(rows *sql.Rows) (*core.ViolationRecord, error) {
	var v core.ViolationRecord
	var checkType, vType, sev, observedAt, entries string
	var idemKey, resolvedAt sql.NullString
	var resolved int
	err := rows.Scan(&v.ID, &v.SourceName, &v.TableName, &v.ColumnName, &checkType, &observedAt,
		&v.PartitionKey, &v.RowCount, &v.ViolationCount, &vType, &sev,
		&entries, &idemKey, &resolved, &resolvedAt, &v.ResolvedBy, &v.ResolutionNote)
	if err != nil {
		return nil, fmt.Errorf("failed to scan violation: %w", err)
	}

	v.CheckType = core.CheckType(checkType)
	v.ViolationType = core.ViolationType(vType)
	v.Severity = core.Severity(sev)
	v.IdempotencyKey = idemKey.String
	v.Resolved = resolved != 0

	if v.ObservedAt, err = parseTime(observedAt); err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t, err := parseTime(resolvedAt.String)
		if err != nil {
			return nil, err
		}
		v.ResolvedAt = &t
	}
	if err := json.Unmarshal([]byte(entries), &v.Entries); err != nil {
		return nil, fmt.Errorf("failed to decode violation entries: %w", err)
	}
	return &v, nil
}

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// ResolveViolation marks a violation as resolved with resolution metadata.
func (s *SQLiteStore) ResolveViolation(ctx context.Context, id int64, by, note string, at time.Time) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE violation_records
		SET resolved = 1, resolved_at = ?, resolved_by = ?, resolution_note = ?
		WHERE id = ?`,
		formatTime(at), by, note, id,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve violation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("violation %d: %w", id, ErrNotFound)
	}
	return nil
}
