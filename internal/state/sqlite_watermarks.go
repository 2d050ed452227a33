package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapguard/pkg/core"
)

const watermarkColumns = `source_name, table_name, watermark_column, watermark_value,
	watermark_timestamp, partition_key, job_run_id, rows_processed`

// GetWatermark returns the stored watermark, nil if the key was never recorded.
func (s *SQLiteStore) GetWatermark(ctx context.Context, key core.WatermarkKey) (*core.Watermark, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	return getWatermark(ctx, s.db, key)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getWatermark(ctx context.Context, q queryRower, key core.WatermarkKey) (*core.Watermark, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+watermarkColumns+` FROM watermarks
		WHERE source_name = ? AND table_name = ? AND watermark_column = ?`,
		key.SourceName, key.TableName, key.WatermarkColumn)
	wm, err := scanWatermark(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return wm, err
}

// UpsertWatermark writes a watermark keyed by its composite key. check sees
// the stored row inside the same transaction and can veto the write.
func (s *SQLiteStore) UpsertWatermark(ctx context.Context, wm *core.Watermark, check core.WatermarkCheck) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if check != nil {
		prev, err := getWatermark(ctx, tx, wm.WatermarkKey)
		if err != nil {
			return err
		}
		if err := check(prev); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO watermarks (`+watermarkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_name, table_name, watermark_column) DO UPDATE SET
			watermark_value = excluded.watermark_value,
			watermark_timestamp = excluded.watermark_timestamp,
			partition_key = excluded.partition_key,
			job_run_id = excluded.job_run_id,
			rows_processed = excluded.rows_processed`,
		wm.SourceName, wm.TableName, wm.WatermarkColumn, wm.WatermarkValue,
		formatTime(wm.WatermarkTimestamp), wm.PartitionKey, wm.JobRunID, wm.RowsProcessed,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit watermark: %w", err)
	}
	return nil
}

// ListWatermarks lists every watermark, or only those of source when set.
func (s *SQLiteStore) ListWatermarks(ctx context.Context, source string) ([]*core.Watermark, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	query := `SELECT ` + watermarkColumns + ` FROM watermarks`
	var args []any
	if source != "" {
		query += ` WHERE source_name = ?`
		args = append(args, source)
	}
	query += ` ORDER BY source_name, table_name, watermark_column`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list watermarks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.Watermark
	for rows.Next() {
		wm, err := scanWatermark(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watermarks: %w", err)
	}
	return out, nil
}

func scanWatermark(row scanner) (*core.Watermark, error) {
	var wm core.Watermark
	var ts string
	err := row.Scan(&wm.SourceName, &wm.TableName, &wm.WatermarkColumn, &wm.WatermarkValue,
		&ts, &wm.PartitionKey, &wm.JobRunID, &wm.RowsProcessed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan watermark: %w", err)
	}
	if wm.WatermarkTimestamp, err = parseTime(ts); err != nil {
		return nil, err
	}
	return &wm, nil
}
