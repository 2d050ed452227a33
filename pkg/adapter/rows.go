package adapter

import (
	"fmt"
	"time"

	"github.com/leapstack-labs/leapguard/pkg/core"
)

// ScanMaps reads every remaining row into a column name keyed map and
// closes rows. Byte slices become strings and times are formatted as
// RFC3339 so the maps encode cleanly to JSON.
func ScanMaps(rows *core.Rows) ([]map[string]any, error) {
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	out := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalize(vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// ScanInt64 reads a single integer from the first row and closes rows.
// No rows or a NULL yields zero.
func ScanInt64(rows *core.Rows) (int64, error) {
	defer func() { _ = rows.Close() }()

	var n *int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to scan count: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating rows: %w", err)
	}
	if n == nil {
		return 0, nil
	}
	return *n, nil
}

func normalize(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
