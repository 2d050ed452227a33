package rulequery

import (
	"testing"
	"time"

	"github.com/leapstack-labs/leapguard/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_CheckTable(t *testing.T) {
	b := NewBuilder(core.DuckDBDialect, []string{"orders", "Silver.Customers"}, nil)

	assert.NoError(t, b.CheckTable("orders"))
	assert.NoError(t, b.CheckTable("silver.customers"))

	var terr *TableError
	require.ErrorAs(t, b.CheckTable("secrets"), &terr)
	assert.Equal(t, "secrets", terr.Table)

	assert.Error(t, b.CheckTable("orders; DROP TABLE x"))
	assert.Error(t, b.CheckTable("a.b.c"))
}

func TestBuilder_CheckQueries(t *testing.T) {
	b := NewBuilder(core.DuckDBDialect, []string{"orders"}, nil)

	tests := []struct {
		name  string
		build func() (Query, error)
		want  string
	}{
		{
			name:  "null count",
			build: func() (Query, error) { return b.NullCount("orders", "amount") },
			want:  `SELECT COUNT(*) FROM "orders" WHERE "amount" IS NULL`,
		},
		{
			name:  "null sample clamps limit",
			build: func() (Query, error) { return b.NullSample("orders", "amount", 50) },
			want:  `SELECT * FROM "orders" WHERE "amount" IS NULL LIMIT 10`,
		},
		{
			name:  "non positive count",
			build: func() (Query, error) { return b.NonPositiveCount("orders", "amount") },
			want:  `SELECT COUNT(*) FROM "orders" WHERE "amount" <= 0`,
		},
		{
			name:  "non positive sample",
			build: func() (Query, error) { return b.NonPositiveSample("orders", "amount", 3) },
			want:  `SELECT * FROM "orders" WHERE "amount" <= 0 LIMIT 3`,
		},
		{
			name:  "duplicate count",
			build: func() (Query, error) { return b.DuplicateCount("orders", "id") },
			want: `SELECT CAST(COALESCE(SUM(duplicate_count), 0) AS BIGINT) FROM (SELECT "id" AS value, COUNT(*) AS duplicate_count ` +
				`FROM "orders" WHERE "id" IS NOT NULL GROUP BY "id" HAVING COUNT(*) > 1) AS dup`,
		},
		{
			name:  "duplicate sample",
			build: func() (Query, error) { return b.DuplicateSample("orders", "id", 0) },
			want: `SELECT "id" AS value, COUNT(*) AS duplicate_count FROM "orders" WHERE "id" IS NOT NULL GROUP BY "id" ` +
				`HAVING COUNT(*) > 1 ORDER BY duplicate_count DESC, value LIMIT 10`,
		},
		{
			name:  "custom count",
			build: func() (Query, error) { return b.CustomCount("orders", "status = 'paid' AND amount IS NULL") },
			want:  `SELECT COUNT(*) FROM "orders" WHERE (status = 'paid' AND amount IS NULL)`,
		},
		{
			name:  "custom sample",
			build: func() (Query, error) { return b.CustomSample("orders", "amount > 1000", 10) },
			want:  `SELECT * FROM "orders" WHERE (amount > 1000) LIMIT 10`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := tt.build()
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.SQL)
			assert.Empty(t, q.Args)
		})
	}
}

func TestBuilder_CheckQueryErrors(t *testing.T) {
	b := NewBuilder(core.DuckDBDialect, []string{"orders"}, nil)

	_, err := b.NullCount("customers", "id")
	assert.Error(t, err)

	_, err = b.NullCount("orders", "")
	assert.Error(t, err)

	_, err = b.CustomCount("orders", "1=1; DELETE FROM orders")
	assert.Error(t, err)

	// Checks have no bound parameters
	_, err = b.CustomCount("orders", "ts < @now")
	var gerr *GuardError
	require.ErrorAs(t, err, &gerr)
	assert.Contains(t, gerr.Reason, "not available")
}

func TestBuilder_Monitor(t *testing.T) {
	now := time.Date(2025, 1, 16, 12, 0, 0, 0, time.UTC)
	params := &Params{Threshold: 100, WindowStart: now.Add(-time.Hour), Now: now}

	rule := core.MonitorRule{
		Select:  []string{"sku", "count(*) AS n"},
		From:    "orders",
		Where:   "ts >= @window_start AND ts < @now",
		GroupBy: []string{"sku"},
		Having:  "count(*) > @threshold",
		OrderBy: []string{"n DESC"},
		Limit:   50,
	}

	t.Run("duckdb placeholders", func(t *testing.T) {
		b := NewBuilder(core.DuckDBDialect, []string{"orders"}, nil)
		q, err := b.Monitor(rule, params)
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT sku, count(*) AS n FROM "orders" WHERE (ts >= ? AND ts < ?) GROUP BY sku HAVING (count(*) > ?) ORDER BY n DESC LIMIT 50`,
			q.SQL)
		assert.Equal(t, []any{now.Add(-time.Hour), now, float64(100)}, q.Args)
	})

	t.Run("postgres placeholders", func(t *testing.T) {
		b := NewBuilder(core.PostgresDialect, []string{"orders"}, nil)
		q, err := b.Monitor(rule, params)
		require.NoError(t, err)
		assert.Contains(t, q.SQL, "WHERE (ts >= $1 AND ts < $2)")
		assert.Contains(t, q.SQL, "HAVING (count(*) > $3)")
	})

	t.Run("rejects table outside allowlist", func(t *testing.T) {
		b := NewBuilder(core.DuckDBDialect, []string{"customers"}, nil)
		_, err := b.Monitor(rule, params)
		var terr *TableError
		assert.ErrorAs(t, err, &terr)
	})

	t.Run("rejects injected clause", func(t *testing.T) {
		b := NewBuilder(core.DuckDBDialect, []string{"orders"}, nil)
		bad := rule
		bad.Where = "1=1) UNION SELECT * FROM secrets --"
		_, err := b.Monitor(bad, params)
		assert.Error(t, err)
	})

	t.Run("requires a select list", func(t *testing.T) {
		b := NewBuilder(core.DuckDBDialect, []string{"orders"}, nil)
		_, err := b.Monitor(core.MonitorRule{From: "orders"}, params)
		assert.Error(t, err)
	})

	t.Run("validate without values", func(t *testing.T) {
		b := NewBuilder(core.DuckDBDialect, []string{"orders"}, nil)
		assert.NoError(t, b.ValidateMonitor(rule))
	})
}
