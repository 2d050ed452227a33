package rulequery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_Check(t *testing.T) {
	g := NewGuard(nil)

	tests := []struct {
		name    string
		expr    string
		wantErr string
	}{
		{name: "comparison", expr: "amount <= 0"},
		{name: "boolean logic", expr: "status = 'cancelled' AND NOT (refund IS NULL)"},
		{name: "in list", expr: "country IN ('US', 'CA')"},
		{name: "between params", expr: "ts BETWEEN @window_start AND @now"},
		{name: "case expression", expr: "CASE WHEN n > @threshold THEN 'high' ELSE 'info' END AS severity"},
		{name: "cast", expr: "CAST(amount AS BIGINT) > 10"},
		{name: "aggregate", expr: "count(*) AS n"},
		{name: "qualified identifier", expr: "o.amount > 0"},
		{name: "interval", expr: "ts > @now - INTERVAL '1 hour'"},
		{name: "empty", expr: "  ", wantErr: "empty expression"},
		{name: "statement separator", expr: "1=1; DROP TABLE orders", wantErr: "statement separator"},
		{name: "comment", expr: "1=1 -- sneaky", wantErr: "comments not allowed"},
		{name: "subquery", expr: "id IN (SELECT id FROM admins)", wantErr: "keyword SELECT"},
		{name: "union", expr: "1=1 UNION ALL", wantErr: "keyword UNION"},
		{name: "unknown function", expr: "pg_sleep(10) IS NULL", wantErr: "function pg_sleep"},
		{name: "quoted function name", expr: `"pg_sleep"(10) IS NULL`, wantErr: "quoted function name"},
		{name: "quoted allowed function name", expr: `"abs"(amount) > 0`, wantErr: "quoted function name"},
		{name: "quoted file read", expr: `"pg_read_file"('/etc/passwd') IS NOT NULL`, wantErr: "quoted function name"},
		{name: "qualified function", expr: "pg_catalog.abs(amount) > 0", wantErr: "qualified function abs"},
		{name: "quoted column", expr: `"order total" > 0`},
		{name: "unknown parameter", expr: "amount > @limit", wantErr: "unknown parameter @limit"},
		{name: "unbalanced open", expr: "(a = 1", wantErr: "unbalanced"},
		{name: "unbalanced close", expr: "a = 1)", wantErr: "unbalanced"},
		{name: "illegal char", expr: "a = ?", wantErr: "illegal token"},
		{name: "unterminated string", expr: "a = 'x", wantErr: "illegal token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Check(tt.expr)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var gerr *GuardError
			require.ErrorAs(t, err, &gerr)
			assert.Contains(t, gerr.Reason, tt.wantErr)
		})
	}
}

func TestGuard_CustomFunctions(t *testing.T) {
	g := NewGuard([]string{"regexp_matches"})

	_, err := g.Check("regexp_matches(email, '@')")
	require.NoError(t, err)

	_, err = g.Check("count(*) > 1")
	require.Error(t, err)
}

func TestParamNames(t *testing.T) {
	assert.Equal(t, []string{"now", "threshold"}, ParamNames("a > @NOW AND b > @threshold AND c < @now"))
	assert.Empty(t, ParamNames("a > 1"))
}
