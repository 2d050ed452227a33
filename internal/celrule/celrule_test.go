package celrule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_Eval(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name    string
		expr    string
		record  map[string]any
		want    bool
		wantErr bool
	}{
		{name: "float against int literal", expr: "record.amount > 0", record: map[string]any{"amount": 12.5}, want: true},
		{name: "failing predicate", expr: "record.amount > 0", record: map[string]any{"amount": -1.0}, want: false},
		{name: "string membership", expr: `record.status in ["paid", "refunded"]`, record: map[string]any{"status": "paid"}, want: true},
		{name: "has guard", expr: "!has(record.discount) || record.discount < record.amount", record: map[string]any{"amount": 10.0}, want: true},
		{name: "missing key errors", expr: "record.amount > 0", record: map[string]any{}, wantErr: true},
		{name: "non bool result", expr: "record.amount", record: map[string]any{"amount": 1.0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Eval(tt.expr, tt.record)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluator_Compile(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	p1, err := e.Compile("record.id != ''")
	require.NoError(t, err)
	p2, err := e.Compile("record.id != ''")
	require.NoError(t, err)
	assert.Equal(t, p1, p2, "programs are cached")

	_, err = e.Compile("record.id +")
	assert.Error(t, err)

	_, err = e.Compile(`"literal"`)
	assert.ErrorContains(t, err, "must evaluate to bool")

	_, err = e.Compile("unknown_var > 1")
	assert.Error(t, err)
}
