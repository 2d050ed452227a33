package adapter

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapguard/pkg/core"
)

func TestUnknownAdapterError_Error(t *testing.T) {
	err := &UnknownAdapterError{
		Type:      "snowflake",
		Available: []string{"duckdb", "postgres"},
	}

	msg := err.Error()
	assert.Contains(t, msg, `"snowflake"`)
	assert.Contains(t, msg, "duckdb, postgres")
	assert.Contains(t, msg, "leapguard.yaml")
}

func TestRegister(t *testing.T) {
	calls := 0
	Register(Driver{Name: "registry_test_adapter", New: func(_ *slog.Logger) Adapter { calls = 1; return nil }})
	Register(Driver{Name: "Registry_Test_Adapter", Dialect: core.PostgresDialect, New: func(_ *slog.Logger) Adapter { calls = 2; return nil }})

	d, err := Lookup("REGISTRY_TEST_ADAPTER")
	require.NoError(t, err)
	d.New(nil)
	assert.Equal(t, 2, calls, "later registration wins")
	assert.Same(t, core.PostgresDialect, d.Dialect)
	assert.Contains(t, ListAdapters(), "registry_test_adapter")

	assert.Panics(t, func() { Register(Driver{Name: "no_factory"}) })
}

func TestRegister_DefaultDialect(t *testing.T) {
	Register(Driver{Name: "registry_test_default", New: func(_ *slog.Logger) Adapter { return nil }})
	d, err := DialectFor("registry_test_default")
	require.NoError(t, err)
	assert.Same(t, core.DuckDBDialect, d)
}

func TestNewAdapter_EmptyType(t *testing.T) {
	_, err := NewAdapter(Config{}, nil)
	require.Error(t, err)
	assert.Equal(t, "adapter type not specified", err.Error())
}

func TestDialectFor_Unknown(t *testing.T) {
	_, err := DialectFor("oracle")
	var unknown *UnknownAdapterError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "oracle", unknown.Type)
}
