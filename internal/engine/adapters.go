package engine

// Warehouse adapters register themselves from init().
import (
	_ "github.com/leapstack-labs/leapguard/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/leapguard/pkg/adapters/postgres"
)
