// Package config provides the shared defaults and warehouse target
// validation used by the CLI and the admin server.
package config

import (
	"fmt"

	"github.com/leapstack-labs/leapguard/pkg/adapter"
	"github.com/leapstack-labs/leapguard/pkg/core"
)

// DefaultSchemaForType returns the default schema of the dialect
// registered for a warehouse type, falling back to DuckDB's.
func DefaultSchemaForType(dbType string) string {
	d, err := adapter.DialectFor(dbType)
	if err != nil {
		return core.DuckDBDialect.DefaultSchema
	}
	return d.DefaultSchema
}

// ValidateTarget checks that the target names a registered adapter and
// carries the fields that adapter needs to connect.
func ValidateTarget(t *core.TargetConfig) error {
	if t == nil {
		return fmt.Errorf("target is required")
	}
	if t.Type == "" {
		return fmt.Errorf("target type is required")
	}

	d, err := adapter.Lookup(t.Type)
	if err != nil {
		return err
	}

	if d.Name == core.PostgresDialect.Name {
		if t.Host == "" {
			return fmt.Errorf("postgres target requires host")
		}
		if t.Database == "" {
			return fmt.Errorf("postgres target requires database")
		}
	}
	if t.Port < 0 || t.Port > 65535 {
		return fmt.Errorf("target port %d out of range", t.Port)
	}
	return nil
}
