package core

import (
	"strconv"
	"strings"
)

// PlaceholderStyle defines how query parameters are formatted.
type PlaceholderStyle int

const (
	// PlaceholderQuestion uses ? for all parameters (DuckDB, SQLite).
	PlaceholderQuestion PlaceholderStyle = iota
	// PlaceholderDollar uses $1, $2, etc. for parameters (PostgreSQL).
	PlaceholderDollar
)

// Dialect holds the static configuration needed to render generated SQL.
type Dialect struct {
	// Name is the dialect identifier (e.g., "duckdb", "postgres")
	Name string

	// DefaultSchema is the default schema name ("main" for DuckDB, "public" for Postgres)
	DefaultSchema string

	// Placeholder defines how query parameters are formatted
	Placeholder PlaceholderStyle
}

// Built-in dialects.
var (
	DuckDBDialect   = &Dialect{Name: "duckdb", DefaultSchema: "main", Placeholder: PlaceholderQuestion}
	PostgresDialect = &Dialect{Name: "postgres", DefaultSchema: "public", Placeholder: PlaceholderDollar}
)

// FormatPlaceholder returns the placeholder for the 1-based parameter index.
func (d *Dialect) FormatPlaceholder(index int) string {
	if d.Placeholder == PlaceholderDollar {
		return "$" + strconv.Itoa(index)
	}
	return "?"
}

// QuoteIdent quotes a single identifier with ANSI double quotes.
func (d *Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteQualified quotes every dot-separated part of a table reference.
func (d *Dialect) QuoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.QuoteIdent(p)
	}
	return strings.Join(parts, ".")
}
