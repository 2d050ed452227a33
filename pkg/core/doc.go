// Package core defines the shared language of the leapguard system.
//
// This package contains:
//   - Domain entities (Contract, ViolationRecord, MonitorDefinition, Watermark, etc.)
//   - Service interfaces (Querier, Adapter, Store)
//   - The SQL dialect description used to quote generated queries
//
// The Golden Rule: pkg/core imports ONLY the standard library.
// All other packages depend on core, not the reverse.
package core
