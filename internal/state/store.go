// Package state provides the durable state backend: the violation stream,
// monitor events and run bookkeeping, and incremental watermarks.
package state

import "github.com/leapstack-labs/leapguard/pkg/core"

// Ensure SQLiteStore implements core.Store
var _ core.Store = (*SQLiteStore)(nil)
