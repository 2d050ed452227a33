// Package adapter provides the warehouse adapter registry and a shared
// database/sql base for leapguard.
//
// The verifier and the monitor runner only read from the warehouse through
// core.Querier. Concrete adapter implementations are in pkg/adapters/
// subdirectories and register themselves from init().
package adapter

import (
	"github.com/leapstack-labs/leapguard/pkg/core"
)

type (
	// Adapter is an alias for core.Adapter.
	Adapter = core.Adapter

	// Config is an alias for core.AdapterConfig.
	Config = core.AdapterConfig
)
