package config

import (
	"time"

	"github.com/leapstack-labs/leapguard/pkg/core"
)

// Default configuration values.
const (
	DefaultStatePath     = ".leapguard/state.db"
	DefaultGovernanceDir = "governance"
	DefaultServerAddr    = "127.0.0.1:8088"
	DefaultOutput        = "text"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultPolicy        = "reject"
	DefaultSubjectPrefix = "leapguard"

	DefaultMaxStoredEntries = 100
	DefaultSampleLimit      = 10
	DefaultWorkers          = 4
	DefaultScanLimit        = 10 * 1024
	DefaultRateLimit        = 50.0
	DefaultRateBurst        = 100
)

// Default intervals and timeouts.
const (
	DefaultVerifyInterval    = 15 * time.Minute
	DefaultMonitorInterval   = time.Minute
	DefaultFreshnessInterval = 5 * time.Minute
	DefaultCheckTimeout      = 30 * time.Second
	DefaultRuleTimeout       = 30 * time.Second
	DefaultReloadDebounce    = 250 * time.Millisecond
)

// ApplyTargetDefaults applies default values to a TargetConfig based on the target type.
func ApplyTargetDefaults(t *core.TargetConfig) {
	if t == nil {
		return
	}
	if t.Type == "" {
		t.Type = "duckdb"
	}
	if t.Schema == "" {
		t.Schema = DefaultSchemaForType(t.Type)
	}
	if t.Type == "postgres" && t.Port == 0 {
		t.Port = 5432
	}
}
