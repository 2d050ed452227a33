// Package config provides configuration management for the leapguard CLI.
//
// Values are layered with koanf: built-in defaults, then leapguard.yaml,
// then LEAPGUARD_ environment variables, then explicitly set flags.
package config

import (
	"time"

	intconfig "github.com/leapstack-labs/leapguard/internal/config"
	"github.com/leapstack-labs/leapguard/pkg/core"
)

// TargetConfig is an alias for the shared target configuration.
type TargetConfig = core.TargetConfig

// Config holds all CLI configuration options.
type Config struct {
	ProjectRoot   string               `koanf:"-"`
	StatePath     string               `koanf:"state_path"`
	GovernanceDir string               `koanf:"governance_dir"`
	Environment   string               `koanf:"environment"`
	OutputFormat  string               `koanf:"output"`
	Target        *TargetConfig        `koanf:"target"`
	Environments  map[string]EnvConfig `koanf:"environments"`

	Validator ValidatorConfig `koanf:"validator"`
	Verifier  VerifierConfig  `koanf:"verifier"`
	Monitor   MonitorConfig   `koanf:"monitor"`
	Freshness FreshnessConfig `koanf:"freshness"`
	Watermark WatermarkConfig `koanf:"watermark"`
	PII       PIIConfig       `koanf:"pii"`
	Events    EventsConfig    `koanf:"events"`
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
}

// EnvConfig holds environment-specific overrides.
type EnvConfig struct {
	GovernanceDir string        `koanf:"governance_dir"`
	Target        *TargetConfig `koanf:"target"`
}

// ValidatorConfig tunes the batch validator.
type ValidatorConfig struct {
	MaxStoredEntries int `koanf:"max_stored_entries"`
}

// VerifierConfig tunes the quality-check verifier.
type VerifierConfig struct {
	Interval     time.Duration `koanf:"interval"`
	CheckTimeout time.Duration `koanf:"check_timeout"`
	SampleLimit  int           `koanf:"sample_limit"`
	Workers      int           `koanf:"workers"`
}

// MonitorConfig tunes the monitor runner.
type MonitorConfig struct {
	Interval    time.Duration `koanf:"interval"`
	RuleTimeout time.Duration `koanf:"rule_timeout"`
	Workers     int           `koanf:"workers"`
}

// FreshnessConfig sets how often SLA freshness is recorded by serve.
type FreshnessConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// WatermarkConfig selects the regression policy.
type WatermarkConfig struct {
	Policy string `koanf:"policy"`
}

// PIIConfig tunes detection and tokenization.
type PIIConfig struct {
	ScanLimit int    `koanf:"scan_limit"`
	TokenKey  string `koanf:"token_key"`
}

// EventsConfig configures external publishers of the violation/event stream.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Addr string `koanf:"addr"`
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Output formats.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// Defaults re-exported for commands.
const (
	DefaultStateFile     = intconfig.DefaultStatePath
	DefaultGovernanceDir = intconfig.DefaultGovernanceDir
	DefaultOutput        = intconfig.DefaultOutput
)

func defaults() map[string]any {
	return map[string]any{
		"state_path":                   intconfig.DefaultStatePath,
		"governance_dir":               intconfig.DefaultGovernanceDir,
		"output":                       intconfig.DefaultOutput,
		"validator.max_stored_entries": intconfig.DefaultMaxStoredEntries,
		"verifier.interval":            intconfig.DefaultVerifyInterval,
		"verifier.check_timeout":       intconfig.DefaultCheckTimeout,
		"verifier.sample_limit":        intconfig.DefaultSampleLimit,
		"verifier.workers":             intconfig.DefaultWorkers,
		"monitor.interval":             intconfig.DefaultMonitorInterval,
		"monitor.rule_timeout":         intconfig.DefaultRuleTimeout,
		"monitor.workers":              intconfig.DefaultWorkers,
		"freshness.interval":           intconfig.DefaultFreshnessInterval,
		"watermark.policy":             intconfig.DefaultPolicy,
		"pii.scan_limit":               intconfig.DefaultScanLimit,
		"events.subject_prefix":        intconfig.DefaultSubjectPrefix,
		"server.addr":                  intconfig.DefaultServerAddr,
		"server.rate_limit":            intconfig.DefaultRateLimit,
		"server.rate_burst":            intconfig.DefaultRateBurst,
		"log.level":                    intconfig.DefaultLogLevel,
		"log.format":                   intconfig.DefaultLogFormat,
	}
}
