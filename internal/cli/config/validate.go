package config

import (
	"fmt"
	"log/slog"

	intconfig "github.com/leapstack-labs/leapguard/internal/config"
	"github.com/leapstack-labs/leapguard/internal/rulequery"
	"github.com/leapstack-labs/leapguard/internal/watermark"
)

// DefaultSchemaForType returns the default schema for a warehouse type.
// This is a convenience wrapper that delegates to the shared config function.
func DefaultSchemaForType(dbType string) string {
	return intconfig.DefaultSchemaForType(dbType)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.StatePath == "" {
		return fmt.Errorf("state_path is required")
	}
	if c.GovernanceDir == "" {
		return fmt.Errorf("governance_dir is required")
	}
	switch c.OutputFormat {
	case OutputText, OutputJSON:
	default:
		return fmt.Errorf("invalid output format %q (want text or json)", c.OutputFormat)
	}

	if err := intconfig.ValidateTarget(c.Target); err != nil {
		return fmt.Errorf("invalid target configuration: %w", err)
	}
	if _, err := watermark.ParsePolicy(c.Watermark.Policy); err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format %q (want text or json)", c.Log.Format)
	}

	if c.Verifier.SampleLimit < 0 || c.Verifier.SampleLimit > rulequery.MaxSampleLimit {
		return fmt.Errorf("verifier.sample_limit must be between 0 and %d", rulequery.MaxSampleLimit)
	}
	if c.Verifier.Workers < 0 || c.Monitor.Workers < 0 {
		return fmt.Errorf("worker counts must not be negative")
	}
	if c.Validator.MaxStoredEntries < 0 {
		return fmt.Errorf("validator.max_stored_entries must not be negative")
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("server.rate_limit and server.rate_burst must not be negative")
	}
	if c.PII.ScanLimit < 0 {
		return fmt.Errorf("pii.scan_limit must not be negative")
	}

	intervals := map[string]int64{
		"verifier.interval":      int64(c.Verifier.Interval),
		"verifier.check_timeout": int64(c.Verifier.CheckTimeout),
		"monitor.interval":       int64(c.Monitor.Interval),
		"monitor.rule_timeout":   int64(c.Monitor.RuleTimeout),
		"freshness.interval":     int64(c.Freshness.Interval),
	}
	for key, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
