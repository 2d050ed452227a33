package core

import "strings"

// =============================================================================
// Severity
// =============================================================================

// Severity is the ordinal importance attached to violations and monitor events.
type Severity string

// Severity levels, lowest first.
const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal position of the severity. Unknown values rank
// below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityLow:
		return 2
	case SeverityMedium:
		return 3
	case SeverityHigh:
		return 4
	case SeverityCritical:
		return 5
	default:
		return 0
	}
}

// Valid reports whether s is one of the known levels.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// ParseSeverity converts a string to a Severity value.
// The info/warn/error/critical vocabulary used by monitor rules maps onto
// the same scale. Returns SeverityMedium and false if the input is unknown.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return SeverityInfo, true
	case "low":
		return SeverityLow, true
	case "medium", "warn", "warning":
		return SeverityMedium, true
	case "high", "error":
		return SeverityHigh, true
	case "critical":
		return SeverityCritical, true
	default:
		return SeverityMedium, false
	}
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}
