package registry

import (
	"sort"
	"time"

	"github.com/leapstack-labs/leapguard/pkg/core"
)

// Snapshot is an immutable, validated view of the governance definitions.
// Callers take one snapshot per pass and never observe a partial reload.
type Snapshot struct {
	Version  int64
	Hash     string
	LoadedAt time.Time
	Files    []string

	contracts     []*core.Contract
	active        map[string]*core.Contract
	checks        []*core.QualityCheckDefinition
	monitors      []*core.MonitorDefinition
	piiRules      []*core.PIIDetectionRule
	allowedTables []string
}

// ActiveContract returns the active contract version of a source.
func (s *Snapshot) ActiveContract(source string) (*core.Contract, bool) {
	c, ok := s.active[source]
	return c, ok
}

// Contracts returns every contract version, in declaration order.
func (s *Snapshot) Contracts() []*core.Contract {
	return s.contracts
}

// ActiveContracts returns the active contract of every source, by source name.
func (s *Snapshot) ActiveContracts() []*core.Contract {
	out := make([]*core.Contract, 0, len(s.active))
	for _, c := range s.active {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceName < out[j].SourceName })
	return out
}

// QualityChecks returns all checks in ID (declaration) order.
func (s *Snapshot) QualityChecks() []*core.QualityCheckDefinition {
	return s.checks
}

// ActiveQualityChecks returns the active checks in ID order.
func (s *Snapshot) ActiveQualityChecks() []*core.QualityCheckDefinition {
	out := make([]*core.QualityCheckDefinition, 0, len(s.checks))
	for _, c := range s.checks {
		if c.IsActive() {
			out = append(out, c)
		}
	}
	return out
}

// Monitors returns all monitors in declaration order.
func (s *Snapshot) Monitors() []*core.MonitorDefinition {
	return s.monitors
}

// Monitor returns a monitor by name.
func (s *Snapshot) Monitor(name string) (*core.MonitorDefinition, bool) {
	for _, m := range s.monitors {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// PIIRules returns all PII rules in declaration order.
func (s *Snapshot) PIIRules() []*core.PIIDetectionRule {
	return s.piiRules
}

// AllowedTables returns the tables rules may reference.
func (s *Snapshot) AllowedTables() []string {
	return s.allowedTables
}

// Source provides the snapshot to use for the next pass.
type Source interface {
	Current() *Snapshot
}

// Static is a Source that always returns the same snapshot.
type Static struct {
	Snap *Snapshot
}

// Current returns the wrapped snapshot.
func (s Static) Current() *Snapshot {
	return s.Snap
}
