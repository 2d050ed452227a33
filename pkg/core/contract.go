package core

import "time"

// FieldSpec describes one field a source is expected to deliver.
// Type is a coarse hint for humans; the validator does not check it.
type FieldSpec struct {
	Name     string `yaml:"name" json:"name"`
	Required bool   `yaml:"required" json:"required"`
	Type     string `yaml:"type,omitempty" json:"type,omitempty"`
}

// BusinessRule is a per-record boolean predicate evaluated against each
// record of a batch. Expr is a CEL expression over the variable `record`.
type BusinessRule struct {
	Name     string   `yaml:"name" json:"name"`
	Expr     string   `yaml:"expr" json:"expr"`
	Severity Severity `yaml:"severity,omitempty" json:"severity,omitempty"`
}

// Contract is a versioned description of a data source's expected shape
// and quality thresholds. Identity is (SourceName, Version).
type Contract struct {
	SourceName          string         `yaml:"source_name" json:"source_name"`
	Version             int            `yaml:"version" json:"version"`
	Fields              []FieldSpec    `yaml:"fields,omitempty" json:"fields,omitempty"`
	RequiredColumns     []string       `yaml:"required_columns,omitempty" json:"required_columns,omitempty"`
	MinRowsPerPartition int            `yaml:"min_rows_per_partition,omitempty" json:"min_rows_per_partition,omitempty"`
	MaxNullPercentage   float64        `yaml:"max_null_percentage,omitempty" json:"max_null_percentage,omitempty"`
	SLAMinutes          int            `yaml:"sla_minutes,omitempty" json:"sla_minutes,omitempty"`
	ContainsPII         bool           `yaml:"contains_pii,omitempty" json:"contains_pii,omitempty"`
	Owner               string         `yaml:"owner,omitempty" json:"owner,omitempty"`
	EffectiveFrom       time.Time      `yaml:"effective_from,omitempty" json:"effective_from,omitempty"`
	EffectiveTo         *time.Time     `yaml:"effective_to,omitempty" json:"effective_to,omitempty"`
	Rules               []BusinessRule `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// Active reports whether this version is the currently active one.
func (c *Contract) Active() bool {
	return c.EffectiveTo == nil
}

// SLA returns the freshness window as a duration (zero when unset).
func (c *Contract) SLA() time.Duration {
	return time.Duration(c.SLAMinutes) * time.Minute
}

// RequiredFields returns RequiredColumns followed by every field spec marked
// required, in declaration order and without duplicates.
func (c *Contract) RequiredFields() []string {
	seen := make(map[string]struct{}, len(c.RequiredColumns)+len(c.Fields))
	out := make([]string, 0, len(c.RequiredColumns)+len(c.Fields))
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, name := range c.RequiredColumns {
		add(name)
	}
	for _, f := range c.Fields {
		if f.Required {
			add(f.Name)
		}
	}
	return out
}

// DeclaredFields returns every field named by the contract, required or not.
func (c *Contract) DeclaredFields() []string {
	out := c.RequiredFields()
	seen := make(map[string]struct{}, len(out))
	for _, name := range out {
		seen[name] = struct{}{}
	}
	for _, f := range c.Fields {
		if _, ok := seen[f.Name]; ok || f.Name == "" {
			continue
		}
		seen[f.Name] = struct{}{}
		out = append(out, f.Name)
	}
	return out
}
