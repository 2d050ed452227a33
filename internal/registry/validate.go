package registry

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/leapstack-labs/leapguard/internal/celrule"
	"github.com/leapstack-labs/leapguard/internal/loader"
	"github.com/leapstack-labs/leapguard/internal/rulequery"
	"github.com/leapstack-labs/leapguard/pkg/core"
)

// ValidationError collects every problem found in a governance directory.
type ValidationError struct {
	Issues []error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid governance definitions (%d issues):\n%s", len(e.Issues), errors.Join(e.Issues...))
}

// Unwrap exposes the individual issues to errors.Is/As.
func (e *ValidationError) Unwrap() []error {
	return e.Issues
}

type builder struct {
	issues []error
	eval   *celrule.Evaluator
	query  *rulequery.Builder
}

func (b *builder) addf(format string, args ...any) {
	b.issues = append(b.issues, fmt.Errorf(format, args...))
}

// normalizeSeverity fills the default and canonicalises aliases.
func (b *builder) normalizeSeverity(what string, s core.Severity, def core.Severity) core.Severity {
	if s == "" {
		return def
	}
	parsed, ok := core.ParseSeverity(string(s))
	if !ok {
		b.addf("%s: unknown severity %q", what, s)
	}
	return parsed
}

// Build validates a document and turns it into a snapshot. The returned
// snapshot has no version; the registry assigns one on publish. A nil
// evaluator builds a fresh one.
func Build(doc *loader.Document, eval *celrule.Evaluator) (*Snapshot, error) {
	if eval == nil {
		var err error
		if eval, err = celrule.NewEvaluator(); err != nil {
			return nil, err
		}
	}
	b := &builder{
		eval:  eval,
		query: rulequery.NewBuilder(core.DuckDBDialect, doc.AllowedTables, nil),
	}
	snap := &Snapshot{
		active:        make(map[string]*core.Contract),
		allowedTables: append([]string(nil), doc.AllowedTables...),
	}

	b.contracts(doc, snap)
	b.checks(doc, snap)
	b.monitors(doc, snap)
	b.piiRules(doc, snap)

	if len(b.issues) > 0 {
		return nil, &ValidationError{Issues: b.issues}
	}
	return snap, nil
}

// BuildYAML parses a single governance document and builds a snapshot
// from it.
func BuildYAML(name string, data []byte, eval *celrule.Evaluator) (*Snapshot, error) {
	doc, err := loader.Parse(name, data)
	if err != nil {
		return nil, err
	}
	return Build(doc, eval)
}

func (b *builder) contracts(doc *loader.Document, snap *Snapshot) {
	versions := make(map[string]struct{})
	for i := range doc.Contracts {
		c := doc.Contracts[i]
		what := fmt.Sprintf("contract %s v%d", c.SourceName, c.Version)
		if c.SourceName == "" {
			b.addf("contract #%d: source_name is required", i+1)
			continue
		}
		key := fmt.Sprintf("%s\x00%d", c.SourceName, c.Version)
		if _, dup := versions[key]; dup {
			b.addf("%s: duplicate version", what)
			continue
		}
		versions[key] = struct{}{}

		if c.MaxNullPercentage < 0 || c.MaxNullPercentage > 1 {
			b.addf("%s: max_null_percentage must be between 0 and 1", what)
		}
		if c.MinRowsPerPartition < 0 || c.SLAMinutes < 0 {
			b.addf("%s: min_rows_per_partition and sla_minutes must not be negative", what)
		}
		if c.EffectiveTo != nil && !c.EffectiveFrom.IsZero() && c.EffectiveTo.Before(c.EffectiveFrom) {
			b.addf("%s: effective_to is before effective_from", what)
		}

		c.Rules = append([]core.BusinessRule(nil), c.Rules...)
		rules := make(map[string]struct{}, len(c.Rules))
		for j := range c.Rules {
			r := &c.Rules[j]
			if r.Name == "" {
				r.Name = fmt.Sprintf("rule_%d", j+1)
			}
			if _, dup := rules[r.Name]; dup {
				b.addf("%s: duplicate rule %s", what, r.Name)
			}
			rules[r.Name] = struct{}{}
			r.Severity = b.normalizeSeverity(what+" rule "+r.Name, r.Severity, core.SeverityMedium)
			if _, err := b.eval.Compile(r.Expr); err != nil {
				b.addf("%s rule %s: %w", what, r.Name, err)
			}
		}

		cp := c
		snap.contracts = append(snap.contracts, &cp)
		if cp.Active() {
			if prev, ok := snap.active[cp.SourceName]; ok {
				b.addf("%s: source already has active version %d", what, prev.Version)
				continue
			}
			snap.active[cp.SourceName] = &cp
		}
	}
}

func (b *builder) checks(doc *loader.Document, snap *Snapshot) {
	for i := range doc.QualityChecks {
		d := doc.QualityChecks[i]
		d.ID = int64(i + 1)
		what := fmt.Sprintf("quality check #%d (%s)", d.ID, d.Label())

		if !d.CheckType.Valid() {
			b.addf("%s: unknown check type %q", what, d.CheckType)
		}
		if err := b.query.CheckTable(d.TableName); err != nil {
			b.addf("%s: %w", what, err)
		}
		d.Severity = b.normalizeSeverity(what, d.Severity, core.SeverityMedium)

		switch d.CheckType {
		case core.CheckCustom:
			if strings.TrimSpace(d.CustomExpression) == "" {
				b.addf("%s: custom check requires an expression", what)
			} else if _, err := b.query.Guard().Check(d.CustomExpression); err != nil {
				b.addf("%s: %w", what, err)
			} else if len(rulequery.ParamNames(d.CustomExpression)) > 0 {
				b.addf("%s: quality checks cannot use bind parameters", what)
			}
		default:
			if d.ColumnName == "" {
				b.addf("%s: column is required", what)
			}
			if d.CustomExpression != "" {
				b.addf("%s: expression is only valid for custom checks", what)
			}
		}
		snap.checks = append(snap.checks, &d)
	}
}

func (b *builder) monitors(doc *loader.Document, snap *Snapshot) {
	names := make(map[string]struct{})
	for i := range doc.Monitors {
		m := doc.Monitors[i]
		what := fmt.Sprintf("monitor %s", m.Name)
		if m.Name == "" {
			b.addf("monitor #%d: name is required", i+1)
			continue
		}
		if _, dup := names[m.Name]; dup {
			b.addf("%s: duplicate name", what)
			continue
		}
		names[m.Name] = struct{}{}

		if m.WindowMinutes <= 0 {
			b.addf("%s: window_minutes must be positive", what)
		}
		m.Severity = b.normalizeSeverity(what, m.Severity, core.SeverityInfo)
		if err := b.query.ValidateMonitor(m.Rule); err != nil {
			b.addf("%s: %w", what, err)
		}
		snap.monitors = append(snap.monitors, &m)
	}
}

func (b *builder) piiRules(doc *loader.Document, snap *Snapshot) {
	names := make(map[string]struct{})
	for i := range doc.PIIRules {
		r := doc.PIIRules[i]
		what := fmt.Sprintf("pii rule %s", r.Name)
		if r.Name == "" {
			b.addf("pii rule #%d: name is required", i+1)
			continue
		}
		if _, dup := names[r.Name]; dup {
			b.addf("%s: duplicate name", what)
			continue
		}
		names[r.Name] = struct{}{}

		if r.PIIType == "" {
			b.addf("%s: pii_type is required", what)
		}
		if _, err := regexp.Compile(r.DetectionPattern); err != nil || r.DetectionPattern == "" {
			b.addf("%s: invalid pattern %q", what, r.DetectionPattern)
		}
		if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
			b.addf("%s: confidence must be between 0 and 1", what)
		}
		if r.MaskingStrategy == "" {
			r.MaskingStrategy = core.MaskPartial
		} else if !r.MaskingStrategy.Valid() {
			b.addf("%s: unknown masking strategy %q", what, r.MaskingStrategy)
		}
		snap.piiRules = append(snap.piiRules, &r)
	}
}
