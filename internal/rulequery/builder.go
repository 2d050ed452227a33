package rulequery

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/leapguard/pkg/core"
)

// MaxSampleLimit bounds every sample query.
const MaxSampleLimit = 10

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Query is a statement with its positional arguments.
type Query struct {
	SQL  string
	Args []any
}

// Params are the values bound to @threshold, @window_start and @now.
type Params struct {
	Threshold   float64
	WindowStart time.Time
	Now         time.Time
}

func (p *Params) value(name string) (any, bool) {
	if p == nil {
		return nil, false
	}
	switch name {
	case ParamThreshold:
		return p.Threshold, true
	case ParamWindowStart:
		return p.WindowStart.UTC(), true
	case ParamNow:
		return p.Now.UTC(), true
	}
	return nil, false
}

// TableError is returned for a table outside the allowlist.
type TableError struct {
	Table string
}

func (e *TableError) Error() string {
	return fmt.Sprintf("table %q is not in the allowed table list", e.Table)
}

// Builder renders check and monitor queries for one dialect.
type Builder struct {
	dialect *core.Dialect
	guard   *Guard
	allowed map[string]struct{}
}

// NewBuilder creates a builder restricted to the given tables. A nil guard
// uses NewGuard(nil).
func NewBuilder(d *core.Dialect, tables []string, guard *Guard) *Builder {
	if d == nil {
		d = core.DuckDBDialect
	}
	if guard == nil {
		guard = NewGuard(nil)
	}
	b := &Builder{dialect: d, guard: guard, allowed: make(map[string]struct{}, len(tables))}
	for _, t := range tables {
		b.allowed[strings.ToLower(t)] = struct{}{}
	}
	return b
}

// Guard returns the guard used for fragments.
func (b *Builder) Guard() *Guard {
	return b.guard
}

// CheckTable verifies that table is well formed and allow-listed.
func (b *Builder) CheckTable(table string) error {
	if !tableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	if _, ok := b.allowed[strings.ToLower(table)]; !ok {
		return &TableError{Table: table}
	}
	return nil
}

// binder collects arguments across all fragments of one statement.
type binder struct {
	dialect *core.Dialect
	params  *Params
	args    []any
}

// render returns expr with parameters replaced by placeholders.
func (bd *binder) render(g *Guard, expr string) (string, error) {
	toks, err := g.Check(expr)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	last := 0
	for _, tok := range toks {
		if tok.Type != TokenParam {
			continue
		}
		name := strings.ToLower(tok.Literal[1:])
		v, ok := bd.params.value(name)
		if !ok {
			return "", &GuardError{Expr: expr, Pos: tok.Pos, Reason: fmt.Sprintf("parameter %s is not available here", tok.Literal)}
		}
		bd.args = append(bd.args, v)
		sb.WriteString(expr[last:tok.Pos])
		sb.WriteString(bd.dialect.FormatPlaceholder(len(bd.args)))
		last = tok.Pos + len(tok.Literal)
	}
	sb.WriteString(expr[last:])
	return strings.TrimSpace(sb.String()), nil
}

func (bd *binder) renderList(g *Guard, exprs []string) (string, error) {
	out := make([]string, 0, len(exprs))
	for _, e := range exprs {
		r, err := bd.render(g, e)
		if err != nil {
			return "", err
		}
		out = append(out, r)
	}
	return strings.Join(out, ", "), nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxSampleLimit {
		return MaxSampleLimit
	}
	return limit
}

func (b *Builder) target(table, column string) (string, string, error) {
	if err := b.CheckTable(table); err != nil {
		return "", "", err
	}
	if column == "" {
		return "", "", fmt.Errorf("column required for table %s", table)
	}
	return b.dialect.QuoteQualified(table), b.dialect.QuoteIdent(column), nil
}

// NullCount counts rows of table where column is NULL.
func (b *Builder) NullCount(table, column string) (Query, error) {
	t, c, err := b.target(table, column)
	if err != nil {
		return Query{}, err
	}
	return Query{SQL: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL", t, c)}, nil
}

// NullSample selects up to limit rows where column is NULL.
func (b *Builder) NullSample(table, column string, limit int) (Query, error) {
	t, c, err := b.target(table, column)
	if err != nil {
		return Query{}, err
	}
	return Query{SQL: fmt.Sprintf("SELECT * FROM %s WHERE %s IS NULL LIMIT %d", t, c, clampLimit(limit))}, nil
}

// NonPositiveCount counts rows of table where column <= 0.
func (b *Builder) NonPositiveCount(table, column string) (Query, error) {
	t, c, err := b.target(table, column)
	if err != nil {
		return Query{}, err
	}
	return Query{SQL: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s <= 0", t, c)}, nil
}

// NonPositiveSample selects up to limit rows where column <= 0.
func (b *Builder) NonPositiveSample(table, column string, limit int) (Query, error) {
	t, c, err := b.target(table, column)
	if err != nil {
		return Query{}, err
	}
	return Query{SQL: fmt.Sprintf("SELECT * FROM %s WHERE %s <= 0 LIMIT %d", t, c, clampLimit(limit))}, nil
}

func duplicateGroups(t, c string) string {
	return fmt.Sprintf("SELECT %s AS value, COUNT(*) AS duplicate_count FROM %s WHERE %s IS NOT NULL GROUP BY %s HAVING COUNT(*) > 1", c, t, c, c)
}

// DuplicateCount sums the sizes of all groups of column with more than one
// member. NULLs are not grouped.
func (b *Builder) DuplicateCount(table, column string) (Query, error) {
	t, c, err := b.target(table, column)
	if err != nil {
		return Query{}, err
	}
	return Query{SQL: fmt.Sprintf("SELECT CAST(COALESCE(SUM(duplicate_count), 0) AS BIGINT) FROM (%s) AS dup", duplicateGroups(t, c))}, nil
}

// DuplicateSample selects up to limit offending groups with their sizes,
// largest first.
func (b *Builder) DuplicateSample(table, column string, limit int) (Query, error) {
	t, c, err := b.target(table, column)
	if err != nil {
		return Query{}, err
	}
	return Query{SQL: fmt.Sprintf("%s ORDER BY duplicate_count DESC, value LIMIT %d", duplicateGroups(t, c), clampLimit(limit))}, nil
}

// CustomCount counts rows of table matching the violation predicate expr.
func (b *Builder) CustomCount(table, expr string) (Query, error) {
	if err := b.CheckTable(table); err != nil {
		return Query{}, err
	}
	bd := &binder{dialect: b.dialect}
	pred, err := bd.render(b.guard, expr)
	if err != nil {
		return Query{}, err
	}
	return Query{SQL: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE (%s)", b.dialect.QuoteQualified(table), pred), Args: bd.args}, nil
}

// CustomSample selects up to limit rows matching the predicate expr.
func (b *Builder) CustomSample(table, expr string, limit int) (Query, error) {
	if err := b.CheckTable(table); err != nil {
		return Query{}, err
	}
	bd := &binder{dialect: b.dialect}
	pred, err := bd.render(b.guard, expr)
	if err != nil {
		return Query{}, err
	}
	return Query{
		SQL:  fmt.Sprintf("SELECT * FROM %s WHERE (%s) LIMIT %d", b.dialect.QuoteQualified(table), pred, clampLimit(limit)),
		Args: bd.args,
	}, nil
}

// Monitor renders a monitor rule into a SELECT with bound parameters.
// A nil params rejects rules that reference parameters.
func (b *Builder) Monitor(rule core.MonitorRule, params *Params) (Query, error) {
	if err := b.CheckTable(rule.From); err != nil {
		return Query{}, err
	}
	if len(rule.Select) == 0 {
		return Query{}, fmt.Errorf("monitor rule on %s selects nothing", rule.From)
	}
	if rule.Limit < 0 {
		return Query{}, fmt.Errorf("monitor rule limit must not be negative")
	}

	bd := &binder{dialect: b.dialect, params: params}
	var sb strings.Builder

	sel, err := bd.renderList(b.guard, rule.Select)
	if err != nil {
		return Query{}, err
	}
	sb.WriteString("SELECT ")
	sb.WriteString(sel)
	sb.WriteString(" FROM ")
	sb.WriteString(b.dialect.QuoteQualified(rule.From))

	if rule.Where != "" {
		where, err := bd.render(b.guard, rule.Where)
		if err != nil {
			return Query{}, err
		}
		sb.WriteString(" WHERE (" + where + ")")
	}
	if len(rule.GroupBy) > 0 {
		group, err := bd.renderList(b.guard, rule.GroupBy)
		if err != nil {
			return Query{}, err
		}
		sb.WriteString(" GROUP BY " + group)
	}
	if rule.Having != "" {
		having, err := bd.render(b.guard, rule.Having)
		if err != nil {
			return Query{}, err
		}
		sb.WriteString(" HAVING (" + having + ")")
	}
	if len(rule.OrderBy) > 0 {
		order, err := bd.renderList(b.guard, rule.OrderBy)
		if err != nil {
			return Query{}, err
		}
		sb.WriteString(" ORDER BY " + order)
	}
	if rule.Limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(rule.Limit))
	}

	return Query{SQL: sb.String(), Args: bd.args}, nil
}

// ValidateMonitor checks a rule without binding values.
func (b *Builder) ValidateMonitor(rule core.MonitorRule) error {
	_, err := b.Monitor(rule, &Params{})
	return err
}
