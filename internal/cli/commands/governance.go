package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapguard/internal/cli/output"
	"github.com/leapstack-labs/leapguard/internal/registry"
	"github.com/leapstack-labs/leapguard/internal/rulequery"
	"github.com/leapstack-labs/leapguard/pkg/adapter"
	"github.com/leapstack-labs/leapguard/pkg/core"
)

// NewGovernanceCommand creates the governance command group.
func NewGovernanceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "governance",
		Aliases: []string{"gov"},
		Short:   "Inspect governance definitions",
	}
	cmd.AddCommand(newGovernanceCheckCommand())
	return cmd
}

type governanceSummary struct {
	Dir           string          `json:"dir"`
	Hash          string          `json:"hash"`
	Files         []string        `json:"files"`
	Contracts     int             `json:"contracts"`
	Active        int             `json:"active_contracts"`
	QualityChecks int             `json:"quality_checks"`
	Monitors      int             `json:"monitors"`
	PIIRules      int             `json:"pii_rules"`
	AllowedTables []string        `json:"allowed_tables"`
	Issues        []string        `json:"issues,omitempty"`
	Queries       []renderedQuery `json:"queries,omitempty"`
}

// renderedQuery is one monitor or custom check statement in the target dialect.
type renderedQuery struct {
	Name string `json:"name"`
	SQL  string `json:"sql"`
	Args []any  `json:"args,omitempty"`
}

// renderQueries renders the monitor rules and custom checks of snap the
// way the runner and verifier would at now.
func renderQueries(snap *registry.Snapshot, d *core.Dialect, now time.Time) ([]renderedQuery, error) {
	b := rulequery.NewBuilder(d, snap.AllowedTables(), nil)
	var out []renderedQuery
	for _, m := range snap.Monitors() {
		q, err := b.Monitor(m.Rule, &rulequery.Params{Threshold: m.Threshold, WindowStart: now.Add(-m.Window()), Now: now})
		if err != nil {
			return nil, fmt.Errorf("monitor %s: %w", m.Name, err)
		}
		out = append(out, renderedQuery{Name: "monitor:" + m.Name, SQL: q.SQL, Args: q.Args})
	}
	for _, c := range snap.ActiveQualityChecks() {
		if c.CheckType != core.CheckCustom {
			continue
		}
		q, err := b.CustomCount(c.TableName, c.CustomExpression)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", c.Label(), err)
		}
		out = append(out, renderedQuery{Name: c.Label(), SQL: q.SQL})
	}
	return out, nil
}

// tableDescriber reads warehouse column metadata.
type tableDescriber interface {
	GetTableMetadata(ctx context.Context, table string) (*core.TableMetadata, error)
}

// checkColumns confirms that every table referenced by a monitor or active
// quality check exists in the warehouse, along with the column of every
// non-custom check. Each problem is returned as one issue.
func checkColumns(ctx context.Context, db tableDescriber, snap *registry.Snapshot) ([]string, error) {
	columns := make(map[string][]core.Column)
	var issues []string
	describe := func(table string) ([]core.Column, bool, error) {
		key := strings.ToLower(table)
		if cols, ok := columns[key]; ok {
			return cols, cols != nil, nil
		}
		meta, err := db.GetTableMetadata(ctx, table)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			columns[key] = nil
			issues = append(issues, fmt.Sprintf("table %s: %v", table, err))
			return nil, false, nil
		}
		columns[key] = meta.Columns
		return meta.Columns, true, nil
	}

	for _, m := range snap.Monitors() {
		if _, _, err := describe(m.Rule.From); err != nil {
			return nil, err
		}
	}
	for _, c := range snap.ActiveQualityChecks() {
		cols, ok, err := describe(c.TableName)
		if err != nil {
			return nil, err
		}
		if !ok || c.CheckType == core.CheckCustom {
			continue
		}
		if !hasColumn(cols, c.ColumnName) {
			issues = append(issues, fmt.Sprintf("check %s: column %s not found in %s", c.Label(), c.ColumnName, c.TableName))
		}
	}
	return issues, nil
}

func hasColumn(cols []core.Column, name string) bool {
	for _, col := range cols {
		if strings.EqualFold(col.Name, name) {
			return true
		}
	}
	return false
}

func newGovernanceCheckCommand() *cobra.Command {
	var showSQL, showColumns bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the governance directory without applying it",
		Long: `Parse and validate every governance file. Contracts, CEL rules, quality
checks, monitor rules and PII patterns are checked the same way a reload
checks them. Every issue is reported and the command fails when any exist.

With --sql the monitor rules and custom checks are rendered in the dialect
of the configured target, with parameters bound for the current time.

With --columns the command connects to the target and confirms that the
tables and columns referenced by monitors and quality checks exist.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cctx, err := NewCommandContextWithoutEngine(cmd)
			if err != nil {
				return err
			}
			reg, err := registry.New(cctx.Cfg.GovernanceDir, nil, cctx.Logger)
			if err != nil {
				return err
			}

			snap, err := reg.Check()
			var verr *registry.ValidationError
			if errors.As(err, &verr) {
				summary := governanceSummary{Dir: cctx.Cfg.GovernanceDir}
				t := output.Table{Title: "Governance issues", Header: []string{"issue"}}
				for _, issue := range verr.Issues {
					summary.Issues = append(summary.Issues, issue.Error())
					t.Rows = append(t.Rows, []any{issue.Error()})
				}
				if rerr := cctx.Renderer.Render(summary, t); rerr != nil {
					return rerr
				}
				return fmt.Errorf("governance has %d issues", len(verr.Issues))
			}
			if err != nil {
				return err
			}

			summary := governanceSummary{
				Dir:           cctx.Cfg.GovernanceDir,
				Hash:          snap.Hash,
				Files:         snap.Files,
				Contracts:     len(snap.Contracts()),
				Active:        len(snap.ActiveContracts()),
				QualityChecks: len(snap.QualityChecks()),
				Monitors:      len(snap.Monitors()),
				PIIRules:      len(snap.PIIRules()),
				AllowedTables: snap.AllowedTables(),
			}
			if showColumns {
				issues, err := warehouseIssues(cmd, snap)
				if err != nil {
					return err
				}
				if len(issues) > 0 {
					summary.Issues = issues
					t := output.Table{Title: "Warehouse issues", Header: []string{"issue"}}
					for _, issue := range issues {
						t.Rows = append(t.Rows, []any{issue})
					}
					if rerr := cctx.Renderer.Render(summary, t); rerr != nil {
						return rerr
					}
					return fmt.Errorf("governance has %d warehouse issues", len(issues))
				}
			}
			if showSQL {
				d, err := adapter.DialectFor(cctx.Cfg.Target.Type)
				if err != nil {
					return err
				}
				if summary.Queries, err = renderQueries(snap, d, time.Now()); err != nil {
					return err
				}
			}
			t := output.Table{Title: "Governance", Header: []string{"kind", "count"}, Rows: [][]any{
				{"files", len(summary.Files)},
				{"contracts", summary.Contracts},
				{"active contracts", summary.Active},
				{"quality checks", summary.QualityChecks},
				{"monitors", summary.Monitors},
				{"pii rules", summary.PIIRules},
				{"allowed tables", len(summary.AllowedTables)},
			}}
			if err := cctx.Renderer.Render(summary, t); err != nil {
				return err
			}
			if showSQL && cctx.Renderer.Mode() == output.ModeText {
				q := output.Table{Title: "Rendered queries", Header: []string{"name", "sql", "args"}}
				for _, r := range summary.Queries {
					q.Rows = append(q.Rows, []any{r.Name, r.SQL, r.Args})
				}
				cctx.Renderer.Table(q)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showSQL, "sql", false, "Render monitor and custom check queries for the target dialect")
	cmd.Flags().BoolVar(&showColumns, "columns", false, "Confirm referenced tables and columns exist in the target")

	return cmd
}

// warehouseIssues opens the engine and checks snap against the target.
func warehouseIssues(cmd *cobra.Command, snap *registry.Snapshot) ([]string, error) {
	cctx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	db, err := cctx.Engine.Warehouse(cmd.Context())
	if err != nil {
		return nil, err
	}
	return checkColumns(cmd.Context(), db, snap)
}
