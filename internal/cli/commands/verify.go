package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapguard/internal/cli/output"
	"github.com/leapstack-labs/leapguard/internal/quality"
)

// VerifyOptions holds options for the verify command.
type VerifyOptions struct {
	DryRun bool
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand() *cobra.Command {
	opts := &VerifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run the active quality checks against the warehouse",
		Long: `Run every active quality check once against the configured target.

Each check with violating rows, and each check that fails to execute, is
recorded as a violation. Use --dry-run to print the results without
recording anything.`,
		Example: `  # Run one verification pass
  leapguard verify

  # Inspect check results only
  leapguard verify --dry-run -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerify(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Print check results without recording violations")

	return cmd
}

type checkRow struct {
	ID       int64  `json:"id"`
	Check    string `json:"check"`
	Severity string `json:"severity"`
	Count    int64  `json:"violation_count"`
	Error    string `json:"error,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
	Duration string `json:"duration"`
}

func runVerify(cmd *cobra.Command, opts *VerifyOptions) error {
	cctx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	v, err := cctx.Engine.Verifier(cmd.Context())
	if err != nil {
		return err
	}

	if !opts.DryRun {
		total, err := v.VerifyAll(cmd.Context())
		if err != nil {
			return err
		}
		if cctx.Renderer.Mode() == output.ModeJSON {
			return cctx.Renderer.JSON(map[string]int{"violations": total})
		}
		cctx.Renderer.Success("Verification finished: %d violating rows", total)
		return nil
	}

	results, err := v.Run(cmd.Context())
	if err != nil {
		return err
	}
	return cctx.Renderer.Render(checkRows(results), checkTable(results))
}

func checkRows(results []*quality.CheckResult) []checkRow {
	rows := make([]checkRow, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		row := checkRow{
			ID:       r.Check.ID,
			Check:    r.Check.Label(),
			Severity: string(r.Check.Severity),
			Count:    r.Count,
			TimedOut: r.TimedOut,
			Duration: r.Duration.Truncate(time.Millisecond).String(),
		}
		if r.Err != nil {
			row.Error = r.Err.Error()
		}
		rows = append(rows, row)
	}
	return rows
}

func checkTable(results []*quality.CheckResult) output.Table {
	t := output.Table{Title: "Quality checks", Header: []string{"id", "check", "severity", "violations", "error"}}
	for _, r := range checkRows(results) {
		t.Rows = append(t.Rows, []any{r.ID, r.Check, r.Severity, r.Count, r.Error})
	}
	return t
}
