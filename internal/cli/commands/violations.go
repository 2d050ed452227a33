package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapguard/internal/cli/output"
	"github.com/leapstack-labs/leapguard/pkg/core"
)

// NewViolationsCommand creates the violations command group.
func NewViolationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "violations",
		Short: "List and resolve recorded violations",
	}
	cmd.AddCommand(newViolationsListCommand(), newViolationsResolveCommand())
	return cmd
}

// ViolationsListOptions holds options for violations list.
type ViolationsListOptions struct {
	Source     string
	Table      string
	Type       string
	Unresolved bool
	Since      time.Duration
	Limit      int
}

func newViolationsListCommand() *cobra.Command {
	opts := &ViolationsListOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List violation records, newest first",
		Example: `  leapguard violations list --source orders --unresolved
  leapguard violations list --type business_rule --since 24h -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cctx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			filter := core.ViolationFilter{
				SourceName:    opts.Source,
				TableName:     opts.Table,
				ViolationType: core.ViolationType(opts.Type),
				Unresolved:    opts.Unresolved,
				Limit:         opts.Limit,
			}
			if opts.Since > 0 {
				filter.Since = time.Now().Add(-opts.Since)
			}
			records, err := cctx.Engine.Store().ListViolations(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if records == nil {
				records = []*core.ViolationRecord{}
			}

			t := output.Table{Title: "Violations", Header: []string{"id", "observed", "source", "table", "type", "severity", "violations", "resolved"}}
			for _, v := range records {
				origin := v.SourceName
				if origin == "" {
					origin = "-"
				}
				table := v.TableName
				if v.ColumnName != "" {
					table += "." + v.ColumnName
				}
				t.Rows = append(t.Rows, []any{v.ID, v.ObservedAt, origin, table, v.ViolationType, v.Severity, v.ViolationCount, v.Resolved})
			}
			return cctx.Renderer.Render(records, t)
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", "", "Only violations of this source")
	cmd.Flags().StringVar(&opts.Table, "table", "", "Only violations of this table")
	cmd.Flags().StringVar(&opts.Type, "type", "", "Only violations of this type")
	cmd.Flags().BoolVar(&opts.Unresolved, "unresolved", false, "Only unresolved violations")
	cmd.Flags().DurationVar(&opts.Since, "since", 0, "Only violations observed within this duration")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "Maximum number of records")

	return cmd
}

func newViolationsResolveCommand() *cobra.Command {
	var by, note string
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark a violation record as resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid violation id %q", args[0])
			}

			cctx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cctx.Engine.Store().ResolveViolation(cmd.Context(), id, by, note, time.Now()); err != nil {
				return fmt.Errorf("failed to resolve violation %d: %w", id, err)
			}
			cctx.Renderer.Success("Violation %d resolved", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&by, "by", "", "Who resolved the violation")
	cmd.Flags().StringVar(&note, "note", "", "Resolution note")

	return cmd
}
