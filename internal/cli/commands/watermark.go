package commands

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapguard/internal/cli/output"
	"github.com/leapstack-labs/leapguard/internal/watermark"
	"github.com/leapstack-labs/leapguard/pkg/core"
)

// NewWatermarkCommand creates the watermark command group.
func NewWatermarkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "watermark",
		Aliases: []string{"wm"},
		Short:   "Read and advance ingestion watermarks",
	}
	cmd.AddCommand(newWatermarkGetCommand(), newWatermarkSetCommand(), newWatermarkListCommand())
	return cmd
}

func newWatermarkGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <source> <table> <column>",
		Short: "Print the current watermark, or the epoch sentinel when none exists",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			value, err := cctx.Engine.Tracker().Get(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			if cctx.Renderer.Mode() == output.ModeJSON {
				return cctx.Renderer.JSON(map[string]string{"watermark_value": value})
			}
			_, err = fmt.Fprintln(cctx.Renderer.Out(), value)
			return err
		},
	}
}

// WatermarkSetOptions holds options for watermark set.
type WatermarkSetOptions struct {
	Partition string
	Rows      int64
	JobRunID  string
}

func newWatermarkSetCommand() *cobra.Command {
	opts := &WatermarkSetOptions{}
	cmd := &cobra.Command{
		Use:   "set <source> <table> <column> <value>",
		Short: "Advance a watermark after a successful load",
		Long: `Advance a watermark after a successful load.

Values are compared as timestamps when both sides parse as RFC 3339, as
numbers when both parse as numbers, and as strings otherwise. With the
reject policy a value behind the stored one fails and leaves the
watermark unchanged.`,
		Example: `  leapguard watermark set crm contacts updated_at 2024-06-01T00:00:00Z --rows 1200`,
		Args:    cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			jobID := opts.JobRunID
			if jobID == "" {
				jobID = uuid.NewString()
			}
			err = cctx.Engine.Tracker().Update(cmd.Context(), watermark.Update{
				SourceName:      args[0],
				TableName:       args[1],
				WatermarkColumn: args[2],
				Value:           args[3],
				PartitionKey:    opts.Partition,
				JobRunID:        jobID,
				RowsProcessed:   opts.Rows,
			})
			var regression *watermark.RegressionError
			if errors.As(err, &regression) {
				return fmt.Errorf("watermark not advanced: %w", err)
			}
			if err != nil {
				return err
			}

			if cctx.Renderer.Mode() == output.ModeJSON {
				return cctx.Renderer.JSON(map[string]string{"watermark_value": args[3], "job_run_id": jobID})
			}
			cctx.Renderer.Success("Watermark %s.%s.%s set to %s (job %s)", args[0], args[1], args[2], args[3], jobID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Partition, "partition", "p", "", "Partition key of the load")
	cmd.Flags().Int64Var(&opts.Rows, "rows", 0, "Rows processed by the load")
	cmd.Flags().StringVar(&opts.JobRunID, "job-run-id", "", "Job run identifier (generated when empty)")

	return cmd
}

func newWatermarkListCommand() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored watermarks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cctx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			wms, err := cctx.Engine.Tracker().List(cmd.Context(), source)
			if err != nil {
				return err
			}
			if wms == nil {
				wms = []*core.Watermark{}
			}

			t := output.Table{Title: "Watermarks", Header: []string{"source", "table", "column", "value", "updated", "rows", "job run"}}
			for _, w := range wms {
				t.Rows = append(t.Rows, []any{w.SourceName, w.TableName, w.WatermarkColumn, w.WatermarkValue, w.WatermarkTimestamp, w.RowsProcessed, w.JobRunID})
			}
			return cctx.Renderer.Render(wms, t)
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Only watermarks of this source")

	return cmd
}
