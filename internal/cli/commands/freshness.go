package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapguard/internal/cli/output"
	"github.com/leapstack-labs/leapguard/internal/watermark"
)

// NewFreshnessCommand creates the freshness command.
func NewFreshnessCommand() *cobra.Command {
	var record bool
	cmd := &cobra.Command{
		Use:   "freshness",
		Short: "Report watermark freshness against contract SLAs",
		Long: `Classify every watermark of a source whose active contract declares an
SLA as fresh, warning or stale. With --record each source with a stale
watermark is recorded as one sla violation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cctx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			now := time.Now()
			report, err := cctx.Engine.Freshness().Report(cmd.Context(), now)
			if err != nil {
				return err
			}
			if report == nil {
				report = []watermark.SourceFreshness{}
			}

			t := output.Table{Title: "Freshness", Header: []string{"source", "table", "column", "value", "sla", "staleness", "status"}}
			for _, f := range report {
				t.Rows = append(t.Rows, []any{f.SourceName, f.TableName, f.WatermarkColumn, f.WatermarkValue,
					time.Duration(f.SLAMinutes) * time.Minute, f.Staleness, f.Freshness})
			}
			if err := cctx.Renderer.Render(report, t); err != nil {
				return err
			}

			if record {
				written, err := cctx.Engine.Freshness().Record(cmd.Context(), now)
				if err != nil {
					return err
				}
				if written > 0 {
					cctx.Renderer.Warning("%d stale sources recorded as sla violations", written)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&record, "record", false, "Record stale sources as sla violations")

	return cmd
}
