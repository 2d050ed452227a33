package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapguard/internal/cli/output"
	"github.com/leapstack-labs/leapguard/pkg/core"
)

// NewMonitorCommand creates the monitor command group.
func NewMonitorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run and inspect real-time monitors",
	}
	cmd.AddCommand(newMonitorRunCommand(), newMonitorStatusCommand(), newMonitorEventsCommand())
	return cmd
}

func newMonitorRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every due monitor once",
		Long: `Run every enabled monitor whose window has elapsed since its last run.

A monitor whose query returns rows emits a signal event; a monitor whose
query fails emits a monitor_error event.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cctx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			runner, err := cctx.Engine.Runner(cmd.Context())
			if err != nil {
				return err
			}
			emitted, err := runner.RunMonitors(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			if cctx.Renderer.Mode() == output.ModeJSON {
				return cctx.Renderer.JSON(map[string]int{"events": emitted})
			}
			cctx.Renderer.Success("Monitor pass finished: %d events", emitted)
			return nil
		},
	}
}

func newMonitorStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show monitor state and last runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cctx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			runner, err := cctx.Engine.Runner(cmd.Context())
			if err != nil {
				return err
			}
			status, err := runner.Status(cmd.Context(), time.Now())
			if err != nil {
				return err
			}

			t := output.Table{Title: "Monitors", Header: []string{"name", "enabled", "window", "state", "last run", "last outcome", "due"}}
			for _, s := range status {
				var lastRun any = "-"
				var outcome any = "-"
				if s.Last != nil {
					lastRun, outcome = s.Last.LastRunAt, s.Last.LastOutcome
				}
				t.Rows = append(t.Rows, []any{s.Name, s.Enabled, time.Duration(s.WindowMinutes) * time.Minute, s.State, lastRun, outcome, s.Due})
			}
			return cctx.Renderer.Render(status, t)
		},
	}
}

// MonitorEventsOptions holds options for monitor events.
type MonitorEventsOptions struct {
	Monitor        string
	Kind           string
	Unacknowledged bool
	Limit          int
}

func newMonitorEventsCommand() *cobra.Command {
	opts := &MonitorEventsOptions{}
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List emitted monitor events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cctx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			events, err := cctx.Engine.Store().ListMonitorEvents(cmd.Context(), core.EventFilter{
				MonitorName:    opts.Monitor,
				Kind:           core.MonitorEventKind(opts.Kind),
				Unacknowledged: opts.Unacknowledged,
				Limit:          opts.Limit,
			})
			if err != nil {
				return err
			}

			t := output.Table{Title: "Monitor events", Header: []string{"id", "monitor", "kind", "severity", "occurred", "rows"}}
			for _, e := range events {
				t.Rows = append(t.Rows, []any{e.ID, e.MonitorName, e.Kind, e.Severity, e.OccurredAt, len(e.Payload)})
			}
			return cctx.Renderer.Render(events, t)
		},
	}

	cmd.Flags().StringVar(&opts.Monitor, "monitor", "", "Only events of this monitor")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "Only events of this kind (signal, monitor_error)")
	cmd.Flags().BoolVar(&opts.Unacknowledged, "unacknowledged", false, "Only unacknowledged events")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "Maximum number of events")

	return cmd
}
