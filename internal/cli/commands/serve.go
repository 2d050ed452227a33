package commands

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	intconfig "github.com/leapstack-labs/leapguard/internal/config"
	"github.com/leapstack-labs/leapguard/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with scheduled verification and monitoring",
		Long: `Run the governance service.

The HTTP API validates batches, serves watermarks, violations, freshness
and PII endpoints, and exposes Prometheus metrics on /metrics. In the
background the quality checks, monitors and freshness reporter run on
their configured intervals, and governance files are reloaded when they
change.`,
		Example: `  leapguard serve --addr :8088`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			cctx, cleanup, err := newCommandContext(cmd, reg)
			if err != nil {
				return err
			}
			defer cleanup()

			if addr == "" {
				addr = cctx.Cfg.Server.Addr
			}
			cfg := cctx.Cfg
			sched, err := server.NewScheduler(cctx.Engine, cfg.Verifier.Workers,
				cfg.Verifier.Interval, cfg.Monitor.Interval, cfg.Freshness.Interval, cctx.Logger)
			if err != nil {
				return err
			}

			cctx.Logger.Info("starting governance service",
				slog.String("addr", addr),
				slog.String("governance_dir", cfg.GovernanceDir),
				slog.String("target", cfg.Target.Type))

			srv := server.New(server.Config{
				Engine:        cctx.Engine,
				Addr:          addr,
				Gatherer:      reg,
				Scheduler:     sched,
				WatchDebounce: intconfig.DefaultReloadDebounce,
				RateLimit:     cfg.Server.RateLimit,
				RateBurst:     cfg.Server.RateBurst,
				Logger:        cctx.Logger,
			})
			return srv.Serve(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from server.addr)")

	return cmd
}
