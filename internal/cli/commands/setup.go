package commands

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapguard/internal/cli/config"
	"github.com/leapstack-labs/leapguard/internal/cli/output"
	"github.com/leapstack-labs/leapguard/internal/contract"
	"github.com/leapstack-labs/leapguard/internal/engine"
	"github.com/leapstack-labs/leapguard/internal/monitor"
	"github.com/leapstack-labs/leapguard/internal/quality"
	"github.com/leapstack-labs/leapguard/internal/watermark"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Engine   *engine.Engine
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with engine and renderer.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	return newCommandContext(cmd, nil)
}

func newCommandContext(cmd *cobra.Command, reg prometheus.Registerer) (*CommandContext, func(), error) {
	cctx, err := NewCommandContextWithoutEngine(cmd)
	if err != nil {
		return nil, nil, err
	}

	eng, err := engine.New(cmd.Context(), engineConfig(cctx.Cfg, cctx.Logger, reg))
	if err != nil {
		return nil, nil, err
	}
	cctx.Engine = eng

	cleanup := func() {
		if err := eng.Close(); err != nil {
			cctx.Logger.Warn("failed to close engine", slog.String("error", err.Error()))
		}
	}
	return cctx, cleanup, nil
}

// NewCommandContextWithoutEngine creates a CommandContext without an engine.
// Useful for commands that don't need the state store or the warehouse.
func NewCommandContextWithoutEngine(cmd *cobra.Command) (*CommandContext, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}, nil
}

// getConfig returns the configuration loaded by the root command, loading
// it from the working directory when a command runs standalone.
func getConfig() (*config.Config, error) {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg, nil
	}
	return config.LoadConfig("", nil)
}

func engineConfig(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) engine.Config {
	// Validate already rejected unknown policies.
	policy, _ := watermark.ParsePolicy(cfg.Watermark.Policy)
	return engine.Config{
		StatePath:     cfg.StatePath,
		GovernanceDir: cfg.GovernanceDir,
		Target:        cfg.Target,
		Validator:     contract.Options{MaxStoredEntries: cfg.Validator.MaxStoredEntries},
		Verifier: quality.Options{
			Workers:      cfg.Verifier.Workers,
			CheckTimeout: cfg.Verifier.CheckTimeout,
			SampleLimit:  cfg.Verifier.SampleLimit,
		},
		Monitor: monitor.Options{
			RuleTimeout: cfg.Monitor.RuleTimeout,
			Workers:     cfg.Monitor.Workers,
		},
		WatermarkPolicy: policy,
		PIIScanLimit:    cfg.PII.ScanLimit,
		PIITokenKey:     cfg.PII.TokenKey,
		NATSURL:         cfg.Events.NATSURL,
		SubjectPrefix:   cfg.Events.SubjectPrefix,
		Registerer:      reg,
		Logger:          logger,
	}
}
