// Package engine wires the governance components into one process: the
// state store, the governance registry, the violation/event stream, the
// validator, the verifier, the monitor runner, the watermark tracker and
// the PII pipeline. The warehouse connection is opened lazily, on the
// first component that reads from it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leapstack-labs/leapguard/internal/celrule"
	"github.com/leapstack-labs/leapguard/internal/contract"
	"github.com/leapstack-labs/leapguard/internal/events"
	"github.com/leapstack-labs/leapguard/internal/metrics"
	"github.com/leapstack-labs/leapguard/internal/monitor"
	"github.com/leapstack-labs/leapguard/internal/pii"
	"github.com/leapstack-labs/leapguard/internal/quality"
	"github.com/leapstack-labs/leapguard/internal/registry"
	"github.com/leapstack-labs/leapguard/internal/state"
	"github.com/leapstack-labs/leapguard/internal/watermark"
	"github.com/leapstack-labs/leapguard/pkg/adapter"
	"github.com/leapstack-labs/leapguard/pkg/core"
)

// Config holds engine configuration.
type Config struct {
	// StatePath is the SQLite state database (":memory:" for tests).
	StatePath string
	// GovernanceDir holds the governance YAML files.
	GovernanceDir string
	// Target is the warehouse the verifier and monitors read from.
	Target *core.TargetConfig

	Validator contract.Options
	Verifier  quality.Options
	Monitor   monitor.Options

	WatermarkPolicy watermark.Policy
	PIIScanLimit    int
	PIITokenKey     string

	// NATSURL enables the NATS publisher when set.
	NATSURL       string
	SubjectPrefix string

	// Registerer receives the Prometheus collectors. Nil disables metrics.
	Registerer prometheus.Registerer
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// Engine owns every long-lived component.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	store     *state.SQLiteStore
	registry  *registry.Registry
	metrics   *metrics.Metrics
	stream    *events.Stream
	validator *contract.Validator
	tracker   *watermark.Tracker
	freshness *watermark.FreshnessReporter
	masker    *pii.Masker

	dbMu     sync.Mutex
	db       adapter.Adapter
	verifier *quality.Verifier
	runner   *monitor.Runner

	piiMu   sync.Mutex
	piiSnap *registry.Snapshot
	piiDet  *pii.Detector
}

// New opens the state store, loads governance and builds the components
// that do not need the warehouse.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Target == nil {
		cfg.Target = &core.TargetConfig{Type: "duckdb"}
	}
	if cfg.WatermarkPolicy == "" {
		cfg.WatermarkPolicy = watermark.PolicyReject
	}

	logger.Debug("initializing engine",
		slog.String("state_path", cfg.StatePath),
		slog.String("governance_dir", cfg.GovernanceDir),
		slog.String("target", cfg.Target.Type))

	if cfg.StatePath != ":memory:" {
		if dir := filepath.Dir(cfg.StatePath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
	}

	store, err := state.OpenStore(ctx, cfg.StatePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	e := &Engine{cfg: cfg, logger: logger, store: store, masker: pii.NewMasker(cfg.PIITokenKey)}
	if cfg.Registerer != nil {
		e.metrics = metrics.New(cfg.Registerer)
	}

	if err := e.init(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) init() error {
	eval, err := celrule.NewEvaluator()
	if err != nil {
		return err
	}

	e.registry, err = registry.Open(e.cfg.GovernanceDir, eval, e.logger)
	if err != nil {
		return fmt.Errorf("failed to load governance: %w", err)
	}
	e.metrics.GovernanceLoaded(e.registry.Current().Version)
	e.registry.OnReload(func(s *registry.Snapshot) { e.metrics.GovernanceLoaded(s.Version) })

	e.stream = events.NewStream(e.store, e.metrics, e.logger)
	if e.cfg.NATSURL != "" {
		pub, err := events.DialNATS(e.cfg.NATSURL, e.cfg.SubjectPrefix, e.logger)
		if err != nil {
			return err
		}
		e.stream.AddPublisher(pub)
	}

	e.validator, err = contract.NewValidator(e.registry, eval, e.stream, e.metrics, e.logger, e.cfg.Validator)
	if err != nil {
		return err
	}
	e.tracker = watermark.NewTracker(e.store, e.cfg.WatermarkPolicy, e.metrics, e.logger)
	e.freshness = watermark.NewFreshnessReporter(e.tracker, e.registry, e.stream, e.logger)
	return nil
}

// Close closes publishers, the warehouse connection and the state store.
func (e *Engine) Close() error {
	var errs []error
	if err := e.stream.Close(); err != nil {
		errs = append(errs, err)
	}
	e.dbMu.Lock()
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			errs = append(errs, err)
		}
		e.db = nil
	}
	e.dbMu.Unlock()
	if err := e.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Registry returns the governance registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Store returns the state store.
func (e *Engine) Store() core.Store { return e.store }

// Stream returns the violation/event stream.
func (e *Engine) Stream() *events.Stream { return e.stream }

// Metrics returns the collectors, nil when metrics are disabled.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Validator returns the batch validator.
func (e *Engine) Validator() *contract.Validator { return e.validator }

// Tracker returns the watermark tracker.
func (e *Engine) Tracker() *watermark.Tracker { return e.tracker }

// Freshness returns the freshness reporter.
func (e *Engine) Freshness() *watermark.FreshnessReporter { return e.freshness }

// connect lazily opens the warehouse adapter. Callers hold dbMu.
func (e *Engine) connect(ctx context.Context) error {
	if e.db != nil {
		return nil
	}

	acfg := e.cfg.Target.AdapterConfig()
	e.logger.Debug("connecting to warehouse", slog.String("adapter_type", acfg.Type))

	db, err := adapter.NewAdapter(acfg, e.logger)
	if err != nil {
		return fmt.Errorf("failed to create warehouse adapter: %w", err)
	}
	if err := db.Connect(ctx, acfg); err != nil {
		return fmt.Errorf("failed to connect to warehouse: %w", err)
	}
	e.db = db
	return nil
}

// Warehouse returns the connected adapter.
func (e *Engine) Warehouse(ctx context.Context) (adapter.Adapter, error) {
	e.dbMu.Lock()
	defer e.dbMu.Unlock()
	if err := e.connect(ctx); err != nil {
		return nil, err
	}
	return e.db, nil
}

// Verifier returns the quality-check verifier, connecting on first use.
func (e *Engine) Verifier(ctx context.Context) (*quality.Verifier, error) {
	e.dbMu.Lock()
	defer e.dbMu.Unlock()
	if err := e.connect(ctx); err != nil {
		return nil, err
	}
	if e.verifier == nil {
		e.verifier = quality.NewVerifier(e.registry, e.db, e.stream, e.metrics, e.logger, e.cfg.Verifier)
	}
	return e.verifier, nil
}

// Runner returns the monitor runner, connecting on first use. The runner
// is shared so its in-memory state covers every pass of this process.
func (e *Engine) Runner(ctx context.Context) (*monitor.Runner, error) {
	e.dbMu.Lock()
	defer e.dbMu.Unlock()
	if err := e.connect(ctx); err != nil {
		return nil, err
	}
	if e.runner == nil {
		e.runner = monitor.NewRunner(e.registry, e.db, e.store, e.stream, e.metrics, e.logger, e.cfg.Monitor)
	}
	return e.runner, nil
}

// Detector returns a detector for the PII rules of the current snapshot.
// The compiled detector is reused until the snapshot changes.
func (e *Engine) Detector() (*pii.Detector, error) {
	snap := e.registry.Current()

	e.piiMu.Lock()
	defer e.piiMu.Unlock()
	if e.piiDet != nil && e.piiSnap == snap {
		return e.piiDet, nil
	}
	d, err := pii.NewDetector(snap.PIIRules(), e.cfg.PIIScanLimit)
	if err != nil {
		return nil, err
	}
	e.piiSnap, e.piiDet = snap, d
	return d, nil
}

// Masker returns the strategy masker holding the tokenization key.
func (e *Engine) Masker() *pii.Masker { return e.masker }

// MaskBatch masks records of source when its active contract declares PII.
func (e *Engine) MaskBatch(source string, records []map[string]any) (*pii.BatchResult, error) {
	d, err := e.Detector()
	if err != nil {
		return nil, err
	}
	c, _ := e.registry.Current().ActiveContract(source)
	return pii.NewBatchMasker(d, e.masker).MaskForContract(c, records), nil
}
