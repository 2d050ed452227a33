// Package registry holds the governance definitions in effect.
//
// Definitions are loaded from the governance directory into an immutable
// Snapshot. Reload builds and validates a complete new snapshot before
// swapping it in atomically; an invalid directory never replaces the
// current snapshot. There is no API that edits definitions in place.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leapstack-labs/leapguard/internal/celrule"
	"github.com/leapstack-labs/leapguard/internal/loader"
)

// Registry serves the current governance snapshot.
type Registry struct {
	dir    string
	logger *slog.Logger
	eval   *celrule.Evaluator

	mu       sync.Mutex // serialises reloads
	current  atomic.Pointer[Snapshot]
	version  int64
	onReload []func(*Snapshot)
}

// New creates a registry for dir. Call Reload before Current.
// If logger is nil, a discard logger is used.
func New(dir string, eval *celrule.Evaluator, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if eval == nil {
		var err error
		if eval, err = celrule.NewEvaluator(); err != nil {
			return nil, err
		}
	}
	return &Registry{dir: dir, logger: logger, eval: eval}, nil
}

// Open creates a registry and performs the initial load.
func Open(dir string, eval *celrule.Evaluator, logger *slog.Logger) (*Registry, error) {
	r, err := New(dir, eval, logger)
	if err != nil {
		return nil, err
	}
	if _, err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Dir returns the governance directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Evaluator returns the CEL evaluator the registry compiles rules with.
func (r *Registry) Evaluator() *celrule.Evaluator {
	return r.eval
}

// Current returns the snapshot in effect, or an empty snapshot before the
// first successful load.
func (r *Registry) Current() *Snapshot {
	if s := r.current.Load(); s != nil {
		return s
	}
	return &Snapshot{}
}

// OnReload registers fn to run after every successful swap.
func (r *Registry) OnReload(fn func(*Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReload = append(r.onReload, fn)
}

// Reload reads and validates the directory and publishes the result. When
// the content hash is unchanged the current snapshot is kept.
func (r *Registry) Reload() (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bundle, err := loader.LoadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load governance directory: %w", err)
	}

	if cur := r.current.Load(); cur != nil && cur.Hash == bundle.Hash {
		return cur, nil
	}

	snap, err := Build(&bundle.Document, r.eval)
	if err != nil {
		return nil, err
	}

	r.version++
	snap.Version = r.version
	snap.Hash = bundle.Hash
	snap.Files = bundle.Files
	snap.LoadedAt = time.Now().UTC()
	r.current.Store(snap)

	r.logger.Info("governance snapshot loaded",
		slog.Int64("version", snap.Version),
		slog.Int("files", len(snap.Files)),
		slog.Int("contracts", len(snap.contracts)),
		slog.Int("quality_checks", len(snap.checks)),
		slog.Int("monitors", len(snap.monitors)),
		slog.Int("pii_rules", len(snap.piiRules)))

	for _, fn := range r.onReload {
		fn(snap)
	}
	return snap, nil
}

// Check validates the directory without publishing anything.
func (r *Registry) Check() (*Snapshot, error) {
	bundle, err := loader.LoadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load governance directory: %w", err)
	}
	snap, err := Build(&bundle.Document, r.eval)
	if err != nil {
		return nil, err
	}
	snap.Hash = bundle.Hash
	snap.Files = bundle.Files
	return snap, nil
}

// Ensure Registry implements Source
var _ Source = (*Registry)(nil)

// reloadLogged reloads and logs failures; used by the watcher.
func (r *Registry) reloadLogged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := r.Reload(); err != nil {
		r.logger.Error("governance reload failed, keeping current snapshot",
			slog.Int64("version", r.Current().Version),
			slog.String("error", err.Error()))
	}
}
