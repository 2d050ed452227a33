package adapter

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/leapguard/pkg/core"
)

// Factory builds an unconnected adapter.
type Factory func(*slog.Logger) Adapter

// Driver describes one warehouse type: the dialect its queries are
// rendered in and how to build an adapter for it.
type Driver struct {
	Name    string
	Dialect *core.Dialect
	New     Factory
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register adds a driver. Called by adapter implementations in their
// init() functions. A later registration under the same name wins.
func Register(d Driver) {
	if d.Name == "" || d.New == nil {
		panic("adapter: driver needs a name and a factory")
	}
	if d.Dialect == nil {
		d.Dialect = core.DuckDBDialect
	}
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[strings.ToLower(d.Name)] = d
}

// Lookup returns the driver registered for a target type.
func Lookup(typ string) (Driver, error) {
	driversMu.RLock()
	d, ok := drivers[strings.ToLower(typ)]
	driversMu.RUnlock()
	if !ok {
		return Driver{}, &UnknownAdapterError{Type: typ, Available: ListAdapters()}
	}
	return d, nil
}

// DialectFor returns the dialect checks and monitors render in for a
// target type, without connecting.
func DialectFor(typ string) (*core.Dialect, error) {
	d, err := Lookup(typ)
	if err != nil {
		return nil, err
	}
	return d.Dialect, nil
}

// NewAdapter creates an unconnected adapter for cfg.Type. A nil logger
// uses the discard logger.
func NewAdapter(cfg Config, logger *slog.Logger) (Adapter, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("adapter type not specified")
	}
	d, err := Lookup(cfg.Type)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return d.New(logger), nil
}

// ListAdapters returns all registered adapter names (sorted).
func ListAdapters() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if an adapter type is registered.
func IsRegistered(name string) bool {
	_, err := Lookup(name)
	return err == nil
}

// UnknownAdapterError is returned when an unknown adapter type is requested.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown warehouse type %q (registered: %s); check target.type in leapguard.yaml",
		e.Type, strings.Join(e.Available, ", "))
}
