// Package storage defines the storage contract the ingestion pipeline depends
// on, plus a registry of concrete backends. The pipeline stays backend-
// agnostic: it opens one Repository via New and injects it into every stage;
// there is no package-level connection state.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Config selects and parameterizes a backend.
type Config struct {
	// Kind names a registered backend, e.g. "postgres" or "sqlite".
	Kind string

	// DSN is the backend connection string.
	DSN string

	// Table is the target table name, optionally schema-qualified.
	Table string
}

// Repository is the sink for normalized profile rows. Implementations must
// make CopyRows atomic per call: either every row of the call is committed or
// none are.
type Repository interface {
	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// EnsureTable idempotently creates the target table.
	EnsureTable(ctx context.Context) error

	// Truncate removes all rows and resets the surrogate-key sequence.
	Truncate(ctx context.Context) error

	// BuildIndexes idempotently creates the supporting indexes and refreshes
	// planner statistics.
	BuildIndexes(ctx context.Context) error

	// CopyRows bulk-writes rows (aligned to columns order) in one
	// transaction and returns the count written. Empty input is a no-op
	// returning 0.
	CopyRows(ctx context.Context, columns []string, rows [][]any) (int64, error)

	// Close releases the underlying connections.
	Close()
}

// Factory opens a Repository for a Config.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs a backend factory under kind. Backend packages call it
// from init; importing storage/all enables all built-ins.
func Register(kind string, fn Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = fn
}

// New opens a Repository using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	fn, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unknown kind %q (registered: %s)", cfg.Kind, strings.Join(kinds(), ", "))
	}
	return fn(ctx, cfg)
}

func kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
