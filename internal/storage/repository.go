package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to create a repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend; validation is backend-specific.
//   - Table is the (optionally schema-qualified) grid code table name.
//   - Sessions is the number of sessions held at the same time (one per worker). Pooled
//     backends size their pool so that many sessions fit next to one statement connection.
type Config struct {
	Kind     string
	DSN      string
	Table    string
	Sessions int
}

// Record is one grid cell ready for persistence. Code and Level are already narrowed to the
// column types of the table (bigint, smallint).
type Record struct {
	Code  int64
	Level int16
	XMin  float64 // west
	YMin  float64 // south
	XMax  float64 // east
	YMax  float64 // north
}

// Repository is the relational sink for grid cells and their table metadata.
//
// Each backend implements the upsert in its own idiomatic way (Postgres and SQLite
// ON CONFLICT DO NOTHING, SQL Server NOT EXISTS), but the contract is the same: inserting a
// code that already exists is a silent no-op.
type Repository interface {
	// Close releases the connection pool. Call once, after every Session is released.
	Close()

	// EnsureSchema creates the grid code table and its indexes if missing.
	EnsureSchema(ctx context.Context) error

	// Acquire takes one connection out of the pool and dedicates it to the returned Session
	// until Release.
	Acquire(ctx context.Context) (Session, error)

	// DistinctLevels returns the distinct level values present in the table, ascending.
	DistinctLevels(ctx context.Context) ([]int, error)

	// InitMetadata creates the metadata registry table if missing.
	InitMetadata(ctx context.Context) error

	// UpsertMetadata stores doc (a JSON document) for table, replacing any previous one.
	UpsertMetadata(ctx context.Context, table string, doc []byte) error
}

// Session is a single dedicated connection running one transaction at a time.
//
// A Session is not safe for concurrent use; it belongs to exactly one worker.
type Session interface {
	Begin(ctx context.Context) error

	// Upsert inserts rec inside the open transaction. A conflicting code is a no-op.
	Upsert(ctx context.Context, rec Record) error

	Commit(ctx context.Context) error

	// Rollback aborts the open transaction, if any. It is a no-op without one.
	Rollback(ctx context.Context) error

	// Release rolls back any open transaction and returns the connection to the pool.
	Release()
}

// ---- factories ----

// Factory constructs a Repository for one backend kind.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered. Registering twice is a
//     programming error and ambiguous backend selection must fail fast.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or not registered.
//   - Returns whatever error the registered factory returns (usually connectivity).
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("storage: missing table")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
