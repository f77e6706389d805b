// Package storage contains the key-value sink contract, the backend registry,
// and the sink-agnostic provisioning and batched-write logic built on top of
// it.
//
// Backends (dynamodb, postgres, sqlite) live in subpackages and register a
// Factory at init time; importing lander/internal/storage/all makes every
// built-in backend available to New.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"lander/internal/records"
)

var (
	// ErrTableNotFound is the distinguished, non-fatal result of
	// DescribeTable for a destination that does not exist yet.
	ErrTableNotFound = errors.New("storage: table not found")

	// ErrTableExists is returned by CreateTable when another writer created
	// the destination first. Provisioning treats it as success.
	ErrTableExists = errors.New("storage: table already exists")
)

// TableInfo describes an existing destination.
type TableInfo struct {
	Name    string
	KeyAttr string // single string identity column
	Ready   bool
}

// Store is the key-value sink API. Implementations must be safe for
// concurrent use by multiple dispatch workers.
type Store interface {
	// DescribeTable returns ErrTableNotFound (possibly wrapped) when the
	// destination does not exist.
	DescribeTable(ctx context.Context, name string) (TableInfo, error)

	// CreateTable creates name with keyAttr as its only (string) key column and
	// on-demand capacity. It returns ErrTableExists if name already exists.
	CreateTable(ctx context.Context, name, keyAttr string) error

	// WaitUntilReady blocks until name accepts writes or ctx is done.
	WaitUntilReady(ctx context.Context, name string) error

	// BatchPut writes items with overwrite semantics keyed by keyAttr. Items
	// must carry distinct keys. A non-nil error means the whole request
	// failed. Otherwise itemErrs is either nil (every item written) or has
	// len(items) entries, with nil entries for written items.
	BatchPut(ctx context.Context, name, keyAttr string, items []records.Record) (itemErrs []error, err error)

	Close()
}

// Config selects and configures a backend.
type Config struct {
	Kind     string // "dynamodb", "postgres", "sqlite"
	DSN      string // SQL backends
	Region   string // dynamodb
	Endpoint string // dynamodb endpoint override (local stacks)
}

// Factory constructs a Store for a Config.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind. It is typically
// called from backend packages' init functions.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// New constructs the Store registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns a sorted snapshot of the registered kinds.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
