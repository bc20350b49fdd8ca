// Package pxstoreconfig resolves a storage namespace string
// into an opened [pxstore.DBStorage].
package pxstoreconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gordian-engine/gproxy/px/pxstore"
	"github.com/gordian-engine/gproxy/px/pxstore/pxbadger"
	"github.com/gordian-engine/gproxy/px/pxstore/pxcache"
	"github.com/gordian-engine/gproxy/px/pxstore/pxmemstore"
	"github.com/gordian-engine/gproxy/pxsqlite"
)

// Backend names a storage engine.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
	BackendBadger Backend = "badger"
)

// sqliteInMemoryPath is the sqlite path that selects an in-memory database.
const sqliteInMemoryPath = ":memory:"

// Namespace is a parsed storage namespace.
type Namespace struct {
	Backend Backend

	// Filesystem path for sqlite and badger.
	// Empty for memory.
	Path string
}

func (n Namespace) String() string {
	if n.Backend == BackendMemory {
		return string(n.Backend)
	}
	return string(n.Backend) + ":" + n.Path
}

// ParseNamespace parses "memory", "sqlite:<path>" or "badger:<path>".
// The sqlite path ":memory:" selects an in-memory database.
func ParseNamespace(s string) (Namespace, error) {
	backend, path, hasPath := strings.Cut(s, ":")
	switch Backend(backend) {
	case BackendMemory:
		if hasPath {
			return Namespace{}, fmt.Errorf("memory storage takes no path: %q", s)
		}
		return Namespace{Backend: BackendMemory}, nil
	case BackendSQLite, BackendBadger:
		if path == "" {
			return Namespace{}, fmt.Errorf("%s storage requires a path, as %s:<path>", backend, backend)
		}
		return Namespace{Backend: Backend(backend), Path: path}, nil
	default:
		return Namespace{}, fmt.Errorf(
			"unknown storage namespace %q (want memory, sqlite:<path> or badger:<path>)", s,
		)
	}
}

// Set satisfies [pflag.Value].
func (n *Namespace) Set(s string) error {
	parsed, err := ParseNamespace(s)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// Type satisfies [pflag.Value].
func (*Namespace) Type() string { return "namespace" }

// OpenKV opens the raw backend for n, without caching.
func OpenKV(ctx context.Context, n Namespace) (pxstore.KV, error) {
	switch n.Backend {
	case BackendMemory:
		return pxmemstore.NewKV(), nil
	case BackendSQLite:
		if n.Path == sqliteInMemoryPath {
			return pxsqlite.NewInMemKV(ctx)
		}
		return pxsqlite.NewOnDiskKV(ctx, n.Path)
	case BackendBadger:
		return pxbadger.Open(n.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", n.Backend)
	}
}

// Open opens the storage for n, applying the limits and cache of cfg.
func Open(ctx context.Context, log *slog.Logger, n Namespace, cfg pxstore.CommonConfig) (*pxstore.DBStorage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}

	kv, err := OpenKV(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage %s: %w", n, err)
	}

	cached, err := pxcache.Wrap(kv, cfg.Cache)
	if err != nil {
		return nil, errors.Join(
			fmt.Errorf("failed to create storage cache: %w", err),
			kv.Close(),
		)
	}

	log.Info(
		"Opened storage",
		"namespace", n.String(),
		"max_concurrent_queries", cfg.MaxConcurrentQueries,
		"max_stream_queries", cfg.MaxStreamQueries,
		"max_cache_entries", cfg.Cache.MaxCacheEntries,
	)

	return pxstore.NewDBStorage(cached, cfg), nil
}
