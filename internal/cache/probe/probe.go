// Package probe picks the cache backend once at startup.
package probe

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/macrolog/macrolog/internal/cache"
	"github.com/macrolog/macrolog/internal/cache/kvstore"
	"github.com/macrolog/macrolog/internal/cache/sqlstore"
)

// Backend names accepted by Options.Backend.
const (
	BackendAuto   = "auto"
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Options selects and locates the cache.
type Options struct {
	// Backend is one of the Backend* names. Empty means auto.
	Backend string

	// Dir holds cache.db (sqlite) or cache.json (file).
	Dir string

	RedisURL string
	RedisKey string

	Logger *log.Logger
}

// openSQLite is swapped in tests to simulate an unavailable embedded engine.
var openSQLite = func(ctx context.Context, path string) (cache.Backend, error) {
	return sqlstore.Open(ctx, path)
}

// Open returns the selected backend and its name. With BackendAuto the
// embedded database is tried first and the flat file blob is used when it
// cannot be opened.
func Open(ctx context.Context, opts Options) (cache.Backend, string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}

	switch opts.Backend {
	case "", BackendAuto:
		store, err := openSQLite(ctx, filepath.Join(opts.Dir, "cache.db"))
		if err == nil {
			return store, BackendSQLite, nil
		}
		logger.Printf("WARNING: embedded database unavailable, using file cache: %v", err)
		store, err = openFile(ctx, opts.Dir)
		if err != nil {
			return nil, "", err
		}
		return store, BackendFile, nil

	case BackendSQLite:
		store, err := openSQLite(ctx, filepath.Join(opts.Dir, "cache.db"))
		if err != nil {
			return nil, "", err
		}
		return store, BackendSQLite, nil

	case BackendFile:
		store, err := openFile(ctx, opts.Dir)
		if err != nil {
			return nil, "", err
		}
		return store, BackendFile, nil

	case BackendRedis:
		store, err := openRedis(ctx, opts)
		if err != nil {
			return nil, "", err
		}
		return store, BackendRedis, nil

	case BackendMemory:
		store, err := kvstore.Open(ctx, &kvstore.MemoryBlob{})
		if err != nil {
			return nil, "", err
		}
		return store, BackendMemory, nil

	default:
		return nil, "", fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

func openFile(ctx context.Context, dir string) (cache.Backend, error) {
	blob, err := kvstore.NewFileBlob(filepath.Join(dir, "cache.json"))
	if err != nil {
		return nil, cache.Wrap("open file cache", err)
	}
	return kvstore.Open(ctx, blob)
}

func openRedis(ctx context.Context, opts Options) (cache.Backend, error) {
	if opts.RedisURL == "" {
		return nil, fmt.Errorf("redis backend requires a redis url")
	}
	key := opts.RedisKey
	if key == "" {
		key = "macrolog:cache"
	}
	blob, err := kvstore.NewRedisBlob(opts.RedisURL, key)
	if err != nil {
		return nil, cache.Wrap("open redis cache", err)
	}
	if err := blob.Ping(ctx); err != nil {
		_ = blob.Close()
		return nil, cache.Wrap("ping redis", err)
	}
	store, err := kvstore.Open(ctx, blob)
	if err != nil {
		_ = blob.Close()
		return nil, err
	}
	return store, nil
}
