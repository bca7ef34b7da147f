// Package kv is a small key-value store over sqlite or redis. Every call
// runs in its own transaction; nothing is atomic across calls.
package kv

import (
	"context"
	"errors"
	"fmt"

	"kiln/internal/config"
	"kiln/internal/db"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kv: not found")

// Store is one named store of opaque values keyed by string.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Clear removes every entry of this store.
	Clear(ctx context.Context) error
	// Keys returns the keys of this store in ascending order.
	Keys(ctx context.Context) ([]string, error)
	// Drop removes every store in the backing database.
	Drop(ctx context.Context) error
	Close() error
}

// Open returns the store named name on the configured backend.
func Open(ctx context.Context, cfg config.StorageConfig, name string) (Store, error) {
	switch cfg.Backend {
	case config.StoreRedis:
		return OpenRedis(ctx, cfg.RedisURL, cfg.RedisPrefix, name)
	case config.StoreSQLite, "":
		conn, err := db.Open(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return NewSQLite(conn, name), nil
	default:
		return nil, fmt.Errorf("kv: unknown backend %q", cfg.Backend)
	}
}
