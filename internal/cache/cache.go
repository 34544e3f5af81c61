// Package cache provides the local durable key-value cache that keeps the
// form draft and the offline write queue across restarts.
//
// Values are opaque strings (JSON documents in practice). Implementations
// must be safe for concurrent use.
package cache

import (
	"context"
	"errors"
	"fmt"
)

// Keys used by the application.
const (
	// FormStateKey holds the present form of the history store.
	FormStateKey = "wellness-form-state-v1"

	// OfflineQueueKey holds the offline write queue as a JSON array.
	OfflineQueueKey = "wellness-offline-queue-v1"
)

// Provider names accepted by New.
const (
	ProviderSQLite = "sqlite"
	ProviderRedis  = "redis"
	ProviderMemory = "memory"
)

var (
	// ErrClosed is returned when the cache is used after Close.
	ErrClosed = errors.New("cache closed")

	// ErrInvalidKey is returned for an empty key.
	ErrInvalidKey = errors.New("invalid cache key")
)

// Cache is a string key-value store that survives process restarts.
type Cache interface {
	// Get returns the value stored under key. The boolean is false when the
	// key is absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases the underlying resources.
	Close() error
}

// Config selects and configures a cache provider.
type Config struct {
	Provider string
	Path     string // SQLite database file
	RedisURL string
}

// New creates the cache selected by cfg.Provider.
func New(ctx context.Context, cfg Config) (Cache, error) {
	switch cfg.Provider {
	case ProviderSQLite, "":
		return NewSQLite(ctx, cfg.Path)
	case ProviderRedis:
		return NewRedis(ctx, cfg.RedisURL)
	case ProviderMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown cache provider %q", cfg.Provider)
	}
}

// CacheError wraps a cache operation failure with the key involved.
type CacheError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

func validateKey(op, key string) error {
	if key == "" {
		return &CacheError{Op: op, Key: key, Err: ErrInvalidKey}
	}
	return nil
}
