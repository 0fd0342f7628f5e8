// Package cache provides the shared key/value layer between the collector,
// the push ingress, and downstream API consumers. The canonical backend is
// Redis; an in-memory implementation backs tests and degraded operation.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when a key does not exist or has expired.
var ErrMiss = errors.New("cache: key not found")

// Store is the cache abstraction used throughout the collector. Batch
// operations must execute in a single round trip against the backend;
// the scheduler relies on that to keep its write phase inside one network
// exchange per cycle.
type Store interface {
	// Ping verifies connectivity to the backend.
	Ping(ctx context.Context) error

	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// ScanKeys returns all keys matching a glob pattern. Implementations
	// must use cursor-based iteration, never a blocking full-keyspace scan.
	ScanKeys(ctx context.Context, pattern string) ([]string, error)

	// IncrBy atomically adds delta to an integer counter, creating it at
	// zero if absent, and returns the new value.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// BatchGet fetches values for keys in one round trip. Missing keys
	// yield empty strings at the corresponding index.
	BatchGet(ctx context.Context, keys []string) ([]string, error)

	// BatchSet writes all entries in one round trip, each with its own TTL.
	BatchSet(ctx context.Context, entries []Entry) error

	// BatchHGetAll fetches field maps for keys in one round trip. Missing
	// keys yield nil maps at the corresponding index.
	BatchHGetAll(ctx context.Context, keys []string) ([]map[string]string, error)

	// BatchHSet writes all hash entries in one round trip.
	BatchHSet(ctx context.Context, entries []HashEntry) error

	Close() error
}

// Entry is one string key/value pair with its TTL for batched writes.
// A zero TTL means no expiry.
type Entry struct {
	Key   string
	Value string
	TTL   time.Duration
}

// HashEntry is one hash key with its field map for batched writes.
type HashEntry struct {
	Key    string
	Fields map[string]string
	TTL    time.Duration
}
