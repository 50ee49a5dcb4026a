// Package cache wraps the shared key-value store used for cross-instance
// counters.
package cache

import (
	"context"
	"time"
)

// BasicOps is the subset of key-value operations the runner needs.
type BasicOps interface {
	// SetNX sets the value only if the key does not exist.
	// Returns true if the key was set.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Incr increments the integer value of a key by 1.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets a timeout on a key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining time to live of a key.
	// Negative values mean no expiry or no key.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Del deletes one or more keys.
	Del(ctx context.Context, keys ...string) error
}

// Cache is a BasicOps backed by a live connection.
type Cache interface {
	BasicOps

	// Ping verifies the cache connection is alive.
	Ping(ctx context.Context) error

	// Close closes the cache connection.
	Close() error
}
