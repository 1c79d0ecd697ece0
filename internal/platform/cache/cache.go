// Package cache provides small string-value caches with TTL semantics.
package cache

import (
	"context"
	"time"
)

// Cache stores string values under keys with an expiry.
type Cache interface {
	// Get returns the value for key and whether a live entry exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key for ttl. A non-positive ttl keeps the
	// entry until evicted.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}
