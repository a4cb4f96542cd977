// Package cache defines the key-value caching port. Taskline uses it for
// rendered thread lists keyed per user.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-value cache with per-entry TTLs. Get reports a miss via
// the bool, not an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
