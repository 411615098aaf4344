// Package cache provides read-through caching for repository lookups by id.
package cache

import (
	"context"
	"time"
)

// Cache stores encoded values by key. A miss is reported by found == false
// with a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
