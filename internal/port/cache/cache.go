// Package cache defines the key-value cache port shared by GeoIP lookups and
// idempotent request replay.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values under string keys. Get reports a miss as
// (nil, false, nil); an error means the backend itself failed. Backends may
// expire entries earlier than ttl, e.g. a KV bucket with its own max age.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
