// Package cache stores registry API responses between runs.
//
// Only small JSON documents (the package listing and per-version metadata)
// go through a [Cache]; crate archives and extracted sources never do.
//
// Three backends are provided:
//
//   - [FileCache]: one file per entry under the user cache directory (default)
//   - [RedisCache]: a shared Redis instance, for teams crawling from CI
//   - [NullCache]: caching disabled (--no-cache)
//
// All backends are safe for concurrent use.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key/value store with per-entry expiry.
//
// Get reports a miss as (nil, false, nil); errors are reserved for backend
// failures. A ttl of zero in Set means the entry never expires.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
