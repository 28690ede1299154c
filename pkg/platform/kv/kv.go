// Package kv is the small key/value surface the engine needs for job locks,
// reminder de-duplication and provider result caching. Redis backs it in
// production; the in-memory store serves tests and single-process runs.
package kv

import (
	"context"
	"time"
)

// Store is a TTL key/value store.
type Store interface {
	// SetNX sets key only if absent. It reports whether the key was set.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Get returns sentinel.ErrNotFound when the key is absent or expired.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
