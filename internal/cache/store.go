// Package cache memoizes extraction results by content-addressed key.
//
// Keys combine a digest of the canonical image bytes with a digest of the
// extraction configuration (model, instructions, schema), so changing any of
// them yields a different key. Entries live in a Store: Redis in production,
// an in-process map for development and tests. The cache never fails a
// scan: when the store is unreachable, reads miss and writes are dropped.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by a Store when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is a byte-oriented key/value store with per-entry TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
