package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tbourn/go-receipt-backend/internal/extraction"
	"github.com/tbourn/go-receipt-backend/internal/receipt"
	"github.com/tbourn/go-receipt-backend/internal/sysutil"
)

// Entry is a memoized extraction result. Exactly one of Receipt or Failure
// is set for found and invalid outcomes; both are nil for not-found.
type Entry struct {
	Receipt  *receipt.Receipt    `json:"receipt"`
	Failure  *extraction.Failure `json:"failure,omitempty"`
	Barcodes []receipt.Barcode   `json:"barcodes"`
	Usage    extraction.Usage    `json:"usage"`
	StoredAt time.Time           `json:"storedAt"`
}

// ExtractionCache reads and writes Entries with best-effort semantics. A nil
// *ExtractionCache or one without a store is a disabled cache: every Get
// misses and every Set is a no-op.
type ExtractionCache struct {
	store      Store
	ttl        time.Duration
	failureTTL time.Duration
}

// NewExtractionCache wraps store. ttl applies to found and not-found
// entries; failureTTL to invalid ones.
func NewExtractionCache(store Store, ttl, failureTTL time.Duration) *ExtractionCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if failureTTL <= 0 || failureTTL > ttl {
		failureTTL = ttl
	}
	return &ExtractionCache{store: store, ttl: ttl, failureTTL: failureTTL}
}

// Disabled returns a cache that never stores anything.
func Disabled() *ExtractionCache { return &ExtractionCache{} }

// Enabled reports whether a backing store is configured.
func (c *ExtractionCache) Enabled() bool { return c != nil && c.store != nil }

// Get returns the entry for key. Store errors and undecodable entries are
// logged and reported as a miss.
func (c *ExtractionCache) Get(ctx context.Context, key string) (*Entry, bool) {
	if !c.Enabled() {
		return nil, false
	}
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			sysutil.Logger(ctx).Warn().Err(err).Str("stage", "cache").Msg("cache read failed; treating as miss")
		}
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		sysutil.Logger(ctx).Warn().Err(err).Str("stage", "cache").Msg("cache entry undecodable; treating as miss")
		return nil, false
	}
	return &e, true
}

// Set stores e under key. Failures are logged and swallowed.
func (c *ExtractionCache) Set(ctx context.Context, key string, e Entry) {
	if !c.Enabled() {
		return
	}
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now().UTC()
	}
	if e.Barcodes == nil {
		e.Barcodes = []receipt.Barcode{}
	}
	b, err := json.Marshal(e)
	if err != nil {
		sysutil.Logger(ctx).Warn().Err(err).Str("stage", "cache").Msg("cache entry not encodable")
		return
	}
	ttl := c.ttl
	if e.Failure != nil {
		ttl = c.failureTTL
	}
	if err := c.store.Set(ctx, key, b, ttl); err != nil {
		sysutil.Logger(ctx).Warn().Err(err).Str("stage", "cache").Msg("cache write failed; dropped")
	}
}
