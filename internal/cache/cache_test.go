package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-receipt-backend/internal/extraction"
	"github.com/tbourn/go-receipt-backend/internal/receipt"
)

func fp(model string) extraction.Fingerprint {
	return extraction.Fingerprint{Model: model, Instructions: "inst", Schema: receipt.Schema}
}

func TestKey_DeterministicAndSensitive(t *testing.T) {
	img := []byte("image-bytes")
	k1 := KeyFor(img, fp("m1"))
	k2 := KeyFor(img, fp("m1"))
	assert.Equal(t, k1, k2)
	assert.Contains(t, k1, "scan:v1:")

	assert.NotEqual(t, k1, KeyFor(img, fp("m2")), "model change must change the key")
	assert.NotEqual(t, k1, KeyFor([]byte("image-bytez"), fp("m1")), "image change must change the key")

	other := fp("m1")
	other.Instructions = "inst2"
	assert.NotEqual(t, k1, KeyFor(img, other), "instruction change must change the key")
	other = fp("m1")
	other.Schema = "{}"
	assert.NotEqual(t, k1, KeyFor(img, other), "schema change must change the key")
}

func TestHashWithDomain_Separation(t *testing.T) {
	assert.NotEqual(t, hashWithDomain("a", []byte("bc")), hashWithDomain("ab", []byte("c")))
}

func TestMemoryStore_GetSetExpiry(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Close()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	ctx := context.Background()
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	got[0] = 'x'
	again, _ := s.Get(ctx, "k")
	assert.Equal(t, []byte("v"), again, "returned slices are copies")

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

type failingStore struct{ getErr, setErr error }

func (f failingStore) Get(context.Context, string) ([]byte, error) { return nil, f.getErr }
func (f failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return f.setErr
}

type recordingStore struct {
	*MemoryStore
	lastTTL time.Duration
}

func (r *recordingStore) Set(ctx context.Context, key string, v []byte, ttl time.Duration) error {
	r.lastTTL = ttl
	return r.MemoryStore.Set(ctx, key, v, ttl)
}

func TestExtractionCache_RoundTrip(t *testing.T) {
	mem := NewMemoryStore(time.Hour)
	defer mem.Close()
	c := NewExtractionCache(mem, 24*time.Hour, 10*time.Minute)
	ctx := context.Background()

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	r := &receipt.Receipt{Merchant: receipt.Merchant{Name: "Uniqlo"}, Items: []receipt.LineItem{}}
	c.Set(ctx, "k", Entry{Receipt: r, Usage: extraction.Usage{TotalTokens: 42}})

	e, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "Uniqlo", e.Receipt.Merchant.Name)
	assert.Equal(t, 42, e.Usage.TotalTokens)
	assert.NotNil(t, e.Barcodes)
	assert.False(t, e.StoredAt.IsZero())
}

func TestExtractionCache_FailureUsesShorterTTL(t *testing.T) {
	rs := &recordingStore{MemoryStore: NewMemoryStore(time.Hour)}
	defer rs.Close()
	c := NewExtractionCache(rs, 24*time.Hour, 10*time.Minute)

	c.Set(context.Background(), "ok", Entry{})
	assert.Equal(t, 24*time.Hour, rs.lastTTL)

	c.Set(context.Background(), "bad", Entry{Failure: &extraction.Failure{Message: "m", RawResponse: "r"}})
	assert.Equal(t, 10*time.Minute, rs.lastTTL)
}

func TestExtractionCache_UnreachableStoreDegrades(t *testing.T) {
	c := NewExtractionCache(failingStore{getErr: errors.New("dial tcp: refused"), setErr: errors.New("dial tcp: refused")}, time.Hour, time.Minute)
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.NotPanics(t, func() { c.Set(context.Background(), "k", Entry{}) })
}

func TestExtractionCache_CorruptEntryIsMiss(t *testing.T) {
	mem := NewMemoryStore(time.Hour)
	defer mem.Close()
	require.NoError(t, mem.Set(context.Background(), "k", []byte("{not json"), time.Hour))

	c := NewExtractionCache(mem, time.Hour, time.Minute)
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestExtractionCache_Disabled(t *testing.T) {
	var nilCache *ExtractionCache
	assert.False(t, nilCache.Enabled())
	_, ok := nilCache.Get(context.Background(), "k")
	assert.False(t, ok)
	nilCache.Set(context.Background(), "k", Entry{})

	d := Disabled()
	assert.False(t, d.Enabled())
	_, ok = d.Get(context.Background(), "k")
	assert.False(t, ok)
}
