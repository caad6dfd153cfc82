package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulane/promo-engine/internal/domain/promo"
)

type countingReader struct {
	codes map[string]*promo.Code
	calls int
}

func (r *countingReader) FindByCode(_ context.Context, code string) (*promo.Code, error) {
	r.calls++
	c, ok := r.codes[promo.Normalize(code)]
	if !ok {
		return nil, promo.ErrCodeNotFound
	}
	return c, nil
}

func newFixture(ttl time.Duration) (*CodeCache, *countingReader, *time.Time) {
	src := &countingReader{codes: map[string]*promo.Code{
		"SAVE10": {ID: "id-1", Code: "SAVE10", Active: true},
	}}
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	c := New(src, ttl)
	c.now = func() time.Time { return now }
	return c, src, &now
}

func TestCodeCache_ReadThrough(t *testing.T) {
	c, src, _ := newFixture(30 * time.Second)

	for range 3 {
		got, err := c.FindByCode(context.Background(), "save10")
		require.NoError(t, err)
		assert.Equal(t, "id-1", got.ID)
	}

	assert.Equal(t, 1, src.calls, "repeat hits within TTL must not reach the source")
}

func TestCodeCache_TTLExpiry(t *testing.T) {
	c, src, now := newFixture(30 * time.Second)

	_, err := c.FindByCode(context.Background(), "SAVE10")
	require.NoError(t, err)

	*now = now.Add(31 * time.Second)

	_, err = c.FindByCode(context.Background(), "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestCodeCache_MissesNotCached(t *testing.T) {
	c, src, _ := newFixture(30 * time.Second)

	_, err := c.FindByCode(context.Background(), "NOPE")
	require.ErrorIs(t, err, promo.ErrCodeNotFound)

	// A code created after the miss must be visible on the next read.
	src.codes["NOPE"] = &promo.Code{ID: "id-2", Code: "NOPE"}
	got, err := c.FindByCode(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Equal(t, "id-2", got.ID)
}

func TestCodeCache_Invalidate(t *testing.T) {
	c, src, _ := newFixture(30 * time.Second)

	_, err := c.FindByCode(context.Background(), "SAVE10")
	require.NoError(t, err)

	c.Invalidate("save10")

	_, err = c.FindByCode(context.Background(), "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestCodeCache_Disabled(t *testing.T) {
	c, src, _ := newFixture(0)

	for range 3 {
		_, err := c.FindByCode(context.Background(), "SAVE10")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, src.calls)
}
