package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock provides a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCache(defaultTTL time.Duration) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(defaultTTL, WithClock(clock.Now)), clock
}

func TestCache_PutGet(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Put("k", "payload", 0)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "payload", v)
}

func TestCache_Miss(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	_, ok := c.Get("absent")
	assert.False(t, ok)
}

func TestCache_FreshJustBeforeExpiry(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	c.Put("k", "payload", 0)

	clock.Advance(time.Minute - time.Nanosecond)
	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestCache_ExpiredAtBoundary(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	c.Put("k", "payload", 0)

	clock.Advance(time.Minute)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_PerEntryTTLWins(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	c.Put("short", "a", time.Second)
	c.Put("long", "b", time.Hour)

	clock.Advance(2 * time.Second)
	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("long")
	assert.True(t, ok)
}

func TestCache_InvalidateByTag(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Put("q1", "a", 0, "type:products")
	c.Put("q2", "b", 0, "type:products", "entity:products:p1")
	c.Put("q3", "c", 0, "type:orders")

	removed := c.Invalidate("type:products")
	assert.Equal(t, 2, removed)

	_, ok := c.Get("q1")
	assert.False(t, ok)
	_, ok = c.Get("q2")
	assert.False(t, ok)
	_, ok = c.Get("q3")
	assert.True(t, ok)
}

func TestCache_InvalidateByEntityTag(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Put("find:products:p1", "a", 0, "type:products", "entity:products:p1")
	c.Put("find:products:p2", "b", 0, "type:products", "entity:products:p2")

	removed := c.Invalidate("entity:products:p1")
	assert.Equal(t, 1, removed)

	_, ok := c.Get("find:products:p2")
	assert.True(t, ok)
}

func TestCache_InvalidateBySignature(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Put("k", "a", 0, "type:products")

	assert.Equal(t, 1, c.Invalidate("k"))
	assert.Equal(t, 0, c.Invalidate("k"))
}

func TestCache_ReplaceClearsOldTags(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Put("k", "a", 0, "type:products")
	c.Put("k", "b", 0, "type:orders")

	assert.Equal(t, 0, c.Invalidate("type:products"))
	assert.Equal(t, 1, c.Invalidate("type:orders"))
}

func TestCache_Flush(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Put("a", 1, 0)
	c.Put("b", 2, 0)

	c.Flush()
	assert.Equal(t, 0, c.Len())
}

func TestGetOrFetch_MissFetchesAndStores(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	calls := 0
	fetch := func(context.Context) (any, error) {
		calls++
		return "fresh", nil
	}

	v, err := c.GetOrFetch(context.Background(), "k", 0, []string{"type:products"}, fetch)
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)

	v, err = c.GetOrFetch(context.Background(), "k", 0, nil, fetch)
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.Equal(t, 1, calls)
}

func TestGetOrFetch_ErrorNotCached(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	boom := errors.New("remote down")
	calls := 0

	fetch := func(context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return "recovered", nil
	}

	_, err := c.GetOrFetch(context.Background(), "k", 0, nil, fetch)
	assert.ErrorIs(t, err, boom)

	v, err := c.GetOrFetch(context.Background(), "k", 0, nil, fetch)
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
}

func TestGetOrFetch_RefetchesAfterExpiry(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	calls := 0
	fetch := func(context.Context) (any, error) {
		calls++
		return calls, nil
	}

	v, err := c.GetOrFetch(context.Background(), "k", 0, nil, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clock.Advance(2 * time.Minute)
	v, err = c.GetOrFetch(context.Background(), "k", 0, nil, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}
