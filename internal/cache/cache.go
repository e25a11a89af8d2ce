// Package cache implements the tagged, TTL-bound cache that sits in front
// of remote calls. Entries are keyed by deterministic signatures and carry
// tags (entity type, identity) used for write-triggered invalidation.
package cache

import (
	"context"
	"sync"
	"time"
)

// entry holds one cached payload with its expiry bookkeeping.
type entry struct {
	payload   any
	tags      []string
	createdAt time.Time
	ttl       time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) >= e.ttl
}

// Cache is safe for concurrent use. Mutation replaces entries atomically
// under the lock; readers never observe partial entries.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	byTag      map[string]map[string]struct{}
	defaultTTL time.Duration
	now        func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock substitutes the time source, for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache whose entries default to the given time-to-live.
func New(defaultTTL time.Duration, opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]*entry),
		byTag:      make(map[string]map[string]struct{}),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached payload for a signature. An entry past its
// time-to-live is treated as absent and evicted.
func (c *Cache) Get(sig string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[sig]
	now := c.now()
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if e.expired(now) {
		c.mu.Lock()
		// Re-check under the write lock; a fresher entry may have
		// replaced the expired one.
		if cur, still := c.entries[sig]; still && cur.expired(c.now()) {
			c.remove(sig)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.payload, true
}

// Put stores a payload under a signature. A zero ttl falls back to the
// cache default; tags associate the entry with invalidation groups.
func (c *Cache) Put(sig string, payload any, ttl time.Duration, tags ...string) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.remove(sig)
	c.entries[sig] = &entry{
		payload:   payload,
		tags:      append([]string(nil), tags...),
		createdAt: c.now(),
		ttl:       ttl,
	}
	for _, tag := range tags {
		set, ok := c.byTag[tag]
		if !ok {
			set = make(map[string]struct{})
			c.byTag[tag] = set
		}
		set[sig] = struct{}{}
	}
}

// Invalidate removes the entry with the given signature, or every entry
// sharing the given tag. It returns the number of entries removed.
func (c *Cache) Invalidate(tagOrSig string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if set, ok := c.byTag[tagOrSig]; ok {
		removed := 0
		for sig := range set {
			c.remove(sig)
			removed++
		}
		return removed
	}

	if _, ok := c.entries[tagOrSig]; ok {
		c.remove(tagOrSig)
		return 1
	}
	return 0
}

// Flush drops every entry.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.byTag = make(map[string]map[string]struct{})
}

// Len returns the number of live entries, counting expired ones out.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	now := c.now()
	for _, e := range c.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// remove must be called with the write lock held.
func (c *Cache) remove(sig string) {
	e, ok := c.entries[sig]
	if !ok {
		return
	}
	delete(c.entries, sig)
	for _, tag := range e.tags {
		if set, ok := c.byTag[tag]; ok {
			delete(set, sig)
			if len(set) == 0 {
				delete(c.byTag, tag)
			}
		}
	}
}

// GetOrFetch is the read-through path: it returns the cached payload when
// fresh, otherwise invokes fetch, stores the result, and returns it.
// Concurrent misses for the same signature are not coalesced; duplicate
// fetches are tolerated and the last write wins.
func (c *Cache) GetOrFetch(ctx context.Context, sig string, ttl time.Duration, tags []string, fetch func(ctx context.Context) (any, error)) (any, error) {
	if payload, ok := c.Get(sig); ok {
		return payload, nil
	}

	payload, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.Put(sig, payload, ttl, tags...)
	return payload, nil
}
