// Package snapshot is the in-process tier in front of the shared counter store.
// A snapshot younger than the TTL is served in place of a store read.
package snapshot

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"glaze/internal/ratelimit/models"
)

const defaultSize = 64

// Cache holds counter snapshots keyed by store key.
type Cache struct {
	lru *expirable.LRU[string, models.CounterSnapshot]
	ttl time.Duration
	now func() time.Time
}

type Option func(*Cache)

// WithClock overrides the time source used to age snapshots.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New returns a cache whose entries are authoritative for ttl. A zero ttl
// disables caching so every read goes to the store.
func New(ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if ttl > 0 {
		c.lru = expirable.NewLRU[string, models.CounterSnapshot](defaultSize, nil, ttl)
	}
	return c
}

// Get returns the snapshot for key if it is younger than the TTL.
func (c *Cache) Get(key string) (models.CounterSnapshot, bool) {
	if c.lru == nil {
		return models.CounterSnapshot{}, false
	}
	snap, ok := c.lru.Get(key)
	if !ok {
		return models.CounterSnapshot{}, false
	}
	if c.now().Sub(snap.Timestamp) >= c.ttl {
		c.lru.Remove(key)
		return models.CounterSnapshot{}, false
	}
	return snap, true
}

// Put records value as the current reading for key.
func (c *Cache) Put(key string, value int64) models.CounterSnapshot {
	snap := models.CounterSnapshot{Value: value, Timestamp: c.now()}
	if c.lru != nil {
		c.lru.Add(key, snap)
	}
	return snap
}

// Invalidate drops the snapshot for key.
func (c *Cache) Invalidate(key string) {
	if c.lru != nil {
		c.lru.Remove(key)
	}
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}
