// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache provides a bounded LRU cache with per-entry TTL, used
// process-wide for embedding vectors.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// entry wraps a cached value with its insertion timestamp.
type entry[V any] struct {
	value    V
	storedAt time.Time
}

// TTLCache is a bounded LRU map with per-entry expiry.
//
// # Description
//
// Expiry is checked lazily on Get; CleanupExpired sweeps the whole
// structure. On overflow exactly one entry (the least recently used) is
// evicted, never a batch. The recency order lives in a simplelru.LRU;
// TTL bookkeeping is layered on top via per-entry timestamps.
//
// # Thread Safety
//
// All operations take the cache mutex; the cache is safe for concurrent
// use by request handlers and the background janitor.
type TTLCache[V any] struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, entry[V]]
	capacity int
	ttl      time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// New creates a TTLCache with the given capacity and per-entry TTL.
//
// # Inputs
//
//   - capacity: Maximum entries held; must be > 0.
//   - ttl: Per-entry lifetime measured from the last Put.
//
// # Outputs
//
//   - *TTLCache[V]: Ready to use.
//   - error: Non-nil when capacity is not positive.
func New[V any](capacity int, ttl time.Duration) (*TTLCache[V], error) {
	lru, err := simplelru.NewLRU[string, entry[V]](capacity, nil)
	if err != nil {
		return nil, err
	}
	return &TTLCache[V]{
		lru:      lru,
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Get returns the cached value and refreshes its recency.
//
// An absent or expired key returns the zero value and false; expired
// entries are removed on access.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		c.lru.Remove(key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put inserts or updates a value, stamping it with the current time.
//
// When the insert pushes the cache past capacity, the least recently
// used entry is evicted by the underlying LRU.
func (c *TTLCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry[V]{value: value, storedAt: c.now()})
}

// CleanupExpired sweeps every entry and removes the expired ones.
//
// # Outputs
//
//   - int: Number of entries removed.
func (c *TTLCache[V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && now.Sub(e.storedAt) > c.ttl {
			c.lru.Remove(key)
			removed++
		}
	}
	return removed
}

// Clear empties the cache.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the current entry count, including not-yet-swept expired entries.
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Capacity returns the configured maximum entry count.
func (c *TTLCache[V]) Capacity() int { return c.capacity }

// TTL returns the configured per-entry lifetime.
func (c *TTLCache[V]) TTL() time.Duration { return c.ttl }

// SetClock overrides the time source. Test hook.
func (c *TTLCache[V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
