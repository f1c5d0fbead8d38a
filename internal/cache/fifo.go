// Package cache provides the process-local caches owned by individual services.
package cache

import (
	"container/list"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// FIFO is a TTL cache bounded to maxEntries with first-in-first-out eviction.
// Expiry is handled by go-cache; the insertion list only enforces the bound.
type FIFO[V any] struct {
	mu         sync.Mutex
	items      *gocache.Cache
	order      *list.List
	index      map[string]*list.Element
	maxEntries int
}

// NewFIFO creates a cache whose entries expire after ttl. A maxEntries of zero
// or less disables the size bound.
func NewFIFO[V any](ttl time.Duration, maxEntries int) *FIFO[V] {
	cleanup := 10 * time.Minute
	if ttl > 0 && ttl < cleanup {
		cleanup = ttl
	}
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &FIFO[V]{
		items:      gocache.New(ttl, cleanup),
		order:      list.New(),
		index:      make(map[string]*list.Element),
		maxEntries: maxEntries,
	}
}

// Get returns the live value for key.
func (c *FIFO[V]) Get(key string) (V, bool) {
	var zero V
	raw, ok := c.items.Get(key)
	if !ok {
		c.mu.Lock()
		// A Set may have landed since the lookup; keep its order entry.
		if _, ok := c.items.Get(key); !ok {
			c.forget(key)
		}
		c.mu.Unlock()
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return v, true
}

// Set stores value under key with the default TTL. Re-setting a key refreshes
// both its TTL and its position in the eviction order.
func (c *FIFO[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.forget(key)
	c.items.Set(key, value, gocache.DefaultExpiration)
	c.index[key] = c.order.PushBack(key)

	for c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		oldest := c.order.Front()
		oldestKey := oldest.Value.(string)
		c.order.Remove(oldest)
		delete(c.index, oldestKey)
		c.items.Delete(oldestKey)
	}
}

// Delete removes key.
func (c *FIFO[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forget(key)
	c.items.Delete(key)
}

// Len returns the number of tracked keys, including ones expired but not yet collected.
func (c *FIFO[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Flush drops every entry.
func (c *FIFO[V]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Flush()
	c.order.Init()
	c.index = make(map[string]*list.Element)
}

// forget removes key from the eviction order. Caller holds mu.
func (c *FIFO[V]) forget(key string) {
	if el, ok := c.index[key]; ok {
		c.order.Remove(el)
		delete(c.index, key)
	}
}
