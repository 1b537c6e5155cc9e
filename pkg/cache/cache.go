package cache

import (
	"sync"
	"time"
)

// Cache is a small in-process TTL cache for read-only, company-scoped data
// (governance configs, knowledge entries). Eviction policy: entries expire a fixed
// TTL after the write that stored them; expired entries are dropped lazily on read
// and swept by a background ticker. There is no size bound because the key space is
// bounded by the number of configured companies.
type Cache[V any] struct {
	ttl     time.Duration
	mutex   sync.RWMutex
	entries map[string]entry[V]
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func New[V any](ttl time.Duration, sweepInterval time.Duration) *Cache[V] {
	c := &Cache[V]{
		ttl:     ttl,
		entries: make(map[string]entry[V]),
	}

	if sweepInterval > 0 {
		go c.sweep(sweepInterval)
	}

	return c
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mutex.RLock()
	e, ok := c.entries[key]
	c.mutex.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}

	if time.Now().After(e.expiresAt) {
		c.mutex.Lock()
		delete(c.entries, key)
		c.mutex.Unlock()

		var zero V
		return zero, false
	}

	return e.value, true
}

func (c *Cache[V]) Set(key string, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = entry[V]{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *Cache[V]) Invalidate(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, key)
}

func (c *Cache[V]) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

func (c *Cache[V]) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		c.mutex.Lock()
		for key, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, key)
			}
		}
		c.mutex.Unlock()
	}
}
