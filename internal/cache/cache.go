// Package cache memoizes expensive upstream calls. Expiry is lazy: the TTL
// is supplied by the caller on every read, so different call sites can tune
// freshness for the same entry. There is no background sweep; the keyspace
// is bounded by sku-set x page parameters.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	data      interface{}
	timestamp time.Time
}

type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the stored value while its age is below ttl. An entry whose
// age has reached ttl is evicted and nil is returned.
func (c *Cache) Get(key string, ttl time.Duration) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil
	}

	if c.now().Sub(e.timestamp) >= ttl {
		delete(c.entries, key)
		return nil
	}

	return e.data
}

// Set overwrites unconditionally and stamps the current time.
func (c *Cache) Set(key string, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{data: data, timestamp: c.now()}
}

// Has reports whether a live entry exists, with the same expiry semantics
// as Get.
func (c *Cache) Has(key string, ttl time.Duration) bool {
	return c.Get(key, ttl) != nil
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// SetClock replaces the time source. Tests use it to drive expiry without
// sleeping.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = now
}
