package cache

import (
	"sync"
	"time"
)

// TTLCache is a small read-heavy cache with per-entry expiry. The clock is
// injectable so expiry behavior can be tested deterministically.
type TTLCache[K comparable, V any] struct {
	mu  sync.RWMutex
	m   map[K]entry[V]
	ttl time.Duration
	now func() time.Time
}

type entry[V any] struct {
	value    V
	storedAt time.Time
}

func NewTTLCache[K comparable, V any](ttl time.Duration) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		m:   make(map[K]entry[V]),
		ttl: ttl,
		now: time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (c *TTLCache[K, V]) WithClock(now func() time.Time) *TTLCache[K, V] {
	c.now = now
	return c
}

// Get returns the cached value for k if present and not expired.
func (c *TTLCache[K, V]) Get(k K) (V, bool) {
	c.mu.RLock()
	e, ok := c.m[k]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.storedAt) > c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores v under k, replacing any previous entry.
func (c *TTLCache[K, V]) Set(k K, v V) {
	c.mu.Lock()
	c.m[k] = entry[V]{value: v, storedAt: c.now()}
	c.mu.Unlock()
}

// Delete removes k from the cache.
func (c *TTLCache[K, V]) Delete(k K) {
	c.mu.Lock()
	delete(c.m, k)
	c.mu.Unlock()
}
