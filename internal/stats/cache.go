package stats

import (
	"sync"
	"time"
)

// ttlCache is a process-local TTL cache for normalized stats. Expired entries
// are dropped lazily on Get and swept periodically by the provider loop.
type ttlCache struct {
	mu   sync.RWMutex
	ttl  time.Duration
	data map[string]cacheEntry
}

type cacheEntry struct {
	stats    TokenStats
	expireAt time.Time
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{
		ttl:  ttl,
		data: make(map[string]cacheEntry),
	}
}

func (c *ttlCache) Get(mint string) (TokenStats, bool) {
	c.mu.RLock()
	e, ok := c.data[mint]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expireAt) {
		if ok {
			c.mu.Lock()
			delete(c.data, mint)
			c.mu.Unlock()
		}
		return TokenStats{}, false
	}
	return e.stats, true
}

func (c *ttlCache) Put(mint string, s TokenStats) {
	c.mu.Lock()
	c.data[mint] = cacheEntry{stats: s, expireAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *ttlCache) Delete(mint string) {
	c.mu.Lock()
	delete(c.data, mint)
	c.mu.Unlock()
}

// Sweep removes expired entries and returns how many were dropped.
func (c *ttlCache) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for k, e := range c.data {
		if now.After(e.expireAt) {
			delete(c.data, k)
			dropped++
		}
	}
	return dropped
}

func (c *ttlCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
