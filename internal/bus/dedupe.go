package bus

import (
	"sync"
	"time"
)

// Deduper reports whether an inbound message key was already seen.
// The first call for a key records it and returns false.
type Deduper interface {
	IsDuplicate(key string) bool
}

// DedupeCache is an in-process Deduper with a TTL and a size cap.
type DedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]time.Time
	now     func() time.Time
}

// NewDedupeCache creates a cache that remembers keys for ttl, holding at most max entries.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	return &DedupeCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (c *DedupeCache) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if seen, ok := c.entries[key]; ok && now.Sub(seen) < c.ttl {
		return true
	}
	if len(c.entries) >= c.max {
		c.prune(now)
	}
	c.entries[key] = now
	return false
}

// prune drops expired entries, then the oldest ones until there is room.
func (c *DedupeCache) prune(now time.Time) {
	for k, t := range c.entries {
		if now.Sub(t) >= c.ttl {
			delete(c.entries, k)
		}
	}
	for len(c.entries) >= c.max {
		var oldestKey string
		var oldest time.Time
		for k, t := range c.entries {
			if oldestKey == "" || t.Before(oldest) {
				oldestKey, oldest = k, t
			}
		}
		delete(c.entries, oldestKey)
	}
}

// Len returns the number of remembered keys.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
