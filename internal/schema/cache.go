package schema

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CachedValidator wraps Validate with a TTL-bounded result cache keyed by
// (schema hash, parameter hash, tier). Because Validate is pure, caching is
// observably transparent; it only saves repeated schema walks when the model
// re-issues identical calls.
type CachedValidator struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group
	maxSize int
	ttl     time.Duration
}

type cacheEntry struct {
	result   Result
	cachedAt time.Time
}

// NewCachedValidator creates a validator cache with the given capacity and TTL.
func NewCachedValidator(maxSize int, ttl time.Duration) *CachedValidator {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedValidator{
		entries: make(map[string]cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Validate returns the cached result for (s, tier, params) or computes and
// stores it. Concurrent identical lookups are coalesced.
func (c *CachedValidator) Validate(s *Schema, tier Tier, params map[string]any) Result {
	key := fmt.Sprintf("%s|%s|%d", s.Hash(), HashParams(params), tier)

	c.mu.RLock()
	if entry, ok := c.entries[key]; ok && time.Since(entry.cachedAt) < c.ttl {
		c.mu.RUnlock()
		return entry.result
	}
	c.mu.RUnlock()

	v, _, _ := c.group.Do(key, func() (any, error) {
		result := Validate(s, tier, params)
		c.store(key, result)
		return result, nil
	})
	return v.(Result)
}

func (c *CachedValidator) store(key string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		c.evictExpiredLocked()
	}
	if len(c.entries) >= c.maxSize {
		// Still full after expiry sweep: drop everything rather than
		// tracking recency for a cache this cheap to rebuild.
		c.entries = make(map[string]cacheEntry)
	}
	c.entries[key] = cacheEntry{result: result, cachedAt: time.Now()}
}

func (c *CachedValidator) evictExpiredLocked() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.cachedAt) >= c.ttl {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of cached entries.
func (c *CachedValidator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
