package rules

import (
	"sync"
	"sync/atomic"
	"time"
)

// InMemoryRulesCache is the in-process RulesCache.
// Safe for concurrent use.
type InMemoryRulesCache struct {
	rules    []*Rule
	cachedAt time.Time
	isValid  bool
	gen      uint64
	config   CacheConfig
	now      func() time.Time
	hits     atomic.Int64
	misses   atomic.Int64
	mu       sync.RWMutex
}

// NewInMemoryRulesCache creates an empty cache
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{
		config: config,
		now:    time.Now,
	}
}

// Get returns a copy of the snapshot, or nil when invalid or expired
func (c *InMemoryRulesCache) Get() []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.validLocked() {
		c.misses.Add(1)
		return nil
	}

	c.hits.Add(1)
	rulesCopy := make([]*Rule, len(c.rules))
	copy(rulesCopy, c.rules)
	return rulesCopy
}

// Set stores a copy of rules
func (c *InMemoryRulesCache) Set(rules []*Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setLocked(rules)
}

func (c *InMemoryRulesCache) setLocked(rules []*Rule) {
	c.rules = make([]*Rule, len(rules))
	copy(c.rules, rules)
	c.cachedAt = c.now()
	c.isValid = true
}

// Generation returns the number of invalidations so far
func (c *InMemoryRulesCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.gen
}

// SetIfCurrent stores a copy of rules unless the cache was invalidated after generation
func (c *InMemoryRulesCache) SetIfCurrent(rules []*Rule, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.gen {
		return false
	}
	c.setLocked(rules)
	return true
}

// Invalidate clears the cache and starts a new generation
func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isValid = false
	c.rules = nil
	c.gen++
}

// IsValid reports whether the snapshot is present and not expired
func (c *InMemoryRulesCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.validLocked()
}

// Stats returns lookup counters
func (c *InMemoryRulesCache) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}

func (c *InMemoryRulesCache) validLocked() bool {
	if !c.isValid {
		return false
	}
	if c.config.TTL > 0 && c.now().Sub(c.cachedAt) > c.config.TTL {
		return false
	}
	return true
}
