package rules

import "time"

// RulesCache holds a snapshot of the ordered active rule list so EvaluateAll
// does not go back to the store on every cart
type RulesCache interface {
	// Get returns the cached rules, or nil on a miss or after expiry
	Get() []*Rule

	// Set replaces the snapshot
	Set(rules []*Rule)

	// Generation identifies the current snapshot epoch; Invalidate advances it
	Generation() uint64

	// SetIfCurrent stores rules only if no Invalidate happened since generation
	// was read, and reports whether it did
	SetIfCurrent(rules []*Rule, generation uint64) bool

	// Invalidate drops the snapshot so the next Get misses
	Invalidate()

	// IsValid reports whether a Get would hit
	IsValid() bool

	// Stats returns hit and miss counts since creation
	Stats() CacheStats
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the lifetime of a snapshot.
	// Zero means the snapshot lives until it is invalidated.
	TTL time.Duration
}

// CacheStats counts cache lookups
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// DefaultCacheConfig invalidates only on rule mutations
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}
