package allowance

import (
	"sync"
	"time"
)

// RulesCache caches the active rule list between classifications so a
// classification request does not hit the database. Implementations must be
// safe for concurrent use; the engine invalidates on every rule mutation.
type RulesCache interface {
	// Get returns cached rules, or nil on miss/expiry
	Get() []*Rule

	// Set stores rules in the cache
	Set(rules []*Rule)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()
}

// CacheConfig controls cache expiry. A zero TTL means entries live until
// explicitly invalidated.
type CacheConfig struct {
	TTL time.Duration
}

// DefaultCacheConfig returns the default: no TTL, invalidate on mutation
// only. Rules change rarely (admin action) relative to classification
// volume.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}

// rulesCache is the in-memory RulesCache used by the engine.
type rulesCache struct {
	rules    []*Rule
	cachedAt time.Time
	config   CacheConfig
	valid    bool
	mu       sync.RWMutex
}

// NewRulesCache creates an in-memory rules cache.
func NewRulesCache(config CacheConfig) RulesCache {
	return &rulesCache{config: config}
}

func (c *rulesCache) Get() []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.valid {
		return nil
	}
	if c.config.TTL > 0 && time.Since(c.cachedAt) > c.config.TTL {
		return nil
	}

	// Copy so callers cannot mutate the cached slice.
	out := make([]*Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

func (c *rulesCache) Set(rules []*Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules = make([]*Rule, len(rules))
	copy(c.rules, rules)
	c.cachedAt = time.Now()
	c.valid = true
}

func (c *rulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.valid = false
	c.rules = nil
}
