package allowance

import (
	"testing"
	"time"
)

func TestRulesCacheMissBeforeSet(t *testing.T) {
	cache := NewRulesCache(DefaultCacheConfig())

	if got := cache.Get(); got != nil {
		t.Errorf("Get() before Set() = %v, want nil", got)
	}
}

func TestRulesCacheSetAndGet(t *testing.T) {
	cache := NewRulesCache(DefaultCacheConfig())

	rules := []*Rule{validRule()}
	cache.Set(rules)

	got := cache.Get()
	if len(got) != 1 || got[0].ID != rules[0].ID {
		t.Errorf("Get() = %v, want the cached rule", got)
	}
}

func TestRulesCacheEmptySetIsAHit(t *testing.T) {
	cache := NewRulesCache(DefaultCacheConfig())

	cache.Set(nil)

	// An empty rule set is still cached state: a non-nil empty slice, so
	// the engine does not refetch on every classification.
	if got := cache.Get(); got == nil {
		t.Error("Get() after Set(nil) should return an empty slice, not a miss")
	}
}

func TestRulesCacheInvalidate(t *testing.T) {
	cache := NewRulesCache(DefaultCacheConfig())

	cache.Set([]*Rule{validRule()})
	cache.Invalidate()

	if got := cache.Get(); got != nil {
		t.Errorf("Get() after Invalidate() = %v, want nil", got)
	}
}

func TestRulesCacheTTLExpiry(t *testing.T) {
	cache := NewRulesCache(CacheConfig{TTL: time.Millisecond})

	cache.Set([]*Rule{validRule()})
	time.Sleep(5 * time.Millisecond)

	if got := cache.Get(); got != nil {
		t.Errorf("Get() after TTL expiry = %v, want nil", got)
	}
}

func TestRulesCacheReturnsCopy(t *testing.T) {
	cache := NewRulesCache(DefaultCacheConfig())

	cache.Set([]*Rule{validRule()})

	got := cache.Get()
	got[0] = nil

	again := cache.Get()
	if again[0] == nil {
		t.Error("mutating the returned slice must not affect the cache")
	}
}
