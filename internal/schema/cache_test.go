package schema

import (
	"sync"
	"testing"
	"time"
)

func cacheTestSchema() *Schema {
	return &Schema{Fields: map[string]Field{
		"path": {Type: TypeString, Required: true, MinLen: 1, IsPath: true},
	}}
}

func TestCachedValidatorMatchesDirectValidate(t *testing.T) {
	s := cacheTestSchema()
	c := NewCachedValidator(10, time.Minute)
	params := map[string]any{"path": "notes.txt"}

	direct := Validate(s, TierNormal, params)
	cached := c.Validate(s, TierNormal, params)
	if cached.IsValid != direct.IsValid || len(cached.Errors) != len(direct.Errors) {
		t.Fatalf("cached result differs: %+v vs %+v", cached, direct)
	}

	// Second lookup is served from the cache and must be identical.
	again := c.Validate(s, TierNormal, params)
	if again.IsValid != direct.IsValid {
		t.Errorf("second lookup differs: %+v", again)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 cache entry, got %d", c.Len())
	}
}

func TestCachedValidatorKeysOnTier(t *testing.T) {
	s := cacheTestSchema()
	c := NewCachedValidator(10, time.Minute)
	params := map[string]any{"path": "/etc/hosts"}

	normal := c.Validate(s, TierNormal, params)
	critical := c.Validate(s, TierCritical, params)
	if normal.IsValid == critical.IsValid {
		t.Fatalf("tiers should disagree on an absolute path: normal=%v critical=%v", normal.IsValid, critical.IsValid)
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 cache entries, got %d", c.Len())
	}
}

func TestCachedValidatorExpiry(t *testing.T) {
	s := cacheTestSchema()
	c := NewCachedValidator(10, 10*time.Millisecond)
	params := map[string]any{"path": "a.txt"}

	c.Validate(s, TierNormal, params)
	time.Sleep(20 * time.Millisecond)
	result := c.Validate(s, TierNormal, params)
	if !result.IsValid {
		t.Errorf("recomputed result should be valid: %+v", result)
	}
}

func TestCachedValidatorEvictsWhenFull(t *testing.T) {
	s := cacheTestSchema()
	c := NewCachedValidator(4, time.Minute)
	paths := []string{"a", "b", "c", "d", "e", "f"}
	for _, p := range paths {
		c.Validate(s, TierNormal, map[string]any{"path": p})
	}
	if c.Len() > 4 {
		t.Errorf("cache exceeded capacity: %d entries", c.Len())
	}
}

func TestCachedValidatorConcurrentLookups(t *testing.T) {
	s := cacheTestSchema()
	c := NewCachedValidator(100, time.Minute)
	params := map[string]any{"path": "shared.txt"}

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if result := c.Validate(s, TierNormal, params); !result.IsValid {
				t.Errorf("unexpected invalid result: %+v", result)
			}
		}()
	}
	wg.Wait()
	if c.Len() != 1 {
		t.Errorf("identical lookups should share one entry, got %d", c.Len())
	}
}
