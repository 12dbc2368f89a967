package appointment

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hackgods/pms-scheduling/internal/schedule"
)

// RuleCache keeps recently read rule sets for the availability read path. Booking never
// reads through it. A nil *RuleCache is a disabled cache.
//
// Every provider has a generation that Invalidate bumps. A reader that missed hands the
// generation it saw back to Add, so rules loaded before a replacement committed can not
// land in the cache after that replacement invalidated it.
type RuleCache struct {
	mu   sync.Mutex
	lru  *expirable.LRU[int64, []schedule.Rule]
	gens map[int64]uint64
}

// NewRuleCache returns nil when size is not positive.
func NewRuleCache(size int, ttl time.Duration) *RuleCache {
	if size <= 0 {
		return nil
	}
	return &RuleCache{
		lru:  expirable.NewLRU[int64, []schedule.Rule](size, nil, ttl),
		gens: make(map[int64]uint64),
	}
}

// Get returns the cached rules, and the provider's current generation for a later Add.
func (c *RuleCache) Get(providerID int64) ([]schedule.Rule, uint64, bool) {
	if c == nil {
		return nil, 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rules, ok := c.lru.Get(providerID)
	return rules, c.gens[providerID], ok
}

// Add stores rules read at generation gen. It is a no-op when the provider was
// invalidated since.
func (c *RuleCache) Add(providerID int64, gen uint64, rules []schedule.Rule) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[providerID] != gen {
		return
	}
	c.lru.Add(providerID, rules)
}

func (c *RuleCache) Invalidate(providerID int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[providerID]++
	c.lru.Remove(providerID)
}
