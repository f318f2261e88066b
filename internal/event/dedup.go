package event

import (
	"sync"
	"time"
)

// DedupCache is a time-windowed membership test used to drop repeated
// events. It is bounded: when more than maxSize keys are live, the
// oldest recorded key is evicted (approximate LRU; boundedness is the
// contract, not exactness).
type DedupCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]time.Time
	order   []string
}

func NewDedupCache(ttl time.Duration, maxSize int) *DedupCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DedupCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: map[string]time.Time{},
	}
}

// IsDuplicate reports whether key was seen within the TTL window and
// records it otherwise. Empty keys are never deduplicated.
func (c *DedupCache) IsDuplicate(key string, now time.Time) bool {
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if seen, ok := c.entries[key]; ok && now.Sub(seen) < c.ttl {
		return true
	}
	c.entries[key] = now
	c.order = append(c.order, key)
	// Re-recording an expired key leaves its stale occurrence behind,
	// so order can outgrow entries. Compact before it gets far.
	if len(c.order) > 2*c.maxSize {
		c.compactOrder()
	}
	for len(c.entries) > c.maxSize && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		// A re-recorded key appears twice in order; skipping the key
		// just inserted keeps it alive. Anything else goes.
		if oldest != key {
			delete(c.entries, oldest)
		}
	}
	return false
}

// compactOrder rewrites order down to one occurrence per live key,
// keeping the newest position of each. Must hold c.mu.
func (c *DedupCache) compactOrder() {
	kept := make(map[string]bool, len(c.entries))
	compact := make([]string, 0, len(c.entries))
	for i := len(c.order) - 1; i >= 0; i-- {
		key := c.order[i]
		if _, live := c.entries[key]; !live || kept[key] {
			continue
		}
		kept[key] = true
		compact = append(compact, key)
	}
	for i, j := 0, len(compact)-1; i < j; i, j = i+1, j-1 {
		compact[i], compact[j] = compact[j], compact[i]
	}
	c.order = compact
}

func (c *DedupCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]time.Time{}
	c.order = nil
}
