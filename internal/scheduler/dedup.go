package scheduler

import (
	"sync"
	"time"

	"github.com/sendloop/wa-gateway/pkg/clock"
)

// dedupCache is a bounded TTL set of recently enqueued occurrence keys.
// It only short-circuits redundant queue calls within one process; the
// queue's reservation key is the correctness guarantee.
type dedupCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	max     int
	clock   clock.Clock
}

func newDedupCache(ttl time.Duration, max int, clk clock.Clock) *dedupCache {
	if clk == nil {
		clk = clock.System()
	}
	if max <= 0 {
		max = 4096
	}
	return &dedupCache{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		max:     max,
		clock:   clk,
	}
}

// Seen reports whether key fired within the TTL, recording it if not.
func (c *dedupCache) Seen(key string) bool {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if exp, ok := c.entries[key]; ok && now.Before(exp) {
		return true
	}

	if len(c.entries) >= c.max {
		c.evict(now)
	}
	c.entries[key] = now.Add(c.ttl)
	return false
}

// evict drops expired entries; if nothing expired, drops the soonest to
// expire so the cache stays bounded.
func (c *dedupCache) evict(now time.Time) {
	var (
		oldestKey string
		oldestExp time.Time
	)
	for k, exp := range c.entries {
		if !now.Before(exp) {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || exp.Before(oldestExp) {
			oldestKey, oldestExp = k, exp
		}
	}
	if len(c.entries) >= c.max && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *dedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
