package autoentry

import (
	"sync"
	"time"
)

// Cooldown is the per-strike-key entry throttle (10 seconds).
const Cooldown = 10 * time.Second

// strikeKey identifies one (strike, active side) entry target.
type strikeKey struct {
	strike int
	side   string
}

// cooldownMap throttles entries per strike key with compare-and-set
// semantics: Acquire atomically checks the window AND claims the slot,
// so overlapping scans cannot both pass for the same key.
type cooldownMap struct {
	mu   sync.Mutex
	last map[strikeKey]time.Time
}

func newCooldownMap() *cooldownMap {
	return &cooldownMap{last: make(map[strikeKey]time.Time)}
}

// Acquire claims the key if no claim exists within the cooldown window.
// The claim is recorded before the caller proceeds, which is what makes
// rapid-fire duplicates impossible even when scans overlap.
func (c *cooldownMap) Acquire(key strikeKey, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.last[key]; ok && now.Sub(last) < Cooldown {
		return false
	}
	c.last[key] = now
	return true
}

// Release reverses a claim after an emission failure so retries are
// possible on the next scan.
func (c *cooldownMap) Release(key strikeKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, key)
}
