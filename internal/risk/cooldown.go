package risk

import (
	"sync"
	"time"
)

// RebuyCooldown blocks buy→sell→rebuy loops: after any sell of a mint, a new
// open for that mint is refused until the cooldown elapses.
type RebuyCooldown struct {
	mu       sync.Mutex
	cooldown time.Duration
	soldAt   map[string]time.Time
	now      func() time.Time
}

func NewRebuyCooldown(cooldown time.Duration) *RebuyCooldown {
	return &RebuyCooldown{
		cooldown: cooldown,
		soldAt:   make(map[string]time.Time),
		now:      time.Now,
	}
}

// RecordSell marks the mint as just sold.
func (c *RebuyCooldown) RecordSell(mint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.soldAt[mint] = c.now()
}

// Blocked reports whether mint is still cooling down, and for how long.
func (c *RebuyCooldown) Blocked(mint string) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sold, ok := c.soldAt[mint]
	if !ok {
		return false, 0
	}
	elapsed := c.now().Sub(sold)
	if elapsed >= c.cooldown {
		delete(c.soldAt, mint)
		return false, 0
	}
	return true, c.cooldown - elapsed
}
