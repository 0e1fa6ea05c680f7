package broker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// rateLimiter is a single-process token bucket with a hard cooldown that
// engages after a run of consecutive 429 responses. The mutex guards token
// accounting only; callers sleep outside the lock and never hold it around
// an HTTP call.
type rateLimiter struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time

	ratePerSec float64
	burst      float64

	consecutive429 int
	coolAfter      int
	coolFor        time.Duration
	coolUntil      time.Time

	now func() time.Time
}

func newRateLimiter(requestsPerMin float64, burst, coolAfter int, coolFor time.Duration) *rateLimiter {
	return &rateLimiter{
		tokens:     float64(burst),
		ratePerSec: requestsPerMin / 60,
		burst:      float64(burst),
		coolAfter:  coolAfter,
		coolFor:    coolFor,
		now:        time.Now,
	}
}

// Acquire blocks until a token is available or ctx is done. While a 429
// cooldown is active it fails fast with ErrRateLimited instead of queueing.
func (r *rateLimiter) Acquire(ctx context.Context) error {
	for {
		wait, err := r.reserve()
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reserve refills the bucket and either takes a token or returns how long
// the caller should sleep before trying again.
func (r *rateLimiter) reserve() (time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Before(r.coolUntil) {
		return 0, ErrRateLimited
	}

	if !r.last.IsZero() {
		r.tokens += now.Sub(r.last).Seconds() * r.ratePerSec
		if r.tokens > r.burst {
			r.tokens = r.burst
		}
	}
	r.last = now

	if r.tokens >= 1 {
		r.tokens--
		return 0, nil
	}

	deficit := 1 - r.tokens
	return time.Duration(deficit / r.ratePerSec * float64(time.Second)), nil
}

// Record429 counts a rate-limit response; a run of them engages the hard
// cooldown during which Acquire short-circuits.
func (r *rateLimiter) Record429() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consecutive429++
	if r.consecutive429 >= r.coolAfter && r.now().After(r.coolUntil) {
		r.coolUntil = r.now().Add(r.coolFor)
		log.Warn().
			Int("consecutive_429", r.consecutive429).
			Dur("cooldown", r.coolFor).
			Msg("broker: hard rate-limit cooldown engaged")
	}
}

// RecordSuccess resets the consecutive-429 run.
func (r *rateLimiter) RecordSuccess() {
	r.mu.Lock()
	r.consecutive429 = 0
	r.mu.Unlock()
}

// Cooling reports whether the hard cooldown is active.
func (r *rateLimiter) Cooling() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Before(r.coolUntil)
}
