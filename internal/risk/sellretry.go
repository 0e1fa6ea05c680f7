package risk

import (
	"sync"
	"time"
)

// sellRetrySchedule is the delay before each retry attempt, indexed by the
// number of failures already recorded. Past the table the last delay repeats.
var sellRetrySchedule = []time.Duration{
	0,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	300 * time.Second,
}

// SellRetry tracks per-position sell failures and schedules backoff retries.
// Hitting the force-close threshold means the tokens are considered rugged
// or illiquid and the position is closed in the book only.
type SellRetry struct {
	maxFailures int

	mu    sync.Mutex
	state map[string]*sellRetryState // keyed by position ID
	now   func() time.Time
}

type sellRetryState struct {
	failures    int
	lastAttempt time.Time
}

func NewSellRetry(maxFailures int) *SellRetry {
	return &SellRetry{
		maxFailures: maxFailures,
		state:       make(map[string]*sellRetryState),
		now:         time.Now,
	}
}

// Delay returns the scheduled backoff for a given failure count.
func Delay(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	if failures >= len(sellRetrySchedule) {
		return sellRetrySchedule[len(sellRetrySchedule)-1]
	}
	return sellRetrySchedule[failures]
}

// ShouldAttempt reports whether a sell for the position may be tried now,
// per the backoff schedule. A position with no failures may always sell.
func (r *SellRetry) ShouldAttempt(positionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.state[positionID]
	if !ok {
		return true
	}
	return r.now().Sub(st.lastAttempt) >= Delay(st.failures)
}

// RecordFailure increments the failure count and reports whether the
// force-close threshold has been reached.
func (r *SellRetry) RecordFailure(positionID string) (failures int, forceClose bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.state[positionID]
	if !ok {
		st = &sellRetryState{}
		r.state[positionID] = st
	}
	st.failures++
	st.lastAttempt = r.now()
	return st.failures, st.failures >= r.maxFailures
}

// RecordSuccess clears the failure state after a completed sell.
func (r *SellRetry) RecordSuccess(positionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state, positionID)
}

// Failures returns the current consecutive failure count.
func (r *SellRetry) Failures(positionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.state[positionID]; ok {
		return st.failures
	}
	return 0
}
