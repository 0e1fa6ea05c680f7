package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
	"github.com/spbarathg/callsbotonchain-sub000/internal/metrics"
)

// Breaker is the daily circuit breaker. It trips on a daily loss beyond the
// bankroll fraction or on a run of consecutive losses, and resets at the
// next UTC day boundary.
type Breaker struct {
	cfg     config.RiskConfig
	metrics *metrics.Recorder

	mu                sync.Mutex
	date              string // UTC day the counters belong to
	dailyPnLUSD       float64
	consecutiveLosses int
	tripped           bool
	tripReason        string

	now func() time.Time
}

func NewBreaker(cfg config.RiskConfig, rec *metrics.Recorder) *Breaker {
	b := &Breaker{cfg: cfg, metrics: rec, now: time.Now}
	b.date = dayKey(b.now())
	return b
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// RecordTrade folds one realized trade into the breaker state.
func (b *Breaker) RecordTrade(pnlUSD float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollLocked()

	b.dailyPnLUSD += pnlUSD
	if pnlUSD < 0 {
		b.consecutiveLosses++
	} else {
		b.consecutiveLosses = 0
	}

	if b.tripped {
		return
	}

	lossFloor := -b.cfg.BankrollUSD * b.cfg.MaxDailyLossPct
	switch {
	case b.dailyPnLUSD < lossFloor:
		b.tripLocked("daily loss limit")
	case b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses:
		b.tripLocked("consecutive losses")
	}
}

func (b *Breaker) tripLocked(reason string) {
	b.tripped = true
	b.tripReason = reason
	if b.metrics != nil {
		b.metrics.BreakerTripped()
	}
	log.Warn().
		Str("reason", reason).
		Float64("daily_pnl_usd", b.dailyPnLUSD).
		Int("consecutive_losses", b.consecutiveLosses).
		Msg("risk: circuit breaker tripped")
}

// rollLocked resets counters when the UTC day changed.
func (b *Breaker) rollLocked() {
	today := dayKey(b.now())
	if today == b.date {
		return
	}
	if b.tripped {
		log.Info().Str("date", today).Msg("risk: circuit breaker reset at day boundary")
	}
	b.date = today
	b.dailyPnLUSD = 0
	b.consecutiveLosses = 0
	b.tripped = false
	b.tripReason = ""
}

// Tripped reports whether trading is currently blocked, rolling the day first.
func (b *Breaker) Tripped() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	return b.tripped, b.tripReason
}

// Snapshot returns the current counters for status surfaces.
func (b *Breaker) Snapshot() (date string, dailyPnLUSD float64, consecutiveLosses int, tripped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	return b.date, b.dailyPnLUSD, b.consecutiveLosses, b.tripped
}
