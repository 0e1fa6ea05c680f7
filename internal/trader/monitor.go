package trader

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/spbarathg/callsbotonchain-sub000/internal/broker"
	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
	"github.com/spbarathg/callsbotonchain-sub000/internal/store"
)

// minInactivitySamples guards the inactivity exit against firing right
// after a restart with a nearly empty sample window.
const minInactivitySamples = 30

func (t *Trader) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.monitorOnce(ctx)
		}
	}
}

// monitorOnce walks a snapshot of the book and checks every open position.
func (t *Trader) monitorOnce(ctx context.Context) {
	t.mu.RLock()
	snapshot := make([]*position, 0, len(t.book))
	for _, p := range t.book {
		snapshot = append(snapshot, p)
	}
	t.mu.RUnlock()

	for _, p := range snapshot {
		t.checkPosition(ctx, p)
	}
}

// checkPosition fetches the latest price, updates peak and samples, and
// executes whichever exit trigger fires first.
func (t *Trader) checkPosition(ctx context.Context, p *position) {
	price, err := t.deps.Exec.Price(ctx, p.rec.Mint)
	if err != nil {
		p.mu.Lock()
		p.priceFailures++
		failures := p.priceFailures
		p.mu.Unlock()

		log.Warn().Str("mint", p.rec.Mint).Int("failures", failures).
			Msg("trader: price fetch failed")
		if failures >= t.cfg.MaxPriceFailures {
			t.sellPosition(ctx, p, reasonEmergency, false)
		}
		return
	}

	reason, exit := t.observe(ctx, p, price)
	if exit {
		t.sellPosition(ctx, p, reason, false)
	}
}

// observe applies one price sample to the position and returns the exit
// decision for it.
func (t *Trader) observe(ctx context.Context, p *position, price decimal.Decimal) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", false
	}
	p.priceFailures = 0

	now := t.now()
	if price.GreaterThan(p.rec.PeakPrice) {
		p.rec.PeakPrice = price
		if err := t.deps.Positions.UpdatePeak(ctx, p.rec.ID, price); err != nil {
			log.Warn().Err(err).Str("mint", p.rec.Mint).Msg("trader: peak update failed")
		}
	}
	t.deps.Portfolio.SyncPrice(p.rec.Mint, price.InexactFloat64())
	p.samples = append(p.samples, priceSample{ts: now, price: price.InexactFloat64()})

	return t.evalExit(p, price.InexactFloat64(), now)
}

// evalExit runs the exit triggers in priority order: inactivity, timeout,
// hard stop, emergency stop, trailing stop. The caller holds p.mu.
func (t *Trader) evalExit(p *position, price float64, now time.Time) (string, bool) {
	entry := p.rec.EntryPrice.InexactFloat64()
	if entry <= 0 {
		return "", false
	}
	peak := p.rec.PeakPrice.InexactFloat64()
	profitPct := (price - entry) / entry * 100
	peakProfitPct := (peak - entry) / entry * 100

	rangePct, covered := p.windowRange(now, t.cfg.InactivityWindow)

	// Sustained movement at high profit suspends time-based exits.
	if profitPct >= t.cfg.MoonshotProfitPct && rangePct >= t.cfg.InactivityRangePct {
		if !p.moonshot {
			log.Info().Str("mint", p.rec.Mint).Float64("profit_pct", profitPct).
				Msg("trader: moonshot extension granted")
		}
		p.moonshot = true
	}

	if covered && rangePct < t.cfg.InactivityRangePct && profitPct < t.cfg.MoonshotProfitPct {
		return reasonInactivity, true
	}
	if !p.moonshot && now.Sub(p.rec.OpenedAt) >= t.cfg.MaxHoldTime {
		return reasonTimeout, true
	}
	if price <= entry*(1-t.cfg.StopLossPct/100) {
		return reasonStop, true
	}
	if price <= entry*(1-t.cfg.EmergencyStopPct/100) {
		return reasonEmergency, true
	}
	trail := trailFor(peakProfitPct, t.cfg.TrailTiers)
	if price <= peak*(1-trail/100) {
		return reasonTrail, true
	}
	return "", false
}

// trailFor picks the trailing-stop percent for a peak profit from the tier
// table. A ProfitPct of -1 marks the open-ended top tier.
func trailFor(peakProfitPct float64, tiers []config.TrailTier) float64 {
	for _, tier := range tiers {
		if tier.ProfitPct >= 0 && peakProfitPct <= tier.ProfitPct {
			return tier.TrailPct
		}
	}
	for _, tier := range tiers {
		if tier.ProfitPct < 0 {
			return tier.TrailPct
		}
	}
	if len(tiers) > 0 {
		return tiers[len(tiers)-1].TrailPct
	}
	return 50
}

// windowRange prunes samples to the inactivity window and returns the price
// range percent across it. covered is true once the samples span close to
// the whole window; pruning trims the exact edge, so a tick of slack is
// allowed. The caller holds p.mu.
func (p *position) windowRange(now time.Time, span time.Duration) (rangePct float64, covered bool) {
	cutoff := now.Add(-span)
	kept := p.samples[:0]
	for _, s := range p.samples {
		if !s.ts.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	p.samples = kept

	if len(p.samples) < 2 {
		return 0, false
	}

	low, high := p.samples[0].price, p.samples[0].price
	for _, s := range p.samples[1:] {
		if s.price < low {
			low = s.price
		}
		if s.price > high {
			high = s.price
		}
	}
	if low > 0 {
		rangePct = (high - low) / low * 100
	}

	covered = len(p.samples) >= minInactivitySamples &&
		now.Sub(p.samples[0].ts) >= span*9/10
	return rangePct, covered
}

// sellPosition executes a monitored exit. forRebalance keeps the portfolio
// slot occupied so the subsequent buy can swap it atomically. Returns true
// when the position ended up closed.
func (t *Trader) sellPosition(ctx context.Context, p *position, reason string, forRebalance bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return true
	}
	if !t.deps.SellRetry.ShouldAttempt(p.rec.ID) {
		return false
	}

	fill := t.deps.Exec.MarketSell(ctx, p.rec.Mint, p.rec.Quantity)
	if !fill.Success {
		failures, forceClose := t.deps.SellRetry.RecordFailure(p.rec.ID)
		log.Warn().Err(fill.Err).Str("mint", p.rec.Mint).Int("failures", failures).
			Str("reason", reason).Msg("trader: sell failed")

		if forceClose || rugError(fill.Err) {
			t.closeLocked(ctx, p, reasonForceClose, nil, forRebalance)
			return true
		}
		return false
	}

	t.deps.SellRetry.RecordSuccess(p.rec.ID)
	t.closeLocked(ctx, p, reason, &fill, forRebalance)
	return true
}

// closeLocked finishes a position: persists the sell fill (when there is
// one), marks the row closed, updates the breaker with realized PnL exactly
// once, and starts the rebuy cooldown. A nil fill means a force-close of an
// unsellable position, booked as a total loss. The caller holds p.mu.
func (t *Trader) closeLocked(ctx context.Context, p *position, reason string, fill *broker.Fill, forRebalance bool) {
	now := t.now()

	exitUSD := decimal.Zero
	tx := ""
	if fill != nil {
		exitUSD = fill.USD
		tx = fill.TxSignature
		if err := t.deps.Positions.RecordFill(ctx, store.Fill{
			ID:          uuid.NewString(),
			PositionID:  p.rec.ID,
			Side:        "sell",
			Price:       fill.Price,
			Quantity:    fill.Quantity,
			USD:         fill.USD,
			TxSignature: fill.TxSignature,
			SlippagePct: float64(fill.SlippageBps) / 100,
			CreatedAt:   now,
		}); err != nil {
			log.Error().Err(err).Str("mint", p.rec.Mint).Msg("trader: sell fill write failed")
		}
	}

	if err := t.deps.Positions.ClosePosition(ctx, p.rec.ID, reason, now); err != nil {
		log.Error().Err(err).Str("mint", p.rec.Mint).Msg("trader: close write failed")
	}

	pnlUSD := exitUSD.Sub(p.rec.EntryUSD).InexactFloat64()
	t.deps.Breaker.RecordTrade(pnlUSD)
	t.deps.Rebuy.RecordSell(p.rec.Mint)

	p.closed = true
	closedAt := now
	p.rec.ClosedAt = &closedAt
	p.rec.CloseReason = reason

	t.dropFromBook(p.rec.Mint)
	if !forRebalance {
		if err := t.deps.Portfolio.Remove(p.rec.Mint); err != nil {
			log.Debug().Err(err).Str("mint", p.rec.Mint).Msg("trader: portfolio remove")
		}
	}

	t.appendTradeEvent("position_closed", map[string]any{
		"mint":    p.rec.Mint,
		"reason":  reason,
		"pnl_usd": pnlUSD,
		"usd":     exitUSD.String(),
		"tx":      tx,
	})
	log.Info().Str("mint", p.rec.Mint).Str("reason", reason).
		Float64("pnl_usd", pnlUSD).Msg("trader: position closed")
}

// rugError recognizes failures that mean the token can no longer be sold at
// all, warranting a book-side force close rather than retries.
func rugError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, broker.ErrNoRoute) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not tradable") ||
		strings.Contains(msg, "token_not_tradable") ||
		strings.Contains(msg, "account frozen")
}
