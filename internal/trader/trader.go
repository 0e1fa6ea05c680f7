package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/spbarathg/callsbotonchain-sub000/internal/alerts"
	"github.com/spbarathg/callsbotonchain-sub000/internal/broker"
	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
	"github.com/spbarathg/callsbotonchain-sub000/internal/logging"
	"github.com/spbarathg/callsbotonchain-sub000/internal/metrics"
	"github.com/spbarathg/callsbotonchain-sub000/internal/portfolio"
	"github.com/spbarathg/callsbotonchain-sub000/internal/risk"
	"github.com/spbarathg/callsbotonchain-sub000/internal/scoring"
	"github.com/spbarathg/callsbotonchain-sub000/internal/store"
	"github.com/spbarathg/callsbotonchain-sub000/internal/toggles"
)

// Close reasons recorded on positions.
const (
	reasonStop       = "stop"
	reasonEmergency  = "emergency_stop"
	reasonTrail      = "trail"
	reasonInactivity = "inactivity"
	reasonTimeout    = "timeout"
	reasonRebalance  = "rebalance"
	reasonForceClose = "force_close"
)

// Execution is the broker surface the trader drives.
type Execution interface {
	MarketBuy(ctx context.Context, mint string, usd decimal.Decimal) broker.Fill
	MarketSell(ctx context.Context, mint string, qty decimal.Decimal) broker.Fill
	Price(ctx context.Context, mint string) (decimal.Decimal, error)
}

// SignalSource yields trading signals; a nil record with nil error means the
// poll timed out with nothing queued.
type SignalSource interface {
	Pop(ctx context.Context, timeout time.Duration) (*alerts.Record, error)
}

// priceSample is one monitor observation for the inactivity window.
type priceSample struct {
	ts    time.Time
	price float64
}

// position is the trader-side runtime state around a persisted position.
// Its mutex orders open/close and monitor updates for one mint.
type position struct {
	mu  sync.Mutex
	rec store.Position

	priceFailures int
	samples       []priceSample
	moonshot      bool
	closed        bool
}

// Deps are the collaborators a Trader needs.
type Deps struct {
	Exec      Execution
	Positions store.PositionStore
	Portfolio *portfolio.Manager
	Breaker   *risk.Breaker
	Rebuy     *risk.RebuyCooldown
	SellRetry *risk.SellRetry
	Signals   SignalSource
	TradeLog  *logging.EventLog
	Metrics   *metrics.Recorder
}

// Trader owns the position book: it opens positions from trading signals
// and closes them from the monitor loop.
type Trader struct {
	cfg  config.TraderConfig
	pcfg config.PortfolioConfig
	risk config.RiskConfig
	deps Deps

	mu   sync.RWMutex
	book map[string]*position

	// loadToggles is read once per cycle so operators can flip switches
	// without a restart.
	loadToggles func() toggles.State

	now func() time.Time
}

func New(cfg *config.Config, deps Deps) *Trader {
	path := cfg.Trader.TogglesPath
	return &Trader{
		cfg:         cfg.Trader,
		pcfg:        cfg.Portfolio,
		risk:        cfg.Risk,
		deps:        deps,
		book:        make(map[string]*position),
		loadToggles: func() toggles.State { return toggles.Load(path) },
		now:         time.Now,
	}
}

// Recover rebuilds the in-memory book and portfolio from open positions in
// the store, so a restart resumes monitoring where it left off.
func (t *Trader) Recover(ctx context.Context) error {
	open, err := t.deps.Positions.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("trader: load open positions: %w", err)
	}

	t.mu.Lock()
	for i := range open {
		rec := open[i]
		t.book[rec.Mint] = &position{rec: rec}
		_ = t.deps.Portfolio.Add(portfolio.Position{
			Mint:       rec.Mint,
			Score:      rec.Score,
			Conviction: rec.Conviction,
			EntryPrice: rec.EntryPrice.InexactFloat64(),
			OpenedAt:   rec.OpenedAt,
		})
	}
	t.mu.Unlock()

	t.syncOpenMetric()
	if len(open) > 0 {
		log.Info().Int("positions", len(open)).Msg("trader: recovered open positions")
	}
	return nil
}

// Run consumes trading signals and drives the monitor loop until ctx is
// canceled.
func (t *Trader) Run(ctx context.Context) error {
	if err := t.Recover(ctx); err != nil {
		log.Warn().Err(err).Msg("trader: recovery failed, starting with empty book")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.monitorLoop(ctx)
	}()

	for {
		rec, err := t.deps.Signals.Pop(ctx, 2*time.Second)
		if ctx.Err() != nil {
			wg.Wait()
			return ctx.Err()
		}
		if err != nil {
			log.Warn().Err(err).Msg("trader: signal pop failed")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		if rec == nil {
			continue
		}

		opened, reason := t.HandleSignal(ctx, rec)
		if !opened {
			log.Debug().Str("mint", rec.Token).Str("reason", reason).Msg("trader: signal skipped")
		}
	}
}

// HandleSignal runs the open path for one trading signal. The returned
// reason explains a rejection.
func (t *Trader) HandleSignal(ctx context.Context, rec *alerts.Record) (opened bool, reason string) {
	if !t.loadToggles().TradingEnabled {
		return false, "trading disabled"
	}
	if tripped, why := t.deps.Breaker.Tripped(); tripped {
		return false, "circuit breaker tripped: " + why
	}
	if t.held(rec.Token) {
		return false, "already held"
	}
	if blocked, remaining := t.deps.Rebuy.Blocked(rec.Token); blocked {
		return false, fmt.Sprintf("rebuy cooldown %s remaining", remaining.Round(time.Second))
	}
	if rec.FinalScore < t.cfg.MinScore {
		return false, fmt.Sprintf("score %.1f below minimum %.1f", rec.FinalScore, t.cfg.MinScore)
	}

	current, err := t.deps.Exec.Price(ctx, rec.Token)
	if err != nil {
		return false, "current price unavailable"
	}
	if rec.Price > 0 {
		movePct := (current.InexactFloat64() - rec.Price) / rec.Price * 100
		if movePct < t.cfg.AntiStaleDumpPct {
			return false, fmt.Sprintf("stale signal: dumped %.1f%% since alert", movePct)
		}
		if movePct > t.cfg.AntiStaleFOMOPct {
			return false, fmt.Sprintf("stale signal: pumped %.1f%% since alert", movePct)
		}
	}

	size := t.positionSize(rec.FinalScore, rec.Conviction)

	if t.deps.Portfolio.Full() {
		if !t.pcfg.RebalanceEnabled {
			return false, "portfolio full"
		}
		return t.rebalanceInto(ctx, rec, size)
	}

	return t.openPosition(ctx, rec, size, "")
}

// positionSize scales the base stake by signal strength, capped at a
// fraction of the bankroll.
func (t *Trader) positionSize(score float64, conviction string) decimal.Decimal {
	size := t.cfg.BaseSizeUSD
	switch {
	case score >= 9:
		size *= 1.5
	case score >= 8:
		size *= 1.25
	}
	if scoring.Conviction(conviction) == scoring.ConvictionHCSmartMoney {
		size *= 1.2
	}

	maxSize := t.risk.BankrollUSD * t.cfg.MaxPositionPct
	if size > maxSize {
		size = maxSize
	}
	return decimal.NewFromFloat(size)
}

// openPosition buys, persists, and publishes one position. When victimMint
// is set the book swap goes through the portfolio's rebalance path.
func (t *Trader) openPosition(ctx context.Context, rec *alerts.Record, size decimal.Decimal, victimMint string) (bool, string) {
	fill := t.deps.Exec.MarketBuy(ctx, rec.Token, size)
	if !fill.Success {
		if victimMint != "" {
			t.partialRebalance(rec.Token, victimMint, fill.Err)
			return false, fmt.Sprintf("rebalance buy failed after sell: %v", fill.Err)
		}
		return false, fmt.Sprintf("buy failed: %v", fill.Err)
	}

	now := t.now()
	pos := store.Position{
		ID:         uuid.NewString(),
		Mint:       rec.Token,
		Symbol:     rec.Symbol,
		EntryPrice: fill.Price,
		Quantity:   fill.Quantity,
		EntryUSD:   fill.USD,
		PeakPrice:  fill.Price,
		Score:      rec.FinalScore,
		Conviction: rec.Conviction,
		OpenedAt:   now,
	}

	// The buy fill must be durable before any further state change. A DB
	// failure after the on-chain buy is an orphan to reconcile manually,
	// never a position to pretend away or to auto-sell.
	persistErr := t.deps.Positions.SavePosition(ctx, pos)
	if persistErr == nil {
		persistErr = t.deps.Positions.RecordFill(ctx, store.Fill{
			ID:          uuid.NewString(),
			PositionID:  pos.ID,
			Side:        "buy",
			Price:       fill.Price,
			Quantity:    fill.Quantity,
			USD:         fill.USD,
			TxSignature: fill.TxSignature,
			SlippagePct: float64(fill.SlippageBps) / 100,
			CreatedAt:   now,
		})
	}
	if persistErr != nil {
		t.appendTradeEvent("orphaned_position", map[string]any{
			"mint":  rec.Token,
			"tx":    fill.TxSignature,
			"qty":   fill.Quantity.String(),
			"price": fill.Price.String(),
			"usd":   fill.USD.String(),
			"error": persistErr.Error(),
		})
		log.Error().Err(persistErr).Str("mint", rec.Token).Str("tx", fill.TxSignature).
			Msg("trader: ORPHANED position, db write failed after on-chain buy")
	}

	p := &position{rec: pos}
	p.samples = append(p.samples, priceSample{ts: now, price: fill.Price.InexactFloat64()})

	t.mu.Lock()
	t.book[pos.Mint] = p
	t.mu.Unlock()

	ppos := portfolio.Position{
		Mint:       pos.Mint,
		Score:      pos.Score,
		Conviction: pos.Conviction,
		EntryPrice: fill.Price.InexactFloat64(),
		OpenedAt:   now,
	}
	if victimMint != "" {
		if err := t.deps.Portfolio.ExecuteRebalance(victimMint, ppos); err != nil {
			log.Warn().Err(err).Msg("trader: portfolio rebalance swap failed")
		}
	} else if err := t.deps.Portfolio.Add(ppos); err != nil {
		log.Warn().Err(err).Msg("trader: portfolio add failed")
	}

	t.syncOpenMetric()
	t.appendTradeEvent("position_opened", map[string]any{
		"mint":       pos.Mint,
		"score":      pos.Score,
		"conviction": pos.Conviction,
		"price":      fill.Price.String(),
		"qty":        fill.Quantity.String(),
		"usd":        fill.USD.String(),
		"tx":         fill.TxSignature,
	})

	log.Info().Str("mint", pos.Mint).Str("usd", fill.USD.StringFixed(2)).
		Float64("score", pos.Score).Str("conviction", pos.Conviction).
		Msg("trader: position opened")
	return true, ""
}

// rebalanceInto displaces the weakest aged position for a stronger signal:
// sell the victim on chain, then buy the new mint, then swap the book.
func (t *Trader) rebalanceInto(ctx context.Context, rec *alerts.Record, size decimal.Decimal) (bool, string) {
	victimMint, why, ok := t.deps.Portfolio.EvaluateRebalance(rec.FinalScore, rec.Conviction)
	if !ok {
		return false, "rebalance refused: " + why
	}

	victim := t.lookup(victimMint)
	if victim == nil {
		return false, "rebalance victim not in book"
	}

	log.Info().Str("victim", victimMint).Str("new", rec.Token).Str("reason", why).
		Msg("trader: rebalancing")

	if !t.sellPosition(ctx, victim, reasonRebalance, true) {
		return false, "rebalance victim sell failed"
	}
	return t.openPosition(ctx, rec, size, victimMint)
}

func (t *Trader) partialRebalance(newMint, victimMint string, buyErr error) {
	if err := t.deps.Portfolio.Remove(victimMint); err != nil {
		log.Warn().Err(err).Msg("trader: victim removal after partial rebalance failed")
	}
	t.appendTradeEvent("partial_rebalance", map[string]any{
		"victim": victimMint,
		"new":    newMint,
		"error":  fmt.Sprint(buyErr),
	})
	log.Error().Str("victim", victimMint).Str("new", newMint).
		Msg("trader: partial rebalance, victim sold but buy failed")
}

func (t *Trader) held(mint string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.book[mint]
	return ok
}

func (t *Trader) lookup(mint string) *position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.book[mint]
}

func (t *Trader) dropFromBook(mint string) {
	t.mu.Lock()
	delete(t.book, mint)
	t.mu.Unlock()
	t.syncOpenMetric()
}

func (t *Trader) syncOpenMetric() {
	if t.deps.Metrics == nil {
		return
	}
	t.mu.RLock()
	n := len(t.book)
	t.mu.RUnlock()
	t.deps.Metrics.SetOpenPositions(n)
}

func (t *Trader) appendTradeEvent(event string, fields map[string]any) {
	if t.deps.TradeLog == nil {
		return
	}
	if err := t.deps.TradeLog.Append(event, fields); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("trader: trade log append failed")
	}
}
