package funnel

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
	"github.com/spbarathg/callsbotonchain-sub000/internal/store"
)

// ---------------------------------------------------------------------------
// Outcome tracker — price path of alerted tokens
// ---------------------------------------------------------------------------

// Outcome labels written to alerted_token_stats.
const (
	outcomeMoon = "moon" // peaked at 5x or better
	outcomeUp   = "up"
	outcomeDown = "down"
	outcomeRug  = "rug" // lost 80%+ from the alert price
)

// EventAppender is the slice of the event log the tracker writes to.
type EventAppender interface {
	Append(event string, fields map[string]any) error
}

// Tracker periodically refreshes stats for recently alerted tokens and
// updates their outcome rows: last price, peak price, time to peak, and a
// coarse outcome label. It spends stats credits at cache-hit prices since
// the provider caches between funnel and tracker reads.
type Tracker struct {
	cfg      config.FunnelConfig
	provider StatsProvider
	alertDB  store.AlertStore
	events   EventAppender
	now      func() time.Time
}

// NewTracker wires a Tracker. The event appender may be nil.
func NewTracker(cfg config.FunnelConfig, provider StatsProvider, alertDB store.AlertStore, events EventAppender) *Tracker {
	return &Tracker{
		cfg:      cfg,
		provider: provider,
		alertDB:  alertDB,
		events:   events,
		now:      time.Now,
	}
}

// Run ticks until ctx is canceled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.TrackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := t.TrackOnce(ctx); err != nil {
				log.Error().Err(err).Msg("tracker: pass failed")
			} else if n > 0 {
				log.Debug().Int("tracked", n).Msg("tracker: pass complete")
			}
		}
	}
}

// TrackOnce refreshes every alert inside the tracking window and returns
// how many rows were updated. Per-token failures are skipped, not fatal.
func (t *Tracker) TrackOnce(ctx context.Context) (int, error) {
	recent, err := t.alertDB.RecentAlerts(ctx, t.cfg.TrackWindow)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, a := range recent {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}
		if err := t.trackToken(ctx, a); err != nil {
			log.Debug().Err(err).Str("mint", a.Mint).Msg("tracker: token skipped")
			continue
		}
		updated++
	}
	return updated, nil
}

func (t *Tracker) trackToken(ctx context.Context, a store.AlertedToken) error {
	row, err := t.alertDB.GetAlertStats(ctx, a.Mint)
	if err != nil {
		return err
	}

	ts, err := t.provider.GetStats(ctx, a.Mint, false)
	if err != nil {
		return err
	}
	if ts.Empty() || ts.PriceUSD.Unknown {
		return nil
	}
	price := ts.PriceUSD.Value

	now := t.now()
	row.LastPrice = price
	if price > row.PeakPrice {
		row.PeakPrice = price
		row.TimeToPeak = now.Sub(a.FirstAlertAt)
	}
	row.Outcome = outcomeLabel(row.FirstPrice, row.LastPrice, row.PeakPrice)
	row.UpdatedAt = now

	if err := t.alertDB.UpsertAlertStats(ctx, row); err != nil {
		return err
	}

	if t.events != nil {
		if err := t.events.Append("price_update", map[string]any{
			"mint":       a.Mint,
			"price":      price,
			"peak_price": row.PeakPrice,
			"outcome":    row.Outcome,
		}); err != nil {
			log.Warn().Err(err).Msg("tracker: event append failed")
		}
	}
	return nil
}

// outcomeLabel grades a price path against the alert price.
func outcomeLabel(first, last, peak float64) string {
	if first <= 0 {
		return ""
	}
	switch {
	case last <= first*0.2:
		return outcomeRug
	case peak >= first*5:
		return outcomeMoon
	case last > first:
		return outcomeUp
	default:
		return outcomeDown
	}
}
