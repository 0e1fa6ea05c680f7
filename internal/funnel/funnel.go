package funnel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/spbarathg/callsbotonchain-sub000/internal/alerts"
	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
	"github.com/spbarathg/callsbotonchain-sub000/internal/feed"
	"github.com/spbarathg/callsbotonchain-sub000/internal/metrics"
	"github.com/spbarathg/callsbotonchain-sub000/internal/scoring"
	"github.com/spbarathg/callsbotonchain-sub000/internal/stats"
	"github.com/spbarathg/callsbotonchain-sub000/internal/store"
)

// StatsProvider is the slice of the stats layer the funnel needs.
type StatsProvider interface {
	GetStats(ctx context.Context, mint string, forceRefresh bool) (stats.TokenStats, error)
}

// SignalPusher delivers accepted alerts to the trader queue.
type SignalPusher interface {
	Push(ctx context.Context, rec alerts.Record) error
}

// Drop stages, used as metric labels and log fields.
const (
	dropNoCandidate = "no_candidate"
	dropDedup       = "dedup"
	dropPrelim      = "prelim"
	dropMultiSignal = "multi_signal"
	dropTokenAge    = "token_age"
	dropStats       = "stats"
	dropSecurity    = "security"
	dropGates       = "gates"
)

// Funnel turns feed items into alerts: dedup, prelim scoring, multi-signal
// confirmation, stats fetch, scoring, gating, publication.
type Funnel struct {
	cfg      config.FunnelConfig
	provider StatsProvider
	alertDB  store.AlertStore
	activity store.ActivityStore
	scorer   *scoring.Scorer
	gates    *scoring.Gates
	sinks    *alerts.FanOut
	signals  SignalPusher
	metrics  *metrics.Recorder

	baseAssets map[string]struct{}

	mu      sync.Mutex
	session map[string]struct{} // mints alerted this process run

	now func() time.Time
}

// Deps bundles the funnel's collaborators.
type Deps struct {
	Provider StatsProvider
	AlertDB  store.AlertStore
	Activity store.ActivityStore
	Scorer   *scoring.Scorer
	Gates    *scoring.Gates
	Sinks    *alerts.FanOut
	Signals  SignalPusher // may be nil
	Metrics  *metrics.Recorder
	// BaseAssets are settlement-side mints never treated as candidates.
	BaseAssets []string
}

func New(cfg config.FunnelConfig, d Deps) *Funnel {
	f := &Funnel{
		cfg:        cfg,
		provider:   d.Provider,
		alertDB:    d.AlertDB,
		activity:   d.Activity,
		scorer:     d.Scorer,
		gates:      d.Gates,
		sinks:      d.Sinks,
		signals:    d.Signals,
		metrics:    d.Metrics,
		baseAssets: make(map[string]struct{}, len(d.BaseAssets)),
		session:    make(map[string]struct{}),
		now:        time.Now,
	}
	for _, m := range d.BaseAssets {
		f.baseAssets[m] = struct{}{}
	}
	return f
}

// Process runs one feed item through the funnel. It returns the emitted
// alert, or nil when the item was dropped at any stage. Upstream failures
// are absorbed as drops; only store failures surface as errors.
func (f *Funnel) Process(ctx context.Context, item feed.Item) (*alerts.Record, error) {
	mint, usd := f.candidate(item)
	if mint == "" || usd <= 0 {
		f.drop(dropNoCandidate, mint)
		return nil, nil
	}

	if f.inSession(mint) {
		f.drop(dropDedup, mint)
		return nil, nil
	}
	alerted, err := f.alertDB.HasBeenAlerted(ctx, mint)
	if err != nil {
		return nil, err
	}
	if alerted {
		f.drop(dropDedup, mint)
		return nil, nil
	}

	smart := item.SmartMoney.Smart()
	prelim := f.prelimScore(usd, smart, item.IsSynthetic)

	if err := f.activity.RecordActivity(ctx, store.Activity{
		Mint:        mint,
		TS:          f.now(),
		USDValue:    usd,
		TxCount:     1,
		SmartMoney:  smart,
		PrelimScore: prelim,
	}); err != nil {
		return nil, err
	}

	obs, err := f.activity.RecentObservations(ctx, mint, f.cfg.MultiSignalWindow)
	if err != nil {
		return nil, err
	}
	if len(obs) < f.cfg.MultiSignalCount {
		f.drop(dropMultiSignal, mint)
		return nil, nil
	}

	firstSeen, err := f.activity.FirstSeen(ctx, mint)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	minAge := time.Duration(f.cfg.MinTokenAgeMinutes) * time.Minute
	if err == nil && f.now().Sub(firstSeen) < minAge {
		f.drop(dropTokenAge, mint)
		return nil, nil
	}

	if !f.shouldFetchStats(prelim, obs) {
		f.drop(dropPrelim, mint)
		return nil, nil
	}

	ts, err := f.provider.GetStats(ctx, mint, false)
	if err != nil || ts.Empty() {
		if err != nil {
			log.Debug().Err(err).Str("mint", mint).Msg("funnel: stats fetch failed")
		}
		f.drop(dropStats, mint)
		return nil, nil
	}

	if r := f.gates.QuickReject(ts); !r.Pass {
		log.Debug().Str("mint", mint).Str("reason", r.Reason).Msg("funnel: quick security reject")
		f.drop(dropSecurity, mint)
		return nil, nil
	}

	result := f.scorer.Score(ts)
	finalScore := result.Score
	if smart {
		finalScore = scoring.Clamp(finalScore + f.cfg.SmartMoneyBonus)
	}

	conviction, gate := f.gates.Resolve(ts, finalScore, smart)
	if !gate.Pass {
		log.Debug().Str("mint", mint).Str("reason", gate.Reason).Msg("funnel: gated out")
		f.drop(dropGates, mint)
		return nil, nil
	}

	rec := alerts.Record{
		Token:      mint,
		Symbol:     ts.Symbol,
		Name:       ts.Name,
		FinalScore: finalScore,
		Conviction: string(conviction),
		Price:      ts.PriceUSD.Value,
		MarketCap:  ts.MarketCapUSD.Value,
		Liquidity:  ts.LiquidityUSD.Value,
		Volume24h:  ts.Volume24hUSD.Value,
		Change1h:   ts.Change1hPct.Value,
		SmartMoney: smart,
		Reasons:    result.Reasons,
		TS:         f.now(),
	}
	if err := f.emit(ctx, rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// emit persists the dedup row before any side effect the trader can observe,
// then fans out to sinks and the signal queue.
func (f *Funnel) emit(ctx context.Context, rec alerts.Record) error {
	err := f.alertDB.MarkAlerted(ctx, store.AlertedToken{
		Mint:         rec.Token,
		FirstAlertAt: rec.TS,
		FinalScore:   rec.FinalScore,
		Conviction:   rec.Conviction,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			// Lost the race to another worker; not an alert.
			return nil
		}
		return err
	}
	f.addSession(rec.Token)

	if err := f.alertDB.UpsertAlertStats(ctx, store.AlertStats{
		Mint:           rec.Token,
		FirstPrice:     rec.Price,
		LastPrice:      rec.Price,
		PeakPrice:      rec.Price,
		FirstMarketCap: rec.MarketCap,
		FirstLiquidity: rec.Liquidity,
		FirstVolume24h: rec.Volume24h,
		UpdatedAt:      rec.TS,
	}); err != nil {
		log.Error().Err(err).Str("mint", rec.Token).Msg("funnel: alert stats write failed")
	}

	f.sinks.Publish(ctx, rec)

	if f.signals != nil {
		if err := f.signals.Push(ctx, rec); err != nil {
			log.Error().Err(err).Str("mint", rec.Token).Msg("funnel: signal push failed")
		}
	}

	if f.metrics != nil {
		f.metrics.AlertEmitted(rec.Conviction)
	}
	log.Info().
		Str("mint", rec.Token).
		Str("conviction", rec.Conviction).
		Float64("score", rec.FinalScore).
		Msg("funnel: alert emitted")
	return nil
}

// candidate picks the non-base leg of the trade and its USD value.
func (f *Funnel) candidate(item feed.Item) (mint string, usd float64) {
	if _, base := f.baseAssets[item.Token1]; item.Token1 != "" && !base {
		return item.Token1, item.Token1USD
	}
	if _, base := f.baseAssets[item.Token0]; item.Token0 != "" && !base {
		return item.Token0, item.Token0USD
	}
	return "", 0
}

// prelimScore grades an observation by trade size and smart-money presence.
// Synthetic items are downweighted.
func (f *Funnel) prelimScore(usd float64, smart, synthetic bool) float64 {
	var score float64
	switch {
	case usd >= 10_000:
		score = 4
	case usd >= 5_000:
		score = 3
	case usd >= 1_000:
		score = 2
	default:
		score = 1
	}
	if smart {
		score += 2
	}
	if synthetic {
		score *= f.cfg.SyntheticDownweight
	}
	return score
}

// shouldFetchStats decides whether to spend stats credits: high prelim
// always fetches, medium prelim only with enough observed velocity.
func (f *Funnel) shouldFetchStats(prelim float64, obs []store.Activity) bool {
	if prelim >= f.cfg.HighPrelimScore {
		return true
	}
	if prelim >= f.cfg.MediumPrelimScore {
		return f.velocity(obs) >= f.cfg.VelocityThreshold
	}
	return false
}

// velocity weighs recent observations, counting smart-money ones double.
func (f *Funnel) velocity(obs []store.Activity) float64 {
	var v float64
	for _, a := range obs {
		v++
		if a.SmartMoney {
			v++
		}
	}
	return v
}

func (f *Funnel) inSession(mint string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.session[mint]
	return ok
}

func (f *Funnel) addSession(mint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session[mint] = struct{}{}
}

func (f *Funnel) drop(stage, mint string) {
	if f.metrics != nil {
		f.metrics.FunnelDrop(stage)
	}
	log.Trace().Str("stage", stage).Str("mint", mint).Msg("funnel: dropped")
}

// Run consumes feed items until ctx is canceled, pruning old activity on a
// timer.
func (f *Funnel) Run(ctx context.Context, in <-chan feed.Item) {
	prune := time.NewTicker(f.cfg.PruneInterval)
	defer prune.Stop()

	for {
		select {
		case item, ok := <-in:
			if !ok {
				return
			}
			if _, err := f.Process(ctx, item); err != nil {
				log.Error().Err(err).Msg("funnel: process failed")
			}
		case <-prune.C:
			removed, err := f.activity.PruneOlderThan(ctx, f.cfg.ActivityRetention)
			if err != nil {
				log.Error().Err(err).Msg("funnel: activity prune failed")
			} else if removed > 0 {
				log.Debug().Int64("removed", removed).Msg("funnel: pruned activity")
			}
		case <-ctx.Done():
			return
		}
	}
}
