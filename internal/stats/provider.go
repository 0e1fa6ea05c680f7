package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/spbarathg/callsbotonchain-sub000/internal/budget"
	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
	"github.com/spbarathg/callsbotonchain-sub000/internal/metrics"
)

// ---------------------------------------------------------------------------
// Stats provider — primary with auth-variant rotation, credit budget,
// deny state, and aggregator fallback
// ---------------------------------------------------------------------------

// CreditBudget is the slice of the budget manager the provider needs.
type CreditBudget interface {
	CanSpend(kind budget.Kind) bool
	Spend(kind budget.Kind) error
}

// authVariant is one way of presenting the API key to the primary.
type authVariant int

const (
	authHeaderAPIKey authVariant = iota // X-API-Key: <key>
	authHeaderBearer                    // Authorization: Bearer <key>
)

var authVariants = []authVariant{authHeaderAPIKey, authHeaderBearer}

// maxRetryAfterWait bounds how long a single GetStats call sleeps on a 429
// before giving up on the primary.
const maxRetryAfterWait = 5 * time.Second

// Provider resolves normalized token stats with caching, budget checks,
// deny-state short-circuiting, and fallback augmentation.
type Provider struct {
	cfg      config.StatsConfig
	budget   CreditBudget
	deny     *DenyList
	cache    *ttlCache
	fallback *fallbackClient
	chain    *chainClient
	client   *http.Client
	metrics  *metrics.Recorder
	now      func() time.Time
}

// NewProvider wires a Provider from config. The metrics recorder may be nil.
func NewProvider(cfg config.StatsConfig, cb CreditBudget, deny *DenyList, rec *metrics.Recorder) *Provider {
	p := &Provider{
		cfg:      cfg,
		budget:   cb,
		deny:     deny,
		cache:    newTTLCache(cfg.CacheTTL),
		fallback: newFallbackClient(cfg.FallbackURL, cfg.RequestTimeout),
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		metrics:  rec,
		now:      time.Now,
	}
	if cfg.RPCEndpoint != "" {
		p.chain = newChainClient(cfg.RPCEndpoint, cfg.RequestTimeout)
	}
	return p
}

// GetStats returns normalized stats for mint, or an empty record when the
// token is unknown everywhere. Budget, deny, and upstream errors are
// recovered locally; the returned error is reserved for context cancellation.
func (p *Provider) GetStats(ctx context.Context, mint string, forceRefresh bool) (TokenStats, error) {
	if mint == "" {
		return TokenStats{}, nil
	}

	if !forceRefresh {
		if s, ok := p.cache.Get(mint); ok {
			if p.metrics != nil {
				p.metrics.StatsCacheHit()
			}
			return s, nil
		}
	}
	if p.metrics != nil {
		p.metrics.StatsCacheMiss()
	}

	s, err := p.resolve(ctx, mint)
	if err != nil {
		return TokenStats{}, err
	}
	if !s.Empty() {
		if p.chain != nil {
			p.chain.enrich(ctx, &s)
		}
		p.cache.Put(mint, s)
	}
	return s, nil
}

// Sweep drops expired cache entries; called from the orchestrator's
// housekeeping tick.
func (p *Provider) Sweep() int { return p.cache.Sweep() }

func (p *Provider) resolve(ctx context.Context, mint string) (TokenStats, error) {
	skipPrimary := false
	switch {
	case len(p.cfg.BaseURLs) == 0 || p.cfg.APIKey == "":
		skipPrimary = true
	case p.deny != nil && p.deny.Denied():
		log.Debug().Str("mint", shortMint(mint)).Msg("stats: primary denied, using fallback")
		if p.metrics != nil {
			p.metrics.StatsFetch("denied")
		}
		skipPrimary = true
	case p.budget != nil && !p.budget.CanSpend(budget.KindStats):
		log.Debug().Str("mint", shortMint(mint)).Msg("stats: budget exhausted, using fallback")
		if p.metrics != nil {
			p.metrics.BudgetDenied(string(budget.KindStats))
		}
		skipPrimary = true
	}

	if skipPrimary {
		return p.fromFallback(ctx, mint)
	}

	primary, outcome, err := p.fromPrimary(ctx, mint)
	if err != nil {
		return TokenStats{}, err // context cancellation only
	}

	switch outcome {
	case primaryOK:
		if p.metrics != nil {
			p.metrics.StatsFetch(string(primary.Source))
		}
		return primary, nil
	case primaryNotFound:
		return TokenStats{}, nil
	default: // primaryFailed
		return p.fromFallback(ctx, mint)
	}
}

type primaryOutcome int

const (
	primaryOK primaryOutcome = iota
	primaryNotFound
	primaryFailed
)

// fromPrimary tries every (base_url, auth_variant) combination until one
// returns 200. A non-nil error means the context was cancelled.
func (p *Provider) fromPrimary(ctx context.Context, mint string) (TokenStats, primaryOutcome, error) {
	authFailures := 0
	attempts := 0
	rateLimited := false

	for _, base := range p.cfg.BaseURLs {
		for _, variant := range authVariants {
			attempts++
			s, status, err := p.callPrimary(ctx, base, variant, mint)
			if ctx.Err() != nil {
				return TokenStats{}, primaryFailed, ctx.Err()
			}
			if err != nil {
				log.Debug().Err(err).Str("base", base).Msg("stats: primary variant failed")
				continue
			}

			switch {
			case status == http.StatusOK:
				if p.budget != nil {
					if err := p.budget.Spend(budget.KindStats); err != nil {
						log.Warn().Err(err).Msg("stats: budget spend after 200")
					}
				}
				return p.augment(ctx, s), primaryOK, nil
			case status == http.StatusNotFound:
				return TokenStats{}, primaryNotFound, nil
			case status == http.StatusTooManyRequests:
				rateLimited = true
			case status == http.StatusUnauthorized || status == http.StatusForbidden:
				authFailures++
			}
		}
	}

	if rateLimited || (authFailures == attempts && attempts > 0) {
		if p.deny != nil {
			p.deny.Deny(p.cfg.DenyTTL)
		}
	}
	return TokenStats{}, primaryFailed, nil
}

// callPrimary performs one primary request. On 429 it waits out a bounded
// Retry-After (or jittered backoff) before returning, so the caller can move
// to the next variant.
func (p *Provider) callPrimary(ctx context.Context, base string, variant authVariant, mint string) (TokenStats, int, error) {
	url := fmt.Sprintf("%s/token/stats?token_address=%s&chain=solana", base, mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return TokenStats{}, 0, fmt.Errorf("build request: %w", err)
	}
	switch variant {
	case authHeaderAPIKey:
		req.Header.Set("X-API-Key", p.cfg.APIKey)
	case authHeaderBearer:
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if p.metrics != nil {
		p.metrics.ObserveHTTP("stats_primary", time.Since(start))
	}
	if err != nil {
		return TokenStats{}, 0, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := retryAfterDuration(resp.Header.Get("Retry-After"), p.now())
		if wait <= 0 {
			wait = jitterBackoff()
		}
		if wait > maxRetryAfterWait {
			wait = maxRetryAfterWait
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
		return TokenStats{}, http.StatusTooManyRequests, nil
	}
	if resp.StatusCode != http.StatusOK {
		return TokenStats{}, resp.StatusCode, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenStats{}, 0, fmt.Errorf("read body: %w", err)
	}

	var env primaryEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return TokenStats{}, 0, fmt.Errorf("parse: %w", err)
	}
	if env.Status != "ok" {
		return TokenStats{}, 0, fmt.Errorf("status %q", env.Status)
	}

	return normalizePrimary(mint, env.Data), http.StatusOK, nil
}

// augment tops up missing primary fields from the fallback and labels the
// source accordingly.
func (p *Provider) augment(ctx context.Context, s TokenStats) TokenStats {
	needs := s.LiquidityUSD.Unknown || s.Volume24hUSD.Unknown ||
		s.MarketCapUSD.Unknown || s.Symbol == "" || s.Name == ""
	if !needs || p.cfg.FallbackURL == "" {
		return s
	}

	fb, err := p.fallback.Fetch(ctx, s.Mint)
	if err != nil || fb.Empty() {
		return s
	}
	if augmentMissing(&s, fb) {
		s.Source = SourcePrimaryFallback
	}
	return s
}

func (p *Provider) fromFallback(ctx context.Context, mint string) (TokenStats, error) {
	if p.cfg.FallbackURL == "" {
		return TokenStats{}, nil
	}
	s, err := p.fallback.Fetch(ctx, mint)
	if err != nil {
		if ctx.Err() != nil {
			return TokenStats{}, ctx.Err()
		}
		log.Warn().Err(err).Str("mint", shortMint(mint)).Msg("stats: fallback failed")
		return TokenStats{}, nil
	}
	if !s.Empty() && p.metrics != nil {
		p.metrics.StatsFetch(string(SourceFallback))
	}
	return s, nil
}

// retryAfterDuration parses a Retry-After header: either delta-seconds or an
// HTTP date. Returns 0 when absent or unparseable.
func retryAfterDuration(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := t.Sub(now)
		if d > 0 {
			return d
		}
	}
	return 0
}

func jitterBackoff() time.Duration {
	return 500*time.Millisecond + time.Duration(rand.Int63n(int64(time.Second)))
}

// ---------------------------------------------------------------------------
// Primary payload DTOs
// ---------------------------------------------------------------------------

type primaryEnvelope struct {
	Status string     `json:"status"`
	Data   primaryDTO `json:"data"`
}

type primaryDTO struct {
	Mint         string   `json:"token_address"`
	Symbol       string   `json:"symbol"`
	Name         string   `json:"name"`
	MarketCapUSD *float64 `json:"market_cap_usd"`
	PriceUSD     *float64 `json:"price_usd"`
	LiquidityUSD *float64 `json:"liquidity_usd"`
	Volume24hUSD *float64 `json:"volume_24h_usd"`
	Change1hPct  *float64 `json:"change_1h_pct"`
	Change24hPct *float64 `json:"change_24h_pct"`
	Security     *struct {
		IsHoneypot    *bool `json:"is_honeypot"`
		IsMintRevoked *bool `json:"is_mint_revoked"`
	} `json:"security"`
	LiquidityMeta *struct {
		IsLPLocked *bool    `json:"is_lp_locked"`
		IsLPBurned *bool    `json:"is_lp_burned"`
		LockHours  *float64 `json:"lock_hours"`
	} `json:"liquidity_meta"`
	Holders *struct {
		Top10Pct         *float64 `json:"top10_pct"`
		BundlersPct      *float64 `json:"bundlers_pct"`
		InsidersPct      *float64 `json:"insiders_pct"`
		HolderCount      *float64 `json:"holder_count"`
		UniqueTraders24h *float64 `json:"unique_traders_24h"`
	} `json:"holders"`
}

func normalizePrimary(mint string, d primaryDTO) TokenStats {
	s := TokenStats{
		Mint:         mint,
		Symbol:       d.Symbol,
		Name:         d.Name,
		MarketCapUSD: metric(d.MarketCapUSD),
		PriceUSD:     metric(d.PriceUSD),
		LiquidityUSD: metric(d.LiquidityUSD),
		Volume24hUSD: metric(d.Volume24hUSD),
		Change1hPct:  metric(d.Change1hPct),
		Change24hPct: metric(d.Change24hPct),
		Source:       SourcePrimary,
	}
	if d.Security != nil {
		s.Security = Security{
			IsHoneypot:    triFromPtr(d.Security.IsHoneypot),
			IsMintRevoked: triFromPtr(d.Security.IsMintRevoked),
		}
	}
	if d.LiquidityMeta != nil {
		s.LiquidityMeta = LiquidityMeta{
			IsLPLocked: triFromPtr(d.LiquidityMeta.IsLPLocked),
			IsLPBurned: triFromPtr(d.LiquidityMeta.IsLPBurned),
			LockHours:  metric(d.LiquidityMeta.LockHours),
		}
	}
	if d.Holders != nil {
		s.Holders = Holders{
			Top10Pct:         metric(d.Holders.Top10Pct),
			BundlersPct:      metric(d.Holders.BundlersPct),
			InsidersPct:      metric(d.Holders.InsidersPct),
			HolderCount:      metric(d.Holders.HolderCount),
			UniqueTraders24h: metric(d.Holders.UniqueTraders24h),
		}
	}
	return Normalize(s)
}
