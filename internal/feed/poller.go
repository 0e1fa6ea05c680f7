package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/spbarathg/callsbotonchain-sub000/internal/budget"
	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
	"github.com/spbarathg/callsbotonchain-sub000/internal/metrics"
)

// CreditBudget is the slice of the budget manager the poller needs.
type CreditBudget interface {
	CanSpend(kind budget.Kind) bool
	Spend(kind budget.Kind) error
}

// EventAppender receives one durable summary line per poll cycle.
type EventAppender interface {
	Append(event string, fields map[string]any) error
}

// RateLimitError signals a 429/quota response from the feed. RetryAfter is
// zero when the upstream gave no hint; the run loop then backs off
// exponentially instead.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("feed: rate limited, retry after %s", e.RetryAfter)
	}
	return "feed: rate limited"
}

// ---------------------------------------------------------------------------
// Poller
// ---------------------------------------------------------------------------

// Poller alternates between the general and smart-money feed queries, paging
// each with its own opaque cursor. A feed credit is spent per successful call.
type Poller struct {
	cfg      config.FeedConfig
	budget   CreditBudget
	client   *http.Client
	trending *trendingClient
	metrics  *metrics.Recorder
	process  EventAppender

	cursors map[Cycle]string
	next    Cycle
}

// NewPoller wires a Poller from config. The metrics recorder may be nil.
func NewPoller(cfg config.FeedConfig, cb CreditBudget, rec *metrics.Recorder) *Poller {
	p := &Poller{
		cfg:     cfg,
		budget:  cb,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		metrics: rec,
		cursors: make(map[Cycle]string),
		next:    CycleGeneral,
	}
	if cfg.TrendingURL != "" {
		p.trending = newTrendingClient(cfg.TrendingURL, cfg.RequestTimeout, cfg.MaxSynthetic)
	}
	return p
}

// SetProcessLog attaches a durable per-cycle summary log.
func (p *Poller) SetProcessLog(l EventAppender) { p.process = l }

// PollOnce fetches one page for the next cycle in the alternation and
// advances the alternation. If the primary yields nothing (out of budget,
// empty page) the trending fallback may inject synthetic items.
func (p *Poller) PollOnce(ctx context.Context) (Cycle, []Item, error) {
	cycle := p.next
	if p.next == CycleGeneral {
		p.next = CycleSmart
	} else {
		p.next = CycleGeneral
	}

	items, err := p.fetchPage(ctx, cycle)
	if err != nil {
		return cycle, nil, err
	}

	if len(items) == 0 && p.trending != nil {
		synthetic, terr := p.trending.Fetch(ctx)
		if terr != nil {
			log.Debug().Err(terr).Msg("feed: trending fallback failed")
		} else if len(synthetic) > 0 {
			log.Info().Int("count", len(synthetic)).Msg("feed: injecting synthetic trending items")
			items = synthetic
		}
	}

	if p.metrics != nil {
		p.metrics.FeedItems(string(cycle), len(items))
	}
	return cycle, items, nil
}

func (p *Poller) fetchPage(ctx context.Context, cycle Cycle) ([]Item, error) {
	if p.cfg.BaseURL == "" {
		return nil, nil
	}
	if p.budget != nil && !p.budget.CanSpend(budget.KindFeed) {
		if p.metrics != nil {
			p.metrics.BudgetDenied(string(budget.KindFeed))
		}
		log.Warn().Str("cycle", string(cycle)).Msg("feed: budget exhausted, skipping cycle")
		return nil, nil
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(p.cfg.PageLimit))
	q.Set("chains", "solana")
	if cur := p.cursors[cycle]; cur != "" {
		q.Set("cursor", cur)
	}
	if p.cfg.MinUSDValue > 0 {
		q.Set("minimum_usd_value", strconv.FormatFloat(p.cfg.MinUSDValue, 'f', -1, 64))
	}
	if cycle == CycleSmart {
		q.Set("smart_money", "true")
		q.Set("top_wallets", "true")
		q.Set("min_wallet_pnl", strconv.FormatFloat(p.cfg.MinWalletPnL, 'f', -1, 64))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/feed?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("feed: build request: %w", err)
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", p.cfg.APIKey)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: %s request: %w", cycle, err)
	}
	defer resp.Body.Close()
	if p.metrics != nil {
		p.metrics.ObserveHTTP("feed", time.Since(start))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("feed: %s returned status %d", cycle, resp.StatusCode)
	}

	var env feedEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("feed: decode %s page: %w", cycle, err)
	}
	if env.Status != "" && env.Status != "ok" {
		return nil, fmt.Errorf("feed: %s returned status %q", cycle, env.Status)
	}

	// Credit is billed per successful call.
	if p.budget != nil {
		if err := p.budget.Spend(budget.KindFeed); err != nil {
			log.Warn().Err(err).Msg("feed: budget spend after successful call")
		}
	}

	p.cursors[cycle] = env.Data.Paging.NextCursor
	return env.Data.Items, nil
}

type feedEnvelope struct {
	Status string `json:"status"`
	Data   struct {
		Items  []Item `json:"items"`
		Paging struct {
			NextCursor string `json:"next_cursor"`
		} `json:"paging"`
	} `json:"data"`
}

// retryAfter pulls a retry hint from the JSON body or the Retry-After header.
func retryAfter(resp *http.Response) time.Duration {
	var body struct {
		RetryAfterSec float64 `json:"retry_after_sec"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.RetryAfterSec > 0 {
		return time.Duration(body.RetryAfterSec * float64(time.Second))
	}
	if h := resp.Header.Get("Retry-After"); h != "" {
		if sec, err := strconv.Atoi(h); err == nil && sec > 0 {
			return time.Duration(sec) * time.Second
		}
	}
	return 0
}

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

// Run polls until ctx is canceled, sending items to out. Rate limits apply an
// adaptive cooldown: the upstream hint when present, otherwise an exponential
// backoff capped at MaxCooldown. Successful iterations reset the backoff.
func (p *Poller) Run(ctx context.Context, out chan<- Item) {
	backoff := p.cfg.Interval

	for {
		cycle, items, err := p.PollOnce(ctx)
		wait := p.cfg.Interval

		switch e := err.(type) {
		case nil:
			backoff = p.cfg.Interval
			if p.process != nil {
				if perr := p.process.Append("poll_cycle", map[string]any{
					"cycle": string(cycle),
					"items": len(items),
				}); perr != nil {
					log.Warn().Err(perr).Msg("feed: process log append failed")
				}
			}
			for _, it := range items {
				select {
				case out <- it:
				case <-ctx.Done():
					return
				}
			}
		case *RateLimitError:
			if e.RetryAfter > 0 {
				wait = e.RetryAfter
			} else {
				backoff *= 2
				wait = backoff
			}
			if wait > p.cfg.MaxCooldown {
				wait = p.cfg.MaxCooldown
			}
			log.Warn().Str("cycle", string(cycle)).Dur("cooldown", wait).Msg("feed: rate limited")
		default:
			log.Error().Err(err).Str("cycle", string(cycle)).Msg("feed: poll failed")
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}
