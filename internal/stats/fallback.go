package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Fallback provider — public DEX aggregator pairs endpoint
// ---------------------------------------------------------------------------

// fallbackClient fetches token stats from the public aggregator when the
// primary is unavailable, denied, or over budget.
type fallbackClient struct {
	baseURL    string
	httpClient *http.Client
}

func newFallbackClient(baseURL string, timeout time.Duration) *fallbackClient {
	return &fallbackClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// pairsResponse is the aggregator payload shape.
type pairsResponse struct {
	Pairs []pairDTO `json:"pairs"`
}

type pairDTO struct {
	BaseToken struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
		Name    string `json:"name"`
	} `json:"baseToken"`
	PriceUSD  string `json:"priceUsd"`
	Liquidity struct {
		USD *float64 `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H24 *float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H1  *float64 `json:"h1"`
		H24 *float64 `json:"h24"`
	} `json:"priceChange"`
	MarketCap *float64 `json:"marketCap"`
	// FDV is deliberately ignored: it is not a market-cap substitute.
	FDV *float64 `json:"fdv"`
}

// Fetch returns normalized stats for mint from the best trading pair.
// A missing token yields an empty record, not an error.
func (c *fallbackClient) Fetch(ctx context.Context, mint string) (TokenStats, error) {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", c.baseURL, mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return TokenStats{}, fmt.Errorf("fallback: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TokenStats{}, fmt.Errorf("fallback: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return TokenStats{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return TokenStats{}, fmt.Errorf("fallback: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenStats{}, fmt.Errorf("fallback: read body: %w", err)
	}

	var pr pairsResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return TokenStats{}, fmt.Errorf("fallback: parse: %w", err)
	}
	if len(pr.Pairs) == 0 {
		return TokenStats{}, nil
	}

	best := bestPair(pr.Pairs)
	return c.normalizePair(mint, best), nil
}

// bestPair ranks pairs by volume24h*1.0 + liquidity*0.1 and returns the top.
func bestPair(pairs []pairDTO) pairDTO {
	best := pairs[0]
	bestScore := pairScore(best)
	for _, p := range pairs[1:] {
		if s := pairScore(p); s > bestScore {
			best, bestScore = p, s
		}
	}
	return best
}

func pairScore(p pairDTO) float64 {
	var score float64
	if p.Volume.H24 != nil {
		score += *p.Volume.H24
	}
	if p.Liquidity.USD != nil {
		score += *p.Liquidity.USD * 0.1
	}
	return score
}

func (c *fallbackClient) normalizePair(mint string, p pairDTO) TokenStats {
	s := TokenStats{
		Mint:         mint,
		Symbol:       p.BaseToken.Symbol,
		Name:         p.BaseToken.Name,
		PriceUSD:     parsePriceString(p.PriceUSD),
		LiquidityUSD: metric(p.Liquidity.USD),
		Volume24hUSD: metric(p.Volume.H24),
		Change1hPct:  metric(p.PriceChange.H1),
		Change24hPct: metric(p.PriceChange.H24),
		MarketCapUSD: metric(p.MarketCap),
		Source:       SourceFallback,
	}
	ns := Normalize(s)
	log.Debug().Str("mint", shortMint(mint)).
		Float64("liq", ns.LiquidityUSD.Value).
		Float64("vol24", ns.Volume24hUSD.Value).
		Msg("stats: fallback pair selected")
	return ns
}

func parsePriceString(s string) Metric {
	if s == "" {
		return Metric{Unknown: true}
	}
	var v float64
	if _, err := fmt.Sscanf(s, "%g", &v); err != nil {
		return Metric{Unknown: true}
	}
	return finiteMetric(v)
}

func shortMint(mint string) string {
	if len(mint) > 8 {
		return mint[:8]
	}
	return mint
}
