package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// trendingClient scrapes a public aggregator's trending-pools endpoint and
// turns the result into synthetic feed items. Used only when the primary
// feed yields nothing; synthetic items are downweighted by the funnel.
type trendingClient struct {
	baseURL    string
	maxItems   int
	httpClient *http.Client
}

func newTrendingClient(baseURL string, timeout time.Duration, maxItems int) *trendingClient {
	return &trendingClient{
		baseURL:    baseURL,
		maxItems:   maxItems,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type trendingResponse struct {
	Data []struct {
		Attributes struct {
			BaseTokenAddress string `json:"base_token_address"`
			QuoteTokenAddress string `json:"quote_token_address"`
			VolumeUSD        struct {
				H24 string `json:"h24"`
			} `json:"volume_usd"`
		} `json:"attributes"`
	} `json:"data"`
}

func (c *trendingClient) Fetch(ctx context.Context) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/trending_pools", nil)
	if err != nil {
		return nil, fmt.Errorf("trending: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trending: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trending: status %d", resp.StatusCode)
	}

	var tr trendingResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("trending: decode: %w", err)
	}

	items := make([]Item, 0, len(tr.Data))
	for _, pool := range tr.Data {
		if len(items) >= c.maxItems {
			break
		}
		attrs := pool.Attributes
		if attrs.BaseTokenAddress == "" {
			continue
		}
		vol, _ := strconv.ParseFloat(attrs.VolumeUSD.H24, 64)
		items = append(items, Item{
			Token0:      attrs.QuoteTokenAddress,
			Token1:      attrs.BaseTokenAddress,
			Token1USD:   vol,
			TxType:      "trending",
			IsSynthetic: true,
		})
	}
	return items, nil
}
