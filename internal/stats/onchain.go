package stats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// On-chain enrichment — Solana JSON-RPC for fields the HTTP sources miss
// ---------------------------------------------------------------------------

// top10Limit caps how many largest accounts count toward concentration.
const top10Limit = 10

// chainClient is a minimal Solana JSON-RPC client used to backfill holder
// concentration and mint-authority state when the stats sources returned
// them unknown.
type chainClient struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Int64
}

func newChainClient(endpoint string, timeout time.Duration) *chainClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &chainClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

type chainRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type chainResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *chainError     `json:"error,omitempty"`
}

type chainError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call performs one JSON-RPC request and returns the raw result.
func (c *chainClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	body, err := json.Marshal(chainRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpc: build %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc: %s HTTP %d", method, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rpc: %s read: %w", method, err)
	}

	var env chainResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("rpc: %s parse: %w", method, err)
	}
	if env.Error != nil {
		return nil, fmt.Errorf("rpc: %s error %d: %s", method, env.Error.Code, env.Error.Message)
	}
	return env.Result, nil
}

// tokenSupply returns the raw (base-unit) supply of a mint.
func (c *chainClient) tokenSupply(ctx context.Context, mint string) (decimal.Decimal, error) {
	result, err := c.call(ctx, "getTokenSupply", []any{mint})
	if err != nil {
		return decimal.Zero, err
	}

	var resp struct {
		Value struct {
			Amount string `json:"amount"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("rpc: parse supply: %w", err)
	}

	supply, err := decimal.NewFromString(resp.Value.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rpc: supply amount %q: %w", resp.Value.Amount, err)
	}
	return supply, nil
}

// top10Pct computes the share of supply held by the ten largest token
// accounts, as a percentage.
func (c *chainClient) top10Pct(ctx context.Context, mint string) (float64, error) {
	result, err := c.call(ctx, "getTokenLargestAccounts", []any{mint})
	if err != nil {
		return 0, err
	}

	var resp struct {
		Value []struct {
			Amount string `json:"amount"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return 0, fmt.Errorf("rpc: parse largest accounts: %w", err)
	}
	if len(resp.Value) == 0 {
		return 0, fmt.Errorf("rpc: no token accounts for %s", shortMint(mint))
	}

	supply, err := c.tokenSupply(ctx, mint)
	if err != nil {
		return 0, err
	}
	if !supply.IsPositive() {
		return 0, fmt.Errorf("rpc: zero supply for %s", shortMint(mint))
	}

	held := decimal.Zero
	for i, acct := range resp.Value {
		if i >= top10Limit {
			break
		}
		balance, err := decimal.NewFromString(acct.Amount)
		if err != nil {
			continue
		}
		held = held.Add(balance)
	}

	pct, _ := held.Div(supply).Mul(decimal.NewFromInt(100)).Float64()
	return pct, nil
}

// mintAuthority holds the authority fields of a parsed mint account.
type mintAuthority struct {
	Mint   string
	Freeze string
}

// mintAuthorities reads a mint account via getAccountInfo(jsonParsed).
func (c *chainClient) mintAuthorities(ctx context.Context, mint string) (mintAuthority, error) {
	result, err := c.call(ctx, "getAccountInfo", []any{
		mint,
		map[string]any{"encoding": "jsonParsed"},
	})
	if err != nil {
		return mintAuthority{}, err
	}

	var resp struct {
		Value *struct {
			Data struct {
				Parsed struct {
					Info struct {
						MintAuthority   string `json:"mintAuthority"`
						FreezeAuthority string `json:"freezeAuthority"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return mintAuthority{}, fmt.Errorf("rpc: parse mint account: %w", err)
	}
	if resp.Value == nil {
		return mintAuthority{}, fmt.Errorf("rpc: mint %s not found", shortMint(mint))
	}

	info := resp.Value.Data.Parsed.Info
	return mintAuthority{Mint: info.MintAuthority, Freeze: info.FreezeAuthority}, nil
}

// enrich backfills unknown holder and security fields from chain state.
// Failures leave the record untouched; upstream unknowns stay unknown.
func (c *chainClient) enrich(ctx context.Context, s *TokenStats) {
	if s.Empty() {
		return
	}

	if s.Holders.Top10Pct.Unknown {
		pct, err := c.top10Pct(ctx, s.Mint)
		if err != nil {
			log.Debug().Err(err).Str("mint", shortMint(s.Mint)).Msg("stats: top10 enrichment failed")
		} else {
			s.Holders.Top10Pct = Metric{Value: pct}
		}
	}

	if s.Security.IsMintRevoked == Unknown {
		auth, err := c.mintAuthorities(ctx, s.Mint)
		if err != nil {
			log.Debug().Err(err).Str("mint", shortMint(s.Mint)).Msg("stats: authority enrichment failed")
			return
		}
		if auth.Mint == "" {
			s.Security.IsMintRevoked = Yes
		} else {
			s.Security.IsMintRevoked = No
		}
	}
}
