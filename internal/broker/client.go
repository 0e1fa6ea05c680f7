package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
	"github.com/spbarathg/callsbotonchain-sub000/internal/metrics"
)

// ---------------------------------------------------------------------------
// Jupiter V6 client — quote, swap build, sign/send/confirm
// https://station.jup.ag/docs/apis/swap-api
// ---------------------------------------------------------------------------

const (
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	usdtMint = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"

	lamportsPerSOL = 1_000_000_000

	// Last-resort SOL/USD when both the aggregator and the oracle are down.
	fallbackSOLPriceUSD = 150
)

// knownDecimals covers the mints every trade touches. Everything else goes
// through one cached token-list lookup.
var knownDecimals = map[string]int{
	"So11111111111111111111111111111111111111112": 9,
	usdcMint: 6,
	usdtMint: 6,
}

// Quote is one aggregator route. Raw carries the response verbatim so the
// swap build round-trips exactly what the quote endpoint returned.
type Quote struct {
	Raw            json.RawMessage
	InputMint      string
	OutputMint     string
	InAmount       uint64
	OutAmount      uint64
	PriceImpactPct float64
	SlippageBps    int
}

type quoteDTO struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	SlippageBps    int    `json:"slippageBps"`
	ErrorCode      string `json:"errorCode"`
	Error          string `json:"error"`
}

type swapRequest struct {
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	UserPublicKey                 string          `json:"userPublicKey"`
	WrapAndUnwrapSOL              bool            `json:"wrapAndUnwrapSol"`
	UseSharedAccounts             bool            `json:"useSharedAccounts"`
	ComputeUnitPriceMicroLamports uint64          `json:"computeUnitPriceMicroLamports,omitempty"`
	DynamicComputeUnitLimit       bool            `json:"dynamicComputeUnitLimit"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"` // base64
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// rpcAPI is the slice of the Solana RPC surface the broker touches.
// *rpc.Client satisfies it.
type rpcAPI interface {
	SimulateTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Client talks to the DEX aggregator and the Solana RPC under a shared
// token-bucket rate limit.
type Client struct {
	cfg     config.BrokerConfig
	http    *http.Client
	limiter *rateLimiter
	rpc     rpcAPI
	metrics *metrics.Recorder

	signer    solana.PrivateKey
	walletPub string

	decimalsMu  sync.Mutex
	decimals    map[string]int
	listFetched bool

	quoteCount atomic.Int64
	swapCount  atomic.Int64
	errorCount atomic.Int64
}

// New builds a broker client. The wallet key is required unless dry-run is
// enabled, in which case fills are fabricated from quotes and nothing is
// signed or sent.
func New(cfg config.BrokerConfig, rec *metrics.Recorder) (*Client, error) {
	c := &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.SwapTimeout,
		},
		limiter:  newRateLimiter(cfg.RequestsPerMin, cfg.Burst, cfg.Cooldown429After, cfg.CooldownSec),
		rpc:      rpc.New(cfg.RPCEndpoint),
		metrics:  rec,
		decimals: map[string]int{},
	}
	for mint, dec := range knownDecimals {
		c.decimals[mint] = dec
	}

	if cfg.DryRun {
		c.walletPub = "11111111111111111111111111111111"
		return c, nil
	}

	signer, err := solana.PrivateKeyFromBase58(cfg.WalletKey)
	if err != nil {
		return nil, fmt.Errorf("broker: parse wallet key: %w", err)
	}
	c.signer = signer
	c.walletPub = signer.PublicKey().String()
	return c, nil
}

// validMint reports whether s decodes to a 32-byte base58 address.
func validMint(s string) bool {
	raw, err := base58.Decode(s)
	return err == nil && len(raw) == 32
}

// ---------------------------------------------------------------------------
// Quote API
// ---------------------------------------------------------------------------

// GetQuote fetches the best route for swapping amount base units of
// inputMint into outputMint.
func (c *Client) GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*Quote, error) {
	if !validMint(inputMint) || !validMint(outputMint) {
		return nil, fmt.Errorf("%w: bad mint address", ErrInvalidInput)
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: zero amount", ErrInvalidInput)
	}
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	queryURL, err := url.Parse(c.cfg.QuoteURL)
	if err != nil {
		return nil, fmt.Errorf("broker: parse quote URL: %w", err)
	}
	q := queryURL.Query()
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))
	q.Set("onlyDirectRoutes", "false")
	queryURL.RawQuery = q.Encode()

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.QuoteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, queryURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("broker: create quote request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("broker: quote HTTP error: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("broker: read quote response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.Record429()
		c.errorCount.Add(1)
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		c.errorCount.Add(1)
		if noRouteBody(body) {
			return nil, ErrNoRoute
		}
		return nil, fmt.Errorf("broker: quote HTTP %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var dto quoteDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return nil, fmt.Errorf("broker: parse quote: %w", err)
	}
	if dto.OutAmount == "" {
		if noRouteBody(body) {
			return nil, ErrNoRoute
		}
		return nil, fmt.Errorf("broker: empty quote: %s", truncate(body, 200))
	}

	c.limiter.RecordSuccess()
	c.quoteCount.Add(1)

	inAmount, _ := strconv.ParseUint(dto.InAmount, 10, 64)
	outAmount, _ := strconv.ParseUint(dto.OutAmount, 10, 64)
	impact, _ := strconv.ParseFloat(dto.PriceImpactPct, 64)

	log.Debug().
		Str("in", shortAddr(dto.InputMint)).
		Str("out", shortAddr(dto.OutputMint)).
		Uint64("in_amount", inAmount).
		Uint64("out_amount", outAmount).
		Float64("price_impact_pct", impact*100).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("broker: quote received")

	return &Quote{
		Raw:            json.RawMessage(body),
		InputMint:      dto.InputMint,
		OutputMint:     dto.OutputMint,
		InAmount:       inAmount,
		OutAmount:      outAmount,
		PriceImpactPct: impact * 100, // aggregator reports a fraction
		SlippageBps:    dto.SlippageBps,
	}, nil
}

func noRouteBody(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "could_not_find_any_route") ||
		strings.Contains(lower, "no route")
}

// ---------------------------------------------------------------------------
// Swap API
// ---------------------------------------------------------------------------

// GetSwapTx asks the aggregator to build the swap transaction for a quote.
// The result is a base64-encoded versioned transaction ready to sign.
func (c *Client) GetSwapTx(ctx context.Context, quote *Quote) (string, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(swapRequest{
		QuoteResponse:                 quote.Raw,
		UserPublicKey:                 c.walletPub,
		WrapAndUnwrapSOL:              true,
		UseSharedAccounts:             true,
		ComputeUnitPriceMicroLamports: c.cfg.PriorityFee,
		DynamicComputeUnitLimit:       true,
	})
	if err != nil {
		return "", fmt.Errorf("broker: marshal swap request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.SwapTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.SwapURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("broker: create swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.errorCount.Add(1)
		return "", fmt.Errorf("broker: swap HTTP error: %w", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		c.errorCount.Add(1)
		return "", fmt.Errorf("broker: read swap response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.Record429()
		c.errorCount.Add(1)
		return "", ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		c.errorCount.Add(1)
		return "", fmt.Errorf("broker: swap HTTP %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	var swap swapResponse
	if err := json.Unmarshal(respBody, &swap); err != nil {
		return "", fmt.Errorf("broker: parse swap response: %w", err)
	}
	if swap.SwapTransaction == "" {
		return "", fmt.Errorf("broker: swap response missing transaction")
	}

	c.limiter.RecordSuccess()
	c.swapCount.Add(1)
	return swap.SwapTransaction, nil
}

// ---------------------------------------------------------------------------
// Decimals and pricing
// ---------------------------------------------------------------------------

type tokenListEntry struct {
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
}

// tokenDecimals resolves a mint's decimals from the hardcoded table, falling
// back to one cached fetch of the aggregator's token list. Unknown mints
// default to 9 with a warning.
func (c *Client) tokenDecimals(ctx context.Context, mint string) int {
	c.decimalsMu.Lock()
	if dec, ok := c.decimals[mint]; ok {
		c.decimalsMu.Unlock()
		return dec
	}
	fetched := c.listFetched
	c.decimalsMu.Unlock()

	if !fetched {
		c.loadTokenList(ctx)
		c.decimalsMu.Lock()
		dec, ok := c.decimals[mint]
		c.decimalsMu.Unlock()
		if ok {
			return dec
		}
	}

	log.Warn().Str("mint", shortAddr(mint)).Msg("broker: unknown token decimals, assuming 9")
	return 9
}

func (c *Client) loadTokenList(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.QuoteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.cfg.TokenListURL, nil)
	if err != nil {
		return
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("broker: token list fetch failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Msg("broker: token list fetch failed")
		return
	}

	var entries []tokenListEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		log.Warn().Err(err).Msg("broker: token list parse failed")
		return
	}

	c.decimalsMu.Lock()
	for _, e := range entries {
		if e.Address != "" {
			c.decimals[e.Address] = e.Decimals
		}
	}
	c.listFetched = true
	c.decimalsMu.Unlock()

	log.Info().Int("tokens", len(entries)).Msg("broker: token list cached")
}

// solPriceUSD returns SOL/USD from a 1 SOL → USDC quote, falling back to the
// configured oracle and finally to a conservative constant.
func (c *Client) solPriceUSD(ctx context.Context) decimal.Decimal {
	quote, err := c.GetQuote(ctx, c.cfg.BaseMint, usdcMint, lamportsPerSOL, 50)
	if err == nil && quote.OutAmount > 0 {
		return decimal.NewFromUint64(quote.OutAmount).Div(decimal.NewFromInt(1_000_000))
	}

	if c.cfg.PriceOracleURL != "" {
		if price, oerr := c.oraclePrice(ctx); oerr == nil {
			return price
		}
	}

	log.Warn().Err(err).Msg("broker: SOL price unavailable, using fallback constant")
	return decimal.NewFromInt(fallbackSOLPriceUSD)
}

func (c *Client) oraclePrice(ctx context.Context) (decimal.Decimal, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.QuoteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.cfg.PriceOracleURL, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("oracle HTTP %d", resp.StatusCode)
	}

	// Coingecko simple-price shape.
	var payload struct {
		Solana struct {
			USD float64 `json:"usd"`
		} `json:"solana"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, err
	}
	if payload.Solana.USD <= 0 {
		return decimal.Zero, fmt.Errorf("oracle returned non-positive price")
	}
	return decimal.NewFromFloat(payload.Solana.USD), nil
}

// Price returns the USD price of one whole token, derived from a quote of
// one token unit into USDC.
func (c *Client) Price(ctx context.Context, mint string) (decimal.Decimal, error) {
	dec := c.tokenDecimals(ctx, mint)
	unit := uint64(1)
	for i := 0; i < dec; i++ {
		unit *= 10
	}

	quote, err := c.GetQuote(ctx, mint, usdcMint, unit, 100)
	if err != nil {
		return decimal.Zero, err
	}
	if quote.OutAmount == 0 {
		return decimal.Zero, ErrNoRoute
	}
	return decimal.NewFromUint64(quote.OutAmount).Div(decimal.NewFromInt(1_000_000)), nil
}

// Stats is a point-in-time snapshot of client counters.
type Stats struct {
	QuoteCount int64 `json:"quote_count"`
	SwapCount  int64 `json:"swap_count"`
	ErrorCount int64 `json:"error_count"`
	Cooling    bool  `json:"cooling"`
}

func (c *Client) Stats() Stats {
	return Stats{
		QuoteCount: c.quoteCount.Load(),
		SwapCount:  c.swapCount.Load(),
		ErrorCount: c.errorCount.Load(),
		Cooling:    c.limiter.Cooling(),
	}
}

func shortAddr(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
