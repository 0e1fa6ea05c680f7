package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
)

const (
	testMint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	wsolMint = "So11111111111111111111111111111111111111112"
)

// quoteStub routes /quote requests by mint pair so one server can answer the
// SOL-price quote, the token-price quote, and the ladder quotes differently.
type quoteStub struct {
	// handler receives (inputMint, outputMint, amount, slippageBps) and
	// returns the response body and status.
	handler func(in, out, amount string, bps int) (string, int)
}

func (s *quoteStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bps := 0
	fmt.Sscanf(q.Get("slippageBps"), "%d", &bps)
	body, status := s.handler(q.Get("inputMint"), q.Get("outputMint"), q.Get("amount"), bps)
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func quoteJSON(in, out string, inAmount, outAmount uint64, impactFrac string, bps int) string {
	return fmt.Sprintf(`{"inputMint":%q,"outputMint":%q,"inAmount":"%d","outAmount":"%d","priceImpactPct":%q,"slippageBps":%d}`,
		in, out, inAmount, outAmount, impactFrac, bps)
}

func testClient(t *testing.T, stub *quoteStub) *Client {
	t.Helper()

	mux := http.NewServeMux()
	mux.Handle("/quote", stub)
	mux.HandleFunc("/tokens", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"address":%q,"decimals":6}]`, testMint)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := config.Default().Broker
	cfg.DryRun = true
	cfg.QuoteURL = srv.URL + "/quote"
	cfg.SwapURL = srv.URL + "/swap"
	cfg.TokenListURL = srv.URL + "/tokens"
	cfg.RequestsPerMin = 60_000
	cfg.Burst = 1000

	c, err := New(cfg, nil)
	require.NoError(t, err)
	return c
}

// solPriceQuote answers the 1 SOL → USDC sizing quote at $150.
func solPriceQuote(bps int) string {
	return quoteJSON(wsolMint, usdcMint, lamportsPerSOL, 150_000_000, "0.0001", bps)
}

func TestMarketBuy_PaperFill(t *testing.T) {
	stub := &quoteStub{handler: func(in, out, amount string, bps int) (string, int) {
		if out == usdcMint {
			return solPriceQuote(bps), 200
		}
		// $100 at $150/SOL is 666666666 lamports in, 50 tokens out.
		return quoteJSON(wsolMint, testMint, 666_666_666, 50_000_000, "0.01", bps), 200
	}}
	c := testClient(t, stub)

	fill := c.MarketBuy(context.Background(), testMint, decimal.NewFromInt(100))
	require.True(t, fill.Success, "fill error: %v", fill.Err)
	assert.Equal(t, "buy", fill.Side)
	assert.Equal(t, 2000, fill.SlippageBps, "first ladder level suffices")
	assert.True(t, fill.Quantity.Equal(decimal.NewFromInt(50)), "qty %s", fill.Quantity)
	assert.True(t, fill.Price.Equal(decimal.NewFromInt(2)), "price %s", fill.Price)
	assert.Contains(t, fill.TxSignature, "paper-")
}

func TestMarketBuy_LadderEscalatesPastNoRoute(t *testing.T) {
	stub := &quoteStub{handler: func(in, out, amount string, bps int) (string, int) {
		if out == usdcMint {
			return solPriceQuote(bps), 200
		}
		if bps < 4000 {
			return `{"errorCode":"COULD_NOT_FIND_ANY_ROUTE"}`, 400
		}
		return quoteJSON(wsolMint, testMint, 666_666_666, 40_000_000, "0.02", bps), 200
	}}
	c := testClient(t, stub)

	fill := c.MarketBuy(context.Background(), testMint, decimal.NewFromInt(100))
	require.True(t, fill.Success, "fill error: %v", fill.Err)
	assert.Equal(t, 4000, fill.SlippageBps)
}

func TestMarketBuy_PriceImpactHardCap(t *testing.T) {
	stub := &quoteStub{handler: func(in, out, amount string, bps int) (string, int) {
		if out == usdcMint {
			return solPriceQuote(bps), 200
		}
		// 20% impact against the default 15% buy cap.
		return quoteJSON(wsolMint, testMint, 666_666_666, 50_000_000, "0.20", bps), 200
	}}
	c := testClient(t, stub)

	fill := c.MarketBuy(context.Background(), testMint, decimal.NewFromInt(100))
	assert.False(t, fill.Success)
	assert.ErrorIs(t, fill.Err, ErrPriceImpactTooHigh)
}

func TestMarketBuy_AllLevelsNoRoute(t *testing.T) {
	stub := &quoteStub{handler: func(in, out, amount string, bps int) (string, int) {
		if out == usdcMint {
			return solPriceQuote(bps), 200
		}
		return `{"errorCode":"COULD_NOT_FIND_ANY_ROUTE"}`, 400
	}}
	c := testClient(t, stub)

	fill := c.MarketBuy(context.Background(), testMint, decimal.NewFromInt(100))
	assert.False(t, fill.Success)
	assert.ErrorIs(t, fill.Err, ErrNoRoute)
}

func TestMarketBuy_RejectsBadInput(t *testing.T) {
	c := testClient(t, &quoteStub{handler: func(in, out, amount string, bps int) (string, int) {
		return "", 500
	}})

	fill := c.MarketBuy(context.Background(), "not-a-mint", decimal.NewFromInt(100))
	assert.ErrorIs(t, fill.Err, ErrInvalidInput)

	fill = c.MarketBuy(context.Background(), testMint, decimal.Zero)
	assert.ErrorIs(t, fill.Err, ErrInvalidInput)
}

func TestMarketSell_PaperFill(t *testing.T) {
	stub := &quoteStub{handler: func(in, out, amount string, bps int) (string, int) {
		switch {
		case in == wsolMint && out == usdcMint:
			return solPriceQuote(bps), 200
		case in == testMint && out == usdcMint:
			// One-unit price probe: $2 per token.
			return quoteJSON(testMint, usdcMint, 1_000_000, 2_000_000, "0.001", bps), 200
		default:
			// 100 tokens for 1.33 SOL, roughly $200 at $150/SOL.
			return quoteJSON(testMint, wsolMint, 100_000_000, 1_330_000_000, "0.01", bps), 200
		}
	}}
	c := testClient(t, stub)

	fill := c.MarketSell(context.Background(), testMint, decimal.NewFromInt(100))
	require.True(t, fill.Success, "fill error: %v", fill.Err)
	assert.Equal(t, "sell", fill.Side)
	assert.True(t, fill.USD.Equal(decimal.RequireFromString("199.5")), "usd %s", fill.USD)
}

func TestMarketSell_CatastrophicSlippageRejected(t *testing.T) {
	stub := &quoteStub{handler: func(in, out, amount string, bps int) (string, int) {
		switch {
		case in == wsolMint && out == usdcMint:
			return solPriceQuote(bps), 200
		case in == testMint && out == usdcMint:
			return quoteJSON(testMint, usdcMint, 1_000_000, 2_000_000, "0.001", bps), 200
		default:
			// Expected ~$200, quoted 0.0001 SOL ≈ $0.015.
			return quoteJSON(testMint, wsolMint, 100_000_000, 100_000, "0.01", bps), 200
		}
	}}
	c := testClient(t, stub)

	fill := c.MarketSell(context.Background(), testMint, decimal.NewFromInt(100))
	assert.False(t, fill.Success)
	assert.ErrorIs(t, fill.Err, ErrSlippageExceeded)
}

func TestMarketSell_StricterImpactCapStillApplies(t *testing.T) {
	stub := &quoteStub{handler: func(in, out, amount string, bps int) (string, int) {
		switch {
		case in == wsolMint && out == usdcMint:
			return solPriceQuote(bps), 200
		case in == testMint && out == usdcMint:
			return quoteJSON(testMint, usdcMint, 1_000_000, 2_000_000, "0.001", bps), 200
		default:
			// 30% impact against the default 25% sell cap.
			return quoteJSON(testMint, wsolMint, 100_000_000, 1_330_000_000, "0.30", bps), 200
		}
	}}
	c := testClient(t, stub)

	fill := c.MarketSell(context.Background(), testMint, decimal.NewFromInt(100))
	assert.False(t, fill.Success)
	assert.ErrorIs(t, fill.Err, ErrPriceImpactTooHigh)
}

func TestGetQuote_RateLimitBubblesUp(t *testing.T) {
	stub := &quoteStub{handler: func(in, out, amount string, bps int) (string, int) {
		return `{"error":"rate limited"}`, 429
	}}
	c := testClient(t, stub)

	_, err := c.GetQuote(context.Background(), wsolMint, testMint, 1_000_000, 2000)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestTokenDecimals_CachedListLookup(t *testing.T) {
	fetches := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/tokens", func(w http.ResponseWriter, r *http.Request) {
		fetches++
		fmt.Fprintf(w, `[{"address":%q,"decimals":6}]`, testMint)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.Default().Broker
	cfg.DryRun = true
	cfg.TokenListURL = srv.URL + "/tokens"
	c, err := New(cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, 9, c.tokenDecimals(context.Background(), wsolMint), "hardcoded table wins")
	assert.Equal(t, 6, c.tokenDecimals(context.Background(), testMint))
	assert.Equal(t, 6, c.tokenDecimals(context.Background(), testMint))
	assert.Equal(t, 1, fetches, "token list fetched once")
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, retrySkipPreflight(&SimulationError{Code: 6024}))
	assert.False(t, retrySkipPreflight(&SimulationError{Code: 6001}))
	assert.False(t, retrySkipPreflight(errors.New("plain")))

	assert.True(t, slippageError("Program log: Slippage tolerance exceeded"))
	assert.True(t, slippageError(`{"InstructionError":[3,{"Custom":6001}]} 0x1771`))
	assert.False(t, slippageError("insufficient funds"))
}

func TestValidMint(t *testing.T) {
	assert.True(t, validMint(testMint))
	assert.True(t, validMint(wsolMint))
	assert.False(t, validMint(""))
	assert.False(t, validMint("0xdeadbeef"))
	assert.False(t, validMint("abc"))
}
