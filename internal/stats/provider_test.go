package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spbarathg/callsbotonchain-sub000/internal/budget"
	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
)

const testMint = "Mint1111111111111111111111111111111111111111"

// fakeBudget is a CreditBudget that can be toggled.
type fakeBudget struct {
	allow  bool
	spends atomic.Int64
}

func (f *fakeBudget) CanSpend(budget.Kind) bool { return f.allow }
func (f *fakeBudget) Spend(budget.Kind) error {
	if !f.allow {
		return budget.ErrExhausted
	}
	f.spends.Add(1)
	return nil
}

func primaryResponse(liq, vol, mcap float64) string {
	return fmt.Sprintf(`{"status":"ok","data":{
		"token_address":%q,"symbol":"XYZ","name":"Xyz Token",
		"market_cap_usd":%g,"price_usd":0.00000123,
		"liquidity_usd":%g,"volume_24h_usd":%g,
		"change_1h_pct":12,"change_24h_pct":18,
		"security":{"is_honeypot":false,"is_mint_revoked":true},
		"liquidity_meta":{"is_lp_locked":true},
		"holders":{"top10_pct":28}}}`, testMint, mcap, liq, vol)
}

func newProvider(t *testing.T, cfg config.StatsConfig, cb CreditBudget) *Provider {
	t.Helper()
	deny, err := NewDenyList(filepath.Join(t.TempDir(), "deny.json"))
	require.NoError(t, err)
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.DenyTTL == 0 {
		cfg.DenyTTL = time.Minute
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Second
	}
	return NewProvider(cfg, cb, deny, nil)
}

func TestGetStats_PrimaryHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testMint, r.URL.Query().Get("token_address"))
		assert.Equal(t, "solana", r.URL.Query().Get("chain"))
		fmt.Fprint(w, primaryResponse(28_000, 60_000, 90_000))
	}))
	defer srv.Close()

	fb := &fakeBudget{allow: true}
	p := newProvider(t, config.StatsConfig{BaseURLs: []string{srv.URL}, APIKey: "k"}, fb)

	s, err := p.GetStats(context.Background(), testMint, false)
	require.NoError(t, err)
	require.False(t, s.Empty())

	assert.Equal(t, SourcePrimary, s.Source)
	assert.Equal(t, 28_000.0, s.LiquidityUSD.Value)
	assert.Equal(t, Yes, s.Security.IsMintRevoked)
	assert.Equal(t, No, s.Security.IsHoneypot)
	assert.Equal(t, LockLocked, s.LiquidityMeta.LockStatus)
	assert.Equal(t, int64(1), fb.spends.Load())
}

func TestGetStats_CacheHitSkipsUpstream(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, primaryResponse(28_000, 60_000, 90_000))
	}))
	defer srv.Close()

	p := newProvider(t, config.StatsConfig{BaseURLs: []string{srv.URL}, APIKey: "k"}, &fakeBudget{allow: true})

	_, err := p.GetStats(context.Background(), testMint, false)
	require.NoError(t, err)
	_, err = p.GetStats(context.Background(), testMint, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())

	// force_refresh bypasses the cache.
	_, err = p.GetStats(context.Background(), testMint, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestGetStats_NotFoundIsEmptyNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := newProvider(t, config.StatsConfig{BaseURLs: []string{srv.URL}, APIKey: "k"}, &fakeBudget{allow: true})

	s, err := p.GetStats(context.Background(), testMint, false)
	require.NoError(t, err)
	assert.True(t, s.Empty())
}

func TestGetStats_BudgetExhaustedGoesToFallback(t *testing.T) {
	var primaryCalls atomic.Int64
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls.Add(1)
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"pairs": []map[string]any{{
			"baseToken": map[string]string{"address": testMint, "symbol": "XYZ"},
			"priceUsd":  "0.001",
			"liquidity": map[string]float64{"usd": 20_000},
			"volume":    map[string]float64{"h24": 40_000},
		}}})
	}))
	defer fallback.Close()

	p := newProvider(t, config.StatsConfig{
		BaseURLs:    []string{primary.URL},
		APIKey:      "k",
		FallbackURL: fallback.URL,
	}, &fakeBudget{allow: false})

	s, err := p.GetStats(context.Background(), testMint, false)
	require.NoError(t, err)
	require.False(t, s.Empty())
	assert.Equal(t, SourceFallback, s.Source)
	assert.Equal(t, int64(0), primaryCalls.Load())
}

func TestGetStats_AuthFailureSetsDenyState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := newProvider(t, config.StatsConfig{BaseURLs: []string{srv.URL}, APIKey: "bad"}, &fakeBudget{allow: true})

	_, err := p.GetStats(context.Background(), testMint, false)
	require.NoError(t, err)
	assert.True(t, p.deny.Denied())
}

func TestGetStats_DeniedSkipsPrimary(t *testing.T) {
	var primaryCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls.Add(1)
		fmt.Fprint(w, primaryResponse(28_000, 60_000, 90_000))
	}))
	defer srv.Close()

	p := newProvider(t, config.StatsConfig{BaseURLs: []string{srv.URL}, APIKey: "k"}, &fakeBudget{allow: true})
	p.deny.Deny(time.Minute)

	s, err := p.GetStats(context.Background(), testMint, false)
	require.NoError(t, err)
	assert.True(t, s.Empty()) // no fallback configured
	assert.Equal(t, int64(0), primaryCalls.Load())
}

func TestGetStats_AugmentsFromFallback(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Primary omits liquidity and volume.
		fmt.Fprintf(w, `{"status":"ok","data":{"token_address":%q,"symbol":"XYZ",
			"market_cap_usd":90000,"price_usd":0.001,
			"security":{"is_mint_revoked":true}}}`, testMint)
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"pairs": []map[string]any{{
			"baseToken": map[string]string{"address": testMint, "symbol": "XYZ", "name": "Xyz"},
			"priceUsd":  "0.001",
			"liquidity": map[string]float64{"usd": 28_000},
			"volume":    map[string]float64{"h24": 60_000},
		}}})
	}))
	defer fallback.Close()

	p := newProvider(t, config.StatsConfig{
		BaseURLs:    []string{primary.URL},
		APIKey:      "k",
		FallbackURL: fallback.URL,
	}, &fakeBudget{allow: true})

	s, err := p.GetStats(context.Background(), testMint, false)
	require.NoError(t, err)
	assert.Equal(t, SourcePrimaryFallback, s.Source)
	assert.Equal(t, 28_000.0, s.LiquidityUSD.Value)
	assert.Equal(t, 60_000.0, s.Volume24hUSD.Value)
	// Primary-sourced fields untouched.
	assert.Equal(t, 90_000.0, s.MarketCapUSD.Value)
	assert.Equal(t, Yes, s.Security.IsMintRevoked)
}

func TestRetryAfterDuration(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, 30*time.Second, retryAfterDuration("30", now))
	assert.Equal(t, time.Duration(0), retryAfterDuration("", now))
	assert.Equal(t, time.Duration(0), retryAfterDuration("garbage", now))

	httpDate := now.Add(42 * time.Second).Format(http.TimeFormat)
	assert.Equal(t, 42*time.Second, retryAfterDuration(httpDate, now))
}
