package stats

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func TestBestPair_RanksByVolumePlusTenthLiquidity(t *testing.T) {
	pairs := []pairDTO{{}, {}, {}}
	pairs[0].Volume.H24 = f64(10_000)
	pairs[0].Liquidity.USD = f64(100_000) // score 20_000
	pairs[1].Volume.H24 = f64(50_000)
	pairs[1].Liquidity.USD = f64(1_000) // score 50_100
	pairs[2].Volume.H24 = nil
	pairs[2].Liquidity.USD = f64(400_000) // score 40_000

	best := bestPair(pairs)
	assert.Equal(t, 50_000.0, *best.Volume.H24)
}

func TestFallback_DoesNotSubstituteFDVForMarketCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"pairs":[{
			"baseToken":{"address":%q,"symbol":"XYZ"},
			"priceUsd":"0.5",
			"liquidity":{"usd":30000},
			"volume":{"h24":50000},
			"fdv":5000000}]}`, testMint)
	}))
	defer srv.Close()

	c := newFallbackClient(srv.URL, 2*time.Second)
	s, err := c.Fetch(context.Background(), testMint)
	require.NoError(t, err)

	assert.True(t, s.MarketCapUSD.Unknown)
	assert.Equal(t, 0.5, s.PriceUSD.Value)
	assert.Equal(t, SourceFallback, s.Source)
}

func TestFallback_NotFoundAndEmptyPairs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == fmt.Sprintf("/latest/dex/tokens/%s", testMint) {
			fmt.Fprint(w, `{"pairs":[]}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newFallbackClient(srv.URL, 2*time.Second)

	s, err := c.Fetch(context.Background(), testMint)
	require.NoError(t, err)
	assert.True(t, s.Empty())

	s, err = c.Fetch(context.Background(), "OtherMint111111111111111111111111111111111")
	require.NoError(t, err)
	assert.True(t, s.Empty())
}

func TestTTLCache_ExpiryAndSweep(t *testing.T) {
	c := newTTLCache(10 * time.Millisecond)
	c.Put("a", TokenStats{Mint: "a"})
	c.Put("b", TokenStats{Mint: "b"})

	_, ok := c.Get("a")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Sweep()) // "b" swept; "a" already dropped by Get
	assert.Equal(t, 0, c.Len())
}
