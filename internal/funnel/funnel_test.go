package funnel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spbarathg/callsbotonchain-sub000/internal/alerts"
	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
	"github.com/spbarathg/callsbotonchain-sub000/internal/feed"
	"github.com/spbarathg/callsbotonchain-sub000/internal/scoring"
	"github.com/spbarathg/callsbotonchain-sub000/internal/stats"
	"github.com/spbarathg/callsbotonchain-sub000/internal/store"
)

const (
	solMint = "So11111111111111111111111111111111111111112"
	xyzMint = "Xyz1111111111111111111111111111111111111111"
)

type fakeProvider struct {
	stats map[string]stats.TokenStats
	calls int
}

func (p *fakeProvider) GetStats(_ context.Context, mint string, _ bool) (stats.TokenStats, error) {
	p.calls++
	return p.stats[mint], nil
}

type collectSink struct {
	records []alerts.Record
}

func (s *collectSink) Name() string  { return "collect" }
func (s *collectSink) Durable() bool { return true }

func (s *collectSink) Publish(_ context.Context, rec alerts.Record) error {
	s.records = append(s.records, rec)
	return nil
}

type collectSignals struct {
	pushed []alerts.Record
}

func (s *collectSignals) Push(_ context.Context, rec alerts.Record) error {
	s.pushed = append(s.pushed, rec)
	return nil
}

func known(v float64) stats.Metric { return stats.Metric{Value: v} }

func healthyStats(mint string) stats.TokenStats {
	return stats.TokenStats{
		Mint:         mint,
		Symbol:       "XYZ",
		MarketCapUSD: known(90_000),
		PriceUSD:     known(0.00000123),
		LiquidityUSD: known(28_000),
		Volume24hUSD: known(60_000),
		Change1hPct:  known(12),
		Change24hPct: known(18),
		Security:     stats.Security{IsHoneypot: stats.No, IsMintRevoked: stats.Yes},
		LiquidityMeta: stats.LiquidityMeta{
			IsLPLocked: stats.Yes,
			LockStatus: stats.LockLocked,
			LockHours:  stats.Metric{Unknown: true},
		},
		Holders: stats.Holders{
			Top10Pct:         known(28),
			BundlersPct:      stats.Metric{Unknown: true},
			InsidersPct:      stats.Metric{Unknown: true},
			HolderCount:      stats.Metric{Unknown: true},
			UniqueTraders24h: stats.Metric{Unknown: true},
		},
		Source: stats.SourcePrimary,
	}
}

type harness struct {
	funnel   *Funnel
	provider *fakeProvider
	mem      *store.Memory
	sink     *collectSink
	signals  *collectSignals
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()

	provider := &fakeProvider{stats: map[string]stats.TokenStats{xyzMint: healthyStats(xyzMint)}}
	mem := store.NewMemory()
	sink := &collectSink{}
	signals := &collectSignals{}

	f := New(cfg.Funnel, Deps{
		Provider:   provider,
		AlertDB:    mem,
		Activity:   mem,
		Scorer:     scoring.NewScorer(cfg.Scoring),
		Gates:      scoring.NewGates(cfg.Gates),
		Sinks:      alerts.NewFanOut(sink),
		Signals:    signals,
		BaseAssets: cfg.Gates.StableMints,
	})
	return &harness{funnel: f, provider: provider, mem: mem, sink: sink, signals: signals}
}

// seedActivity plants a prior observation so multi-signal and token-age
// gates pass.
func (h *harness) seedActivity(t *testing.T, mint string, age time.Duration, smart bool) {
	t.Helper()
	require.NoError(t, h.mem.RecordActivity(context.Background(), store.Activity{
		Mint:       mint,
		TS:         time.Now().Add(-age),
		USDValue:   2_000,
		TxCount:    1,
		SmartMoney: smart,
	}))
}

func smartItem(usd float64) feed.Item {
	return feed.Item{
		Token0:     solMint,
		Token1:     xyzMint,
		Token1USD:  usd,
		SmartMoney: feed.SmartMoneyHints{TopWallets: []string{"w1"}},
	}
}

func TestProcess_SmartMoneyAlertEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.seedActivity(t, xyzMint, 15*time.Minute, true)

	rec, err := h.funnel.Process(context.Background(), smartItem(6_000))
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, xyzMint, rec.Token)
	assert.Equal(t, string(scoring.ConvictionHCSmartMoney), rec.Conviction)
	assert.GreaterOrEqual(t, rec.FinalScore, 8.0)
	assert.True(t, rec.SmartMoney)

	// The dedup row lands before any sink sees the alert.
	alerted, err := h.mem.HasBeenAlerted(context.Background(), xyzMint)
	require.NoError(t, err)
	assert.True(t, alerted)

	require.Len(t, h.sink.records, 1)
	require.Len(t, h.signals.pushed, 1)

	statsRow, err := h.mem.GetAlertStats(context.Background(), xyzMint)
	require.NoError(t, err)
	assert.Equal(t, rec.Price, statsRow.FirstPrice)
	assert.Equal(t, rec.Price, statsRow.PeakPrice)
}

func TestProcess_AlertIsIdempotentPerRun(t *testing.T) {
	h := newHarness(t)
	h.seedActivity(t, xyzMint, 15*time.Minute, true)

	rec, err := h.funnel.Process(context.Background(), smartItem(6_000))
	require.NoError(t, err)
	require.NotNil(t, rec)

	rec, err = h.funnel.Process(context.Background(), smartItem(6_000))
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Len(t, h.sink.records, 1)
}

func TestProcess_HoneypotNeverAlerts(t *testing.T) {
	h := newHarness(t)
	h.seedActivity(t, xyzMint, 15*time.Minute, true)

	poisoned := healthyStats(xyzMint)
	poisoned.Security.IsHoneypot = stats.Yes
	h.provider.stats[xyzMint] = poisoned

	rec, err := h.funnel.Process(context.Background(), smartItem(6_000))
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, h.sink.records)
}

func TestProcess_CandidateSelection(t *testing.T) {
	h := newHarness(t)

	// Base asset on token1: candidate falls back to token0.
	item := feed.Item{Token0: xyzMint, Token0USD: 3_000, Token1: solMint, Token1USD: 3_000}
	mint, usd := h.funnel.candidate(item)
	assert.Equal(t, xyzMint, mint)
	assert.Equal(t, 3_000.0, usd)

	// Both legs base: nothing to do.
	both := feed.Item{Token0: solMint, Token1: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"}
	rec, err := h.funnel.Process(context.Background(), both)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Zero(t, h.provider.calls)
}

func TestProcess_MultiSignalGate(t *testing.T) {
	h := newHarness(t)

	// First observation ever: count 1 < 2, no stats spent.
	rec, err := h.funnel.Process(context.Background(), smartItem(6_000))
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Zero(t, h.provider.calls)
}

func TestProcess_TokenAgeGate(t *testing.T) {
	h := newHarness(t)
	h.seedActivity(t, xyzMint, 5*time.Minute, true) // seen, but too recently

	rec, err := h.funnel.Process(context.Background(), smartItem(6_000))
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Zero(t, h.provider.calls)
}

func TestProcess_LowPrelimSkipsStats(t *testing.T) {
	h := newHarness(t)
	h.seedActivity(t, xyzMint, 15*time.Minute, false)

	// Non-smart dust trade: prelim 1 < medium threshold, stats never fetched.
	item := feed.Item{Token0: solMint, Token1: xyzMint, Token1USD: 50}
	rec, err := h.funnel.Process(context.Background(), item)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Zero(t, h.provider.calls)
}

func TestProcess_MediumPrelimNeedsVelocity(t *testing.T) {
	h := newHarness(t)
	h.seedActivity(t, xyzMint, 15*time.Minute, false)

	// Non-smart 6k trade: prelim 3 sits in the medium band, so the fetch
	// depends on velocity; two observations clear the threshold.
	item := feed.Item{Token0: solMint, Token1: xyzMint, Token1USD: 6_000}
	rec, err := h.funnel.Process(context.Background(), item)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, string(scoring.ConvictionHCStrict), rec.Conviction)
}

func TestPrelimScore_SyntheticDownweight(t *testing.T) {
	h := newHarness(t)

	organic := h.funnel.prelimScore(6_000, true, false)
	synthetic := h.funnel.prelimScore(6_000, true, true)
	assert.Equal(t, 5.0, organic)
	assert.Equal(t, 2.5, synthetic)
}
