package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
	"github.com/spbarathg/callsbotonchain-sub000/internal/stats"
)

func known(v float64) stats.Metric { return stats.Metric{Value: v} }

func unknown() stats.Metric { return stats.Metric{Unknown: true} }

// microCapStats mirrors a fresh micro-cap token with healthy liquidity and
// momentum: mcap 90k, liq 28k, vol 60k, +12% 1h, +18% 24h, clean security.
func microCapStats() stats.TokenStats {
	return stats.TokenStats{
		Mint:         "Xyz1111111111111111111111111111111111111111",
		Symbol:       "XYZ",
		MarketCapUSD: known(90_000),
		PriceUSD:     known(0.00000123),
		LiquidityUSD: known(28_000),
		Volume24hUSD: known(60_000),
		Change1hPct:  known(12),
		Change24hPct: known(18),
		Security: stats.Security{
			IsHoneypot:    stats.No,
			IsMintRevoked: stats.Yes,
		},
		LiquidityMeta: stats.LiquidityMeta{
			IsLPLocked: stats.Yes,
			LockStatus: stats.LockLocked,
			LockHours:  unknown(),
		},
		Holders: stats.Holders{
			Top10Pct:         known(28),
			BundlersPct:      unknown(),
			InsidersPct:      unknown(),
			HolderCount:      unknown(),
			UniqueTraders24h: unknown(),
		},
		Source: stats.SourcePrimary,
	}
}

func TestScore_MicroCapWithMomentum(t *testing.T) {
	s := NewScorer(config.Default().Scoring)

	r := s.Score(microCapStats())
	assert.GreaterOrEqual(t, r.Score, 8.0)
	assert.LessOrEqual(t, r.Score, 10.0)
	assert.NotEmpty(t, r.Reasons)
}

func TestScore_AlwaysWithinBounds(t *testing.T) {
	s := NewScorer(config.Default().Scoring)

	cases := []struct {
		name string
		mut  func(*stats.TokenStats)
	}{
		{"all unknown", func(t *stats.TokenStats) {
			t.MarketCapUSD = unknown()
			t.LiquidityUSD = unknown()
			t.Volume24hUSD = unknown()
			t.Change1hPct = unknown()
			t.Change24hPct = unknown()
		}},
		{"every penalty at once", func(t *stats.TokenStats) {
			t.LiquidityUSD = known(0)
			t.Change24hPct = known(80)
			t.Change1hPct = known(-12)
			t.LiquidityMeta = stats.LiquidityMeta{LockStatus: stats.LockUnlocked}
			t.Holders.Top10Pct = known(75)
			t.Security.IsMintRevoked = stats.No
		}},
		{"every bonus at once", func(t *stats.TokenStats) {
			t.MarketCapUSD = known(100_000)
			t.LiquidityUSD = known(150_000)
			t.Volume24hUSD = known(400_000)
			t.Change24hPct = known(20)
			t.Change1hPct = known(15)
			t.Holders.UniqueTraders24h = known(120)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := microCapStats()
			tc.mut(&ts)
			r := s.Score(ts)
			assert.GreaterOrEqual(t, r.Score, 0.0)
			assert.LessOrEqual(t, r.Score, 10.0)
		})
	}
}

func TestScore_AntiFOMOPenalties(t *testing.T) {
	s := NewScorer(config.Default().Scoring)

	base := microCapStats()
	baseScore := s.Score(base).Score

	overheated := base
	overheated.Change24hPct = known(60)
	assert.Less(t, s.Score(overheated).Score, baseScore)

	dumpAfterPump := base
	dumpAfterPump.Change24hPct = known(40)
	dumpAfterPump.Change1hPct = known(-10)
	assert.Less(t, s.Score(dumpAfterPump).Score, baseScore)
}

func TestScore_RiskPenalties(t *testing.T) {
	s := NewScorer(config.Default().Scoring)

	unlocked := microCapStats()
	unlocked.LiquidityMeta = stats.LiquidityMeta{
		IsLPLocked: stats.No,
		LockStatus: stats.LockUnlocked,
		LockHours:  unknown(),
	}
	require.Less(t, s.Score(unlocked).Score, s.Score(microCapStats()).Score)

	shortLock := microCapStats()
	shortLock.LiquidityMeta.LockHours = known(6)
	assert.Less(t, s.Score(shortLock).Score, s.Score(microCapStats()).Score)

	// Concentration alone is fine; pair it with a live mint authority and
	// the penalty applies.
	concentrated := microCapStats()
	concentrated.Holders.Top10Pct = known(70)
	concentrated.Security.IsMintRevoked = stats.Unknown
	assert.Less(t, s.Score(concentrated).Score, s.Score(microCapStats()).Score)
}

func TestScore_UnknownMetricsScoreNothing(t *testing.T) {
	s := NewScorer(config.Default().Scoring)

	ts := microCapStats()
	ts.MarketCapUSD = unknown()
	ts.LiquidityUSD = unknown()
	ts.Volume24hUSD = unknown()
	ts.Change1hPct = unknown()
	ts.Change24hPct = unknown()
	ts.Holders.Top10Pct = unknown()

	r := s.Score(ts)
	assert.Zero(t, r.Score)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-3))
	assert.Equal(t, 7.5, Clamp(7.5))
	assert.Equal(t, 10.0, Clamp(12))
}
