package scoring

import (
	"fmt"

	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
	"github.com/spbarathg/callsbotonchain-sub000/internal/stats"
)

const (
	maxScore = 10.0

	// Momentum bands. The early-entry band rewards tokens that moved but
	// have not yet run; the anti-FOMO penalties fire past it.
	earlyEntry24hLow  = 5.0
	earlyEntry24hHigh = 30.0
	strong1hPct       = 10.0
	moderate1hPct     = 5.0
	fomo24hPct        = 50.0
	pump24hPct        = 30.0
	dump1hPct         = -5.0

	// Risk penalty thresholds.
	minLockHours  = 24.0
	riskyTop10Pct = 60.0
)

// Result is a raw score in [0,10] plus the human-readable factor lines that
// produced it. The scorer applies no gates; unknown metrics simply score zero.
type Result struct {
	Score   float64
	Reasons []string
}

// Scorer converts normalized token stats into a 0..10 score.
type Scorer struct {
	cfg config.ScoringConfig
}

func NewScorer(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score is a pure function of the stats snapshot.
func (s *Scorer) Score(t stats.TokenStats) Result {
	var score float64
	var reasons []string

	add := func(points float64, format string, args ...any) {
		score += points
		reasons = append(reasons, fmt.Sprintf("%s (%+.0f)", fmt.Sprintf(format, args...), points))
	}

	// Market cap tiers.
	if mc := t.MarketCapUSD; mc.Known() {
		switch {
		case mc.Value < s.cfg.MicroCapMax:
			add(3, "micro cap $%.0f", mc.Value)
		case mc.Value < s.cfg.SmallCapMax:
			add(2, "small cap $%.0f", mc.Value)
		case mc.Value < s.cfg.GrowingCapMax:
			add(1, "growing cap $%.0f", mc.Value)
		}
		if mc.Value >= s.cfg.SweetBandLow && mc.Value <= s.cfg.SweetBandHigh {
			add(1, "sweet band cap")
		}
	}

	// Liquidity is the single highest-weighted positive factor.
	if liq := t.LiquidityUSD; liq.Known() {
		switch {
		case liq.Value >= s.cfg.LiqExcellent:
			add(4, "excellent liquidity $%.0f", liq.Value)
		case liq.Value >= s.cfg.LiqGood:
			add(3, "good liquidity $%.0f", liq.Value)
		case liq.Value >= s.cfg.LiqFair:
			add(2, "fair liquidity $%.0f", liq.Value)
		case liq.Value >= s.cfg.LiqLow:
			add(1, "low liquidity $%.0f", liq.Value)
		case liq.Value <= 0:
			add(-2, "zero liquidity")
		}
	}

	// Volume tiers.
	if vol := t.Volume24hUSD; vol.Known() {
		switch {
		case vol.Value >= s.cfg.VolHigh:
			add(3, "high volume $%.0f", vol.Value)
		case vol.Value >= s.cfg.VolMid:
			add(2, "mid volume $%.0f", vol.Value)
		case vol.Value >= s.cfg.VolLow:
			add(1, "some volume $%.0f", vol.Value)
		}

		if t.LiquidityUSD.Known() && t.LiquidityUSD.Value > 0 {
			if ratio := vol.Value / t.LiquidityUSD.Value; ratio >= s.cfg.VolToLiqHigh {
				add(1, "vol/liq ratio %.1f", ratio)
			}
		}
	}

	// Community engagement.
	if tr := t.Holders.UniqueTraders24h; tr.Known() {
		switch {
		case tr.Value >= float64(s.cfg.TradersStrong):
			add(2, "strong trader base %d", int(tr.Value))
		case tr.Value >= float64(s.cfg.TradersModerate):
			add(1, "moderate trader base %d", int(tr.Value))
		}
	}

	// Price momentum.
	ch24 := t.Change24hPct
	ch1 := t.Change1hPct
	if ch24.Known() && ch24.Value >= earlyEntry24hLow && ch24.Value <= earlyEntry24hHigh {
		add(2, "early entry 24h %+.1f%%", ch24.Value)
	}
	if ch1.Known() {
		switch {
		case ch1.Value >= strong1hPct:
			add(2, "strong 1h %+.1f%%", ch1.Value)
		case ch1.Value >= moderate1hPct:
			add(1, "1h momentum %+.1f%%", ch1.Value)
		}
	}

	// Anti-FOMO.
	if ch24.Known() && ch24.Value > fomo24hPct {
		add(-2, "24h overheated %+.1f%%", ch24.Value)
	}
	if ch24.Known() && ch1.Known() && ch24.Value > pump24hPct && ch1.Value < dump1hPct {
		add(-3, "dump after pump 24h %+.1f%% 1h %+.1f%%", ch24.Value, ch1.Value)
	}

	// Risk penalties.
	if lpUnsafe(t.LiquidityMeta) {
		add(-1, "LP not safely locked")
	}
	if t.Holders.Top10Pct.Known() && t.Holders.Top10Pct.Value > riskyTop10Pct &&
		t.Security.IsMintRevoked != stats.Yes {
		add(-2, "concentrated holders with live mint authority")
	}

	if score < 0 {
		score = 0
	}
	if score > maxScore {
		score = maxScore
	}
	return Result{Score: score, Reasons: reasons}
}

// lpUnsafe reports an explicitly unlocked LP or a lock shorter than a day.
// Unknown lock state is not penalized here; the senior gate owns that call.
func lpUnsafe(lm stats.LiquidityMeta) bool {
	if lm.LockStatus == stats.LockUnlocked {
		return true
	}
	if lm.LockStatus == stats.LockLocked && lm.LockHours.Known() && lm.LockHours.Value < minLockHours {
		return true
	}
	return false
}

// Clamp bounds an already-adjusted score (e.g. after the smart-money bonus)
// back into [0,10].
func Clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > maxScore {
		return maxScore
	}
	return score
}
