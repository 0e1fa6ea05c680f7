package scoring

import (
	"fmt"
	"strings"

	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
	"github.com/spbarathg/callsbotonchain-sub000/internal/stats"
)

// Conviction labels an alert by which gate combination admitted it.
type Conviction string

const (
	ConvictionHCSmartMoney Conviction = "HC-SmartMoney"
	ConvictionHCStrict     Conviction = "HC-Strict"
	ConvictionNuanced      Conviction = "Nuanced"
)

// GateResult is a pass/fail with the first failing reason. Gates never
// error; malformed inputs simply fail.
type GateResult struct {
	Pass   bool
	Reason string
}

func pass() GateResult { return GateResult{Pass: true} }

func fail(f string, a ...any) GateResult {
	return GateResult{Reason: fmt.Sprintf(f, a...)}
}

// JuniorParams are the four multipliers that distinguish the strict and
// nuanced economic gates.
type JuniorParams struct {
	LiquidityFactor float64
	McapFactor      float64
	RatioFactor     float64
	ScoreReduction  float64
}

// Gates evaluates the senior (security) and junior (economic) gates.
type Gates struct {
	cfg config.GatesConfig

	denySymbols map[string]struct{}
	stableMints map[string]struct{}
}

func NewGates(cfg config.GatesConfig) *Gates {
	g := &Gates{
		cfg:         cfg,
		denySymbols: make(map[string]struct{}, len(cfg.DenySymbols)),
		stableMints: make(map[string]struct{}, len(cfg.StableMints)),
	}
	for _, s := range cfg.DenySymbols {
		g.denySymbols[strings.ToUpper(s)] = struct{}{}
	}
	for _, m := range cfg.StableMints {
		g.stableMints[m] = struct{}{}
	}
	return g
}

// ---------------------------------------------------------------------------
// Senior (security) gate
// ---------------------------------------------------------------------------

// QuickReject is the cheap prefix of the senior gate, run before any scoring
// work: honeypot flag, denied symbol, stable mint.
func (g *Gates) QuickReject(t stats.TokenStats) GateResult {
	if t.Security.IsHoneypot == stats.Yes {
		return fail("honeypot")
	}
	if _, denied := g.denySymbols[strings.ToUpper(t.Symbol)]; denied {
		return fail("denied symbol %s", t.Symbol)
	}
	if _, stable := g.stableMints[t.Mint]; stable {
		return fail("stable mint")
	}
	return pass()
}

// SeniorStrict runs the full security gate with no buffers.
func (g *Gates) SeniorStrict(t stats.TokenStats) GateResult {
	return g.senior(t, 0)
}

// SeniorNuanced runs the security gate with the configured concentration
// buffers applied on top of the caps.
func (g *Gates) SeniorNuanced(t stats.TokenStats) GateResult {
	return g.senior(t, g.cfg.NuancedTop10Buffer)
}

func (g *Gates) senior(t stats.TokenStats, buffer float64) GateResult {
	if r := g.QuickReject(t); !r.Pass {
		return r
	}

	if g.cfg.RequireMintRevoked {
		switch t.Security.IsMintRevoked {
		case stats.No:
			return fail("mint authority not revoked")
		case stats.Unknown:
			if !g.cfg.AllowUnknownSecurity {
				return fail("mint authority unknown")
			}
		}
	}

	if g.cfg.RequireLPLocked {
		switch lpLocked(t.LiquidityMeta) {
		case stats.No:
			return fail("LP not locked or burned")
		case stats.Unknown:
			if !g.cfg.AllowUnknownLP {
				return fail("LP lock state unknown")
			}
		}
	}

	if t.MarketCapUSD.Known() && t.MarketCapUSD.Value > g.cfg.LargeCapHoldersUSD &&
		holdersEmpty(t.Holders) {
		return fail("large cap $%.0f without holder data", t.MarketCapUSD.Value)
	}

	if top10 := t.Holders.Top10Pct; top10.Known() && top10.Value > g.cfg.MaxTop10Pct+buffer {
		return fail("top10 %.1f%% over cap %.1f%%", top10.Value, g.cfg.MaxTop10Pct+buffer)
	}
	if b := t.Holders.BundlersPct; b.Known() && b.Value > g.cfg.MaxBundlersPct+buffer {
		return fail("bundlers %.1f%% over cap", b.Value)
	}
	if ins := t.Holders.InsidersPct; ins.Known() && ins.Value > g.cfg.MaxInsidersPct+buffer {
		return fail("insiders %.1f%% over cap", ins.Value)
	}

	return pass()
}

// lpLocked folds the lock flags and derived status into one tri-state.
func lpLocked(lm stats.LiquidityMeta) stats.TriState {
	if lm.IsLPLocked == stats.Yes || lm.IsLPBurned == stats.Yes ||
		lm.LockStatus == stats.LockLocked || lm.LockStatus == stats.LockBurned {
		return stats.Yes
	}
	if lm.IsLPLocked == stats.No || lm.LockStatus == stats.LockUnlocked {
		return stats.No
	}
	return stats.Unknown
}

func holdersEmpty(h stats.Holders) bool {
	return !h.Top10Pct.Known() && !h.HolderCount.Known()
}

// ---------------------------------------------------------------------------
// Junior (economic) gate
// ---------------------------------------------------------------------------

// JuniorStrict runs the economic gate with all factors at 1.0.
func (g *Gates) JuniorStrict(t stats.TokenStats, finalScore float64) GateResult {
	return g.Junior(t, finalScore, JuniorParams{
		LiquidityFactor: 1, McapFactor: 1, RatioFactor: 1, ScoreReduction: 0,
	})
}

// JuniorNuanced runs the economic gate with the configured relaxations.
func (g *Gates) JuniorNuanced(t stats.TokenStats, finalScore float64) GateResult {
	return g.Junior(t, finalScore, JuniorParams{
		LiquidityFactor: g.cfg.NuancedLiquidityFactor,
		McapFactor:      g.cfg.NuancedMcapFactor,
		RatioFactor:     g.cfg.NuancedRatioFactor,
		ScoreReduction:  g.cfg.NuancedScoreReduction,
	})
}

// Junior evaluates the four economic conditions under the given multipliers.
func (g *Gates) Junior(t stats.TokenStats, finalScore float64, p JuniorParams) GateResult {
	minLiq := g.cfg.MinLiquidityUSD * p.LiquidityFactor
	if !t.LiquidityUSD.AtLeast(minLiq) {
		return fail("liquidity %.0f below %.0f", t.LiquidityUSD.Value, minLiq)
	}
	if !t.Volume24hUSD.AtLeast(g.cfg.MinVolume24hUSD) {
		return fail("volume %.0f below %.0f", t.Volume24hUSD.Value, g.cfg.MinVolume24hUSD)
	}

	mc := t.MarketCapUSD
	if !mc.Known() || mc.Value <= 0 {
		return fail("market cap unknown")
	}
	maxMcap := g.cfg.MaxMarketCapUSD * p.McapFactor
	if mc.Value > maxMcap {
		// Large caps pass only on strong 1h momentum.
		if !t.Change1hPct.AtLeast(g.cfg.LargeCapMomentumGate) {
			return fail("market cap %.0f over %.0f without momentum", mc.Value, maxMcap)
		}
	}

	minRatio := g.cfg.MinVolToMcapRatio * p.RatioFactor
	if ratio := t.Volume24hUSD.Value / mc.Value; ratio < minRatio {
		return fail("vol/mcap %.2f below %.2f", ratio, minRatio)
	}

	minScore := g.cfg.HighConfidenceScore - p.ScoreReduction
	if finalScore < minScore {
		return fail("score %.1f below %.1f", finalScore, minScore)
	}

	return pass()
}

// ---------------------------------------------------------------------------
// Conviction resolution
// ---------------------------------------------------------------------------

// Resolve runs the gate ladder: senior-strict is mandatory, junior-strict
// yields high conviction, and the nuanced junior gate is the fallback
// "debate" path. The empty conviction with pass=false is a rejection.
func (g *Gates) Resolve(t stats.TokenStats, finalScore float64, smartMoney bool) (Conviction, GateResult) {
	if r := g.SeniorStrict(t); !r.Pass {
		return "", r
	}

	if r := g.JuniorStrict(t, finalScore); r.Pass {
		if smartMoney {
			return ConvictionHCSmartMoney, r
		}
		return ConvictionHCStrict, r
	}

	if r := g.JuniorNuanced(t, finalScore); r.Pass {
		return ConvictionNuanced, r
	}

	strict := g.JuniorStrict(t, finalScore)
	return "", fail("rejected in debate: %s", strict.Reason)
}
