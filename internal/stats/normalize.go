package stats

import "math"

// ---------------------------------------------------------------------------
// Normalization — provider DTOs are converted at the edge; nothing raw
// crosses into the funnel
// ---------------------------------------------------------------------------

// metric builds a Metric from an optional upstream float. NaN and Inf map to
// {0, unknown}; nil pointers mean the source did not supply the field.
func metric(v *float64) Metric {
	if v == nil {
		return Metric{Unknown: true}
	}
	return finiteMetric(*v)
}

func finiteMetric(v float64) Metric {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Metric{Unknown: true}
	}
	return Metric{Value: v}
}

// Normalize re-applies the normalization guarantees to a TokenStats record.
// It is idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(s TokenStats) TokenStats {
	s.MarketCapUSD = renorm(s.MarketCapUSD)
	s.PriceUSD = renorm(s.PriceUSD)
	s.LiquidityUSD = renorm(s.LiquidityUSD)
	s.Volume24hUSD = renorm(s.Volume24hUSD)
	s.Change1hPct = renorm(s.Change1hPct)
	s.Change24hPct = renorm(s.Change24hPct)
	s.LiquidityMeta.LockHours = renorm(s.LiquidityMeta.LockHours)
	s.Holders.Top10Pct = renorm(s.Holders.Top10Pct)
	s.Holders.BundlersPct = renorm(s.Holders.BundlersPct)
	s.Holders.InsidersPct = renorm(s.Holders.InsidersPct)
	s.Holders.HolderCount = renorm(s.Holders.HolderCount)
	s.Holders.UniqueTraders24h = renorm(s.Holders.UniqueTraders24h)

	if s.LiquidityMeta.LockStatus == "" {
		s.LiquidityMeta.LockStatus = lockStatusFrom(s.LiquidityMeta)
	}
	if s.Source == "" {
		s.Source = SourcePrimary
	}
	return s
}

func renorm(m Metric) Metric {
	if m.Unknown {
		return Metric{Unknown: true}
	}
	return finiteMetric(m.Value)
}

// lockStatusFrom derives the coarse lock status from the tri-state flags.
func lockStatusFrom(lm LiquidityMeta) LockStatus {
	switch {
	case lm.IsLPBurned == Yes:
		return LockBurned
	case lm.IsLPLocked == Yes:
		return LockLocked
	case lm.IsLPLocked == No && lm.IsLPBurned == No:
		return LockUnlocked
	default:
		return LockUnknown
	}
}

// augmentMissing copies fields absent in dst from src and returns whether
// anything was taken. Used to top up a primary record from the fallback.
func augmentMissing(dst *TokenStats, src TokenStats) bool {
	took := false
	if dst.LiquidityUSD.Unknown && src.LiquidityUSD.Known() {
		dst.LiquidityUSD = src.LiquidityUSD
		took = true
	}
	if dst.Volume24hUSD.Unknown && src.Volume24hUSD.Known() {
		dst.Volume24hUSD = src.Volume24hUSD
		took = true
	}
	if dst.MarketCapUSD.Unknown && src.MarketCapUSD.Known() {
		dst.MarketCapUSD = src.MarketCapUSD
		took = true
	}
	if dst.Symbol == "" && src.Symbol != "" {
		dst.Symbol = src.Symbol
		took = true
	}
	if dst.Name == "" && src.Name != "" {
		dst.Name = src.Name
		took = true
	}
	return took
}
