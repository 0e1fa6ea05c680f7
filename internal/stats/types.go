package stats

// ---------------------------------------------------------------------------
// Normalized token stats — the canonical record the funnel consumes
// ---------------------------------------------------------------------------

// TriState models security flags the upstream may not know about.
type TriState int

const (
	Unknown TriState = iota
	Yes
	No
)

// String implements fmt.Stringer.
func (t TriState) String() string {
	switch t {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unknown"
	}
}

// triFromPtr converts an optional upstream boolean to a TriState.
func triFromPtr(b *bool) TriState {
	if b == nil {
		return Unknown
	}
	if *b {
		return Yes
	}
	return No
}

// Source labels where a normalized record's fields came from.
type Source string

const (
	SourcePrimary         Source = "primary"
	SourcePrimaryFallback Source = "primary+fallback"
	SourceFallback        Source = "fallback"
)

// Metric is a float paired with an unknown flag. Non-finite upstream values
// normalize to {0, unknown}; an unknown Metric never compares true against
// a threshold.
type Metric struct {
	Value   float64 `json:"value"`
	Unknown bool    `json:"unknown"`
}

// Known reports whether the value was actually supplied by a source.
func (m Metric) Known() bool { return !m.Unknown }

// AtLeast reports value >= threshold, false when unknown.
func (m Metric) AtLeast(threshold float64) bool {
	return !m.Unknown && m.Value >= threshold
}

// AtMost reports value <= threshold, false when unknown.
func (m Metric) AtMost(threshold float64) bool {
	return !m.Unknown && m.Value <= threshold
}

// Security holds contract-level safety flags.
type Security struct {
	IsHoneypot    TriState `json:"is_honeypot"`
	IsMintRevoked TriState `json:"is_mint_revoked"`
}

// LockStatus describes the LP lock state.
type LockStatus string

const (
	LockLocked   LockStatus = "locked"
	LockBurned   LockStatus = "burned"
	LockUnlocked LockStatus = "unlocked"
	LockUnknown  LockStatus = "unknown"
)

// LiquidityMeta holds LP lock/burn details.
type LiquidityMeta struct {
	IsLPLocked TriState   `json:"is_lp_locked"`
	IsLPBurned TriState   `json:"is_lp_burned"`
	LockStatus LockStatus `json:"lock_status"`
	LockHours  Metric     `json:"lock_hours"`
}

// Holders holds concentration metrics.
type Holders struct {
	Top10Pct    Metric `json:"top10_pct"`
	BundlersPct Metric `json:"bundlers_pct"`
	InsidersPct Metric `json:"insiders_pct"`
	HolderCount Metric `json:"holder_count"`
	// UniqueTraders24h feeds the community-engagement score factor.
	UniqueTraders24h Metric `json:"unique_traders_24h"`
}

// TokenStats is the normalized record. Every numeric field is finite or
// explicitly unknown; the container structs are always present.
type TokenStats struct {
	Mint   string `json:"mint"`
	Symbol string `json:"symbol,omitempty"`
	Name   string `json:"name,omitempty"`

	MarketCapUSD Metric `json:"market_cap_usd"`
	PriceUSD     Metric `json:"price_usd"`
	LiquidityUSD Metric `json:"liquidity_usd"`
	Volume24hUSD Metric `json:"volume_24h_usd"`
	Change1hPct  Metric `json:"change_1h_pct"`
	Change24hPct Metric `json:"change_24h_pct"`

	Security      Security      `json:"security"`
	LiquidityMeta LiquidityMeta `json:"liquidity_meta"`
	Holders       Holders       `json:"holders"`

	Source Source `json:"source"`
}

// Empty reports whether the record carries no usable data.
func (s *TokenStats) Empty() bool {
	return s == nil || s.Mint == ""
}
