package feed

// Item is one observed trade from the upstream feed, or a synthetic entry
// injected by the trending fallback when the primary feed runs dry.
type Item struct {
	Token0    string  `json:"token0"`
	Token1    string  `json:"token1"`
	Token0USD float64 `json:"token0_usd"`
	Token1USD float64 `json:"token1_usd"`
	DEX       string  `json:"dex,omitempty"`
	TxType    string  `json:"tx_type,omitempty"`

	// SmartMoney carries whatever hint keys the upstream attached. The key
	// set varies by endpoint; any non-empty hint marks the item as smart.
	SmartMoney SmartMoneyHints `json:"smart_money_hints,omitempty"`

	IsSynthetic bool `json:"is_synthetic,omitempty"`
}

// SmartMoneyHints is the union of hint shapes seen across feed variants.
type SmartMoneyHints struct {
	TopWallets   []string `json:"top_wallets,omitempty"`
	SmartWallet  string   `json:"smart_wallet,omitempty"`
	WalletPnLUSD float64  `json:"wallet_pnl_usd,omitempty"`
}

// Smart reports whether any smart-money hint is present.
func (h SmartMoneyHints) Smart() bool {
	return len(h.TopWallets) > 0 || h.SmartWallet != "" || h.WalletPnLUSD > 0
}

// Cycle identifies which of the two alternating feed queries produced a page.
type Cycle string

const (
	CycleGeneral Cycle = "general"
	CycleSmart   Cycle = "smart"
)
