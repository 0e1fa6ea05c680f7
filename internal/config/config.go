package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the signal engine and trader.
// It is assembled once at startup and treated as immutable afterwards.
type Config struct {
	General   GeneralConfig   `yaml:"general"`
	Budget    BudgetConfig    `yaml:"budget"`
	Stats     StatsConfig     `yaml:"stats"`
	Feed      FeedConfig      `yaml:"feed"`
	Funnel    FunnelConfig    `yaml:"funnel"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Gates     GatesConfig     `yaml:"gates"`
	Risk      RiskConfig      `yaml:"risk"`
	Portfolio PortfolioConfig `yaml:"portfolio"`
	Broker    BrokerConfig    `yaml:"broker"`
	Trader    TraderConfig    `yaml:"trader"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
	DataDir     string `yaml:"data_dir"`   // root for state files and jsonl logs
}

// BudgetConfig caps upstream API credit usage per rolling minute and UTC day.
// A zero cap means unlimited.
type BudgetConfig struct {
	StatePath string `yaml:"state_path"`
	PerMinute int    `yaml:"per_minute"`
	PerDay    int    `yaml:"per_day"`
	FeedCost  int    `yaml:"feed_cost"`
	StatsCost int    `yaml:"stats_cost"`
}

type StatsConfig struct {
	BaseURLs       []string      `yaml:"base_urls"` // primary provider, tried in order
	APIKey         string        `yaml:"api_key"`
	FallbackURL    string        `yaml:"fallback_url"` // DEX aggregator token endpoint
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	DenyTTL        time.Duration `yaml:"deny_ttl"`
	DenyStatePath  string        `yaml:"deny_state_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// RPCEndpoint enables on-chain enrichment of holder and authority
	// fields the HTTP providers left unknown. Empty disables it.
	RPCEndpoint string `yaml:"rpc_endpoint"`
}

type FeedConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	PageLimit      int           `yaml:"page_limit"`
	MinUSDValue    float64       `yaml:"min_usd_value"`
	MinWalletPnL   float64       `yaml:"min_wallet_pnl"` // smart-money cycle filter
	TrendingURL    string        `yaml:"trending_url"`   // synthetic fallback source
	MaxSynthetic   int           `yaml:"max_synthetic"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Interval       time.Duration `yaml:"interval"`
	MaxCooldown    time.Duration `yaml:"max_cooldown"`
}

type FunnelConfig struct {
	MinTokenAgeMinutes  int           `yaml:"min_token_age_minutes"`
	MultiSignalCount    int           `yaml:"multi_signal_count"`  // K observations
	MultiSignalWindow   time.Duration `yaml:"multi_signal_window"` // W
	HighPrelimScore     float64       `yaml:"high_prelim_score"`
	MediumPrelimScore   float64       `yaml:"medium_prelim_score"`
	VelocityThreshold   float64       `yaml:"velocity_threshold"`
	SmartMoneyBonus     float64       `yaml:"smart_money_bonus"`
	SyntheticDownweight float64       `yaml:"synthetic_downweight"` // multiplier on prelim
	ActivityRetention   time.Duration `yaml:"activity_retention"`
	PruneInterval       time.Duration `yaml:"prune_interval"`
	TrackInterval       time.Duration `yaml:"track_interval"` // outcome tracker cadence
	TrackWindow         time.Duration `yaml:"track_window"`   // how long after an alert to keep tracking
}

// ScoringConfig holds the numeric tier tables for the raw scorer.
type ScoringConfig struct {
	MicroCapMax     float64 `yaml:"micro_cap_max"`
	SmallCapMax     float64 `yaml:"small_cap_max"`
	GrowingCapMax   float64 `yaml:"growing_cap_max"`
	SweetBandLow    float64 `yaml:"sweet_band_low"`
	SweetBandHigh   float64 `yaml:"sweet_band_high"`
	LiqExcellent    float64 `yaml:"liq_excellent"`
	LiqGood         float64 `yaml:"liq_good"`
	LiqFair         float64 `yaml:"liq_fair"`
	LiqLow          float64 `yaml:"liq_low"`
	VolHigh         float64 `yaml:"vol_high"`
	VolMid          float64 `yaml:"vol_mid"`
	VolLow          float64 `yaml:"vol_low"`
	VolToLiqHigh    float64 `yaml:"vol_to_liq_high"`
	TradersStrong   int     `yaml:"traders_strong"`
	TradersModerate int     `yaml:"traders_moderate"`
}

// GatesConfig parameterizes the senior (security) and junior (economic)
// gates in both strict and nuanced variants.
type GatesConfig struct {
	// Senior gate.
	RequireMintRevoked   bool     `yaml:"require_mint_revoked"`
	RequireLPLocked      bool     `yaml:"require_lp_locked"`
	AllowUnknownSecurity bool     `yaml:"allow_unknown_security"`
	AllowUnknownLP       bool     `yaml:"allow_unknown_lp"`
	MaxTop10Pct          float64  `yaml:"max_top10_pct"`
	MaxBundlersPct       float64  `yaml:"max_bundlers_pct"`
	MaxInsidersPct       float64  `yaml:"max_insiders_pct"`
	LargeCapHoldersUSD   float64  `yaml:"large_cap_holders_usd"`
	DenySymbols          []string `yaml:"deny_symbols"`
	StableMints          []string `yaml:"stable_mints"`

	// Junior gate baselines.
	MinLiquidityUSD      float64 `yaml:"min_liquidity_usd"`
	MinVolume24hUSD      float64 `yaml:"min_volume_24h_usd"`
	MaxMarketCapUSD      float64 `yaml:"max_market_cap_usd"`
	MinVolToMcapRatio    float64 `yaml:"min_vol_to_mcap_ratio"`
	HighConfidenceScore  float64 `yaml:"high_confidence_score"`
	LargeCapMomentumGate float64 `yaml:"large_cap_momentum_gate"` // 1h % override

	// Nuanced relaxation.
	NuancedLiquidityFactor float64 `yaml:"nuanced_liquidity_factor"`
	NuancedMcapFactor      float64 `yaml:"nuanced_mcap_factor"`
	NuancedRatioFactor     float64 `yaml:"nuanced_ratio_factor"`
	NuancedScoreReduction  float64 `yaml:"nuanced_score_reduction"`
	NuancedTop10Buffer     float64 `yaml:"nuanced_top10_buffer"`
}

type RiskConfig struct {
	BankrollUSD          float64       `yaml:"bankroll_usd"`
	MaxDailyLossPct      float64       `yaml:"max_daily_loss_pct"`
	MaxConsecutiveLosses int           `yaml:"max_consecutive_losses"`
	RebuyCooldown        time.Duration `yaml:"rebuy_cooldown"`
	MaxSellFailures      int           `yaml:"max_sell_failures"`
}

type PortfolioConfig struct {
	MaxConcurrent     int           `yaml:"max_concurrent"`
	RebalanceEnabled  bool          `yaml:"rebalance_enabled"`
	RebalanceCooldown time.Duration `yaml:"rebalance_cooldown"`
	MinPositionAge    time.Duration `yaml:"min_position_age"`
	MinAdvantage      float64       `yaml:"min_advantage"`
}

type BrokerConfig struct {
	QuoteURL         string        `yaml:"quote_url"`
	SwapURL          string        `yaml:"swap_url"`
	TokenListURL     string        `yaml:"token_list_url"`
	PriceOracleURL   string        `yaml:"price_oracle_url"`
	RPCEndpoint      string        `yaml:"rpc_endpoint"`
	WalletKey        string        `yaml:"wallet_key"` // base58 private key
	BaseMint         string        `yaml:"base_mint"`  // settlement side for sizing
	RequestsPerMin   float64       `yaml:"requests_per_min"`
	Burst            int           `yaml:"burst"`
	Cooldown429After int           `yaml:"cooldown_429_after"`
	CooldownSec      time.Duration `yaml:"cooldown_sec"`
	MaxBuyImpactPct  float64       `yaml:"max_buy_impact_pct"`
	MaxSellImpactPct float64       `yaml:"max_sell_impact_pct"`
	PriorityFee      uint64        `yaml:"priority_fee"` // micro-lamports
	QuoteTimeout     time.Duration `yaml:"quote_timeout"`
	SwapTimeout      time.Duration `yaml:"swap_timeout"`
	ConfirmTimeout   time.Duration `yaml:"confirm_timeout"`
	FastExec         bool          `yaml:"fast_exec"` // skip preflight on send
	DryRun           bool          `yaml:"dry_run"`   // paper fills, no signing
}

type TraderConfig struct {
	MinScore           float64       `yaml:"min_score"`
	MaxPositionPct     float64       `yaml:"max_position_pct"` // of bankroll
	BaseSizeUSD        float64       `yaml:"base_size_usd"`
	StopLossPct        float64       `yaml:"stop_loss_pct"`
	EmergencyStopPct   float64       `yaml:"emergency_stop_pct"`
	TrailTiers         []TrailTier   `yaml:"trail_tiers"`
	MaxHoldTime        time.Duration `yaml:"max_hold_time"`
	MonitorInterval    time.Duration `yaml:"monitor_interval"`
	MaxPriceFailures   int           `yaml:"max_price_failures"`
	InactivityWindow   time.Duration `yaml:"inactivity_window"`
	InactivityRangePct float64       `yaml:"inactivity_range_pct"`
	MoonshotProfitPct  float64       `yaml:"moonshot_profit_pct"`
	MaxSignalAge       time.Duration `yaml:"max_signal_age"`
	AntiStaleDumpPct   float64       `yaml:"anti_stale_dump_pct"` // negative
	AntiStaleFOMOPct   float64       `yaml:"anti_stale_fomo_pct"`
	TogglesPath        string        `yaml:"toggles_path"`
}

// TrailTier maps a profit band to a trailing-stop percent. A tier applies
// while profit is below ProfitPct; ProfitPct of -1 is the open-ended top tier.
type TrailTier struct {
	ProfitPct float64 `yaml:"profit_pct"`
	TrailPct  float64 `yaml:"trail_pct"`
}

type StorageConfig struct {
	DSN          string `yaml:"dsn"` // postgres DSN; empty selects memory stores
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	AlertList  string `yaml:"alert_list"`
	SignalList string `yaml:"signal_list"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses a YAML configuration file, expanding ${ENV} references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Default returns a Config with every default applied and no file input.
// Used by tests and by tools that only need threshold tables.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "callsbot-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.General.DataDir == "" {
		cfg.General.DataDir = "data"
	}

	if cfg.Budget.StatePath == "" {
		cfg.Budget.StatePath = "data/budget.json"
	}
	if cfg.Budget.FeedCost == 0 {
		cfg.Budget.FeedCost = 1
	}
	if cfg.Budget.StatsCost == 0 {
		cfg.Budget.StatsCost = 2
	}

	if cfg.Stats.CacheTTL == 0 {
		cfg.Stats.CacheTTL = 15 * time.Minute
	}
	if cfg.Stats.DenyTTL == 0 {
		cfg.Stats.DenyTTL = 900 * time.Second
	}
	if cfg.Stats.DenyStatePath == "" {
		cfg.Stats.DenyStatePath = "data/deny_state.json"
	}
	if cfg.Stats.RequestTimeout == 0 {
		cfg.Stats.RequestTimeout = 8 * time.Second
	}

	if cfg.Feed.PageLimit == 0 {
		cfg.Feed.PageLimit = 100
	}
	if cfg.Feed.MinWalletPnL == 0 {
		cfg.Feed.MinWalletPnL = 1000
	}
	if cfg.Feed.MaxSynthetic == 0 {
		cfg.Feed.MaxSynthetic = 40
	}
	if cfg.Feed.RequestTimeout == 0 {
		cfg.Feed.RequestTimeout = 10 * time.Second
	}
	if cfg.Feed.Interval == 0 {
		cfg.Feed.Interval = 30 * time.Second
	}
	if cfg.Feed.MaxCooldown == 0 {
		cfg.Feed.MaxCooldown = 10 * time.Minute
	}

	if cfg.Funnel.MinTokenAgeMinutes == 0 {
		cfg.Funnel.MinTokenAgeMinutes = 10
	}
	if cfg.Funnel.MultiSignalCount == 0 {
		cfg.Funnel.MultiSignalCount = 2
	}
	if cfg.Funnel.MultiSignalWindow == 0 {
		cfg.Funnel.MultiSignalWindow = 30 * time.Minute
	}
	if cfg.Funnel.HighPrelimScore == 0 {
		cfg.Funnel.HighPrelimScore = 6
	}
	if cfg.Funnel.MediumPrelimScore == 0 {
		cfg.Funnel.MediumPrelimScore = 3
	}
	if cfg.Funnel.VelocityThreshold == 0 {
		cfg.Funnel.VelocityThreshold = 2
	}
	if cfg.Funnel.SmartMoneyBonus == 0 {
		cfg.Funnel.SmartMoneyBonus = 2
	}
	if cfg.Funnel.SyntheticDownweight == 0 {
		cfg.Funnel.SyntheticDownweight = 0.5
	}
	if cfg.Funnel.ActivityRetention == 0 {
		cfg.Funnel.ActivityRetention = 24 * time.Hour
	}
	if cfg.Funnel.PruneInterval == 0 {
		cfg.Funnel.PruneInterval = 30 * time.Minute
	}
	if cfg.Funnel.TrackInterval == 0 {
		cfg.Funnel.TrackInterval = 5 * time.Minute
	}
	if cfg.Funnel.TrackWindow == 0 {
		cfg.Funnel.TrackWindow = 24 * time.Hour
	}

	applyScoringDefaults(&cfg.Scoring)
	applyGateDefaults(&cfg.Gates)

	if cfg.Risk.BankrollUSD == 0 {
		cfg.Risk.BankrollUSD = 500
	}
	if cfg.Risk.MaxDailyLossPct == 0 {
		cfg.Risk.MaxDailyLossPct = 0.15
	}
	if cfg.Risk.MaxConsecutiveLosses == 0 {
		cfg.Risk.MaxConsecutiveLosses = 5
	}
	if cfg.Risk.RebuyCooldown == 0 {
		cfg.Risk.RebuyCooldown = 4 * time.Hour
	}
	if cfg.Risk.MaxSellFailures == 0 {
		cfg.Risk.MaxSellFailures = 15
	}

	if cfg.Portfolio.MaxConcurrent == 0 {
		cfg.Portfolio.MaxConcurrent = 3
	}
	if cfg.Portfolio.RebalanceCooldown == 0 {
		cfg.Portfolio.RebalanceCooldown = 10 * time.Minute
	}
	if cfg.Portfolio.MinPositionAge == 0 {
		cfg.Portfolio.MinPositionAge = 30 * time.Minute
	}
	if cfg.Portfolio.MinAdvantage == 0 {
		cfg.Portfolio.MinAdvantage = 15
	}

	if cfg.Broker.QuoteURL == "" {
		cfg.Broker.QuoteURL = "https://quote-api.jup.ag/v6/quote"
	}
	if cfg.Broker.SwapURL == "" {
		cfg.Broker.SwapURL = "https://quote-api.jup.ag/v6/swap"
	}
	if cfg.Broker.TokenListURL == "" {
		cfg.Broker.TokenListURL = "https://token.jup.ag/strict"
	}
	if cfg.Broker.RPCEndpoint == "" {
		cfg.Broker.RPCEndpoint = "https://api.mainnet-beta.solana.com"
	}
	if cfg.Broker.BaseMint == "" {
		cfg.Broker.BaseMint = "So11111111111111111111111111111111111111112"
	}
	if cfg.Broker.RequestsPerMin == 0 {
		cfg.Broker.RequestsPerMin = 45
	}
	if cfg.Broker.Burst == 0 {
		cfg.Broker.Burst = 5
	}
	if cfg.Broker.Cooldown429After == 0 {
		cfg.Broker.Cooldown429After = 5
	}
	if cfg.Broker.CooldownSec == 0 {
		cfg.Broker.CooldownSec = 60 * time.Second
	}
	if cfg.Broker.MaxBuyImpactPct == 0 {
		cfg.Broker.MaxBuyImpactPct = 15
	}
	if cfg.Broker.MaxSellImpactPct == 0 {
		cfg.Broker.MaxSellImpactPct = 25
	}
	if cfg.Broker.PriorityFee == 0 {
		cfg.Broker.PriorityFee = 100_000
	}
	if cfg.Broker.QuoteTimeout == 0 {
		cfg.Broker.QuoteTimeout = 10 * time.Second
	}
	if cfg.Broker.SwapTimeout == 0 {
		cfg.Broker.SwapTimeout = 15 * time.Second
	}
	if cfg.Broker.ConfirmTimeout == 0 {
		cfg.Broker.ConfirmTimeout = 60 * time.Second
	}

	if cfg.Trader.MinScore == 0 {
		cfg.Trader.MinScore = 7
	}
	if cfg.Trader.MaxPositionPct == 0 {
		cfg.Trader.MaxPositionPct = 0.25
	}
	if cfg.Trader.BaseSizeUSD == 0 {
		cfg.Trader.BaseSizeUSD = 50
	}
	if cfg.Trader.StopLossPct == 0 {
		cfg.Trader.StopLossPct = 15
	}
	if cfg.Trader.EmergencyStopPct == 0 {
		cfg.Trader.EmergencyStopPct = 40
	}
	if len(cfg.Trader.TrailTiers) == 0 {
		cfg.Trader.TrailTiers = []TrailTier{
			{ProfitPct: 50, TrailPct: 35},
			{ProfitPct: 100, TrailPct: 38},
			{ProfitPct: 200, TrailPct: 42},
			{ProfitPct: 500, TrailPct: 45},
			{ProfitPct: 1000, TrailPct: 48},
			{ProfitPct: -1, TrailPct: 50}, // open-ended top tier
		}
	}
	if cfg.Trader.MaxHoldTime == 0 {
		cfg.Trader.MaxHoldTime = 24 * time.Hour
	}
	if cfg.Trader.MonitorInterval == 0 {
		cfg.Trader.MonitorInterval = 2 * time.Second
	}
	if cfg.Trader.MaxPriceFailures == 0 {
		cfg.Trader.MaxPriceFailures = 5
	}
	if cfg.Trader.InactivityWindow == 0 {
		cfg.Trader.InactivityWindow = 6 * time.Hour
	}
	if cfg.Trader.InactivityRangePct == 0 {
		cfg.Trader.InactivityRangePct = 5
	}
	if cfg.Trader.MoonshotProfitPct == 0 {
		cfg.Trader.MoonshotProfitPct = 200
	}
	if cfg.Trader.MaxSignalAge == 0 {
		cfg.Trader.MaxSignalAge = 10 * time.Minute
	}
	if cfg.Trader.AntiStaleDumpPct == 0 {
		cfg.Trader.AntiStaleDumpPct = -25
	}
	if cfg.Trader.AntiStaleFOMOPct == 0 {
		cfg.Trader.AntiStaleFOMOPct = 50
	}
	if cfg.Trader.TogglesPath == "" {
		cfg.Trader.TogglesPath = "data/toggles.json"
	}

	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = 10
	}

	if cfg.Redis.AlertList == "" {
		cfg.Redis.AlertList = "alerts"
	}
	if cfg.Redis.SignalList == "" {
		cfg.Redis.SignalList = "trading_signals"
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9100
	}
}

func applyScoringDefaults(s *ScoringConfig) {
	if s.MicroCapMax == 0 {
		s.MicroCapMax = 200_000
	}
	if s.SmallCapMax == 0 {
		s.SmallCapMax = 600_000
	}
	if s.GrowingCapMax == 0 {
		s.GrowingCapMax = 1_500_000
	}
	if s.SweetBandLow == 0 {
		s.SweetBandLow = 50_000
	}
	if s.SweetBandHigh == 0 {
		s.SweetBandHigh = 300_000
	}
	if s.LiqExcellent == 0 {
		s.LiqExcellent = 100_000
	}
	if s.LiqGood == 0 {
		s.LiqGood = 50_000
	}
	if s.LiqFair == 0 {
		s.LiqFair = 25_000
	}
	if s.LiqLow == 0 {
		s.LiqLow = 10_000
	}
	if s.VolHigh == 0 {
		s.VolHigh = 150_000
	}
	if s.VolMid == 0 {
		s.VolMid = 50_000
	}
	if s.VolLow == 0 {
		s.VolLow = 15_000
	}
	if s.VolToLiqHigh == 0 {
		s.VolToLiqHigh = 2.0
	}
	if s.TradersStrong == 0 {
		s.TradersStrong = 50
	}
	if s.TradersModerate == 0 {
		s.TradersModerate = 20
	}
}

func applyGateDefaults(g *GatesConfig) {
	if g.MaxTop10Pct == 0 {
		g.MaxTop10Pct = 60
	}
	if g.MaxBundlersPct == 0 {
		g.MaxBundlersPct = 40
	}
	if g.MaxInsidersPct == 0 {
		g.MaxInsidersPct = 30
	}
	if g.LargeCapHoldersUSD == 0 {
		g.LargeCapHoldersUSD = 1_000_000
	}
	if len(g.StableMints) == 0 {
		g.StableMints = []string{
			"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", // USDC
			"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", // USDT
			"So11111111111111111111111111111111111111112",  // wSOL
		}
	}
	if g.MinLiquidityUSD == 0 {
		g.MinLiquidityUSD = 20_000
	}
	if g.MinVolume24hUSD == 0 {
		g.MinVolume24hUSD = 30_000
	}
	if g.MaxMarketCapUSD == 0 {
		g.MaxMarketCapUSD = 1_500_000
	}
	if g.MinVolToMcapRatio == 0 {
		g.MinVolToMcapRatio = 0.2
	}
	if g.HighConfidenceScore == 0 {
		g.HighConfidenceScore = 8
	}
	if g.LargeCapMomentumGate == 0 {
		g.LargeCapMomentumGate = 10
	}
	if g.NuancedLiquidityFactor == 0 {
		g.NuancedLiquidityFactor = 0.7
	}
	if g.NuancedMcapFactor == 0 {
		g.NuancedMcapFactor = 1.0
	}
	if g.NuancedRatioFactor == 0 {
		g.NuancedRatioFactor = 0.6
	}
	if g.NuancedScoreReduction == 0 {
		g.NuancedScoreReduction = 2
	}
	if g.NuancedTop10Buffer == 0 {
		g.NuancedTop10Buffer = 10
	}
}

// Validate checks invariants that would make the process misbehave at runtime.
func (c *Config) Validate() error {
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct >= 1 {
		return fmt.Errorf("risk.max_daily_loss_pct must be in (0,1), got %v", c.Risk.MaxDailyLossPct)
	}
	if c.Trader.MaxPositionPct <= 0 || c.Trader.MaxPositionPct > 0.25 {
		return fmt.Errorf("trader.max_position_pct must be in (0,0.25], got %v", c.Trader.MaxPositionPct)
	}
	if c.Trader.StopLossPct <= 0 || c.Trader.StopLossPct >= 100 {
		return fmt.Errorf("trader.stop_loss_pct must be in (0,100), got %v", c.Trader.StopLossPct)
	}
	if c.Trader.EmergencyStopPct <= c.Trader.StopLossPct {
		return fmt.Errorf("trader.emergency_stop_pct (%v) must exceed stop_loss_pct (%v)",
			c.Trader.EmergencyStopPct, c.Trader.StopLossPct)
	}
	prev := 0.0
	for i, t := range c.Trader.TrailTiers {
		if t.TrailPct <= 0 || t.TrailPct >= 100 {
			return fmt.Errorf("trader.trail_tiers[%d].trail_pct out of range: %v", i, t.TrailPct)
		}
		if t.TrailPct < prev {
			return fmt.Errorf("trader.trail_tiers must be non-decreasing in trail_pct")
		}
		prev = t.TrailPct
	}
	if c.Portfolio.MaxConcurrent < 1 {
		return fmt.Errorf("portfolio.max_concurrent must be >= 1")
	}
	if c.Broker.RequestsPerMin <= 0 {
		return fmt.Errorf("broker.requests_per_min must be > 0")
	}
	if !c.Broker.DryRun && c.Broker.WalletKey == "" {
		return fmt.Errorf("broker.wallet_key is required unless dry_run is set")
	}
	if len(c.Stats.BaseURLs) == 0 && c.Stats.FallbackURL == "" {
		return fmt.Errorf("stats: at least one of base_urls or fallback_url is required")
	}
	return nil
}
