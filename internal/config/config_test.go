package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, `
general:
  instance_id: test-1
stats:
  base_urls: ["https://stats.example.com"]
broker:
  dry_run: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-1", cfg.General.InstanceID)
	assert.Equal(t, 15*time.Minute, cfg.Stats.CacheTTL)
	assert.Equal(t, 900*time.Second, cfg.Stats.DenyTTL)
	assert.Equal(t, 100, cfg.Feed.PageLimit)
	assert.Equal(t, 45.0, cfg.Broker.RequestsPerMin)
	assert.Equal(t, 5, cfg.Broker.Burst)
	assert.Equal(t, 4*time.Hour, cfg.Risk.RebuyCooldown)
	assert.Equal(t, 15, cfg.Risk.MaxSellFailures)
	assert.Equal(t, "trading_signals", cfg.Redis.SignalList)
	assert.Len(t, cfg.Trader.TrailTiers, 6)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_STATS_KEY", "secret-key-123")
	path := writeTempConfig(t, `
stats:
  base_urls: ["https://stats.example.com"]
  api_key: ${TEST_STATS_KEY}
broker:
  dry_run: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-key-123", cfg.Stats.APIKey)
}

func TestLoad_FileMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestValidate_Defaults(t *testing.T) {
	cfg := Default()
	cfg.Stats.BaseURLs = []string{"https://stats.example.com"}
	cfg.Broker.DryRun = true
	require.NoError(t, cfg.Validate())
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"daily loss pct too large", func(c *Config) { c.Risk.MaxDailyLossPct = 1.5 }},
		{"position pct over cap", func(c *Config) { c.Trader.MaxPositionPct = 0.5 }},
		{"emergency below stop", func(c *Config) { c.Trader.EmergencyStopPct = 10 }},
		{"trail tiers not monotone", func(c *Config) {
			c.Trader.TrailTiers = []TrailTier{{ProfitPct: 50, TrailPct: 40}, {ProfitPct: 100, TrailPct: 30}}
		}},
		{"zero portfolio capacity", func(c *Config) { c.Portfolio.MaxConcurrent = -1 }},
		{"live mode without wallet", func(c *Config) { c.Broker.DryRun = false; c.Broker.WalletKey = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Stats.BaseURLs = []string{"https://stats.example.com"}
			cfg.Broker.DryRun = true
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
