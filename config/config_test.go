package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fxpulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
instruments: [EUR_USD, USD_JPY]
timeframe: H1
strategy:
  ema_fast: 8
  ema_slow: 21
  stop_atr: 2.0
  tp_atr: 4.0
risk:
  budget:
    risk_per_trade: 0.01
  start_equity: 25000
journal:
  path: /tmp/pulse.db
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"EUR_USD", "USD_JPY"}, cfg.Instruments)
	assert.Equal(t, "H1", cfg.Timeframe)
	assert.Equal(t, 8, cfg.Strategy.EMAFast)
	assert.Equal(t, 21, cfg.Strategy.EMASlow)
	assert.Equal(t, 0.01, cfg.Risk.Budget.RiskPerTrade)
	assert.Equal(t, 25000.0, cfg.Risk.StartEquity)
	assert.Equal(t, "/tmp/pulse.db", cfg.Journal.Path)

	// Unset keys keep their defaults.
	assert.Equal(t, 30, cfg.Backtest.MinTrades)
	assert.Equal(t, "USD", cfg.Risk.AccountCurrency)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no instruments", func(c *Config) { c.Instruments = nil }, "no instruments"},
		{"unknown instrument", func(c *Config) { c.Instruments = []string{"XXX_YYY"} }, "XXX_YYY"},
		{"bad timeframe", func(c *Config) { c.Timeframe = "H7" }, "H7"},
		{"fast >= slow", func(c *Config) { c.Strategy.EMAFast = 30 }, "ema periods"},
		{"zero stop", func(c *Config) { c.Strategy.StopATR = 0 }, "multipliers"},
		{"excess risk", func(c *Config) { c.Risk.Budget.RiskPerTrade = 0.2 }, "risk_per_trade"},
		{"no journal", func(c *Config) { c.Journal.Path = "" }, "journal path"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadSecretsFromEnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte(
		"FXPULSE_OANDA_TOKEN=tok-123\n"+
			"FXPULSE_OANDA_ACCOUNT=001-001-1234567-001\n"+
			"FXPULSE_ENV=demo\n"+
			"FXPULSE_WEBHOOK_URLS=https://example.com/a, https://example.com/b\n"), 0o600))

	s := LoadSecrets(envPath)
	assert.Equal(t, "tok-123", s.BrokerToken)
	assert.Equal(t, "001-001-1234567-001", s.BrokerAccountID)
	assert.Equal(t, "demo", s.Environment)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, s.WebhookURLs)
	assert.NoError(t, s.RequireBroker())

	t.Cleanup(func() {
		os.Unsetenv(EnvBrokerToken)
		os.Unsetenv(EnvBrokerAccount)
		os.Unsetenv(EnvEnvironment)
		os.Unsetenv(EnvWebhookURLs)
	})
}

func TestRequireBrokerMissingToken(t *testing.T) {
	s := Secrets{BrokerAccountID: "acct", Environment: "demo"}
	err := s.RequireBroker()
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvBrokerToken)
	assert.NotContains(t, err.Error(), "acct")
}
