// Package config loads and validates the runtime configuration: a yaml file
// for everything tunable plus environment variables for secrets.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fxpulse/fxpulse/market"
	"github.com/fxpulse/fxpulse/risk"
	"github.com/fxpulse/fxpulse/signal"
	"github.com/fxpulse/fxpulse/store"
)

// Config is the full runtime configuration. Broker credentials and webhook
// URLs live in the environment, never in this file.
type Config struct {
	Instruments []string `yaml:"instruments"`
	Timeframe   string   `yaml:"timeframe"`

	Strategy   signal.Params `yaml:"strategy"`
	Indicators store.Periods `yaml:"indicators"`

	Risk RiskConfig `yaml:"risk"`

	Backtest BacktestConfig `yaml:"backtest"`

	Journal JournalConfig `yaml:"journal"`

	Log LogConfig `yaml:"log"`
}

// RiskConfig groups the monitor settings.
type RiskConfig struct {
	Budget          risk.Budget      `yaml:"budget"`
	Thresholds      risk.Thresholds  `yaml:"thresholds"`
	Regimes         risk.RegimeTable `yaml:"regimes"`
	AccountCurrency string           `yaml:"account_currency"`
	StartEquity     float64          `yaml:"start_equity"`
}

// BacktestConfig sets the walk-forward window split in bars.
type BacktestConfig struct {
	TrainBars    int `yaml:"train_bars"`
	ValidateBars int `yaml:"validate_bars"`
	OOSBars      int `yaml:"oos_bars"`
	MinTrades    int `yaml:"min_trades"`
	Workers      int `yaml:"workers"`
}

// JournalConfig locates the sqlite journal.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// LogConfig sets log verbosity.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a runnable H4 EUR_USD configuration.
func Default() Config {
	return Config{
		Instruments: []string{"EUR_USD"},
		Timeframe:   "H4",
		Strategy:    signal.DefaultParams(),
		Indicators:  store.DefaultPeriods(),
		Risk: RiskConfig{
			Budget:          risk.DefaultBudget(),
			Thresholds:      risk.DefaultThresholds(),
			Regimes:         risk.DefaultRegimeTable(),
			AccountCurrency: "USD",
			StartEquity:     10000,
		},
		Backtest: BacktestConfig{
			TrainBars:    1500,
			ValidateBars: 500,
			OOSBars:      500,
			MinTrades:    30,
			Workers:      0, // runner picks NumCPU
		},
		Journal: JournalConfig{Path: "fxpulse.db"},
		Log:     LogConfig{Level: "INFO"},
	}
}

// Load reads a yaml config file over the defaults and validates the result.
// An empty path returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if len(c.Instruments) == 0 {
		return fmt.Errorf("config: no instruments")
	}
	for _, instrument := range c.Instruments {
		if _, err := market.Lookup(instrument); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if _, err := market.ParseTimeframe(c.Timeframe); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Strategy.EMAFast <= 0 || c.Strategy.EMASlow <= c.Strategy.EMAFast {
		return fmt.Errorf("config: ema periods must satisfy 0 < fast < slow, got %d/%d",
			c.Strategy.EMAFast, c.Strategy.EMASlow)
	}
	if c.Strategy.StopATR <= 0 || c.Strategy.TPATR <= 0 {
		return fmt.Errorf("config: stop/tp ATR multipliers must be positive")
	}
	if c.Risk.Budget.RiskPerTrade <= 0 || c.Risk.Budget.RiskPerTrade > 0.05 {
		return fmt.Errorf("config: risk_per_trade %.4f outside (0, 0.05]", c.Risk.Budget.RiskPerTrade)
	}
	if c.Risk.StartEquity <= 0 {
		return fmt.Errorf("config: start_equity must be positive")
	}
	if c.Backtest.TrainBars <= 0 || c.Backtest.ValidateBars <= 0 || c.Backtest.OOSBars <= 0 {
		return fmt.Errorf("config: backtest window bars must be positive")
	}
	if c.Journal.Path == "" {
		return fmt.Errorf("config: journal path required")
	}
	return nil
}

// ParsedTimeframe returns the validated timeframe.
func (c Config) ParsedTimeframe() market.Timeframe {
	tf, _ := market.ParseTimeframe(c.Timeframe)
	return tf
}

// Secrets carries credentials and endpoints pulled from the environment.
// Values are never logged.
type Secrets struct {
	BrokerToken     string
	BrokerAccountID string
	Environment     string // demo | live
	JournalPath     string // optional override
	WebhookURLs     []string
}

// Environment variable names.
const (
	EnvBrokerToken   = "FXPULSE_OANDA_TOKEN"
	EnvBrokerAccount = "FXPULSE_OANDA_ACCOUNT"
	EnvEnvironment   = "FXPULSE_ENV"
	EnvJournalPath   = "FXPULSE_JOURNAL_PATH"
	EnvWebhookURLs   = "FXPULSE_WEBHOOK_URLS" // comma separated
)

// LoadSecrets reads the env file (if present) and then the process
// environment. A missing env file is not an error; missing credentials are
// only an error for commands that talk to the broker, so the caller checks.
func LoadSecrets(envFile string) Secrets {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	} else {
		_ = godotenv.Load()
	}

	s := Secrets{
		BrokerToken:     os.Getenv(EnvBrokerToken),
		BrokerAccountID: os.Getenv(EnvBrokerAccount),
		Environment:     os.Getenv(EnvEnvironment),
		JournalPath:     os.Getenv(EnvJournalPath),
	}
	if s.Environment == "" {
		s.Environment = "demo"
	}
	if raw := os.Getenv(EnvWebhookURLs); raw != "" {
		for _, u := range strings.Split(raw, ",") {
			if u = strings.TrimSpace(u); u != "" {
				s.WebhookURLs = append(s.WebhookURLs, u)
			}
		}
	}
	return s
}

// RequireBroker verifies the credentials needed for live commands.
func (s Secrets) RequireBroker() error {
	if s.BrokerToken == "" {
		return fmt.Errorf("config: %s not set", EnvBrokerToken)
	}
	if s.BrokerAccountID == "" {
		return fmt.Errorf("config: %s not set", EnvBrokerAccount)
	}
	switch s.Environment {
	case "demo", "practice", "live":
	default:
		return fmt.Errorf("config: %s must be demo or live, got %q", EnvEnvironment, s.Environment)
	}
	return nil
}
