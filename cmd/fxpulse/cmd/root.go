// Package cmd wires the fxpulse CLI.
package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/fxpulse/fxpulse/bridge"
	"github.com/fxpulse/fxpulse/broker"
	"github.com/fxpulse/fxpulse/config"
	"github.com/fxpulse/fxpulse/journal"
	"github.com/fxpulse/fxpulse/logging"
	"github.com/fxpulse/fxpulse/notify"
)

var rootCmd = &cobra.Command{
	Use:   "fxpulse",
	Short: "Forex signal engine with walk-forward backtesting and live execution",
	Long: `fxpulse generates EMA crossover trade signals on forex candle streams,
validates strategies with walk-forward backtesting and Monte Carlo risk
quantification, and executes them against OANDA under a tiered risk monitor.

Commands that talk to the broker read credentials from the environment
(FXPULSE_OANDA_TOKEN, FXPULSE_OANDA_ACCOUNT, FXPULSE_ENV); everything else
comes from the yaml config file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagConfig   string
	flagEnvFile  string
	flagLogLevel string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to yaml config (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "path to env file with broker credentials")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override log level (DEBUG, INFO, WARN, ERROR)")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps an Execute error to the process exit code: 1 for
// configuration problems, 2 for unrecoverable broker errors, 3 for data
// consistency failures.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var apiErr *broker.APIError
	switch {
	case errors.Is(err, bridge.ErrInconsistent):
		return 3
	case errors.Is(err, broker.ErrAuth),
		errors.Is(err, bridge.ErrClockSkew),
		errors.Is(err, bridge.ErrEmergencyBudget),
		errors.As(err, &apiErr):
		return 2
	}
	return 1
}

// runtime bundles what every command needs.
type runtime struct {
	cfg     config.Config
	secrets config.Secrets
	log     logging.Logger
}

func loadRuntime() (*runtime, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	secrets := config.LoadSecrets(flagEnvFile)
	if secrets.JournalPath != "" {
		cfg.Journal.Path = secrets.JournalPath
	}

	level := cfg.Log.Level
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	return &runtime{
		cfg:     cfg,
		secrets: secrets,
		log:     logging.NewStdLogger(logging.ParseLevel(level)),
	}, nil
}

func (rt *runtime) openJournal() (*journal.SQLiteStore, error) {
	return journal.NewSQLite(rt.cfg.Journal.Path)
}

// newAuditSink builds the audit pipeline with webhook fan-out. Caller closes.
func (rt *runtime) newAuditSink(jrn journal.Store) *journal.AuditSink {
	var notifiers []journal.Notifier
	for _, u := range rt.secrets.WebhookURLs {
		notifiers = append(notifiers, notify.NewWebhook(u, journal.SeverityWarn))
	}
	return journal.NewAuditSink(jrn, rt.log, 256, notifiers...)
}
