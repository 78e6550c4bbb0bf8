package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fxpulse/fxpulse/backtest"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configured parameters without grid search",
	Long: `Validate replays the strategy parameters from the config file through the
walk-forward windows as a single-point grid: no search, just train/validate/
out-of-sample metrics and the over-optimization verdict for exactly the
parameters you intend to run live.`,
	RunE: runValidateCmd,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVarP(&btInstrument, "instrument", "i", "", "instrument (default: first configured)")
	validateCmd.Flags().StringVar(&btFrom, "from", "", "range start, RFC3339 or 2006-01-02")
	validateCmd.Flags().StringVar(&btTo, "to", "", "range end (default: now)")
}

func runValidateCmd(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	instrument := btInstrument
	if instrument == "" {
		instrument = rt.cfg.Instruments[0]
	}
	tf := rt.cfg.ParsedTimeframe()

	candles, err := loadCandleRange(rt, instrument, tf)
	if err != nil {
		return err
	}

	p := rt.cfg.Strategy
	axes := backtest.Axes{
		EMAFast:   []int{p.EMAFast},
		EMASlow:   []int{p.EMASlow},
		StopATR:   []float64{p.StopATR},
		TPATR:     []float64{p.TPATR},
		RSIFilter: []bool{p.RSIFilter},
	}

	runner := backtest.NewRunner(rt.log)
	runner.Thresholds.MinTrades = rt.cfg.Backtest.MinTrades

	report, err := runner.Run(axes, p, instrument, tf,
		backtest.NewFeed(candles), splitWindows(candles, rt.cfg.Backtest))
	if err != nil {
		return err
	}
	report.Print(os.Stdout)
	return nil
}
