package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fxpulse/fxpulse/backtest"
	"github.com/fxpulse/fxpulse/config"
	"github.com/fxpulse/fxpulse/market"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Walk-forward backtest over journaled candles",
	Long: `Backtest runs the walk-forward protocol on candles already in the journal
(see "fxpulse data import"): grid-search the train window, freeze the best
parameters, replay them on validate and out-of-sample windows, and judge the
result against over-optimization gates.`,
	RunE: runBacktestCmd,
}

var (
	btInstrument string
	btFrom       string
	btTo         string
)

func init() {
	rootCmd.AddCommand(backtestCmd)
	backtestCmd.Flags().StringVarP(&btInstrument, "instrument", "i", "", "instrument (default: first configured)")
	backtestCmd.Flags().StringVar(&btFrom, "from", "", "range start, RFC3339 or 2006-01-02 (default: all journaled)")
	backtestCmd.Flags().StringVar(&btTo, "to", "", "range end (default: now)")
}

func parseFlagTime(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q (want RFC3339 or 2006-01-02)", s)
	}
	return t, nil
}

// loadCandleRange pulls the journaled candles for one stream.
func loadCandleRange(rt *runtime, instrument string, tf market.Timeframe) ([]market.Candle, error) {
	jrn, err := rt.openJournal()
	if err != nil {
		return nil, err
	}
	defer jrn.Close()

	from, err := parseFlagTime(btFrom, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return nil, err
	}
	to, err := parseFlagTime(btTo, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	candles, err := jrn.Candles(instrument, tf, from, to)
	if err != nil {
		return nil, err
	}
	if len(candles) < 3 {
		return nil, fmt.Errorf("only %d journaled candles for %s %s; run \"fxpulse data import\" first",
			len(candles), instrument, tf)
	}
	return candles, nil
}

// splitWindows cuts a candle slice into train/validate/oos windows. When the
// history is shorter than the configured split the counts scale down
// proportionally, letting the runner surface INSUFFICIENT_DATA.
func splitWindows(candles []market.Candle, bc config.BacktestConfig) backtest.Windows {
	total := len(candles)
	train, val, oos := bc.TrainBars, bc.ValidateBars, bc.OOSBars
	if sum := train + val + oos; total < sum {
		train = total * train / sum
		val = total * val / sum
		if train < 1 {
			train = 1
		}
		if val < 1 {
			val = 1
		}
		oos = total - train - val
		if oos < 1 {
			oos = 1
		}
	}

	return backtest.Windows{
		Train:    backtest.Window{Start: candles[0].OpenTime, End: candles[train].OpenTime},
		Validate: backtest.Window{Start: candles[train].OpenTime, End: candles[train+val].OpenTime},
		OOS:      backtest.Window{Start: candles[train+val].OpenTime, End: candles[total-1].CloseTime()},
	}
}

func runBacktestCmd(cmd *cobra.Command, args []string) error {
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

	runner := backtest.NewRunner(rt.log)
	runner.Thresholds.MinTrades = rt.cfg.Backtest.MinTrades
	if rt.cfg.Backtest.Workers > 0 {
		runner.Workers = rt.cfg.Backtest.Workers
	}

	report, err := runner.Run(backtest.DefaultAxes(), rt.cfg.Strategy, instrument, tf,
		backtest.NewFeed(candles), splitWindows(candles, rt.cfg.Backtest))
	if err != nil {
		return err
	}
	report.Print(os.Stdout)
	return nil
}
