package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fxpulse/fxpulse/journal"
	"github.com/fxpulse/fxpulse/market"
	"github.com/fxpulse/fxpulse/quant"
	"github.com/fxpulse/fxpulse/signal"
)

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Monte Carlo risk assessment over journaled trade history",
	Long: `Assess bootstraps the journaled trade outcomes into simulated equity paths
and reports VaR, CVaR, drawdown tails, and the probability of breaching the
configured drawdown cap. With --stress it additionally replays the strategy
through adversarial market scenarios.`,
	RunE: runAssessCmd,
}

var assessStress bool

func init() {
	rootCmd.AddCommand(assessCmd)
	assessCmd.Flags().BoolVar(&assessStress, "stress", false, "also run the stress scenario suite")
}

func runAssessCmd(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	jrn, err := rt.openJournal()
	if err != nil {
		return err
	}
	defer jrn.Close()

	var trades []journal.Trade
	for _, instrument := range rt.cfg.Instruments {
		ts, err := jrn.Trades(instrument, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), time.Now().UTC())
		if err != nil {
			return err
		}
		trades = append(trades, ts...)
	}

	var signals []signal.Signal
	for _, t := range trades {
		s, err := jrn.SignalByID(t.SignalID)
		if err != nil {
			continue
		}
		signals = append(signals, s)
	}

	cfg := quant.DefaultConfig()
	cfg.RiskPerTrade = rt.cfg.Risk.Budget.RiskPerTrade
	cfg.DrawdownCap = rt.cfg.Risk.Budget.DrawdownCap

	rep, err := quant.Assess(cfg, quant.RMultiples(trades, signals))
	if err != nil {
		if errors.Is(err, quant.ErrInsufficientHistory) {
			return fmt.Errorf("%w (need %d closed trades)", err, quant.MinSampleTrades)
		}
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Monte Carlo Risk Assessment\n")
	fmt.Fprintf(w, "sample trades\t%d\n", rep.SampleSize)
	fmt.Fprintf(w, "paths x length\t%d x %d\n", rep.NSims, rep.PathLength)
	fmt.Fprintf(w, "VaR 95 / 99\t%.2fR / %.2fR\n", rep.VaR95, rep.VaR99)
	fmt.Fprintf(w, "CVaR 95 / 99\t%.2fR / %.2fR\n", rep.CVaR95, rep.CVaR99)
	fmt.Fprintf(w, "max drawdown p95\t%.2f%%\n", rep.MaxDrawdown95*100)
	fmt.Fprintf(w, "breach probability\t%.2f%% (cap %.0f%%)\n", rep.BreachProbability*100, cfg.DrawdownCap*100)
	fmt.Fprintf(w, "within tolerance\t%v\n", rep.WithinTolerance)
	fmt.Fprintf(w, "terminal median\t%.3fx\n", rep.TerminalMedian)
	w.Flush()

	if !assessStress {
		return nil
	}

	tf := rt.cfg.ParsedTimeframe()
	streams := make(map[string][]market.Candle)
	for _, instrument := range rt.cfg.Instruments {
		cs, err := jrn.Candles(instrument, tf, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), time.Now().UTC())
		if err != nil {
			return err
		}
		if len(cs) > 0 {
			streams[instrument] = cs
		}
	}
	if len(streams) == 0 {
		return fmt.Errorf("no journaled candles to stress; run \"fxpulse data import\" first")
	}

	results, resilience, err := quant.StressSuite(cfg, rt.cfg.Strategy, streams)
	if err != nil {
		return err
	}

	fmt.Println()
	sw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(sw, "Stress Scenarios\n")
	fmt.Fprintf(sw, "scenario\ttrades\tmax dd\tbreached\n")
	for _, r := range results {
		fmt.Fprintf(sw, "%s\t%d\t%.2f%%\t%v\n", r.Name, r.Trades, r.MaxDrawdown*100, r.Breached)
	}
	fmt.Fprintf(sw, "resilience score\t%.2f\n", resilience)
	sw.Flush()
	return nil
}
