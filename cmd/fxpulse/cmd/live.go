package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fxpulse/fxpulse/bridge"
	"github.com/fxpulse/fxpulse/broker/oanda"
	"github.com/fxpulse/fxpulse/journal"
	"github.com/fxpulse/fxpulse/logging"
	"github.com/fxpulse/fxpulse/risk"
	sig "github.com/fxpulse/fxpulse/signal"
	"github.com/fxpulse/fxpulse/store"
)

var runLiveCmd = &cobra.Command{
	Use:   "run-live",
	Short: "Run the live trading bridge",
	Long: `Run-live starts the execution bridge: clock check, journal/broker
reconciliation, then one evaluation cycle per bar boundary until interrupted.
Requires broker credentials in the environment.`,
	RunE: runLive,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile the journal against broker state and exit",
	RunE:  runReconcile,
}

var emergencyHaltCmd = &cobra.Command{
	Use:   "emergency-halt",
	Short: "Manually trigger the L4 procedure: cancel orders, close half of all positions",
	RunE:  runEmergencyHalt,
}

func init() {
	rootCmd.AddCommand(runLiveCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(emergencyHaltCmd)
}

// liveDeps is the assembled live stack. close() flushes and releases
// everything in reverse order.
type liveDeps struct {
	bridge *bridge.Bridge
	jrn    *journal.SQLiteStore
	audit  *journal.AuditSink
	log    logging.Logger
}

func (d *liveDeps) close() {
	d.audit.Close()
	d.jrn.Close()
}

func buildLive(ctx context.Context, rt *runtime) (*liveDeps, error) {
	if err := rt.secrets.RequireBroker(); err != nil {
		return nil, err
	}
	client, err := oanda.New(rt.secrets.Environment, rt.secrets.BrokerToken,
		rt.secrets.BrokerAccountID, rt.log)
	if err != nil {
		return nil, err
	}

	jrn, err := rt.openJournal()
	if err != nil {
		return nil, err
	}
	audit := rt.newAuditSink(jrn)

	acct, err := client.GetAccountSnapshot(ctx)
	if err != nil {
		audit.Close()
		jrn.Close()
		return nil, fmt.Errorf("read account: %w", err)
	}

	st := store.New(rt.cfg.Indicators, 2048)
	eng := sig.NewEngine(rt.cfg.Strategy, st)
	mon := risk.NewMonitor(risk.Config{
		Thresholds:         rt.cfg.Risk.Thresholds,
		Budget:             rt.cfg.Risk.Budget,
		Regimes:            rt.cfg.Risk.Regimes,
		AccountCurrency:    rt.cfg.Risk.AccountCurrency,
		HaltNewEntriesAtL3: true,
	}, acct.Equity, client, audit, rt.log)

	bcfg := bridge.DefaultConfig(rt.cfg.Instruments)
	bcfg.Timeframe = rt.cfg.ParsedTimeframe()

	return &liveDeps{
		bridge: bridge.New(bcfg, client, st, eng, mon, jrn, audit, rt.log),
		jrn:    jrn,
		audit:  audit,
		log:    rt.log,
	}, nil
}

func runLive(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildLive(ctx, rt)
	if err != nil {
		return err
	}
	defer deps.close()

	err = deps.bridge.Run(ctx)
	if errors.Is(err, context.Canceled) {
		rt.log.Info("shutdown requested, stopping")
		return nil
	}
	return err
}

func runReconcile(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	ctx := context.Background()

	deps, err := buildLive(ctx, rt)
	if err != nil {
		return err
	}
	defer deps.close()

	if err := deps.bridge.Reconcile(ctx); err != nil {
		return err
	}
	fmt.Println("reconcile: journal and broker state consistent")
	return nil
}

func runEmergencyHalt(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	ctx := context.Background()

	deps, err := buildLive(ctx, rt)
	if err != nil {
		return err
	}
	defer deps.close()

	// Adopt broker state first so the flatten sees every position.
	if err := deps.bridge.Reconcile(ctx); err != nil {
		return err
	}
	if err := deps.bridge.EmergencyFlatten(ctx); err != nil {
		return err
	}
	fmt.Println("emergency halt complete")
	return nil
}
