package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"narrowd/internal/checker"
	"narrowd/internal/history"
	"narrowd/internal/logging"
	"narrowd/internal/monitor"
	"narrowd/internal/store"
)

var statusJSON bool

// buildMonitor wires the monitor from config: checker probe, report
// pipeline, metrics store, and file-backed histories.
func buildMonitor(metrics *store.CampaignStore) (*monitor.Monitor, error) {
	runner, err := checker.NewRunner(cfg.Checker.Command, workspace, cfg.Checker.Timeout(),
		logging.For(logger, logging.CategoryChecker))
	if err != nil {
		return nil, err
	}

	histLog := logging.For(logger, logging.CategoryHistory)
	alerts := history.NewLog[monitor.Alert](cfg.Monitor.AlertHistoryCap,
		history.NewFileStorage(cfg.Monitor.AlertHistoryPath), histLog)
	stability := history.NewLog[monitor.BuildStabilityRecord](cfg.Monitor.StabilityHistoryCap,
		history.NewFileStorage(cfg.Monitor.StabilityHistoryPath), histLog)

	opts := monitor.Options{
		Interval:                cfg.Monitor.Interval(),
		SuccessRateThreshold:    cfg.Monitor.SuccessRateThreshold,
		AccuracyThreshold:       cfg.Monitor.AccuracyThreshold,
		StallWindow:             cfg.Monitor.StallWindow(),
		ConsecutiveFailureLimit: cfg.Monitor.ConsecutiveFailureLimit,
		SafetyEventLimit:        cfg.Monitor.SafetyEventLimit,
	}
	return monitor.New(opts, runner, newPipeline(metrics), metrics, alerts, stability, nil,
		logging.For(logger, logging.CategoryMonitor))
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the periodic campaign health monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		metrics, err := store.Open(cfg.Store.Path, logging.For(logger, logging.CategoryStore))
		if err != nil {
			return err
		}
		defer metrics.Close()

		m, err := buildMonitor(metrics)
		if err != nil {
			return err
		}
		if err := m.Start(); err != nil {
			return err
		}
		fmt.Printf("monitoring every %s; Ctrl-C to stop\n", cfg.Monitor.Interval())

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		m.Stop()
		fmt.Println("monitor stopped")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a one-shot campaign dashboard snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		metrics, err := store.Open(cfg.Store.Path, logging.For(logger, logging.CategoryStore))
		if err != nil {
			return err
		}
		defer metrics.Close()

		m, err := buildMonitor(metrics)
		if err != nil {
			return err
		}
		m.Tick()
		snap := m.Snapshot()
		if snap == nil {
			return fmt.Errorf("no snapshot produced")
		}

		if statusJSON {
			return json.NewEncoder(os.Stdout).Encode(snap)
		}

		fmt.Printf("Health: %s (%d/100)\n", snap.Health, snap.HealthScore)
		if snap.LastStability != nil {
			fmt.Printf("Build:  stable=%t errors=%d (%s)\n",
				snap.LastStability.IsStable, snap.LastStability.ErrorCount, snap.LastStability.BuildTime)
		}
		if snap.Trend != nil {
			fmt.Printf("Trend:  %.2f%%/day, projected completion in %d day(s)\n",
				snap.Trend.RatePerDay, snap.Trend.DaysNeeded)
		}
		fmt.Printf("Alerts: %d total, %d in last 24h\n", snap.Alerts.Total, snap.Alerts.Last24h)
		if snap.Alerts.Latest != nil {
			fmt.Printf("  latest [%s/%s] %s\n",
				snap.Alerts.Latest.Type, snap.Alerts.Latest.Severity, snap.Alerts.Latest.Message)
		}
		if snap.Report != nil {
			fmt.Println()
			printReport(snap.Report)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit JSON")
}
