package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/hakken/internal/pipeline"
)

var healthLookback time.Duration

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Scan intake health and report anomalies",
	Long: `Scan stored signals for silent sources, volume anomalies, stale leads and
suspicious confidence patterns. Exits non-zero when intake is degraded or
critical, so it can back a cron alert.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		db, _, err := openStore(ctx, slog.Default())
		if err != nil {
			return err
		}
		defer db.Close()

		report, err := pipeline.NewMonitor(db, slog.Default()).Report(ctx, healthLookback)
		if err != nil {
			return err
		}

		fmt.Printf("Intake %s (%d signals, %d sources; %d last 24h, %d last 7d)\n",
			report.OverallStatus, report.TotalSignals, report.TotalSources,
			report.SignalsLast24h, report.SignalsLast7d)
		if report.StaleSignals > 0 || report.SuspiciousSignals > 0 {
			fmt.Printf("  stale: %d (%d critical), suspicious: %d\n",
				report.StaleSignals, report.CriticallyStaleSignals, report.SuspiciousSignals)
		}
		for _, a := range report.Anomalies {
			fmt.Printf("  [%s] %s\n", a.Severity, a.Description)
		}

		if err := writeOutput(report); err != nil {
			return err
		}
		if report.Unhealthy() {
			return fmt.Errorf("intake is %s with %d anomalies", report.OverallStatus, len(report.Anomalies))
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().DurationVar(&healthLookback, "lookback", 0, "anomaly detection window (0 = default)")
	rootCmd.AddCommand(healthCmd)
}
