package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/hakken/internal/model"
)

var (
	fullCollectors    []string
	collectCollectors []string
	processSignalType string
)

var fullCmd = &cobra.Command{
	Use:   "full",
	Short: "Collect, process and sync in one pass",
	Long: `Run the whole pipeline: warm the suppression cache, run the collectors,
score and route pending signals, drain the outbox and scan intake health.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, model.ModeFull, fullCollectors, "")
	},
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run collectors and store their signals",
	Long: `Run the named collectors and store what they find. Signals stay pending
until a process or full run scores them.

Example usage:
  hakken collect --collectors=github,hackernews
  hakken collect --collectors=sec_edgar --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, model.ModeCollect, collectCollectors, "")
	},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Score and route pending signals",
	Long: `Consolidate pending signals per lead, run the verification gate and queue
routed prospects for CRM delivery.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, model.ModeProcess, nil, processSignalType)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh the suppression cache from the CRM",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, model.ModeSync, nil, "")
	},
}

func init() {
	fullCmd.Flags().StringSliceVar(&fullCollectors, "collectors", nil, "restrict collection to these collectors")
	collectCmd.Flags().StringSliceVar(&collectCollectors, "collectors", nil, "collectors to run (comma-separated)")
	_ = collectCmd.MarkFlagRequired("collectors")
	processCmd.Flags().StringVar(&processSignalType, "signal-type", "", "process only this signal type")

	rootCmd.AddCommand(fullCmd, collectCmd, processCmd, syncCmd)
}

func runPipeline(cmd *cobra.Command, mode model.RunMode, collectors []string, signalType string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx, slog.Default())
	if err != nil {
		return err
	}
	defer a.close()

	run, err := a.pipe.Run(ctx, mode, a.runOptions(collectors, signalType))
	if err != nil {
		return err
	}
	printRunSummary(run)
	return writeOutput(run)
}

func printRunSummary(run model.PipelineRun) {
	s := run.Stats
	label := string(run.Mode)
	if run.DryRun {
		label += ", dry run"
	}
	fmt.Printf("Run %s %s (%s)\n", run.ID, run.Status, label)
	if run.FinishedAt != nil {
		fmt.Printf("  elapsed:     %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if s.CollectorsRun > 0 {
		fmt.Printf("  collectors:  %d run, %d ok, %d failed\n", s.CollectorsRun, s.CollectorsSucceeded, s.CollectorsFailed)
		fmt.Printf("  signals:     %d collected, %d stored, %d duplicate\n", s.SignalsCollected, s.SignalsStored, s.SignalsDeduplicated)
	}
	if s.SignalsProcessed > 0 {
		fmt.Printf("  processed:   %d signals: %d auto-push, %d review, %d hold, %d rejected\n",
			s.SignalsProcessed, s.AutoPush, s.NeedsReview, s.Held, s.Rejected)
		fmt.Printf("  prospects:   %d created, %d updated, %d skipped\n",
			s.ProspectsCreated, s.ProspectsUpdated, s.ProspectsSkipped)
	}
	if s.SuppressionSynced > 0 {
		fmt.Printf("  suppression: %d entries synced\n", s.SuppressionSynced)
	}
	for _, e := range s.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}
