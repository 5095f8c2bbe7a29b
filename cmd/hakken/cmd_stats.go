package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statsRuns int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store-wide signal and outbox counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		db, _, err := openStore(ctx, slog.Default())
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "signals\t%d\n", stats.TotalSignals)
		for _, k := range sortedKeys(stats.SignalsByType) {
			fmt.Fprintf(w, "  %s\t%d\n", k, stats.SignalsByType[k])
		}
		fmt.Fprintf(w, "by status\t\n")
		for _, k := range sortedKeys(stats.SignalsByStatus) {
			fmt.Fprintf(w, "  %s\t%d\n", k, stats.SignalsByStatus[k])
		}
		fmt.Fprintf(w, "active suppressions\t%d\n", stats.ActiveSuppressions)
		fmt.Fprintf(w, "pending outbox\t%d\n", stats.PendingOutbox)
		if err := w.Flush(); err != nil {
			return err
		}

		if statsRuns > 0 {
			runs, err := db.GetPipelineRuns(ctx, statsRuns)
			if err != nil {
				return err
			}
			fmt.Println()
			for _, run := range runs {
				printRunSummary(run)
			}
		}
		return writeOutput(stats)
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsRuns, "runs", 0, "also show the last N pipeline runs")
	rootCmd.AddCommand(statsCmd)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
