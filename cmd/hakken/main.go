package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

// Global flags shared by the run-shaped commands.
var (
	flagDryRun        bool
	flagParallel      int
	flagBatchSize     int
	flagStrict        bool
	flagNoGating      bool
	flagUseEntities   bool
	flagUseAssetStore bool
	flagOutput        string
)

// rootCmd is the base command for the hakken CLI.
var rootCmd = &cobra.Command{
	Use:   "hakken",
	Short: "hakken deal-sourcing discovery engine",
	Long: `hakken discovers pre-seed companies from public signals: it collects from
source APIs, consolidates signals per lead, scores them through the
verification gate and delivers prospects to the CRM.

Configuration is read from environment variables (and a local .env file);
see config.Load for the full list. DATABASE_URL is always required.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&flagDryRun, "dry-run", false, "collect and score but persist no decisions and push nothing")
	pf.IntVar(&flagParallel, "parallel", 0, "collectors to run at once (0 = configured default)")
	pf.IntVar(&flagBatchSize, "batch-size", 0, "processing batch size (0 = configured default)")
	pf.BoolVar(&flagStrict, "strict", false, "downgrade single-source auto-pushes to review")
	pf.BoolVar(&flagNoGating, "no-gating", false, "skip the trigger/classify pass")
	pf.BoolVar(&flagUseEntities, "use-entities", true, "regroup signals by resolved lead before scoring")
	pf.BoolVar(&flagUseAssetStore, "use-asset-store", true, "snapshot-based change detection for collectors")
	pf.StringVar(&flagOutput, "output", "", "write the JSON result to this file")
}

func main() {
	os.Exit(run0())
}

func run0() int {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("HAKKEN_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// writeOutput marshals v to the --output file when the flag is set.
func writeOutput(v any) error {
	if flagOutput == "" {
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	if err := os.WriteFile(flagOutput, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
