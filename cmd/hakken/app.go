package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/hakken/internal/collect"
	"github.com/ashita-ai/hakken/internal/config"
	"github.com/ashita-ai/hakken/internal/gate"
	"github.com/ashita-ai/hakken/internal/llm"
	"github.com/ashita-ai/hakken/internal/notify"
	"github.com/ashita-ai/hakken/internal/notion"
	"github.com/ashita-ai/hakken/internal/outbox"
	"github.com/ashita-ai/hakken/internal/pipeline"
	"github.com/ashita-ai/hakken/internal/ratelimit"
	"github.com/ashita-ai/hakken/internal/resolve"
	"github.com/ashita-ai/hakken/internal/storage"
	"github.com/ashita-ai/hakken/internal/telemetry"
	"github.com/ashita-ai/hakken/migrations"
)

// app bundles everything a pipeline-shaped command needs. Build with
// openApp, release with close.
type app struct {
	cfg      config.Config
	scoring  config.ScoringConfig
	db       *storage.DB
	limiter  ratelimit.Limiter
	cache    *gate.Cache
	crm      *notion.Client
	syncer   *notion.Syncer
	watch    *notion.Watchlists
	releases *notion.ConfigLoader
	worker   *outbox.Worker
	registry *collect.Registry
	runner   *collect.Runner
	env      collect.Env
	monitor  *pipeline.Monitor
	notifier *notify.Notifier
	pipe     *pipeline.Pipeline

	logger       *slog.Logger
	otelShutdown telemetry.Shutdown
}

// openApp wires the full engine the way the embedding API does, but from
// the command's context and flags.
func openApp(ctx context.Context, logger *slog.Logger) (*app, error) {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}

	a.otelShutdown, err = telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a.db, err = storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := a.db.RunMigrations(ctx, migrations.FS); err != nil {
		a.close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	a.scoring, err = config.LoadScoring(cfg.ScoringConfigPath)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("scoring config: %w", err)
	}

	a.limiter = ratelimit.NewMemoryLimiter(ratelimit.DefaultBudgets())

	if cfg.NotionAPIKey != "" {
		transport := notion.NewTransport(cfg.NotionAPIKey, a.limiter, notion.TransportOptions{Timeout: cfg.HTTPTimeout})
		a.crm = notion.NewClient(transport, cfg.NotionDatabaseID, logger)
		if err := a.crm.EnsureSchema(ctx, cfg.StrictMode); err != nil {
			a.close()
			return nil, fmt.Errorf("crm schema: %w", err)
		}
		a.syncer = notion.NewSyncer(a.crm, a.db, cfg.SuppressionTTL, logger)
		a.worker = outbox.NewWorker(a.db, a.crm, logger, cfg.OutboxInterval, cfg.OutboxBatchSize)

		if cfg.NotionWatchlistsDB != "" {
			a.watch = notion.NewWatchlists(notion.NewWatchlistSource(transport, cfg.NotionWatchlistsDB), logger)
		}
		if cfg.NotionReleasesDB != "" {
			a.releases = notion.NewConfigLoader(notion.NewReleaseSource(transport, cfg.NotionReleasesDB), a.db, logger)
			a.scoring = overlayScoring(ctx, a.releases, a.scoring, logger)
		}
	} else {
		logger.Info("crm: disabled (no NOTION_API_KEY)")
	}

	var backend llm.Backend
	if cfg.GeminiAPIKey != "" {
		backend = llm.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.HTTPTimeout)
	} else {
		backend = llm.Noop{}
		logger.Info("classifier: disabled (no GEMINI_API_KEY)")
	}

	a.cache, err = gate.OpenCache(cfg.ClassifierCachePath)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("classifier cache: %w", err)
	}
	gating := gate.NewProcessor(
		gate.NewTrigger(a.scoring.Gating),
		gate.NewClassifier(backend, a.cache, a.scoring.Gating.MinConfidence, logger),
		a.db, flagDryRun, logger)

	a.registry = collect.DefaultRegistry()
	a.runner = collect.NewRunner(a.db, logger)
	a.env = collect.Env{
		Config:  cfg,
		Limiter: a.limiter,
		Logger:  logger,
		Assets:  a.db,
	}
	a.monitor = pipeline.NewMonitor(a.db, logger)
	a.notifier = notify.New(cfg.SlackWebhookURL, notify.DefaultOptions(), logger)

	deps := pipeline.Deps{
		Store:    a.db,
		Registry: a.registry,
		Runner:   a.runner,
		Env:      a.env,
		Scoring:  a.scoring,
		Logger:   logger,
		Assets:   a.db,
		Resolver: resolve.New(resolve.DefaultConfig()),
		Gating:   gating,
		Monitor:  a.monitor,
		Notifier: a.notifier,
	}
	if a.watch != nil {
		deps.Watchlists = a.watch
	}
	if a.worker != nil {
		deps.Outbox = a.worker
	}
	if a.syncer != nil {
		deps.Syncer = a.syncer
	}
	a.pipe = pipeline.New(deps)

	return a, nil
}

// close releases whatever openApp managed to build, in shutdown order.
func (a *app) close() {
	if a.releases != nil {
		a.releases.Close()
	}
	if a.watch != nil {
		a.watch.Close()
	}
	if a.crm != nil {
		a.crm.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("classifier cache close failed", "error", err)
		}
	}
	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	if a.db != nil {
		a.db.Close()
	}
}

// runOptions maps the global flags onto one run, falling back to the
// configured defaults.
func (a *app) runOptions(collectors []string, signalType string) pipeline.Options {
	opts := pipeline.Options{
		Collectors:    collectors,
		DryRun:        flagDryRun,
		Parallel:      flagParallel,
		BatchSize:     flagBatchSize,
		SignalType:    signalType,
		Strict:        flagStrict || a.cfg.StrictMode,
		UseGating:     !flagNoGating,
		UseEntities:   flagUseEntities,
		UseAssetStore: flagUseAssetStore,
	}
	if opts.Parallel == 0 {
		opts.Parallel = a.cfg.ParallelCollectors
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = a.cfg.BatchSize
	}
	return opts
}

// openStore is the light bootstrap for read-only commands: config and the
// database pool, nothing else.
func openStore(ctx context.Context, logger *slog.Logger) (*storage.DB, config.Config, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("load config: %w", err)
	}
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("storage: %w", err)
	}
	return db, cfg, nil
}

// openCRM builds just the Notion client, for the schema commands.
func openCRM(logger *slog.Logger) (*notion.Client, ratelimit.Limiter, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.NotionAPIKey == "" || cfg.NotionDatabaseID == "" {
		return nil, nil, fmt.Errorf("NOTION_API_KEY and NOTION_DATABASE_ID are required")
	}
	limiter := ratelimit.NewMemoryLimiter(ratelimit.DefaultBudgets())
	transport := notion.NewTransport(cfg.NotionAPIKey, limiter, notion.TransportOptions{Timeout: cfg.HTTPTimeout})
	return notion.NewClient(transport, cfg.NotionDatabaseID, logger), limiter, nil
}

// overlayScoring applies an analyst-published scoring release on top of
// the locally loaded config. Release problems fall back to the local
// config — a CRM mis-edit must not block a run.
func overlayScoring(ctx context.Context, releases *notion.ConfigLoader, base config.ScoringConfig, logger *slog.Logger) config.ScoringConfig {
	rel, err := releases.Get(ctx, "scoring", &notion.Fallback{Version: "local"}, false)
	if err != nil {
		logger.Warn("scoring release unavailable, using local config", "error", err)
		return base
	}
	if rel.Content == "" {
		return base
	}
	merged, err := config.MergeScoring(base, []byte(rel.Content))
	if err != nil {
		logger.Warn("scoring release rejected, using local config",
			"version", rel.HumanVersion, "error", err)
		return base
	}
	logger.Info("scoring release applied", "version", rel.HumanVersion, "hash", rel.ContentHash)
	return merged
}
