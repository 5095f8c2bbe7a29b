// Package hakken is the public API for embedding the hakken discovery
// engine.
//
// Operational consumers import this package to run collection, gating,
// verification and CRM delivery as a long-lived service without the CLI:
//
//	app, err := hakken.New(
//	    hakken.WithVersion(version),
//	    hakken.WithLogger(logger),
//	    hakken.WithSourceAdapter(myFeed{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: hakken (root) imports
// internal/*, but internal/* never imports hakken (root).  Public types
// (Signal, Prospect, etc.) are standalone structs with no internal imports;
// conversion helpers (toPublicProspect, toModelSignal) live here because
// this is the only file that sees both sides of the boundary.
package hakken

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/hakken/internal/canonical"
	"github.com/ashita-ai/hakken/internal/collect"
	"github.com/ashita-ai/hakken/internal/config"
	"github.com/ashita-ai/hakken/internal/gate"
	"github.com/ashita-ai/hakken/internal/llm"
	"github.com/ashita-ai/hakken/internal/mcp"
	"github.com/ashita-ai/hakken/internal/model"
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

// Background cadences for the long-running service. The suppression cache
// holds entries for days (HAKKEN_SUPPRESSION_TTL), so a few syncs per day
// keep it warm; the health scan matches the daily summary cadence.
const (
	suppressionSyncInterval = 6 * time.Hour
	healthScanInterval      = 24 * time.Hour
)

// scoringReleaseType is the Config Releases entry the engine consumes.
const scoringReleaseType = "scoring"

// App is the hakken service lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	pipe         *pipeline.Pipeline
	mcpSrv       *mcp.Server
	crm          *notion.Client // nil with a custom connector or no CRM
	syncer       *notion.Syncer
	watchlists   *notion.Watchlists
	releases     *notion.ConfigLoader
	monitor      *pipeline.Monitor
	outboxWorker *outbox.Worker
	classCache   *gate.Cache
	limiter      ratelimit.Limiter
	notifier     *notify.Notifier
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the hakken engine. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines — call Run() or Discover().
func New(opts ...Option) (*App, error) {
	// Apply options.
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("hakken starting", "version", version)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Connect to database.
	db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	// Run embedded migrations.
	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}

	// Run extra migrations after the embedded ones.
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	// Scoring knobs: embedded defaults overlaid with the local YAML file.
	scoring, err := config.LoadScoring(cfg.ScoringConfigPath)
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("scoring config: %w", err)
	}

	// Per-API rate budgets shared by collectors and the CRM transport.
	limiter := ratelimit.NewMemoryLimiter(ratelimit.DefaultBudgets())

	// CRM stack. A custom connector replaces the Notion client as the
	// outbox target; without either, prospects queue in the outbox until
	// a connector is configured.
	var (
		crmClient    *notion.Client
		syncer       *notion.Syncer
		watchlists   *notion.Watchlists
		releases     *notion.ConfigLoader
		outboxWorker *outbox.Worker
	)
	switch {
	case o.crmConnector != nil:
		outboxWorker = outbox.NewWorker(db, &crmConnectorAdapter{c: o.crmConnector}, logger, cfg.OutboxInterval, cfg.OutboxBatchSize)
		logger.Info("crm: external connector")
	case cfg.NotionAPIKey != "":
		transport := notion.NewTransport(cfg.NotionAPIKey, limiter, notion.TransportOptions{Timeout: cfg.HTTPTimeout})
		crmClient = notion.NewClient(transport, cfg.NotionDatabaseID, logger)
		if err := crmClient.EnsureSchema(context.Background(), cfg.StrictMode); err != nil {
			crmClient.Close()
			_ = limiter.Close()
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("crm schema: %w", err)
		}
		syncer = notion.NewSyncer(crmClient, db, cfg.SuppressionTTL, logger)
		outboxWorker = outbox.NewWorker(db, crmClient, logger, cfg.OutboxInterval, cfg.OutboxBatchSize)
		logger.Info("crm: notion", "database", cfg.NotionDatabaseID)

		if cfg.NotionWatchlistsDB != "" {
			watchlists = notion.NewWatchlists(notion.NewWatchlistSource(transport, cfg.NotionWatchlistsDB), logger)
			logger.Info("watchlists: enabled")
		} else {
			logger.Info("watchlists: disabled (no NOTION_WATCHLISTS_DATABASE_ID)")
		}

		if cfg.NotionReleasesDB != "" {
			releases = notion.NewConfigLoader(notion.NewReleaseSource(transport, cfg.NotionReleasesDB), db, logger)
			scoring = overlayScoringRelease(context.Background(), releases, scoring, logger)
		}
	default:
		logger.Info("crm: disabled (no NOTION_API_KEY)")
	}

	// Classifier backend — external override takes priority over Gemini.
	var backend llm.Backend
	switch {
	case o.llmBackend != nil:
		backend = &llmBackendAdapter{b: o.llmBackend}
		logger.Info("classifier: external backend")
	case cfg.GeminiAPIKey != "":
		backend = llm.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.HTTPTimeout)
		logger.Info("classifier: gemini", "model", cfg.GeminiModel)
	default:
		backend = llm.Noop{}
		logger.Info("classifier: disabled (no GEMINI_API_KEY)")
	}

	// Classification cache and the two-stage gate.
	classCache, err := gate.OpenCache(cfg.ClassifierCachePath)
	if err != nil {
		if releases != nil {
			releases.Close()
		}
		if watchlists != nil {
			watchlists.Close()
		}
		if crmClient != nil {
			crmClient.Close()
		}
		_ = limiter.Close()
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("classifier cache: %w", err)
	}
	gating := gate.NewProcessor(
		gate.NewTrigger(scoring.Gating),
		gate.NewClassifier(backend, classCache, scoring.Gating.MinConfidence, logger),
		db, false, logger)

	// Remaining subsystems have no failure paths.
	resolver := resolve.New(resolve.DefaultConfig())
	monitor := pipeline.NewMonitor(db, logger)
	notifier := notify.New(cfg.SlackWebhookURL, notify.DefaultOptions(), logger)
	if cfg.SlackWebhookURL == "" {
		logger.Info("slack alerts: disabled (no SLACK_WEBHOOK_URL)")
	}

	// Collector registry: built-ins plus external adapters.
	registry := collect.DefaultRegistry()
	for _, sa := range o.sourceAdapters {
		registry.Register(sa.Name(), func(collect.Env) (collect.Adapter, error) {
			return &sourceAdapterShim{sa: sa}, nil
		})
		logger.Info("source adapter registered", "name", sa.Name())
	}
	runner := collect.NewRunner(db, logger)
	env := collect.Env{
		Config:  cfg,
		Limiter: limiter,
		Logger:  logger,
		Assets:  db,
	}

	// Orchestrator. Interface fields are only assigned from non-nil
	// concrete values so the pipeline's nil checks stay meaningful.
	pipeDeps := pipeline.Deps{
		Store:    db,
		Registry: registry,
		Runner:   runner,
		Env:      env,
		Scoring:  scoring,
		Logger:   logger,
		Assets:   db,
		Resolver: resolver,
		Gating:   gating,
		Monitor:  monitor,
		Notifier: notifier,
	}
	if watchlists != nil {
		pipeDeps.Watchlists = watchlists
	}
	if outboxWorker != nil {
		pipeDeps.Outbox = outboxWorker
	}
	if syncer != nil {
		pipeDeps.Syncer = syncer
	}
	pipe := pipeline.New(pipeDeps)

	// MCP server.
	mcpDeps := mcp.Deps{
		Store:    db,
		Pusher:   pipe,
		Registry: registry,
		Runner:   runner,
		Env:      env,
		Health:   monitor,
		Version:  version,
		Logger:   logger,
	}
	if crmClient != nil {
		mcpDeps.CRM = crmClient
	}
	if syncer != nil {
		mcpDeps.Syncer = syncer
	}
	mcpSrv := mcp.New(mcpDeps)

	return &App{
		cfg:          cfg,
		db:           db,
		pipe:         pipe,
		mcpSrv:       mcpSrv,
		crm:          crmClient,
		syncer:       syncer,
		watchlists:   watchlists,
		releases:     releases,
		monitor:      monitor,
		outboxWorker: outboxWorker,
		classCache:   classCache,
		limiter:      limiter,
		notifier:     notifier,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the background workers (CRM outbox delivery, scheduled
// suppression sync, daily health scan) and blocks until ctx is cancelled.
// On return, Shutdown is called automatically — callers should not call
// Shutdown separately. Pipeline runs are triggered by Discover or the MCP
// surface, not by Run.
func (a *App) Run(ctx context.Context) error {
	if a.outboxWorker != nil {
		a.outboxWorker.Start(ctx)
	}
	if a.syncer != nil {
		go a.syncer.RunEvery(ctx, suppressionSyncInterval)
	}
	go a.healthLoop(ctx)

	<-ctx.Done()
	return a.Shutdown(context.Background())
}

// Discover executes one pipeline run and reports what happened. Safe to
// call concurrently with Run; both share the same outbox and caches.
func (a *App) Discover(ctx context.Context, opts RunOptions) (RunReport, error) {
	mode := model.RunMode(opts.Mode)
	if opts.Mode == "" {
		mode = model.ModeFull
	}
	run, err := a.pipe.Run(ctx, mode, pipeline.Options{
		Collectors:    opts.Collectors,
		DryRun:        opts.DryRun,
		Parallel:      a.cfg.ParallelCollectors,
		BatchSize:     a.cfg.BatchSize,
		SignalType:    opts.SignalType,
		Strict:        a.cfg.StrictMode,
		UseGating:     true,
		UseEntities:   true,
		UseAssetStore: true,
	})
	if err != nil {
		return RunReport{}, err
	}
	return toRunReport(run), nil
}

// EvaluateLead runs the verification gate over a lead's stored signals
// without queueing anything. Use it to preview what a live push would
// decide.
func (a *App) EvaluateLead(ctx context.Context, canonicalKey string) (Evaluation, error) {
	vr, _, err := a.pipe.PushLead(ctx, canonicalKey, true)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluation{
		CanonicalKey:   vr.CanonicalKey,
		Decision:       PushDecision(vr.Decision),
		Confidence:     vr.ConfidenceScore,
		Reason:         vr.Reason,
		SourcesChecked: vr.SourcesChecked,
		CalculatedAt:   vr.CalculatedAt,
	}, nil
}

// ServeMCP serves the MCP server on stdin/stdout, blocking until the host
// disconnects or ctx is cancelled. Use it instead of Run when the process
// is launched by an MCP host; background workers are not started.
func (a *App) ServeMCP(ctx context.Context) error {
	return a.mcpSrv.ServeStdio(ctx)
}

// Shutdown performs a three-phase graceful shutdown:
// (1) stop the outbox worker, draining queued CRM writes,
// (2) close the CRM caches, classifier cache and rate limiter,
// (3) flush telemetry and close the database pool.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("hakken shutting down")

	// Phase 1: outbox drain.
	if a.outboxWorker != nil {
		a.outboxWorker.Stop(ctx)
	}

	// Phase 2: caches and connectors.
	if a.releases != nil {
		a.releases.Close()
	}
	if a.watchlists != nil {
		a.watchlists.Close()
	}
	if a.crm != nil {
		a.crm.Close()
	}
	if err := a.classCache.Close(); err != nil {
		a.logger.Warn("classifier cache close failed", "error", err)
	}
	_ = a.limiter.Close()

	// Phase 3: telemetry and storage.
	_ = a.otelShutdown(context.Background())
	a.db.Close()

	a.logger.Info("hakken stopped")
	return nil
}

// healthLoop scans intake daily and alerts when degraded, mirroring the
// post-run scan for deployments that only ever use the MCP surface.
func (a *App) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := a.monitor.Report(ctx, 0)
			if err != nil {
				a.logger.Warn("health scan failed", "error", err)
				continue
			}
			if report.Unhealthy() {
				a.notifier.HealthAlert(ctx,
					string(report.OverallStatus),
					report.AnomalyDescriptions(),
					report.TotalSignals,
					report.StaleSignals,
					report.SuspiciousSignals)
			}
		}
	}
}

// overlayScoringRelease applies an analyst-published scoring release on
// top of the locally loaded config. Release problems fall back to the
// local config — a CRM mis-edit must not take discovery down.
func overlayScoringRelease(ctx context.Context, releases *notion.ConfigLoader, base config.ScoringConfig, logger *slog.Logger) config.ScoringConfig {
	rel, err := releases.Get(ctx, scoringReleaseType, &notion.Fallback{Version: "local"}, false)
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

// ── Adapters (defined here because this file imports both sides) ───────────────

// llmBackendAdapter wraps a hakken.LLMBackend to satisfy llm.Backend.
type llmBackendAdapter struct {
	b LLMBackend
}

func (a *llmBackendAdapter) Classify(ctx context.Context, prompt string) (llm.Reply, error) {
	reply, err := a.b.Classify(ctx, prompt)
	if err != nil {
		return llm.Reply{}, err
	}
	return llm.Reply{
		Text:         reply.Text,
		Model:        reply.Model,
		InputTokens:  reply.InputTokens,
		OutputTokens: reply.OutputTokens,
	}, nil
}

// crmConnectorAdapter wraps a hakken.CRMConnector so the outbox worker
// can deliver through it. Converts internal payloads to public types at
// the boundary.
type crmConnectorAdapter struct {
	c CRMConnector
}

func (a *crmConnectorAdapter) UpsertProspect(ctx context.Context, p model.ProspectPayload) (model.UpsertResult, error) {
	result, err := a.c.Push(ctx, toPublicProspect(p))
	if err != nil {
		return model.UpsertResult{}, err
	}
	return model.UpsertResult{
		Outcome: model.UpsertOutcome(result.Outcome),
		PageID:  result.PageID,
		Reason:  result.Reason,
	}, nil
}

// sourceAdapterShim wraps a hakken.SourceAdapter to satisfy collect.Adapter.
type sourceAdapterShim struct {
	sa SourceAdapter
}

func (s *sourceAdapterShim) Name() string    { return s.sa.Name() }
func (s *sourceAdapterShim) APIName() string { return s.sa.APIName() }

func (s *sourceAdapterShim) Collect(ctx context.Context) ([]model.Signal, error) {
	signals, err := s.sa.Collect(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Signal, len(signals))
	for i, sig := range signals {
		out[i] = toModelSignal(sig)
	}
	return out, nil
}

// ── Type converters ────────────────────────────────────────────────────────────

// toPublicProspect converts an internal model.ProspectPayload to the public
// hakken.Prospect. Lives here because this is the only file that imports
// both sides of the boundary.
func toPublicProspect(p model.ProspectPayload) Prospect {
	return Prospect{
		DiscoveryID:       p.DiscoveryID,
		CompanyName:       p.CompanyName,
		CanonicalKey:      p.CanonicalKey,
		KeyCandidates:     p.KeyCandidates,
		Stage:             p.Stage,
		Status:            p.Status,
		Website:           p.Website,
		ConfidenceScore:   p.ConfidenceScore,
		SignalTypes:       p.SignalTypes,
		WhyNow:            p.WhyNow,
		ShortDescription:  p.ShortDescription,
		Sector:            p.Sector,
		ProposedSector:    p.ProposedSector,
		TaxonomyStatus:    p.TaxonomyStatus,
		FounderName:       p.FounderName,
		FounderLinkedIn:   p.FounderLinkedIn,
		Location:          p.Location,
		TargetRaise:       p.TargetRaise,
		ExternalRefs:      p.ExternalRefs,
		WatchlistsMatched: p.WatchlistsMatched,
	}
}

// toModelSignal converts an adapter-supplied hakken.Signal to the internal
// model, filling identity fields the way built-in collectors do.
func toModelSignal(s Signal) model.Signal {
	m := model.Signal{
		SignalID:      s.SignalID,
		SignalType:    s.SignalType,
		SourceAPI:     s.SourceAPI,
		SourceID:      s.SourceID,
		SourceURL:     s.SourceURL,
		CanonicalKey:  s.CanonicalKey,
		KeyCandidates: s.KeyCandidates,
		Confidence:    s.Confidence,
		RawData:       s.RawData,
		DetectedAt:    s.DetectedAt,
	}
	if s.CompanyName != "" {
		name := s.CompanyName
		m.CompanyName = &name
	}
	if m.DetectedAt.IsZero() {
		m.DetectedAt = time.Now().UTC()
	}
	if m.ContentHash == "" && m.SourceID != "" {
		m.ContentHash = model.ContentHash(m.SourceAPI, m.SourceID)
	}
	if m.CanonicalKey == "" && (s.Website != "" || s.CompanyName != "") {
		in := canonical.Inputs{Website: s.Website, CompanyName: s.CompanyName}
		m.CanonicalKey = canonical.Build(in)
		m.KeyCandidates = canonical.Candidates(in)
	}
	return m
}

// toRunReport converts an internal run record to the public summary.
func toRunReport(run model.PipelineRun) RunReport {
	r := RunReport{
		Mode:                RunMode(run.Mode),
		Status:              string(run.Status),
		DryRun:              run.DryRun,
		StartedAt:           run.StartedAt,
		CollectorsRun:       run.Stats.CollectorsRun,
		CollectorsSucceeded: run.Stats.CollectorsSucceeded,
		CollectorsFailed:    run.Stats.CollectorsFailed,
		SignalsCollected:    run.Stats.SignalsCollected,
		SignalsStored:       run.Stats.SignalsStored,
		SignalsDeduplicated: run.Stats.SignalsDeduplicated,
		SignalsProcessed:    run.Stats.SignalsProcessed,
		AutoPush:            run.Stats.AutoPush,
		NeedsReview:         run.Stats.NeedsReview,
		Held:                run.Stats.Held,
		Rejected:            run.Stats.Rejected,
		ProspectsCreated:    run.Stats.ProspectsCreated,
		ProspectsUpdated:    run.Stats.ProspectsUpdated,
		ProspectsSkipped:    run.Stats.ProspectsSkipped,
		SuppressionSynced:   run.Stats.SuppressionSynced,
		Errors:              run.Stats.Errors,
	}
	if run.FinishedAt != nil {
		r.FinishedAt = *run.FinishedAt
	}
	return r
}
