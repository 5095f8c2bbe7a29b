// Package pipeline orchestrates end-to-end discovery runs: collectors pull
// signals in, pending signals are grouped per lead, scored through the
// verification gate and routed, and accepted prospects are queued for CRM
// delivery. Every run persists a full counter record.
//
// Modes select phases: full does everything, collect and process each run
// one half, sync only refreshes the suppression cache.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/hakken/internal/canonical"
	"github.com/ashita-ai/hakken/internal/collect"
	"github.com/ashita-ai/hakken/internal/config"
	"github.com/ashita-ai/hakken/internal/founders"
	"github.com/ashita-ai/hakken/internal/gate"
	"github.com/ashita-ai/hakken/internal/model"
	"github.com/ashita-ai/hakken/internal/notion"
	"github.com/ashita-ai/hakken/internal/outbox"
	"github.com/ashita-ai/hakken/internal/resolve"
	"github.com/ashita-ai/hakken/internal/telemetry"
	"github.com/ashita-ai/hakken/internal/thesis"
	"github.com/ashita-ai/hakken/internal/verify"
)

// Run defaults.
const (
	DefaultParallel  = 3
	DefaultDelay     = time.Second
	DefaultBatchSize = 50
)

// resolveMinConfidence gates which asset links the pipeline trusts for
// regrouping and which resolver candidates become links. Domain and org
// matches clear it; bare heuristics do not.
const resolveMinConfidence = 0.5

// Store is the slice of storage the orchestrator reads and writes.
type Store interface {
	StartPipelineRun(ctx context.Context, mode model.RunMode, dryRun bool) (model.PipelineRun, error)
	CompletePipelineRun(ctx context.Context, id uuid.UUID, status model.RunStatus, stats model.PipelineStats) error

	GetPendingSignals(ctx context.Context, limit int, signalType string) ([]model.Signal, error)
	GetSignalsForCompany(ctx context.Context, canonicalKey string) ([]model.Signal, error)
	GetFoundersForCompany(ctx context.Context, canonicalKey string) ([]model.Founder, error)
	MarkRejected(ctx context.Context, id uuid.UUID, reason string, metadata map[string]any) error
	EnqueueOutbox(ctx context.Context, e model.OutboxEntry) (model.OutboxEntry, error)

	GetUnresolvedAssets(ctx context.Context, sourceType string, limit int) ([]model.AssetRef, error)
	GetLatestSnapshot(ctx context.Context, sourceType, externalID string) (*model.SourceAsset, error)
	CreateLink(ctx context.Context, link model.AssetLink) (bool, error)
	GetLeadForAsset(ctx context.Context, sourceType, externalID string, minConfidence float64) (*model.AssetLink, error)
}

// CollectorRunner executes one adapter and owns dedup and persistence.
type CollectorRunner interface {
	Run(ctx context.Context, a collect.Adapter, opts collect.RunOptions) model.CollectorResult
}

// Gater runs the two-stage trigger/classify pass over a batch.
type Gater interface {
	ProcessBatch(ctx context.Context, signals []model.Signal) ([]gate.Outcome, model.ProcessingStats)
}

// Drainer pushes queued CRM writes.
type Drainer interface {
	Drain(ctx context.Context, limit int) (outbox.DrainStats, error)
}

// SuppressionSyncer refreshes the local suppression cache from the CRM.
type SuppressionSyncer interface {
	Sync(ctx context.Context, dryRun bool) (notion.SyncStats, error)
}

// WatchlistMatcher names the configured watchlists a company falls on.
type WatchlistMatcher interface {
	Matched(ctx context.Context, companyName, description string, score float64) []string
}

// Notifier posts operator alerts. Implementations report delivery with a
// bool and never fail the run.
type Notifier interface {
	Prospect(ctx context.Context, p model.ProspectPayload, sources int, pageURL string) bool
	HealthAlert(ctx context.Context, status string, anomalies []string, total, stale, suspicious int) bool
}

// Deps wires the pipeline.
type Deps struct {
	// Required dependencies.
	Store    Store
	Registry *collect.Registry
	Runner   CollectorRunner
	Env      collect.Env
	Scoring  config.ScoringConfig
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	Assets     collect.AssetStore
	Resolver   *resolve.Resolver
	Gating     Gater
	Watchlists WatchlistMatcher
	Outbox     Drainer
	Syncer     SuppressionSyncer
	Monitor    *Monitor
	Notifier   Notifier
}

// Options tune one run. Zero values take the documented defaults.
type Options struct {
	// Collectors restricts collection to these names. Empty runs every
	// registered collector.
	Collectors []string

	// DryRun collects and scores but persists no decisions and pushes
	// nothing to the CRM.
	DryRun bool

	// Parallel is how many collectors run at once. Values below 2 run
	// sequentially with Delay between sources.
	Parallel int

	// Delay spaces sequential collector runs.
	Delay time.Duration

	// BatchSize bounds pending-signal loads, asset resolution and
	// outbox drains.
	BatchSize int

	// SignalType restricts processing to one signal type.
	SignalType string

	// Strict downgrades single-source auto-pushes to review.
	Strict bool

	// UseGating runs the trigger/classify pass before verification.
	UseGating bool

	// UseEntities regroups signals by resolved lead before scoring.
	UseEntities bool

	// UseAssetStore hands collectors the snapshot store for change
	// detection.
	UseAssetStore bool
}

func (o Options) withDefaults() Options {
	if o.Parallel <= 0 {
		o.Parallel = DefaultParallel
	}
	if o.Delay <= 0 {
		o.Delay = DefaultDelay
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}

// Pipeline runs discovery end to end. Build one with New and reuse it;
// scoring components are compiled once.
type Pipeline struct {
	deps     Deps
	velocity *verify.Tracker
	founders *founders.Scorer
	thesis   *thesis.Matcher

	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

// New builds a pipeline. A nil Resolver falls back to the default
// resolution config.
func New(d Deps) *Pipeline {
	if d.Resolver == nil {
		d.Resolver = resolve.New(resolve.DefaultConfig())
	}
	meter := telemetry.Meter("hakken/pipeline")
	runs, _ := meter.Int64Counter("hakken.pipeline.runs",
		metric.WithDescription("Pipeline runs started"),
	)
	dur, _ := meter.Float64Histogram("hakken.pipeline.duration",
		metric.WithDescription("End-to-end pipeline run time (ms)"),
		metric.WithUnit("ms"),
	)
	return &Pipeline{
		deps:     d,
		velocity: verify.NewTracker(d.Scoring.Velocity),
		founders: founders.NewScorer(d.Scoring.Founders),
		thesis:   thesis.New(),
		runs:     runs,
		duration: dur,
	}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.deps.Logger != nil {
		return p.deps.Logger
	}
	return slog.Default()
}

// Run executes one pipeline invocation in the given mode and returns the
// persisted run record. Phase failures are recorded on the run and
// returned; the record is closed either way.
func (p *Pipeline) Run(ctx context.Context, mode model.RunMode, opts Options) (model.PipelineRun, error) {
	opts = opts.withDefaults()

	run, err := p.deps.Store.StartPipelineRun(ctx, mode, opts.DryRun)
	if err != nil {
		return model.PipelineRun{}, fmt.Errorf("pipeline: start run: %w", err)
	}
	p.runs.Add(ctx, 1)
	start := time.Now()
	p.logger().Info("pipeline run started", "run_id", run.ID, "mode", mode, "dry_run", opts.DryRun)

	err = p.dispatch(ctx, mode, opts, &run)

	run.Status = model.RunCompleted
	if err != nil {
		run.Status = model.RunFailed
		run.Stats.AddError("Pipeline error: " + err.Error())
	}
	now := time.Now().UTC()
	run.FinishedAt = &now
	if cerr := p.deps.Store.CompletePipelineRun(ctx, run.ID, run.Status, run.Stats); cerr != nil {
		p.logger().Error("pipeline run record not closed", "run_id", run.ID, "error", cerr)
	}

	p.duration.Record(ctx, float64(time.Since(start).Milliseconds()))
	p.logger().Info("pipeline run finished",
		"run_id", run.ID,
		"status", run.Status,
		"collected", run.Stats.SignalsCollected,
		"stored", run.Stats.SignalsStored,
		"processed", run.Stats.SignalsProcessed,
		"auto_push", run.Stats.AutoPush,
		"needs_review", run.Stats.NeedsReview,
		"duration", time.Since(start).Round(time.Millisecond))
	return run, err
}

func (p *Pipeline) dispatch(ctx context.Context, mode model.RunMode, opts Options, run *model.PipelineRun) error {
	switch mode {
	case model.ModeFull:
		return p.runFull(ctx, opts, run)
	case model.ModeCollect:
		return p.runCollectors(ctx, opts, run)
	case model.ModeProcess:
		return p.runProcess(ctx, opts, run)
	case model.ModeSync:
		return p.runSync(ctx, opts, run)
	default:
		return fmt.Errorf("pipeline: unknown mode %q", mode)
	}
}

func (p *Pipeline) runFull(ctx context.Context, opts Options, run *model.PipelineRun) error {
	// Warm the suppression cache first so collectors skip leads the CRM
	// already tracks.
	if p.deps.Syncer != nil {
		ss, err := p.deps.Syncer.Sync(ctx, opts.DryRun)
		if err != nil {
			p.logger().Warn("suppression warm-up failed", "error", err)
		} else {
			run.Stats.SuppressionSynced = ss.Synced
		}
	}

	if err := p.runCollectors(ctx, opts, run); err != nil {
		return err
	}
	if !opts.DryRun {
		if err := p.runProcess(ctx, opts, run); err != nil {
			return err
		}
	}
	p.runHealth(ctx)
	return nil
}

func (p *Pipeline) runCollectors(ctx context.Context, opts Options, run *model.PipelineRun) error {
	names := opts.Collectors
	if len(names) == 0 {
		names = p.deps.Registry.Names()
	}
	known := make(map[string]bool)
	for _, n := range p.deps.Registry.Names() {
		known[n] = true
	}

	env := p.deps.Env
	env.Assets = nil
	if opts.UseAssetStore {
		env.Assets = p.deps.Assets
	}

	var adapters []collect.Adapter
	for _, name := range names {
		if !known[name] {
			p.logger().Warn("skipping unknown collector", "collector", name)
			continue
		}
		a, err := p.deps.Registry.Build(name, env)
		if err != nil {
			run.Stats.CollectorsRun++
			run.Stats.CollectorsFailed++
			run.Stats.AddError(name + ": " + err.Error())
			p.logger().Warn("collector not built", "collector", name, "error", err)
			continue
		}
		adapters = append(adapters, a)
	}
	if len(adapters) == 0 {
		p.logger().Warn("no collectors to run")
		return nil
	}

	ropts := collect.RunOptions{DryRun: opts.DryRun, PipelineRunID: &run.ID}

	if opts.Parallel > 1 && len(adapters) > 1 {
		results := make([]model.CollectorResult, len(adapters))
		var g errgroup.Group
		g.SetLimit(opts.Parallel)
		for i, a := range adapters {
			g.Go(func() error {
				results[i] = p.deps.Runner.Run(ctx, a, ropts)
				return nil
			})
		}
		_ = g.Wait() // collector failures surface as result status, never as errors
		for _, res := range results {
			tallyCollector(&run.Stats, res)
		}
		return nil
	}

	for i, a := range adapters {
		if i > 0 {
			// Breathe between sources so sequential runs stay polite
			// to shared upstreams.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.Delay):
			}
		}
		tallyCollector(&run.Stats, p.deps.Runner.Run(ctx, a, ropts))
	}
	return nil
}

func tallyCollector(stats *model.PipelineStats, res model.CollectorResult) {
	stats.CollectorsRun++
	stats.SignalsCollected += res.SignalsCollected
	switch res.Status {
	case model.CollectorSuccess, model.CollectorDryRun, model.CollectorPartialSuccess:
		stats.CollectorsSucceeded++
		stats.SignalsStored += res.SignalsStored
		stats.SignalsDeduplicated += res.Deduplicated
	default:
		stats.CollectorsFailed++
		msg := "collect failed"
		if len(res.Errors) > 0 {
			msg = res.Errors[0]
		}
		stats.AddError(res.Collector + ": " + msg)
	}
}

// signalGroup is one lead's bucket of pending signals, in load order.
type signalGroup struct {
	key     string
	signals []model.Signal
}

func groupByKey(signals []model.Signal) []*signalGroup {
	index := make(map[string]*signalGroup)
	var groups []*signalGroup
	for _, s := range signals {
		key := s.Key()
		g, ok := index[key]
		if !ok {
			g = &signalGroup{key: key}
			index[key] = g
			groups = append(groups, g)
		}
		g.signals = append(g.signals, s)
	}
	return groups
}

func (p *Pipeline) runProcess(ctx context.Context, opts Options, run *model.PipelineRun) error {
	signals, err := p.deps.Store.GetPendingSignals(ctx, opts.BatchSize, opts.SignalType)
	if err != nil {
		return fmt.Errorf("pipeline: load pending signals: %w", err)
	}
	if len(signals) == 0 {
		p.logger().Info("no pending signals")
		return nil
	}

	groups := groupByKey(signals)
	if opts.UseEntities {
		if !opts.DryRun {
			p.resolveAssets(ctx, opts)
		}
		groups = p.regroupByLead(ctx, groups)
	}

	var gating map[uuid.UUID]gate.Outcome
	if opts.UseGating && p.deps.Gating != nil {
		outcomes, gstats := p.deps.Gating.ProcessBatch(ctx, signals)
		gating = make(map[uuid.UUID]gate.Outcome, len(outcomes))
		for _, o := range outcomes {
			gating[o.SignalID] = o
		}
		p.logger().Info("gating pass finished",
			"processed", gstats.Processed,
			"triggered", gstats.Triggered,
			"llm_calls", gstats.LLMCalls,
			"errors", gstats.Errors)
	}

	verifier := verify.NewGate(p.deps.Scoring.Verification, verify.Options{
		StrictMode:         opts.Strict,
		AutoPushStatus:     model.StatusSource,
		NeedsReviewStatus:  model.StatusTracking,
		UseFounderScoring:  true,
		UseVelocityScoring: true,
	})

	for _, grp := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		run.Stats.SignalsProcessed += len(grp.signals)
		vr := p.evaluateGroup(ctx, verifier, grp, gating)
		p.route(ctx, opts, run, grp, vr)
	}

	if !opts.DryRun {
		p.drainOutbox(ctx, opts, run)
	}
	return nil
}

// resolveAssets links unlinked assets to leads where the resolver finds a
// confident candidate.
func (p *Pipeline) resolveAssets(ctx context.Context, opts Options) {
	refs, err := p.deps.Store.GetUnresolvedAssets(ctx, "", opts.BatchSize)
	if err != nil {
		p.logger().Warn("unresolved assets not listed", "error", err)
		return
	}
	for _, ref := range refs {
		snap, err := p.deps.Store.GetLatestSnapshot(ctx, ref.SourceType, ref.ExternalID)
		if err != nil || snap == nil {
			continue
		}
		cand, ok := p.deps.Resolver.BestCandidate(*snap, resolveMinConfidence)
		if !ok {
			continue
		}
		created, err := p.deps.Store.CreateLink(ctx, model.AssetLink{
			SourceType:       ref.SourceType,
			ExternalID:       ref.ExternalID,
			LeadCanonicalKey: cand.LeadCanonicalKey,
			Confidence:       cand.Confidence,
			ResolvedBy:       cand.Method,
			Reason:           cand.Reason,
			Metadata:         cand.Metadata,
		})
		if err != nil {
			p.logger().Warn("asset link not created",
				"source_type", ref.SourceType, "external_id", ref.ExternalID, "error", err)
			continue
		}
		if created {
			p.logger().Debug("asset linked",
				"source_type", ref.SourceType,
				"external_id", ref.ExternalID,
				"lead", cand.LeadCanonicalKey,
				"method", cand.Method)
		}
	}
}

// regroupByLead moves each signal into the bucket of its resolved lead.
// Signals whose asset has no confident active link stay where they are.
func (p *Pipeline) regroupByLead(ctx context.Context, groups []*signalGroup) []*signalGroup {
	index := make(map[string]*signalGroup, len(groups))
	regrouped := make([]*signalGroup, 0, len(groups))
	place := func(key string, s model.Signal) {
		g, ok := index[key]
		if !ok {
			g = &signalGroup{key: key}
			index[key] = g
			regrouped = append(regrouped, g)
		}
		g.signals = append(g.signals, s)
	}

	moved := 0
	for _, grp := range groups {
		for _, s := range grp.signals {
			key := grp.key
			if st := assetSourceType(s.SourceAPI); st != "" && s.SourceID != "" {
				link, err := p.deps.Store.GetLeadForAsset(ctx, st, s.SourceID, resolveMinConfidence)
				if err != nil {
					p.logger().Warn("asset link lookup failed",
						"source_type", st, "external_id", s.SourceID, "error", err)
				} else if link != nil && link.LeadCanonicalKey != key {
					key = link.LeadCanonicalKey
					moved++
				}
			}
			place(key, s)
		}
	}
	if moved > 0 {
		p.logger().Info("signals regrouped by resolved lead", "moved", moved)
	}
	return regrouped
}

// assetSourceType maps a signal's source API to the asset namespace its
// SourceID lives in. Empty means the source registers no assets.
func assetSourceType(sourceAPI string) string {
	switch sourceAPI {
	case "github":
		return model.AssetGitHubRepo
	case "product_hunt":
		return model.AssetProductHunt
	case "hacker_news":
		return model.AssetHackerNews
	case "companies_house":
		return model.AssetCHCompany
	case "sec_edgar":
		return model.AssetSECFiling
	case "rdap":
		return model.AssetWhoisDomain
	default:
		return ""
	}
}

func (p *Pipeline) evaluateGroup(ctx context.Context, verifier *verify.Gate, grp *signalGroup, gating map[uuid.UUID]gate.Outcome) model.VerificationResult {
	// Velocity reads the lead's full history, not just this batch.
	history, err := p.deps.Store.GetSignalsForCompany(ctx, grp.key)
	if err != nil || len(history) == 0 {
		if err != nil {
			p.logger().Warn("signal history unavailable", "canonical_key", grp.key, "error", err)
		}
		history = grp.signals
	}
	metrics := p.velocity.Metrics(history)

	var founderScore float64
	rows, err := p.deps.Store.GetFoundersForCompany(ctx, grp.key)
	if err != nil {
		p.logger().Warn("founder rows unavailable", "canonical_key", grp.key, "error", err)
	} else if len(rows) > 0 {
		founderScore = p.founders.AggregateScore(rows)
	}

	vr := verifier.Evaluate(grp.key, grp.signals, verify.Boosts{
		FounderScore:  founderScore,
		VelocityBoost: metrics.BoostApplied,
		MomentumScore: metrics.MomentumScore,
	})
	if len(gating) > 0 {
		vr = attachGating(vr, grp.signals, gating)
	}
	return vr
}

// attachGating folds the classifier's view into the audit trail. Gating is
// enrichment; routing stays with the verification gate.
func attachGating(vr model.VerificationResult, signals []model.Signal, gating map[uuid.UUID]gate.Outcome) model.VerificationResult {
	var triggered, actionable int
	labels := map[string]int{}
	for _, s := range signals {
		o, ok := gating[s.ID]
		if !ok {
			continue
		}
		if o.Triggered {
			triggered++
		}
		if o.Actionable() {
			actionable++
		}
		if o.Classification != nil {
			labels[string(o.Classification.Label)]++
		}
	}
	if triggered == 0 && len(labels) == 0 {
		return vr
	}
	if vr.Details == nil {
		vr.Details = map[string]any{}
	}
	vr.Details["gating"] = map[string]any{
		"triggered":  triggered,
		"actionable": actionable,
		"labels":     labels,
	}
	return vr
}

func (p *Pipeline) route(ctx context.Context, opts Options, run *model.PipelineRun, grp *signalGroup, vr model.VerificationResult) {
	switch vr.Decision {
	case model.DecisionAutoPush, model.DecisionNeedsReview:
		if vr.Decision == model.DecisionAutoPush {
			run.Stats.AutoPush++
		} else {
			run.Stats.NeedsReview++
		}
		if opts.DryRun || p.deps.Outbox == nil {
			p.logger().Info("push skipped",
				"canonical_key", grp.key,
				"decision", vr.Decision,
				"dry_run", opts.DryRun,
				"crm_enabled", p.deps.Outbox != nil)
			return
		}
		p.enqueue(ctx, run, grp, vr)

	case model.DecisionHold:
		run.Stats.Held++
		p.logger().Debug("held for more evidence",
			"canonical_key", grp.key, "confidence", vr.ConfidenceScore)

	case model.DecisionReject:
		run.Stats.Rejected++
		if opts.DryRun {
			return
		}
		meta := map[string]any{
			"confidence_score": vr.ConfidenceScore,
			"decision":         string(vr.Decision),
		}
		for _, s := range grp.signals {
			if err := p.deps.Store.MarkRejected(ctx, s.ID, vr.Reason, meta); err != nil {
				p.logger().Warn("signal not marked rejected", "signal_id", s.ID, "error", err)
			}
		}
	}
}

// enqueue queues one prospect for CRM delivery and fires the high-confidence
// alert. The page URL is unknown until the outbox delivers, so alerts carry
// none.
func (p *Pipeline) enqueue(ctx context.Context, run *model.PipelineRun, grp *signalGroup, vr model.VerificationResult) {
	payload := p.buildPayload(ctx, grp, vr)

	ids := make([]uuid.UUID, 0, len(grp.signals))
	for _, s := range grp.signals {
		ids = append(ids, s.ID)
	}
	entry, err := p.deps.Store.EnqueueOutbox(ctx, model.OutboxEntry{
		CanonicalKey: grp.key,
		Payload:      payload,
		SignalIDs:    ids,
	})
	if err != nil {
		p.logger().Error("prospect not queued", "canonical_key", grp.key, "error", err)
		run.Stats.AddError(grp.key + ": " + err.Error())
		return
	}
	p.logger().Info("prospect queued",
		"canonical_key", grp.key,
		"entry_id", entry.ID,
		"decision", vr.Decision,
		"confidence", vr.ConfidenceScore)

	if p.deps.Notifier != nil {
		p.deps.Notifier.Prospect(ctx, payload, len(vr.SourcesChecked), "")
	}
}

// buildPayload shapes one lead's signals and verdict into the CRM record.
func (p *Pipeline) buildPayload(ctx context.Context, grp *signalGroup, vr model.VerificationResult) model.ProspectPayload {
	companyName := "Unknown"
	for _, s := range grp.signals {
		if s.CompanyName != nil && *s.CompanyName != "" {
			companyName = *s.CompanyName
			break
		}
	}
	if companyName == "Unknown" {
		if v := firstRawString(grp.signals, model.RawKeyCompanyName); v != "" {
			companyName = v
		}
	}

	domain := firstRawString(grp.signals, "company_domain")
	if domain == "" {
		domain = firstRawString(grp.signals, "domain")
	}
	if domain == "" {
		if rest, ok := strings.CutPrefix(grp.key, "domain:"); ok {
			domain = rest
		}
	}
	var website string
	if domain != "" {
		website = "https://" + domain
	}

	stage := firstRawString(grp.signals, "stage_estimate")
	if stage == "" {
		stage = model.StagePreSeed
	}
	status := vr.SuggestedCRMStatus
	if status == "" {
		status = model.StatusSource
	}

	var types, candidates []string
	seenType := map[string]bool{}
	seenKey := map[string]bool{}
	for _, s := range grp.signals {
		if !seenType[s.SignalType] {
			seenType[s.SignalType] = true
			types = append(types, s.SignalType)
		}
		for _, k := range s.KeyCandidates {
			if !seenKey[k] {
				seenKey[k] = true
				candidates = append(candidates, k)
			}
		}
	}

	desc := firstRawString(grp.signals, "description")
	if desc == "" {
		desc = firstRawString(grp.signals, "tagline")
	}

	payload := model.ProspectPayload{
		DiscoveryID:      canonical.DiscoveryID(grp.key),
		CompanyName:      companyName,
		CanonicalKey:     grp.key,
		KeyCandidates:    candidates,
		Stage:            stage,
		Status:           status,
		Website:          website,
		ConfidenceScore:  vr.ConfidenceScore,
		SignalTypes:      types,
		WhyNow:           vr.Reason,
		ShortDescription: desc,
	}

	// Sector stays empty; the CRM client triages the proposed sector
	// against its own select options.
	if fit := p.thesis.ScoreSignals(grp.signals); fit.IsFit() {
		payload.ProposedSector = fit.Thesis.SectorName()
	}
	if p.deps.Watchlists != nil {
		payload.WatchlistsMatched = p.deps.Watchlists.Matched(ctx, companyName, desc, vr.ConfidenceScore)
	}
	return payload
}

func firstRawString(signals []model.Signal, key string) string {
	for _, s := range signals {
		if v, ok := s.RawData[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (p *Pipeline) drainOutbox(ctx context.Context, opts Options, run *model.PipelineRun) {
	if p.deps.Outbox == nil {
		return
	}
	ds, err := p.deps.Outbox.Drain(ctx, opts.BatchSize)
	if err != nil {
		p.logger().Warn("outbox drain failed", "error", err)
		run.Stats.AddError("outbox: " + err.Error())
		return
	}
	run.Stats.ProspectsCreated += ds.Created
	run.Stats.ProspectsUpdated += ds.Updated
	run.Stats.ProspectsSkipped += ds.Skipped
	if ds.Processed > 0 {
		p.logger().Info("outbox drained",
			"processed", ds.Processed, "sent", ds.Sent, "failed", ds.Failed)
	}
}

// PushLead evaluates one lead on demand and, when the gate clears it,
// queues it for CRM delivery. With dryRun set the verdict comes back
// without any write; the returned entry is nil unless something was
// queued. Unlike pipeline runs the evaluation covers the lead's full
// signal history, not just pending signals.
func (p *Pipeline) PushLead(ctx context.Context, canonicalKey string, dryRun bool) (model.VerificationResult, *model.OutboxEntry, error) {
	signals, err := p.deps.Store.GetSignalsForCompany(ctx, canonicalKey)
	if err != nil {
		return model.VerificationResult{}, nil, fmt.Errorf("pipeline: load lead signals: %w", err)
	}
	if len(signals) == 0 {
		return model.VerificationResult{}, nil, fmt.Errorf("pipeline: no signals recorded for %q", canonicalKey)
	}

	verifier := verify.NewGate(p.deps.Scoring.Verification, verify.Options{
		AutoPushStatus:     model.StatusSource,
		NeedsReviewStatus:  model.StatusTracking,
		UseFounderScoring:  true,
		UseVelocityScoring: true,
	})
	grp := &signalGroup{key: canonicalKey, signals: signals}
	vr := p.evaluateGroup(ctx, verifier, grp, nil)

	pushable := vr.Decision == model.DecisionAutoPush || vr.Decision == model.DecisionNeedsReview
	if dryRun || !pushable {
		return vr, nil, nil
	}
	if p.deps.Outbox == nil {
		return vr, nil, fmt.Errorf("pipeline: CRM delivery is disabled")
	}

	ids := make([]uuid.UUID, 0, len(grp.signals))
	for _, s := range grp.signals {
		ids = append(ids, s.ID)
	}
	entry, err := p.deps.Store.EnqueueOutbox(ctx, model.OutboxEntry{
		CanonicalKey: grp.key,
		Payload:      p.buildPayload(ctx, grp, vr),
		SignalIDs:    ids,
	})
	if err != nil {
		return vr, nil, fmt.Errorf("pipeline: queue prospect: %w", err)
	}
	p.logger().Info("prospect queued on demand",
		"canonical_key", grp.key,
		"entry_id", entry.ID,
		"decision", vr.Decision,
		"confidence", vr.ConfidenceScore)
	return vr, &entry, nil
}

func (p *Pipeline) runSync(ctx context.Context, opts Options, run *model.PipelineRun) error {
	if p.deps.Syncer == nil {
		return fmt.Errorf("pipeline: suppression sync needs a CRM connector")
	}
	ss, err := p.deps.Syncer.Sync(ctx, opts.DryRun)
	if err != nil {
		return fmt.Errorf("pipeline: suppression sync: %w", err)
	}
	run.Stats.SuppressionSynced = ss.Synced
	for _, e := range ss.Errors {
		run.Stats.AddError(e)
	}
	return nil
}

// runHealth scans intake after a full run and alerts when degraded. Scan
// problems never fail the run.
func (p *Pipeline) runHealth(ctx context.Context) {
	if p.deps.Monitor == nil {
		return
	}
	report, err := p.deps.Monitor.Report(ctx, 0)
	if err != nil {
		p.logger().Warn("health scan failed", "error", err)
		return
	}
	if report.Unhealthy() && p.deps.Notifier != nil {
		p.deps.Notifier.HealthAlert(ctx,
			string(report.OverallStatus),
			report.AnomalyDescriptions(),
			report.TotalSignals,
			report.StaleSignals,
			report.SuspiciousSignals)
	}
}
