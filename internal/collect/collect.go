// Package collect runs source adapters under a shared runtime: per-API rate
// limiting, retries with backoff, store-backed deduplication and a
// structured summary per run.
//
// Adapters only fetch and shape signals. Persistence, dedup gating and run
// accounting belong to the Runner, so a broken upstream can never corrupt
// the store and a single bad record never aborts a run.
package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hakken/internal/config"
	"github.com/ashita-ai/hakken/internal/model"
	"github.com/ashita-ai/hakken/internal/ratelimit"
	"github.com/ashita-ai/hakken/internal/storage"
)

// Adapter is one source of signals. Implementations fetch from their
// upstream API and convert observations into signals; they do not touch
// the store.
type Adapter interface {
	// Name identifies the collector in run records and the CLI.
	Name() string
	// APIName keys into the rate-limit budget table.
	APIName() string
	// Collect fetches one batch of signals.
	Collect(ctx context.Context) ([]model.Signal, error)
}

// RetryPolicyProvider is implemented by adapters that expose their retry
// policy. The adapter's own client enforces it; the runner only logs it.
type RetryPolicyProvider interface {
	RetryPolicy() RetryPolicy
}

// requestCounter is implemented by adapters that count upstream requests.
type requestCounter interface {
	RequestCount() int
}

// Env carries the shared pieces adapters are built from.
type Env struct {
	Config  config.Config
	Limiter ratelimit.Limiter
	Logger  *slog.Logger
	// HTTPClient overrides the transport for every adapter, mainly for
	// tests. Nil means each adapter builds its own with the configured
	// timeout.
	HTTPClient *http.Client
	// Assets enables snapshot-based change detection for the adapters
	// that support it. Nil disables it.
	Assets AssetStore
}

func (e Env) clientOptions(policy RetryPolicy) ClientOptions {
	httpClient := e.HTTPClient
	if httpClient == nil && e.Config.HTTPTimeout > 0 {
		httpClient = &http.Client{Timeout: e.Config.HTTPTimeout}
	}
	return ClientOptions{HTTPClient: httpClient, Policy: policy}
}

func (e Env) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// strPtr maps empty strings to nil, matching nullable text columns.
func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Factory builds one adapter from the environment. Factories fail when
// required credentials are missing.
type Factory func(env Env) (Adapter, error)

// Registry maps collector names to factories.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds or replaces a factory under name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build constructs the named adapter. Unknown names are an error.
func (r *Registry) Build(name string, env Env) (Adapter, error) {
	r.mu.Lock()
	f, ok := r.factories[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("collect: unknown collector %q", name)
	}
	return f(env)
}

// Names lists registered collectors, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with every built-in adapter.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("github", func(env Env) (Adapter, error) {
		return NewGitHub(env, GitHubOptions{})
	})
	r.Register("hacker_news", func(env Env) (Adapter, error) {
		return NewHackerNews(env, HackerNewsOptions{}), nil
	})
	r.Register("product_hunt", func(env Env) (Adapter, error) {
		return NewProductHunt(env, ProductHuntOptions{}), nil
	})
	r.Register("companies_house", func(env Env) (Adapter, error) {
		return NewCompaniesHouse(env, CompaniesHouseOptions{})
	})
	r.Register("sec_edgar", func(env Env) (Adapter, error) {
		return NewSECEdgar(env, SECEdgarOptions{}), nil
	})
	r.Register("domain_whois", func(env Env) (Adapter, error) {
		return NewDomainWhois(env, DomainWhoisOptions{}), nil
	})
	return r
}

// runnerStore is the slice of storage the runner needs. A nil store turns
// persistence and dedup off; every signal then counts as new.
type runnerStore interface {
	SaveSignal(ctx context.Context, s model.Signal) (model.Signal, error)
	IsDuplicate(ctx context.Context, canonicalKey string) (bool, error)
	CheckSuppression(ctx context.Context, canonicalKey string) (*model.SuppressionEntry, error)
	StartCollectorRun(ctx context.Context, runID *uuid.UUID, collector string) (uuid.UUID, error)
	CompleteCollectorRun(ctx context.Context, id uuid.UUID, result model.CollectorResult) error
}

// RunOptions tune one collector invocation.
type RunOptions struct {
	// DryRun collects and classifies but persists nothing.
	DryRun bool
	// PipelineRunID links the collector run record to its pipeline run.
	PipelineRunID *uuid.UUID
}

// maxRunErrors caps how many per-signal errors a run summary carries.
const maxRunErrors = 5

// Runner executes adapters and owns everything after Collect returns:
// dedup gates, persistence and the run record.
type Runner struct {
	store  runnerStore
	logger *slog.Logger
}

// NewRunner builds a runner. store may be nil for store-less runs.
func NewRunner(store runnerStore, logger *slog.Logger) *Runner {
	return &Runner{store: store, logger: logger}
}

// Run executes one adapter and returns its summary. Errors never escape: a
// failed collect yields an error-status result with the cause recorded.
func (r *Runner) Run(ctx context.Context, a Adapter, opts RunOptions) model.CollectorResult {
	result := model.CollectorResult{
		Collector: a.Name(),
		StartedAt: time.Now().UTC(),
	}

	var recordID uuid.UUID
	if r.store != nil {
		id, err := r.store.StartCollectorRun(ctx, opts.PipelineRunID, a.Name())
		if err != nil {
			r.logger.Warn("collector run record not opened", "collector", a.Name(), "error", err)
		} else {
			recordID = id
		}
	}

	r.logger.Info("collector starting", "collector", a.Name(), "api", a.APIName(), "dry_run", opts.DryRun)
	if rp, ok := a.(RetryPolicyProvider); ok {
		p := rp.RetryPolicy()
		r.logger.Debug("collector retry policy",
			"collector", a.Name(), "max_retries", p.MaxRetries, "backoff_cap", p.BackoffCap)
	}

	signals, err := a.Collect(ctx)
	if err != nil {
		result.Status = model.CollectorError
		result.Errors = []string{err.Error()}
		return r.finish(ctx, a, recordID, result)
	}
	result.SignalsCollected = len(signals)

	var errs []string
	seen := make(map[string]struct{}, len(signals))
	for _, sig := range signals {
		key := sig.Key()
		if _, ok := seen[key]; ok {
			result.Deduplicated++
			continue
		}
		seen[key] = struct{}{}

		if r.store == nil {
			result.SignalsStored++
			continue
		}

		suppressed, checkErr := r.suppressed(ctx, key)
		switch {
		case checkErr != nil && opts.DryRun:
			// Can't check without a working store; assume new so the
			// dry run still reports what a real run would attempt.
			r.logger.Warn("dedup check failed, assuming new", "canonical_key", key, "error", checkErr)
			result.SignalsStored++
			continue
		case checkErr != nil:
			errs = append(errs, fmt.Sprintf("check %s: %v", key, checkErr))
			continue
		case suppressed:
			result.Deduplicated++
			continue
		}

		if opts.DryRun {
			result.SignalsStored++
			continue
		}
		if _, saveErr := r.store.SaveSignal(ctx, sig); saveErr != nil {
			if errors.Is(saveErr, storage.ErrDuplicate) {
				// Lost a race with a concurrent run between the dedup
				// check and the insert.
				result.Deduplicated++
				continue
			}
			errs = append(errs, fmt.Sprintf("save %s: %v", key, saveErr))
			continue
		}
		result.SignalsStored++
	}

	if len(errs) > maxRunErrors {
		errs = errs[:maxRunErrors]
	}
	result.Errors = errs

	switch {
	case opts.DryRun:
		result.Status = model.CollectorDryRun
	case len(errs) > 0:
		result.Status = model.CollectorPartialSuccess
	default:
		result.Status = model.CollectorSuccess
	}
	return r.finish(ctx, a, recordID, result)
}

// suppressed runs the store-side dedup gates in order: exact duplicate
// first, then the CRM suppression cache.
func (r *Runner) suppressed(ctx context.Context, key string) (bool, error) {
	dup, err := r.store.IsDuplicate(ctx, key)
	if err != nil {
		return false, err
	}
	if dup {
		return true, nil
	}
	entry, err := r.store.CheckSuppression(ctx, key)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

func (r *Runner) finish(ctx context.Context, a Adapter, recordID uuid.UUID, result model.CollectorResult) model.CollectorResult {
	result.FinishedAt = time.Now().UTC()
	if rc, ok := a.(requestCounter); ok {
		result.APIRequests = rc.RequestCount()
	}
	if r.store != nil && recordID != uuid.Nil {
		if err := r.store.CompleteCollectorRun(ctx, recordID, result); err != nil {
			r.logger.Warn("collector run record not closed", "collector", a.Name(), "error", err)
		}
	}
	r.logger.Info("collector finished",
		"collector", a.Name(),
		"status", result.Status,
		"collected", result.SignalsCollected,
		"stored", result.SignalsStored,
		"deduplicated", result.Deduplicated,
		"api_requests", result.APIRequests,
		"errors", len(result.Errors))
	return result
}
