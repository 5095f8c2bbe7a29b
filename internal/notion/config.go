package notion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashita-ai/hakken/internal/cache"
	"github.com/ashita-ai/hakken/internal/model"
)

// configCacheTTL bounds how long the pipeline runs on a stale release or
// watchlist set after an analyst edits the CRM.
const configCacheTTL = 10 * time.Minute

type releaseSource interface {
	FetchActive(ctx context.Context, configType string) (model.ConfigRelease, error)
}

type watchlistSource interface {
	FetchActive(ctx context.Context) ([]model.Watchlist, error)
}

// snapshotStore persists every resolved release for audit and recovery.
type snapshotStore interface {
	SaveConfigSnapshot(ctx context.Context, snap model.ConfigSnapshot) (model.ConfigSnapshot, error)
}

// Fallback is a compiled-in default used when the CRM cannot provide an
// Active release.
type Fallback struct {
	Text    string
	Version string
}

// ConfigLoader serves analyst-managed config releases with a short cache so
// every pipeline stage sees one consistent version per window without a CRM
// round trip each time.
type ConfigLoader struct {
	source releaseSource
	store  snapshotStore
	logger *slog.Logger
	cache  *cache.TTL[model.ConfigRelease]
}

// NewConfigLoader builds a loader. source may be nil when the CRM is not
// configured, store may be nil to skip snapshot persistence.
func NewConfigLoader(source releaseSource, store snapshotStore, logger *slog.Logger) *ConfigLoader {
	return &ConfigLoader{
		source: source,
		store:  store,
		logger: logger,
		cache:  cache.New[model.ConfigRelease](configCacheTTL),
	}
}

// Close stops the cache eviction goroutine.
func (l *ConfigLoader) Close() {
	l.cache.Close()
}

// Invalidate drops the cached release for one config type.
func (l *ConfigLoader) Invalidate(configType string) {
	l.cache.Delete(configType)
}

// Get returns the Active release for configType, cached for ten minutes.
// When the CRM is unreachable or has no Active page a non-nil fb takes
// over; an ambiguous or blank release fails even with a fallback, the CRM
// state has to be fixed by hand.
func (l *ConfigLoader) Get(ctx context.Context, configType string, fb *Fallback, force bool) (model.ConfigRelease, error) {
	if !force {
		if rel, ok := l.cache.Get(configType); ok {
			return rel, nil
		}
	}
	rel, err := l.fetch(ctx, configType, fb)
	if err != nil {
		return model.ConfigRelease{}, err
	}
	l.cache.Set(configType, rel)
	return rel, nil
}

func (l *ConfigLoader) fetch(ctx context.Context, configType string, fb *Fallback) (model.ConfigRelease, error) {
	if l.source == nil {
		if fb == nil {
			return model.ConfigRelease{}, fmt.Errorf("notion: no release source and no fallback for %q", configType)
		}
		return l.fallback(ctx, configType, fb), nil
	}

	rel, err := l.source.FetchActive(ctx, configType)
	switch {
	case err == nil:
	case errors.Is(err, ErrAmbiguousRelease) || errors.Is(err, ErrEmptyRelease):
		return model.ConfigRelease{}, err
	default:
		if fb == nil {
			return model.ConfigRelease{}, err
		}
		l.logger.Warn("config fetch failed, using fallback",
			"config_type", configType, "error", err)
		return l.fallback(ctx, configType, fb), nil
	}

	if rel.HumanVersion == "" {
		rel.HumanVersion = "unknown"
		if fb != nil && fb.Version != "" {
			rel.HumanVersion = fb.Version
		}
		l.logger.Warn("active release missing human version",
			"config_type", configType, "using", rel.HumanVersion)
	}
	l.snapshot(ctx, rel)
	return rel, nil
}

func (l *ConfigLoader) fallback(ctx context.Context, configType string, fb *Fallback) model.ConfigRelease {
	version := fb.Version
	if version == "" {
		version = configType + "_fallback"
	}
	rel := model.ConfigRelease{
		Type:         configType,
		HumanVersion: version,
		Content:      fb.Text,
		ContentHash:  HashContent(fb.Text),
		Fallback:     true,
		FetchedAt:    time.Now().UTC(),
	}
	l.snapshot(ctx, rel)
	return rel
}

// snapshot records the resolved release, fallbacks included. A failed audit
// write must not stop the pipeline, so it is only logged.
func (l *ConfigLoader) snapshot(ctx context.Context, rel model.ConfigRelease) {
	if l.store == nil {
		return
	}
	snap := model.ConfigSnapshot{
		ConfigType:   rel.Type,
		HumanVersion: rel.HumanVersion,
		ContentHash:  rel.ContentHash,
		ContentText:  rel.Content,
		FetchedAt:    rel.FetchedAt,
	}
	if rel.PageID != "" {
		snap.NotionPageID = &rel.PageID
	}
	if _, err := l.store.SaveConfigSnapshot(ctx, snap); err != nil {
		l.logger.Warn("config snapshot save failed", "config_type", rel.Type, "error", err)
	}
}

const watchlistCacheKey = "watchlists"

// Watchlists caches Active watchlists so per-prospect matching never waits
// on the CRM. A missing source or a failed fetch degrades to an empty list.
type Watchlists struct {
	source watchlistSource
	logger *slog.Logger
	cache  *cache.TTL[[]model.Watchlist]
}

// NewWatchlists builds a watchlist cache; source may be nil.
func NewWatchlists(source watchlistSource, logger *slog.Logger) *Watchlists {
	return &Watchlists{
		source: source,
		logger: logger,
		cache:  cache.New[[]model.Watchlist](configCacheTTL),
	}
}

// Close stops the cache eviction goroutine.
func (w *Watchlists) Close() {
	w.cache.Close()
}

// Active returns the Active watchlists, cached for ten minutes.
func (w *Watchlists) Active(ctx context.Context, force bool) []model.Watchlist {
	if !force {
		if lists, ok := w.cache.Get(watchlistCacheKey); ok {
			return lists
		}
	}
	if w.source == nil {
		return nil
	}
	lists, err := w.source.FetchActive(ctx)
	if err != nil {
		w.logger.Warn("watchlist fetch failed", "error", err)
		return nil
	}
	w.cache.Set(watchlistCacheKey, lists)
	return lists
}

// Matched returns the names of every watchlist the prospect hits.
func (w *Watchlists) Matched(ctx context.Context, companyName, description string, score float64) []string {
	var names []string
	for _, wl := range w.Active(ctx, false) {
		if wl.Matches(companyName, description, score) {
			names = append(names, wl.Name)
		}
	}
	return names
}
