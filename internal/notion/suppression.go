package notion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashita-ai/hakken/internal/canonical"
	"github.com/ashita-ai/hakken/internal/model"
)

// DefaultSuppressionTTL is how long a synced CRM entry suppresses a lead
// before the next sync must confirm it.
const DefaultSuppressionTTL = 7 * 24 * time.Hour

// syncStatuses covers every pipeline status. Unlike the upsert-time
// suppression index, Tracking is included here: the local cache records
// everything the CRM knows so the pipeline can decide per status.
var syncStatuses = []string{
	model.StatusSource,
	model.StatusInitialMeeting,
	model.StatusDiligence,
	model.StatusTracking,
	model.StatusCommitted,
	model.StatusFunded,
	model.StatusPassed,
	model.StatusLost,
}

// SyncStats summarizes one suppression sync run.
type SyncStats struct {
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	PagesFetched int `json:"pages_fetched"`
	Processed    int `json:"entries_processed"`
	WithKey      int `json:"entries_with_key"`
	WithoutKey   int `json:"entries_without_key"`
	StrongKeys   int `json:"entries_with_strong_key"`
	WeakKeys     int `json:"entries_with_weak_key"`

	Synced         int   `json:"entries_synced"`
	ExpiredCleaned int64 `json:"entries_expired_cleaned"`

	Errors []string `json:"errors,omitempty"`
}

// Duration returns how long the sync ran.
func (s SyncStats) Duration() time.Duration {
	if s.CompletedAt.IsZero() {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}

// suppressionStore is the slice of storage the sync writes to.
type suppressionStore interface {
	UpsertSuppressions(ctx context.Context, entries []model.SuppressionEntry) error
	CleanExpiredSuppressions(ctx context.Context) (int64, error)
}

// Syncer mirrors CRM deal state into the local suppression cache so the
// pipeline can skip known deals without a CRM round trip per lead.
type Syncer struct {
	client *Client
	store  suppressionStore
	ttl    time.Duration
	logger *slog.Logger
}

// NewSyncer builds a Syncer. A non-positive ttl takes the default.
func NewSyncer(client *Client, store suppressionStore, ttl time.Duration, logger *slog.Logger) *Syncer {
	if ttl <= 0 {
		ttl = DefaultSuppressionTTL
	}
	return &Syncer{client: client, store: store, ttl: ttl, logger: logger}
}

// Sync pulls every deal in the CRM, extracts or derives a canonical key for
// each, and bulk-writes the result into the suppression cache. Expired
// entries are cleaned afterwards. With dryRun set nothing is written.
func (s *Syncer) Sync(ctx context.Context, dryRun bool) (SyncStats, error) {
	stats := SyncStats{StartedAt: time.Now().UTC()}

	pages, err := s.client.queryByStatuses(ctx, syncStatuses)
	if err != nil {
		stats.Errors = append(stats.Errors, err.Error())
		stats.CompletedAt = time.Now().UTC()
		return stats, fmt.Errorf("notion: fetch pages for suppression sync: %w", err)
	}
	stats.PagesFetched = len(pages)

	now := time.Now().UTC()
	entries := make([]model.SuppressionEntry, 0, len(pages))
	for _, pg := range pages {
		if entry := s.entryFor(pg, now, &stats); entry != nil {
			entries = append(entries, *entry)
		}
	}
	stats.Processed = len(entries)

	if dryRun {
		stats.Synced = len(entries)
	} else {
		if err := s.store.UpsertSuppressions(ctx, entries); err != nil {
			stats.Errors = append(stats.Errors, err.Error())
			stats.CompletedAt = time.Now().UTC()
			return stats, fmt.Errorf("notion: write suppression cache: %w", err)
		}
		stats.Synced = len(entries)

		expired, err := s.store.CleanExpiredSuppressions(ctx)
		if err != nil {
			stats.Errors = append(stats.Errors, err.Error())
			stats.CompletedAt = time.Now().UTC()
			return stats, fmt.Errorf("notion: clean expired suppressions: %w", err)
		}
		stats.ExpiredCleaned = expired
	}

	stats.CompletedAt = time.Now().UTC()
	s.logger.Info("suppression sync finished",
		"pages", stats.PagesFetched,
		"synced", stats.Synced,
		"strong_keys", stats.StrongKeys,
		"weak_keys", stats.WeakKeys,
		"skipped", stats.WithoutKey,
		"expired_cleaned", stats.ExpiredCleaned,
		"dry_run", dryRun,
		"duration", stats.Duration())
	return stats, nil
}

// entryFor turns one CRM page into a cache entry. Pages without a stored
// canonical key get one derived from the website domain, or as a last
// resort a weak name slug; pages with neither are skipped and counted.
func (s *Syncer) entryFor(pg page, now time.Time, stats *SyncStats) *model.SuppressionEntry {
	props := pg.Properties
	status := props[propStatus].selectName()
	name := props[propCompanyName].title()
	website := props[propWebsite].url()
	key := normalizeKey(props[propCanonicalKey].text())

	if key == "" && website != "" {
		if domain := canonical.NormalizeDomain(website); domain != "" {
			key = string(canonical.KindDomain) + ":" + domain
		}
	}
	if key == "" && name != "" {
		if slug := canonical.Slug(name); slug != "" {
			key = string(canonical.KindNameLoc) + ":" + slug
		}
	}
	if key == "" {
		stats.WithoutKey++
		s.logger.Warn("page has no canonical key and none can be derived",
			"page_id", pg.ID, "company", name)
		return nil
	}

	stats.WithKey++
	if canonical.IsStrong(key) {
		stats.StrongKeys++
	} else {
		stats.WeakKeys++
	}

	if status == "" {
		status = "Unknown"
	}
	entry := model.SuppressionEntry{
		CanonicalKey: key,
		NotionPageID: pg.ID,
		Status:       status,
		CachedAt:     now,
		ExpiresAt:    now.Add(s.ttl),
		Metadata: map[string]any{
			"website":     website,
			"synced_from": "suppression_sync",
		},
	}
	if name != "" {
		entry.CompanyName = &name
	}
	return &entry
}

// RunEvery syncs immediately and then on every tick until ctx ends.
// Failures are logged and the loop keeps going.
func (s *Syncer) RunEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sync(ctx, false); err != nil {
			s.logger.Error("scheduled suppression sync failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
