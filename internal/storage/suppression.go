package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/hakken/internal/model"
)

const upsertSuppressionSQL = `
	INSERT INTO suppression_cache (
		id, canonical_key, notion_page_id, status, company_name, metadata, cached_at, expires_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (canonical_key) DO UPDATE SET
		notion_page_id = EXCLUDED.notion_page_id,
		status = EXCLUDED.status,
		company_name = EXCLUDED.company_name,
		metadata = EXCLUDED.metadata,
		cached_at = EXCLUDED.cached_at,
		expires_at = EXCLUDED.expires_at`

// UpsertSuppression inserts or refreshes one suppression entry keyed by
// canonical key. The caller decides the TTL via ExpiresAt.
func (db *DB) UpsertSuppression(ctx context.Context, e model.SuppressionEntry) error {
	if e.CachedAt.IsZero() {
		e.CachedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx, upsertSuppressionSQL,
		uuid.New(), e.CanonicalKey, e.NotionPageID, e.Status, e.CompanyName,
		e.Metadata, e.CachedAt, e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("storage: upsert suppression: %w", err)
	}
	return nil
}

// UpsertSuppressions refreshes many entries in one round trip. Used by the
// CRM sync, which rewrites the whole cache on every run.
func (db *DB) UpsertSuppressions(ctx context.Context, entries []model.SuppressionEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, e := range entries {
		cachedAt := e.CachedAt
		if cachedAt.IsZero() {
			cachedAt = now
		}
		batch.Queue(upsertSuppressionSQL,
			uuid.New(), e.CanonicalKey, e.NotionPageID, e.Status, e.CompanyName,
			e.Metadata, cachedAt, e.ExpiresAt)
	}
	results := db.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("storage: batch upsert suppression: %w", err)
		}
	}
	return nil
}

// CheckSuppression returns the live suppression entry for the canonical key,
// or nil when there is none or it has expired. A miss is the normal path,
// not an error.
func (db *DB) CheckSuppression(ctx context.Context, canonicalKey string) (*model.SuppressionEntry, error) {
	var e model.SuppressionEntry
	err := db.pool.QueryRow(ctx,
		`SELECT canonical_key, notion_page_id, status, company_name, metadata, cached_at, expires_at
		 FROM suppression_cache
		 WHERE canonical_key = $1 AND expires_at > now()`, canonicalKey).
		Scan(&e.CanonicalKey, &e.NotionPageID, &e.Status, &e.CompanyName,
			&e.Metadata, &e.CachedAt, &e.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: check suppression: %w", err)
	}
	return &e, nil
}

// CleanExpiredSuppressions deletes entries past their TTL and reports how
// many were removed.
func (db *DB) CleanExpiredSuppressions(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM suppression_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("storage: clean suppressions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ActiveSuppressionCount counts unexpired entries.
func (db *DB) ActiveSuppressionCount(ctx context.Context) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM suppression_cache WHERE expires_at > now()`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count suppressions: %w", err)
	}
	return n, nil
}
