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

// RegisterAsset records that an asset exists, link or no link. Registering
// the same asset twice is a no-op.
func (db *DB) RegisterAsset(ctx context.Context, sourceType, externalID string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO asset_registry (id, source_type, external_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (source_type, external_id) DO NOTHING`,
		uuid.New(), sourceType, externalID)
	if err != nil {
		return fmt.Errorf("storage: register asset: %w", err)
	}
	return nil
}

// CreateLink writes or replaces the asset-to-lead link. Replacement follows
// the precedence rule: a manual link can only be replaced by another manual
// link, and among resolver links a replacement must raise confidence.
// Returns true when the link was written, false when the existing link won.
func (db *DB) CreateLink(ctx context.Context, link model.AssetLink) (bool, error) {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	if link.ResolvedAt.IsZero() {
		link.ResolvedAt = time.Now().UTC()
	}
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO asset_to_lead (
			id, asset_source_type, asset_external_id, lead_canonical_key,
			confidence, resolved_by, reason, metadata, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (asset_source_type, asset_external_id) DO UPDATE SET
			lead_canonical_key = EXCLUDED.lead_canonical_key,
			confidence = EXCLUDED.confidence,
			resolved_by = EXCLUDED.resolved_by,
			reason = EXCLUDED.reason,
			metadata = EXCLUDED.metadata,
			resolved_at = EXCLUDED.resolved_at
		WHERE EXCLUDED.resolved_by = 'manual'
		   OR (asset_to_lead.resolved_by <> 'manual' AND EXCLUDED.confidence > asset_to_lead.confidence)`,
		link.ID, link.SourceType, link.ExternalID, link.LeadCanonicalKey,
		link.Confidence, link.ResolvedBy, link.Reason, link.Metadata, link.ResolvedAt)
	if err != nil {
		return false, fmt.Errorf("storage: create asset link: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetLeadForAsset returns the link for the asset when it clears the
// confidence floor. Manual links always clear it. Returns nil when the
// asset is unlinked or the link is too weak.
func (db *DB) GetLeadForAsset(ctx context.Context, sourceType, externalID string, minConfidence float64) (*model.AssetLink, error) {
	var l model.AssetLink
	err := db.pool.QueryRow(ctx,
		`SELECT id, asset_source_type, asset_external_id, lead_canonical_key,
		        confidence, resolved_by, reason, metadata, resolved_at
		 FROM asset_to_lead
		 WHERE asset_source_type = $1 AND asset_external_id = $2
		   AND (resolved_by = 'manual' OR confidence >= $3)`,
		sourceType, externalID, minConfidence).
		Scan(&l.ID, &l.SourceType, &l.ExternalID, &l.LeadCanonicalKey,
			&l.Confidence, &l.ResolvedBy, &l.Reason, &l.Metadata, &l.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get lead for asset: %w", err)
	}
	return &l, nil
}

// GetAssetsForLead lists every asset linked to the canonical key, strongest
// link first.
func (db *DB) GetAssetsForLead(ctx context.Context, canonicalKey string) ([]model.AssetLink, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, asset_source_type, asset_external_id, lead_canonical_key,
		        confidence, resolved_by, reason, metadata, resolved_at
		 FROM asset_to_lead
		 WHERE lead_canonical_key = $1
		 ORDER BY confidence DESC, resolved_at DESC`, canonicalKey)
	if err != nil {
		return nil, fmt.Errorf("storage: query assets for lead: %w", err)
	}
	defer rows.Close()

	var links []model.AssetLink
	for rows.Next() {
		var l model.AssetLink
		if err := rows.Scan(&l.ID, &l.SourceType, &l.ExternalID, &l.LeadCanonicalKey,
			&l.Confidence, &l.ResolvedBy, &l.Reason, &l.Metadata, &l.ResolvedAt); err != nil {
			return nil, fmt.Errorf("storage: scan asset link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate asset links: %w", err)
	}
	return links, nil
}

// GetUnresolvedAssets lists registered assets with no link yet, oldest
// first so long-stuck assets get retried before fresh ones. An empty
// sourceType matches all sources; a zero limit means no limit.
func (db *DB) GetUnresolvedAssets(ctx context.Context, sourceType string, limit int) ([]model.AssetRef, error) {
	query := `SELECT r.source_type, r.external_id, r.registered_at
		 FROM asset_registry r
		 LEFT JOIN asset_to_lead l
		   ON l.asset_source_type = r.source_type AND l.asset_external_id = r.external_id
		 WHERE l.id IS NULL`
	args := []any{}
	if sourceType != "" {
		args = append(args, sourceType)
		query += fmt.Sprintf(" AND r.source_type = $%d", len(args))
	}
	query += " ORDER BY r.registered_at ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query unresolved assets: %w", err)
	}
	defer rows.Close()

	var refs []model.AssetRef
	for rows.Next() {
		var r model.AssetRef
		if err := rows.Scan(&r.SourceType, &r.ExternalID, &r.RegisteredAt); err != nil {
			return nil, fmt.Errorf("storage: scan asset ref: %w", err)
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate asset refs: %w", err)
	}
	return refs, nil
}
