package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/hakken/internal/model"
)

// SaveAsset stores a snapshot of an upstream object and reports whether the
// asset is new and which top-level payload fields changed since the last
// snapshot. An unchanged payload is not stored again; the existing latest
// snapshot is returned instead.
func (db *DB) SaveAsset(ctx context.Context, sourceType, externalID string, payload map[string]any) (model.SourceAsset, bool, []string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	hash, err := hashPayload(payload)
	if err != nil {
		return model.SourceAsset{}, false, nil, fmt.Errorf("storage: hash asset payload: %w", err)
	}

	latest, err := db.GetLatestSnapshot(ctx, sourceType, externalID)
	if err != nil {
		return model.SourceAsset{}, false, nil, err
	}
	if latest != nil && latest.ContentHash == hash {
		return *latest, false, nil, nil
	}

	isNew := latest == nil
	var changes []string
	if latest != nil {
		changes = diffPayloads(latest.RawPayload, payload)
	}

	asset := model.SourceAsset{
		ID:             uuid.New(),
		SourceType:     sourceType,
		ExternalID:     externalID,
		RawPayload:     payload,
		ContentHash:    hash,
		FetchedAt:      time.Now().UTC(),
		ChangeDetected: len(changes) > 0,
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO source_assets (id, source_type, external_id, raw_payload, content_hash, change_detected, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		asset.ID, asset.SourceType, asset.ExternalID, asset.RawPayload,
		asset.ContentHash, asset.ChangeDetected, asset.FetchedAt)
	if err != nil {
		return model.SourceAsset{}, false, nil, fmt.Errorf("storage: insert asset snapshot: %w", err)
	}
	return asset, isNew, changes, nil
}

// GetLatestSnapshot returns the most recent snapshot for the asset, or nil
// when the asset has never been seen.
func (db *DB) GetLatestSnapshot(ctx context.Context, sourceType, externalID string) (*model.SourceAsset, error) {
	return db.snapshotAt(ctx, sourceType, externalID, 0)
}

// GetPreviousSnapshot returns the snapshot before the latest one, or nil
// when fewer than two snapshots exist. This is the baseline the trigger
// gate diffs against.
func (db *DB) GetPreviousSnapshot(ctx context.Context, sourceType, externalID string) (*model.SourceAsset, error) {
	return db.snapshotAt(ctx, sourceType, externalID, 1)
}

func (db *DB) snapshotAt(ctx context.Context, sourceType, externalID string, offset int) (*model.SourceAsset, error) {
	var a model.SourceAsset
	err := db.pool.QueryRow(ctx,
		`SELECT id, source_type, external_id, raw_payload, content_hash, change_detected, fetched_at
		 FROM source_assets
		 WHERE source_type = $1 AND external_id = $2
		 ORDER BY fetched_at DESC
		 OFFSET $3 LIMIT 1`,
		sourceType, externalID, offset).
		Scan(&a.ID, &a.SourceType, &a.ExternalID, &a.RawPayload, &a.ContentHash,
			&a.ChangeDetected, &a.FetchedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get asset snapshot: %w", err)
	}
	return &a, nil
}

// GetAssetsWithChanges lists snapshots where change detection fired on or
// after the given time, newest first. A zero limit means no limit.
func (db *DB) GetAssetsWithChanges(ctx context.Context, since time.Time, limit int) ([]model.SourceAsset, error) {
	query := `SELECT id, source_type, external_id, raw_payload, content_hash, change_detected, fetched_at
		 FROM source_assets
		 WHERE change_detected AND fetched_at >= $1
		 ORDER BY fetched_at DESC`
	args := []any{since.UTC()}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query changed assets: %w", err)
	}
	defer rows.Close()

	var assets []model.SourceAsset
	for rows.Next() {
		var a model.SourceAsset
		if err := rows.Scan(&a.ID, &a.SourceType, &a.ExternalID, &a.RawPayload,
			&a.ContentHash, &a.ChangeDetected, &a.FetchedAt); err != nil {
			return nil, fmt.Errorf("storage: scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate assets: %w", err)
	}
	return assets, nil
}

// hashPayload hashes the canonical JSON form of the payload. Map keys are
// sorted by encoding/json, so equal payloads hash equal regardless of
// insertion order.
func hashPayload(payload map[string]any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// diffPayloads returns the sorted top-level keys whose values differ between
// the two payloads, including keys present on only one side. Values compare
// by canonical JSON, so nested changes surface under their top-level key.
func diffPayloads(old, new map[string]any) []string {
	var changed []string
	for key, newVal := range new {
		oldVal, ok := old[key]
		if !ok || !jsonEqual(oldVal, newVal) {
			changed = append(changed, key)
		}
	}
	for key := range old {
		if _, ok := new[key]; !ok {
			changed = append(changed, key)
		}
	}
	slices.Sort(changed)
	return changed
}

func jsonEqual(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ra, rb)
}
