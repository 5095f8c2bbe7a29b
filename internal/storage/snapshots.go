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

// SaveConfigSnapshot stores an audit copy of a fetched config release.
// Refetching unchanged content is skipped so the audit trail records
// transitions, not polls.
func (db *DB) SaveConfigSnapshot(ctx context.Context, s model.ConfigSnapshot) (model.ConfigSnapshot, error) {
	latest, err := db.GetLatestConfigSnapshot(ctx, s.ConfigType)
	if err != nil {
		return model.ConfigSnapshot{}, err
	}
	if latest != nil && latest.ContentHash == s.ContentHash {
		return *latest, nil
	}

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.FetchedAt.IsZero() {
		s.FetchedAt = time.Now().UTC()
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO config_snapshots (id, config_type, human_version, notion_page_id, content_hash, content_text, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.ConfigType, s.HumanVersion, s.NotionPageID, s.ContentHash, s.ContentText, s.FetchedAt)
	if err != nil {
		return model.ConfigSnapshot{}, fmt.Errorf("storage: save config snapshot: %w", err)
	}
	return s, nil
}

// GetLatestConfigSnapshot returns the newest snapshot for the config type,
// or nil when none has ever been stored.
func (db *DB) GetLatestConfigSnapshot(ctx context.Context, configType string) (*model.ConfigSnapshot, error) {
	var s model.ConfigSnapshot
	err := db.pool.QueryRow(ctx,
		`SELECT id, config_type, human_version, notion_page_id, content_hash, content_text, fetched_at
		 FROM config_snapshots
		 WHERE config_type = $1
		 ORDER BY fetched_at DESC
		 LIMIT 1`, configType).
		Scan(&s.ID, &s.ConfigType, &s.HumanVersion, &s.NotionPageID,
			&s.ContentHash, &s.ContentText, &s.FetchedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get config snapshot: %w", err)
	}
	return &s, nil
}
