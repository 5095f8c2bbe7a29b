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

const signalColumns = `s.id, s.signal_id, s.signal_type, s.source_api, s.source_id, s.source_url,
	s.source_response_hash, s.canonical_key, s.key_candidates, s.company_name, s.confidence,
	s.raw_data, s.content_hash, s.detected_at, s.created_at, s.first_seen_at, s.last_seen_at,
	p.status, p.notion_page_id, p.processed_at, p.error_message`

// SaveSignal stores a signal together with its pending processing record.
// The two inserts share a transaction so a signal can never exist without
// processing state. Returns ErrDuplicate when the same observation
// (canonical key, type, source, detection time) is already stored.
func (db *DB) SaveSignal(ctx context.Context, s model.Signal) (model.Signal, error) {
	now := time.Now().UTC()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.DetectedAt.IsZero() {
		s.DetectedAt = now
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.FirstSeenAt.IsZero() {
		s.FirstSeenAt = s.DetectedAt
	}
	if s.LastSeenAt.IsZero() {
		s.LastSeenAt = s.DetectedAt
	}
	if s.RawData == nil {
		s.RawData = map[string]any{}
	}
	if s.KeyCandidates == nil {
		s.KeyCandidates = []string{}
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Signal{}, fmt.Errorf("storage: begin save signal: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO signals (
			id, signal_id, signal_type, source_api, source_id, source_url,
			source_response_hash, canonical_key, key_candidates, company_name,
			confidence, raw_data, content_hash, detected_at, created_at,
			first_seen_at, last_seen_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		s.ID, s.SignalID, s.SignalType, s.SourceAPI, s.SourceID, s.SourceURL,
		s.SourceResponseHash, s.CanonicalKey, s.KeyCandidates, s.CompanyName,
		s.Confidence, s.RawData, s.ContentHash, s.DetectedAt, s.CreatedAt,
		s.FirstSeenAt, s.LastSeenAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Signal{}, ErrDuplicate
		}
		return model.Signal{}, fmt.Errorf("storage: insert signal: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO signal_processing (id, signal_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)`,
		uuid.New(), s.ID, model.ProcessingPending, now)
	if err != nil {
		return model.Signal{}, fmt.Errorf("storage: insert signal processing: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Signal{}, fmt.Errorf("storage: commit save signal: %w", err)
	}
	s.Status = model.ProcessingPending
	return s, nil
}

// GetSignal fetches one signal with its processing state joined in.
func (db *DB) GetSignal(ctx context.Context, id uuid.UUID) (model.Signal, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+signalColumns+`
		 FROM signals s
		 JOIN signal_processing p ON p.signal_id = s.id
		 WHERE s.id = $1`, id)
	s, err := scanSignal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Signal{}, ErrNotFound
		}
		return model.Signal{}, fmt.Errorf("storage: get signal: %w", err)
	}
	return s, nil
}

// IsDuplicate reports whether any signal is stored under the canonical key.
func (db *DB) IsDuplicate(ctx context.Context, canonicalKey string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM signals WHERE canonical_key = $1)`,
		canonicalKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: check duplicate: %w", err)
	}
	return exists, nil
}

// TouchLastSeen refreshes last_seen_at on every signal stored under the
// canonical key. Called when a collector re-observes a known company so
// staleness checks see the re-observation without storing a duplicate row.
func (db *DB) TouchLastSeen(ctx context.Context, canonicalKey string, seenAt time.Time) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE signals SET last_seen_at = GREATEST(last_seen_at, $2) WHERE canonical_key = $1`,
		canonicalKey, seenAt.UTC())
	if err != nil {
		return fmt.Errorf("storage: touch last seen: %w", err)
	}
	return nil
}

// GetPendingSignals lists unprocessed signals, highest confidence first so
// the most promising companies are classified before any batch limit cuts
// the queue off. Ties break on recency. A zero limit means no limit; an
// empty signalType matches all types.
func (db *DB) GetPendingSignals(ctx context.Context, limit int, signalType string) ([]model.Signal, error) {
	query := `SELECT ` + signalColumns + `
		 FROM signals s
		 JOIN signal_processing p ON p.signal_id = s.id
		 WHERE p.status = $1`
	args := []any{model.ProcessingPending}
	if signalType != "" {
		args = append(args, signalType)
		query += fmt.Sprintf(" AND s.signal_type = $%d", len(args))
	}
	query += " ORDER BY s.confidence DESC, s.detected_at DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query pending signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// GetSignalsForCompany returns every signal stored under the canonical key,
// newest detection first.
func (db *DB) GetSignalsForCompany(ctx context.Context, canonicalKey string) ([]model.Signal, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+signalColumns+`
		 FROM signals s
		 JOIN signal_processing p ON p.signal_id = s.id
		 WHERE s.canonical_key = $1
		 ORDER BY s.detected_at DESC`, canonicalKey)
	if err != nil {
		return nil, fmt.Errorf("storage: query company signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// GetSignalsSince lists signals ingested after the cutoff, newest ingest
// first. The health scan windows on created_at rather than detected_at so
// backdated signals (an old incorporation date, say) still count as fresh
// intake.
func (db *DB) GetSignalsSince(ctx context.Context, since time.Time) ([]model.Signal, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+signalColumns+`
		 FROM signals s
		 JOIN signal_processing p ON p.signal_id = s.id
		 WHERE s.created_at > $1
		 ORDER BY s.created_at DESC`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("storage: query signals since: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// MarkPushed records that the signal reached the CRM, keeping the page ID
// for suppression lookups. Metadata is merged in only when non-nil.
func (db *DB) MarkPushed(ctx context.Context, id uuid.UUID, notionPageID string, metadata map[string]any) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE signal_processing
		 SET status = $1, notion_page_id = $2, metadata = COALESCE($3, metadata),
		     processed_at = now(), updated_at = now()
		 WHERE signal_id = $4`,
		model.ProcessingPushed, notionPageID, metadata, id)
	if err != nil {
		return fmt.Errorf("storage: mark pushed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRejected records why the signal was filtered out of the pipeline.
func (db *DB) MarkRejected(ctx context.Context, id uuid.UUID, reason string, metadata map[string]any) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE signal_processing
		 SET status = $1, error_message = $2, metadata = COALESCE($3, metadata),
		     processed_at = now(), updated_at = now()
		 WHERE signal_id = $4`,
		model.ProcessingRejected, reason, metadata, id)
	if err != nil {
		return fmt.Errorf("storage: mark rejected: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSignal(row pgx.Row) (model.Signal, error) {
	var s model.Signal
	err := row.Scan(
		&s.ID, &s.SignalID, &s.SignalType, &s.SourceAPI, &s.SourceID, &s.SourceURL,
		&s.SourceResponseHash, &s.CanonicalKey, &s.KeyCandidates, &s.CompanyName, &s.Confidence,
		&s.RawData, &s.ContentHash, &s.DetectedAt, &s.CreatedAt, &s.FirstSeenAt, &s.LastSeenAt,
		&s.Status, &s.NotionPageID, &s.ProcessedAt, &s.ErrorMessage)
	if err != nil {
		return model.Signal{}, err
	}
	return s, nil
}

func scanSignals(rows pgx.Rows) ([]model.Signal, error) {
	var signals []model.Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan signal: %w", err)
		}
		signals = append(signals, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate signals: %w", err)
	}
	return signals, nil
}
