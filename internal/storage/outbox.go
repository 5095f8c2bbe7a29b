package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/hakken/internal/model"
)

const (
	// maxOutboxAttempts is how many delivery attempts a row gets before it
	// is marked dead.
	maxOutboxAttempts = 10

	// outboxLockTTL bounds how long a claimed row stays invisible to other
	// workers. A worker that dies mid-batch releases its claim implicitly.
	outboxLockTTL = 60 * time.Second

	outboxBackoffBase = 5 * time.Second
	outboxBackoffCap  = 300 * time.Second

	// deadOutboxRetention is how long dead rows stay around for inspection
	// before the sweep deletes them.
	deadOutboxRetention = 7 * 24 * time.Hour
)

const outboxColumns = `id, canonical_key, payload, signal_ids, status, attempts,
	last_error, next_attempt_at, created_at, sent_at`

// EnqueueOutbox queues a CRM write for delivery by the outbox worker.
func (db *DB) EnqueueOutbox(ctx context.Context, e model.OutboxEntry) (model.OutboxEntry, error) {
	now := time.Now().UTC()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = model.OutboxPending
	}
	if e.NextAttemptAt.IsZero() {
		e.NextAttemptAt = now
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.SignalIDs == nil {
		e.SignalIDs = []uuid.UUID{}
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO notion_outbox (id, canonical_key, payload, signal_ids, status, attempts, next_attempt_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.CanonicalKey, e.Payload, e.SignalIDs, e.Status, e.Attempts,
		e.NextAttemptAt, e.CreatedAt)
	if err != nil {
		return model.OutboxEntry{}, fmt.Errorf("storage: enqueue outbox: %w", err)
	}
	return e, nil
}

// ClaimPendingOutbox claims up to limit due rows for delivery. Claimed rows
// are locked for outboxLockTTL so concurrent workers never deliver the same
// row twice. Rows claim in next_attempt_at order, oldest debt first.
func (db *DB) ClaimPendingOutbox(ctx context.Context, limit int) ([]model.OutboxEntry, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: begin outbox claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT `+outboxColumns+`
		 FROM notion_outbox
		 WHERE status IN ($1, $2)
		   AND next_attempt_at <= now()
		   AND attempts < $3
		   AND (locked_until IS NULL OR locked_until < now())
		 ORDER BY next_attempt_at ASC
		 LIMIT $4
		 FOR UPDATE SKIP LOCKED`,
		model.OutboxPending, model.OutboxFailed, maxOutboxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query outbox claim: %w", err)
	}
	entries, err := scanOutboxEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	_, err = tx.Exec(ctx,
		`UPDATE notion_outbox SET locked_until = now() + $1 WHERE id = ANY($2)`,
		outboxLockTTL, ids)
	if err != nil {
		return nil, fmt.Errorf("storage: lock outbox claim: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("storage: commit outbox claim: %w", err)
	}
	return entries, nil
}

// MarkOutboxSent finalizes a delivered row.
func (db *DB) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE notion_outbox
		 SET status = $1, sent_at = now(), last_error = NULL, locked_until = NULL
		 WHERE id = $2`,
		model.OutboxSent, id)
	if err != nil {
		return fmt.Errorf("storage: mark outbox sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkOutboxFailed records a failed delivery attempt and schedules the
// retry with exponential backoff. The row goes dead once it has burned all
// of its attempts.
func (db *DB) MarkOutboxFailed(ctx context.Context, id uuid.UUID, deliveryErr string) error {
	var attempts int
	err := db.pool.QueryRow(ctx,
		`SELECT attempts FROM notion_outbox WHERE id = $1`, id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("storage: load outbox attempts: %w", err)
	}

	attempts++
	status := model.OutboxFailed
	if attempts >= maxOutboxAttempts {
		status = model.OutboxDead
	}
	_, err = db.pool.Exec(ctx,
		`UPDATE notion_outbox
		 SET status = $1, attempts = $2, last_error = $3,
		     next_attempt_at = now() + $4, locked_until = NULL
		 WHERE id = $5`,
		status, attempts, deliveryErr, outboxBackoff(attempts), id)
	if err != nil {
		return fmt.Errorf("storage: mark outbox failed: %w", err)
	}
	return nil
}

// SweepOutbox retires exhausted rows and deletes dead rows older than the
// retention window. Returns how many rows were deleted.
func (db *DB) SweepOutbox(ctx context.Context) (int64, error) {
	_, err := db.pool.Exec(ctx,
		`UPDATE notion_outbox SET status = $1
		 WHERE status = $2 AND attempts >= $3`,
		model.OutboxDead, model.OutboxFailed, maxOutboxAttempts)
	if err != nil {
		return 0, fmt.Errorf("storage: retire exhausted outbox rows: %w", err)
	}
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM notion_outbox WHERE status = $1 AND created_at < now() - $2`,
		model.OutboxDead, deadOutboxRetention)
	if err != nil {
		return 0, fmt.Errorf("storage: delete dead outbox rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountPendingOutbox counts rows still waiting for delivery, for the queue
// depth gauge.
func (db *DB) CountPendingOutbox(ctx context.Context) (int64, error) {
	var n int64
	err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM notion_outbox WHERE status IN ($1, $2)`,
		model.OutboxPending, model.OutboxFailed).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count pending outbox: %w", err)
	}
	return n, nil
}

// GetOutboxEntry fetches one row by id.
func (db *DB) GetOutboxEntry(ctx context.Context, id uuid.UUID) (model.OutboxEntry, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+outboxColumns+` FROM notion_outbox WHERE id = $1`, id)
	var e model.OutboxEntry
	err := row.Scan(&e.ID, &e.CanonicalKey, &e.Payload, &e.SignalIDs, &e.Status,
		&e.Attempts, &e.LastError, &e.NextAttemptAt, &e.CreatedAt, &e.SentAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.OutboxEntry{}, ErrNotFound
		}
		return model.OutboxEntry{}, fmt.Errorf("storage: get outbox entry: %w", err)
	}
	return e, nil
}

// outboxBackoff doubles per attempt from the base up to the cap, plus up to
// 250ms of jitter so retries from one burst spread out.
func outboxBackoff(attempts int) time.Duration {
	backoff := outboxBackoffBase
	for i := 1; i < attempts; i++ {
		backoff *= 2
		if backoff >= outboxBackoffCap {
			backoff = outboxBackoffCap
			break
		}
	}
	jitter := time.Duration(rand.Int64N(int64(250 * time.Millisecond))) //nolint:gosec // jitter doesn't need crypto-strength randomness
	return backoff + jitter
}

func scanOutboxEntries(rows pgx.Rows) ([]model.OutboxEntry, error) {
	defer rows.Close()
	var entries []model.OutboxEntry
	for rows.Next() {
		var e model.OutboxEntry
		if err := rows.Scan(&e.ID, &e.CanonicalKey, &e.Payload, &e.SignalIDs, &e.Status,
			&e.Attempts, &e.LastError, &e.NextAttemptAt, &e.CreatedAt, &e.SentAt); err != nil {
			return nil, fmt.Errorf("storage: scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate outbox entries: %w", err)
	}
	return entries, nil
}
