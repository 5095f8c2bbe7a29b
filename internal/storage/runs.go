package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/hakken/internal/model"
)

const pipelineRunColumns = `id, mode, status, dry_run,
	collectors_run, collectors_succeeded, collectors_failed,
	signals_collected, signals_stored, signals_deduplicated,
	signals_processed, signals_auto_push, signals_needs_review, signals_held, signals_rejected,
	prospects_created, prospects_updated, prospects_skipped, suppression_synced,
	errors, started_at, finished_at`

// StartPipelineRun opens a run record in the running state. The orchestrator
// completes it when the run finishes, successfully or not.
func (db *DB) StartPipelineRun(ctx context.Context, mode model.RunMode, dryRun bool) (model.PipelineRun, error) {
	run := model.PipelineRun{
		ID:        uuid.New(),
		Mode:      mode,
		Status:    model.RunRunning,
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, mode, status, dry_run, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Mode, run.Status, run.DryRun, run.StartedAt)
	if err != nil {
		return model.PipelineRun{}, fmt.Errorf("storage: start pipeline run: %w", err)
	}
	return run, nil
}

// CompletePipelineRun closes a run record with its final status and counters.
func (db *DB) CompletePipelineRun(ctx context.Context, id uuid.UUID, status model.RunStatus, stats model.PipelineStats) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE pipeline_runs SET
			status = $1,
			collectors_run = $2, collectors_succeeded = $3, collectors_failed = $4,
			signals_collected = $5, signals_stored = $6, signals_deduplicated = $7,
			signals_processed = $8, signals_auto_push = $9, signals_needs_review = $10,
			signals_held = $11, signals_rejected = $12,
			prospects_created = $13, prospects_updated = $14, prospects_skipped = $15,
			suppression_synced = $16, errors = $17, finished_at = now()
		 WHERE id = $18`,
		status,
		stats.CollectorsRun, stats.CollectorsSucceeded, stats.CollectorsFailed,
		stats.SignalsCollected, stats.SignalsStored, stats.SignalsDeduplicated,
		stats.SignalsProcessed, stats.AutoPush, stats.NeedsReview,
		stats.Held, stats.Rejected,
		stats.ProspectsCreated, stats.ProspectsUpdated, stats.ProspectsSkipped,
		stats.SuppressionSynced, stats.Errors, id)
	if err != nil {
		return fmt.Errorf("storage: complete pipeline run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPipelineRun fetches one run record.
func (db *DB) GetPipelineRun(ctx context.Context, id uuid.UUID) (model.PipelineRun, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+pipelineRunColumns+` FROM pipeline_runs WHERE id = $1`, id)
	run, err := scanPipelineRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PipelineRun{}, ErrNotFound
		}
		return model.PipelineRun{}, fmt.Errorf("storage: get pipeline run: %w", err)
	}
	return run, nil
}

// GetPipelineRuns lists the most recent runs, newest first.
func (db *DB) GetPipelineRuns(ctx context.Context, limit int) ([]model.PipelineRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+pipelineRunColumns+`
		 FROM pipeline_runs
		 ORDER BY started_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query pipeline runs: %w", err)
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		run, err := scanPipelineRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan pipeline run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate pipeline runs: %w", err)
	}
	return runs, nil
}

// StartCollectorRun opens a collector run record, linked to its pipeline run
// when runID is non-nil.
func (db *DB) StartCollectorRun(ctx context.Context, runID *uuid.UUID, collector string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := db.pool.Exec(ctx,
		`INSERT INTO collector_runs (id, run_id, collector, status, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, runID, collector, model.CollectorRunning, time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: start collector run: %w", err)
	}
	return id, nil
}

// CompleteCollectorRun closes a collector run record with its result.
func (db *DB) CompleteCollectorRun(ctx context.Context, id uuid.UUID, result model.CollectorResult) error {
	var errorDetail *string
	if len(result.Errors) > 0 {
		joined := strings.Join(result.Errors, "; ")
		errorDetail = &joined
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE collector_runs SET
			status = $1, signals_collected = $2, signals_stored = $3,
			deduplicated = $4, api_requests = $5, error_detail = $6, finished_at = now()
		 WHERE id = $7`,
		result.Status, result.SignalsCollected, result.SignalsStored,
		result.Deduplicated, result.APIRequests, errorDetail, id)
	if err != nil {
		return fmt.Errorf("storage: complete collector run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCollectorRuns lists recent collector runs, newest first. An empty
// collector matches all collectors.
func (db *DB) GetCollectorRuns(ctx context.Context, collector string, limit int) ([]model.CollectorRun, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT id, run_id, collector, status, signals_collected, signals_stored,
		        deduplicated, api_requests, error_detail, started_at, finished_at
		 FROM collector_runs`
	args := []any{}
	if collector != "" {
		args = append(args, collector)
		query += " WHERE collector = $1"
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", len(args))

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query collector runs: %w", err)
	}
	defer rows.Close()

	var runs []model.CollectorRun
	for rows.Next() {
		var r model.CollectorRun
		if err := rows.Scan(&r.ID, &r.RunID, &r.Collector, &r.Status, &r.SignalsCollected,
			&r.SignalsStored, &r.Deduplicated, &r.APIRequests, &r.ErrorDetail,
			&r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("storage: scan collector run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate collector runs: %w", err)
	}
	return runs, nil
}

func scanPipelineRun(row pgx.Row) (model.PipelineRun, error) {
	var run model.PipelineRun
	err := row.Scan(
		&run.ID, &run.Mode, &run.Status, &run.DryRun,
		&run.Stats.CollectorsRun, &run.Stats.CollectorsSucceeded, &run.Stats.CollectorsFailed,
		&run.Stats.SignalsCollected, &run.Stats.SignalsStored, &run.Stats.SignalsDeduplicated,
		&run.Stats.SignalsProcessed, &run.Stats.AutoPush, &run.Stats.NeedsReview,
		&run.Stats.Held, &run.Stats.Rejected,
		&run.Stats.ProspectsCreated, &run.Stats.ProspectsUpdated, &run.Stats.ProspectsSkipped,
		&run.Stats.SuppressionSynced,
		&run.Stats.Errors, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return model.PipelineRun{}, err
	}
	return run, nil
}
