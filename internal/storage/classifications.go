package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hakken/internal/model"
)

// SaveClassification appends one classifier decision to the audit log.
// Cached decisions log too; cost review needs to see the hit rate.
func (db *DB) SaveClassification(ctx context.Context, c model.Classification) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO llm_classifications (
			id, input_hash, schema_version, label, confidence, rationale,
			model, cached, input_tokens, output_tokens, latency_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.New(), c.InputHash, c.SchemaVersion, c.Label, c.Confidence, c.Rationale,
		c.Model, c.Cached, c.InputTokens, c.OutputTokens, c.LatencyMS)
	if err != nil {
		return fmt.Errorf("storage: save classification: %w", err)
	}
	return nil
}

// TrackCost records one metered external call.
func (db *DB) TrackCost(ctx context.Context, service, operation string, units int, costUSD float64, metadata map[string]any) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO cost_tracking (id, service, operation, units, cost_usd, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), service, operation, units, costUSD, metadata)
	if err != nil {
		return fmt.Errorf("storage: track cost: %w", err)
	}
	return nil
}

// CostLine is one service's spend over a summary window.
type CostLine struct {
	Service string  `json:"service"`
	Units   int64   `json:"units"`
	CostUSD float64 `json:"cost_usd"`
}

// CostSummary totals tracked spend per service over the trailing window,
// most expensive service first.
func (db *DB) CostSummary(ctx context.Context, window time.Duration) ([]CostLine, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT service, COALESCE(SUM(units), 0), COALESCE(SUM(cost_usd), 0)
		 FROM cost_tracking
		 WHERE recorded_at > now() - $1
		 GROUP BY service
		 ORDER BY SUM(cost_usd) DESC`, window)
	if err != nil {
		return nil, fmt.Errorf("storage: query cost summary: %w", err)
	}
	defer rows.Close()

	var lines []CostLine
	for rows.Next() {
		var l CostLine
		if err := rows.Scan(&l.Service, &l.Units, &l.CostUSD); err != nil {
			return nil, fmt.Errorf("storage: scan cost line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate cost lines: %w", err)
	}
	return lines, nil
}
