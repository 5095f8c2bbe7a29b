package storage

import (
	"context"
	"fmt"
)

// Stats is a point-in-time summary of the signal store.
type Stats struct {
	TotalSignals       int64            `json:"total_signals"`
	SignalsByType      map[string]int64 `json:"signals_by_type"`
	SignalsByStatus    map[string]int64 `json:"signals_by_status"`
	ActiveSuppressions int64            `json:"active_suppressions"`
	PendingOutbox      int64            `json:"pending_outbox"`
}

// GetStats gathers store-wide counts for the stats command and the MCP
// surface.
func (db *DB) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{
		SignalsByType:   map[string]int64{},
		SignalsByStatus: map[string]int64{},
	}

	rows, err := db.pool.Query(ctx,
		`SELECT signal_type, count(*) FROM signals GROUP BY signal_type`)
	if err != nil {
		return Stats{}, fmt.Errorf("storage: count signals by type: %w", err)
	}
	for rows.Next() {
		var signalType string
		var n int64
		if err := rows.Scan(&signalType, &n); err != nil {
			rows.Close()
			return Stats{}, fmt.Errorf("storage: scan type count: %w", err)
		}
		stats.SignalsByType[signalType] = n
		stats.TotalSignals += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("storage: iterate type counts: %w", err)
	}

	rows, err = db.pool.Query(ctx,
		`SELECT status, count(*) FROM signal_processing GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("storage: count signals by status: %w", err)
	}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return Stats{}, fmt.Errorf("storage: scan status count: %w", err)
		}
		stats.SignalsByStatus[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("storage: iterate status counts: %w", err)
	}

	suppressions, err := db.ActiveSuppressionCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats.ActiveSuppressions = int64(suppressions)

	pending, err := db.CountPendingOutbox(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats.PendingOutbox = pending
	return stats, nil
}
