// Package outbox drains queued CRM writes. Deliveries the pipeline decides
// on are durably queued in Postgres first; the worker here claims due rows,
// pushes them through the CRM connector, and marks the underlying signals as
// pushed, so a CRM outage never loses a lead.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/hakken/internal/model"
	"github.com/ashita-ai/hakken/internal/storage"
	"github.com/ashita-ai/hakken/internal/telemetry"
)

const (
	// DefaultBatchSize bounds how many rows one drain pass claims.
	DefaultBatchSize = 50

	// DefaultPollInterval is how often the background loop drains.
	DefaultPollInterval = 30 * time.Second

	batchTimeout      = 30 * time.Second
	finalDrainTimeout = 10 * time.Second
	sweepInterval     = time.Hour
)

// store is the slice of storage the worker claims from and reports back to.
type store interface {
	ClaimPendingOutbox(ctx context.Context, limit int) ([]model.OutboxEntry, error)
	MarkOutboxSent(ctx context.Context, id uuid.UUID) error
	MarkOutboxFailed(ctx context.Context, id uuid.UUID, deliveryErr string) error
	SweepOutbox(ctx context.Context) (int64, error)
	CountPendingOutbox(ctx context.Context) (int64, error)
	MarkPushed(ctx context.Context, id uuid.UUID, notionPageID string, metadata map[string]any) error
}

// crm delivers one payload to the CRM.
type crm interface {
	UpsertProspect(ctx context.Context, p model.ProspectPayload) (model.UpsertResult, error)
}

// DrainStats counts what one drain pass did. Sent splits into the three
// upsert outcomes; a row counts as failed only when nothing was finalized
// and it went back in the queue.
type DrainStats struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
}

// Add accumulates another pass into s.
func (s *DrainStats) Add(other DrainStats) {
	s.Processed += other.Processed
	s.Sent += other.Sent
	s.Failed += other.Failed
	s.Created += other.Created
	s.Updated += other.Updated
	s.Skipped += other.Skipped
}

// Worker polls the outbox table and delivers queued writes to the CRM.
type Worker struct {
	store        store
	crm          crm
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	lastSweep  time.Time
	drainCh    chan context.Context // carries the stop context to pollLoop for the final drain
}

// NewWorker creates an outbox worker. Non-positive pollInterval and
// batchSize take the defaults.
func NewWorker(st store, connector crm, logger *slog.Logger, pollInterval time.Duration, batchSize int) *Worker {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Worker{
		store:        st,
		crm:          connector,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
		drainCh:      make(chan context.Context, 1),
	}
}

// Start begins the background poll loop. It is safe to call only once;
// subsequent calls are no-ops and log a warning.
func (w *Worker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("outbox worker started more than once, ignoring")
		return
	}
	w.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.pollLoop(loopCtx)
}

// Stop signals the poll loop to halt, drains remaining due rows, and blocks
// until done or the context expires. The ctx parameter is passed to the
// final drain so it respects the caller's deadline.
func (w *Worker) Stop(ctx context.Context) {
	if !w.started.Load() {
		return
	}
	// Send the stop context to pollLoop via channel (race-free). Must be
	// sent before cancelLoop so pollLoop can receive it on ctx.Done().
	select {
	case w.drainCh <- ctx:
	default:
	}
	if w.cancelLoop != nil {
		w.cancelLoop()
	}
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("outbox stop timed out")
	}
}

func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final drain: prefer the stop context (sent by Stop via
			// channel) so the final pass respects the caller's deadline.
			var stopCtx context.Context
			select {
			case stopCtx = <-w.drainCh:
			default:
			}
			if stopCtx != nil {
				w.drainOnce(stopCtx)
			} else {
				// Fallback for direct cancellation without Stop (e.g., tests).
				fallbackCtx, cancel := context.WithTimeout(context.Background(), finalDrainTimeout)
				w.drainOnce(fallbackCtx)
				cancel()
			}
			w.once.Do(func() { close(w.done) })
			return
		case <-ticker.C:
			batchCtx, cancel := context.WithTimeout(ctx, batchTimeout)
			w.drainOnce(batchCtx)
			w.maybeSweep(batchCtx)
			cancel()
		}
	}
}

func (w *Worker) drainOnce(ctx context.Context) {
	stats, err := w.Drain(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("outbox drain failed", "error", err)
		return
	}
	if stats.Processed > 0 {
		w.logger.Info("outbox drained",
			"processed", stats.Processed,
			"sent", stats.Sent,
			"failed", stats.Failed,
			"created", stats.Created,
			"updated", stats.Updated,
			"skipped", stats.Skipped)
	}
}

// maybeSweep retires exhausted rows and deletes stale dead rows, at most
// once per sweepInterval.
func (w *Worker) maybeSweep(ctx context.Context) {
	if time.Since(w.lastSweep) < sweepInterval {
		return
	}
	w.lastSweep = time.Now()
	deleted, err := w.store.SweepOutbox(ctx)
	if err != nil {
		w.logger.Error("outbox sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		w.logger.Info("outbox swept dead rows", "deleted", deleted)
	}
}

// Drain claims up to limit due rows and delivers each one. A row that
// delivers end to end is marked sent and its signals marked pushed; any
// failure along the way puts the row back in the queue with backoff.
// The returned error covers only the claim itself, per-row failures are
// counted in the stats.
func (w *Worker) Drain(ctx context.Context, limit int) (DrainStats, error) {
	var stats DrainStats

	entries, err := w.store.ClaimPendingOutbox(ctx, limit)
	if err != nil {
		return stats, fmt.Errorf("outbox: claim pending: %w", err)
	}

	for _, entry := range entries {
		stats.Processed++

		outcome, err := w.deliver(ctx, entry)
		if err != nil {
			stats.Failed++
			if markErr := w.store.MarkOutboxFailed(ctx, entry.ID, err.Error()); markErr != nil {
				w.logger.Error("outbox failure not recorded", "outbox_id", entry.ID, "error", markErr)
			}
			w.logger.Warn("outbox delivery failed",
				"outbox_id", entry.ID,
				"canonical_key", entry.CanonicalKey,
				"attempts", entry.Attempts+1,
				"error", err)
			continue
		}

		stats.Sent++
		switch outcome {
		case model.UpsertCreated:
			stats.Created++
		case model.UpsertUpdated:
			stats.Updated++
		case model.UpsertSkipped:
			stats.Skipped++
		}
	}
	return stats, nil
}

// deliver pushes one entry to the CRM and finalizes it. The CRM upsert is
// keyed on discovery ID and canonical key, so a retry after a partial
// failure (sent but not fully marked) lands on the same page.
func (w *Worker) deliver(ctx context.Context, entry model.OutboxEntry) (model.UpsertOutcome, error) {
	result, err := w.crm.UpsertProspect(ctx, entry.Payload)
	if err != nil {
		return "", err
	}

	if err := w.store.MarkOutboxSent(ctx, entry.ID); err != nil {
		return "", err
	}

	meta := map[string]any{"upsert_status": string(result.Outcome)}
	for _, signalID := range entry.SignalIDs {
		err := w.store.MarkPushed(ctx, signalID, result.PageID, meta)
		if err != nil {
			// The processing row can be gone when a signal was pruned
			// between enqueue and delivery; that is not a delivery failure.
			if errors.Is(err, storage.ErrNotFound) {
				w.logger.Warn("pushed signal has no processing row", "signal_id", signalID)
				continue
			}
			return "", err
		}
	}
	return result.Outcome, nil
}

// registerMetrics registers the queue depth gauge.
func (w *Worker) registerMetrics() {
	meter := telemetry.Meter("hakken/outbox")

	_, _ = meter.Int64ObservableGauge("hakken.outbox.depth",
		metric.WithDescription("Number of queued CRM writes waiting for delivery"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := w.store.CountPendingOutbox(ctx)
			if err != nil {
				return nil // Non-fatal: just skip this observation.
			}
			o.Observe(n)
			return nil
		}),
	)
}
