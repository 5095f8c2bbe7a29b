package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hakken/internal/model"
)

const skipNoPreviousSnapshot = "no_previous_snapshot"

// Rough list prices for gemini-2.0-flash, per token.
const (
	costService            = "gemini"
	costOperation          = "classify"
	geminiInputCostPerTok  = 0.10 / 1e6
	geminiOutputCostPerTok = 0.40 / 1e6
)

// Store is what the processor needs from the signal store: a feed of
// pending signals and somewhere to audit classifier spend.
type Store interface {
	GetPendingSignals(ctx context.Context, limit int, signalType string) ([]model.Signal, error)
	SaveClassification(ctx context.Context, c model.Classification) error
	TrackCost(ctx context.Context, service, operation string, units int, costUSD float64, metadata map[string]any) error
}

// Outcome is the gating result for one signal.
type Outcome struct {
	SignalID       uuid.UUID             `json:"signal_id"`
	Triggered      bool                  `json:"triggered"`
	Skipped        bool                  `json:"skipped,omitempty"`
	SkipReason     string                `json:"skip_reason,omitempty"`
	Trigger        model.TriggerResult   `json:"trigger"`
	Classification *model.Classification `json:"classification,omitempty"`
	ProcessedAt    time.Time             `json:"processed_at"`
}

// Actionable reports whether the outcome warrants downstream attention.
func (o Outcome) Actionable() bool {
	return o.Classification != nil && o.Classification.Label.Actionable()
}

// Processor runs signals through both gate stages and audits what the
// classifier spent. In dry-run mode stage 1 still evaluates but no LLM
// calls are made.
type Processor struct {
	trigger    *Trigger
	classifier *Classifier
	store      Store // nil disables pending fetch and auditing
	dryRun     bool
	logger     *slog.Logger
}

// NewProcessor wires the two gate stages together.
func NewProcessor(trigger *Trigger, classifier *Classifier, store Store, dryRun bool, logger *slog.Logger) *Processor {
	return &Processor{
		trigger:    trigger,
		classifier: classifier,
		store:      store,
		dryRun:     dryRun,
		logger:     logger,
	}
}

// ProcessSignal gates one signal. Signals whose raw data carries no previous
// snapshot cannot be diffed and are skipped, not failed.
func (p *Processor) ProcessSignal(ctx context.Context, sig model.Signal) (Outcome, error) {
	out := Outcome{SignalID: sig.ID, ProcessedAt: time.Now().UTC()}

	prev, ok := previousSnapshot(sig.RawData)
	if !ok {
		out.Skipped = true
		out.SkipReason = skipNoPreviousSnapshot
		p.logger.Debug("gating skipped", "signal_id", sig.ID, "reason", out.SkipReason)
		return out, nil
	}

	current := make(map[string]any, len(sig.RawData))
	for k, v := range sig.RawData {
		if k != model.RawKeyPreviousSnapshot {
			current[k] = v
		}
	}

	out.Trigger = p.trigger.Evaluate(prev, current)
	if !out.Trigger.ShouldTrigger {
		p.logger.Debug("trigger gate passed", "signal_id", sig.ID)
		return out, nil
	}
	out.Triggered = true
	p.logger.Info("trigger gate fired", "signal_id", sig.ID, "reason", out.Trigger.TriggerReason)

	if p.dryRun {
		p.logger.Info("dry run, skipping classification", "signal_id", sig.ID)
		return out, nil
	}

	cls := p.classifier.Classify(ctx, stringField(prev, descriptionField), stringField(current, descriptionField))
	out.Classification = &cls
	p.logger.Info("change classified",
		"signal_id", sig.ID,
		"label", cls.Label,
		"confidence", cls.Confidence,
		"cached", cls.Cached)

	if p.store != nil {
		if err := p.audit(ctx, cls); err != nil {
			return out, err
		}
	}
	return out, nil
}

// ProcessBatch gates a slice of signals, accumulating stats. Per-signal
// failures are counted and logged, never fatal to the batch.
func (p *Processor) ProcessBatch(ctx context.Context, signals []model.Signal) ([]Outcome, model.ProcessingStats) {
	start := time.Now()
	stats := model.ProcessingStats{
		Processed:   len(signals),
		LabelCounts: make(map[model.ClassificationLabel]int),
	}
	outcomes := make([]Outcome, 0, len(signals))

	for i, sig := range signals {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("gating batch cut short", "error", err, "remaining", len(signals)-i)
			stats.Errors += len(signals) - i
			break
		}

		out, err := p.ProcessSignal(ctx, sig)
		if err != nil {
			p.logger.Error("signal gating failed", "signal_id", sig.ID, "error", err)
			stats.Errors++
			continue
		}
		outcomes = append(outcomes, out)

		switch {
		case out.Skipped:
			stats.GatingSkipped++
		case out.Triggered:
			stats.Triggered++
			// In dry-run mode this counts the calls a real run would
			// make, which is the number that matters for cost preview.
			stats.LLMCalls++
			if cls := out.Classification; cls != nil {
				if cls.Cached {
					stats.CacheHits++
					stats.LLMCalls--
				}
				stats.LabelCounts[cls.Label]++
			}
		default:
			stats.NotTriggered++
		}
	}

	stats.DurationMillis = time.Since(start).Milliseconds()
	return outcomes, stats
}

// ProcessPending fetches pending signals from the store and gates them.
// A zero limit fetches all pending; an empty signalType means all types.
func (p *Processor) ProcessPending(ctx context.Context, limit int, signalType string) ([]Outcome, model.ProcessingStats, error) {
	if p.store == nil {
		return nil, model.ProcessingStats{}, fmt.Errorf("gate: no store configured")
	}

	signals, err := p.store.GetPendingSignals(ctx, limit, signalType)
	if err != nil {
		return nil, model.ProcessingStats{}, fmt.Errorf("gate: fetch pending signals: %w", err)
	}
	if len(signals) == 0 {
		p.logger.Info("no pending signals to gate")
		return nil, model.ProcessingStats{}, nil
	}
	p.logger.Info("gating pending signals", "count", len(signals), "signal_type", signalType)

	outcomes, stats := p.ProcessBatch(ctx, signals)
	p.logger.Info("gating complete",
		"triggered", stats.Triggered,
		"total", stats.Processed,
		"skipped", stats.GatingSkipped,
		"cache_hits", stats.CacheHits,
		"errors", stats.Errors)
	return outcomes, stats, nil
}

func (p *Processor) audit(ctx context.Context, cls model.Classification) error {
	if err := p.store.SaveClassification(ctx, cls); err != nil {
		return fmt.Errorf("gate: audit classification: %w", err)
	}
	// Only real API calls cost money. Cached hits and degraded verdicts
	// with no model attached are free.
	if cls.Cached || cls.Model == "" {
		return nil
	}
	units := cls.InputTokens + cls.OutputTokens
	cost := float64(cls.InputTokens)*geminiInputCostPerTok + float64(cls.OutputTokens)*geminiOutputCostPerTok
	err := p.store.TrackCost(ctx, costService, costOperation, units, cost, map[string]any{
		"model":      cls.Model,
		"input_hash": cls.InputHash,
	})
	if err != nil {
		return fmt.Errorf("gate: track cost: %w", err)
	}
	return nil
}

func previousSnapshot(raw map[string]any) (map[string]any, bool) {
	m, _ := raw[model.RawKeyPreviousSnapshot].(map[string]any)
	if len(m) == 0 {
		return nil, false
	}
	return m, true
}
