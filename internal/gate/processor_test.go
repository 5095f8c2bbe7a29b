package gate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakken/internal/config"
	"github.com/ashita-ai/hakken/internal/gate"
	"github.com/ashita-ai/hakken/internal/model"
)

func ptr(s string) *string { return &s }

type fakeCost struct {
	service   string
	operation string
	units     int
	costUSD   float64
}

// fakeStore satisfies gate.Store without a database.
type fakeStore struct {
	pending       []model.Signal
	gotLimit      int
	gotSignalType string
	saved         []model.Classification
	costs         []fakeCost
	saveErr       error
}

func (f *fakeStore) GetPendingSignals(_ context.Context, limit int, signalType string) ([]model.Signal, error) {
	f.gotLimit = limit
	f.gotSignalType = signalType
	return f.pending, nil
}

func (f *fakeStore) SaveClassification(_ context.Context, c model.Classification) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, c)
	return nil
}

func (f *fakeStore) TrackCost(_ context.Context, service, operation string, units int, costUSD float64, _ map[string]any) error {
	f.costs = append(f.costs, fakeCost{service: service, operation: operation, units: units, costUSD: costUSD})
	return nil
}

func gatingSignal(prev, current map[string]any) model.Signal {
	raw := make(map[string]any, len(current)+1)
	for k, v := range current {
		raw[k] = v
	}
	if prev != nil {
		raw[model.RawKeyPreviousSnapshot] = prev
	}
	return model.Signal{
		ID:           uuid.New(),
		SignalType:   "description_change",
		SourceAPI:    "github",
		CanonicalKey: "github.com/acme/widget",
		CompanyName:  ptr("Acme"),
		Confidence:   0.6,
		RawData:      raw,
	}
}

func newProcessor(backend *stubBackend, store gate.Store, dryRun bool) *gate.Processor {
	trigger := gate.NewTrigger(config.DefaultScoring().Gating)
	classifier := gate.NewClassifier(backend, nil, 0.7, testLogger())
	return gate.NewProcessor(trigger, classifier, store, dryRun, testLogger())
}

func TestProcessSignalNoPreviousSnapshot(t *testing.T) {
	backend := &stubBackend{}
	p := newProcessor(backend, nil, false)

	out, err := p.ProcessSignal(context.Background(), gatingSignal(nil, map[string]any{"description": "fresh"}))
	require.NoError(t, err)

	assert.True(t, out.Skipped)
	assert.Equal(t, "no_previous_snapshot", out.SkipReason)
	assert.False(t, out.Triggered)
	assert.Nil(t, out.Classification)
	assert.Zero(t, backend.callCount())
}

func TestProcessSignalNotTriggered(t *testing.T) {
	backend := &stubBackend{}
	p := newProcessor(backend, nil, false)

	out, err := p.ProcessSignal(context.Background(), gatingSignal(
		map[string]any{"description": "A fitness tracking app"},
		map[string]any{"description": "A fitness tracking application"},
	))
	require.NoError(t, err)

	assert.False(t, out.Triggered)
	assert.False(t, out.Skipped)
	assert.Nil(t, out.Classification)
	assert.Zero(t, backend.callCount(), "classifier must not run when the gate does not fire")
}

func TestProcessSignalTriggeredAndClassified(t *testing.T) {
	backend := &stubBackend{reply: replyWith(
		`{"schema_version": "v1", "label": "pivot", "confidence": 0.9, "rationale": "model change"}`,
	)}
	store := &fakeStore{}
	p := newProcessor(backend, store, false)

	out, err := p.ProcessSignal(context.Background(), gatingSignal(
		map[string]any{"description": "Social network for pets"},
		map[string]any{"description": "Enterprise logistics optimization platform"},
	))
	require.NoError(t, err)

	assert.True(t, out.Triggered)
	require.NotNil(t, out.Classification)
	assert.Equal(t, model.LabelPivot, out.Classification.Label)
	assert.True(t, out.Actionable())

	require.Len(t, store.saved, 1)
	assert.Equal(t, model.LabelPivot, store.saved[0].Label)
	require.Len(t, store.costs, 1)
	assert.Equal(t, "gemini", store.costs[0].service)
	assert.Equal(t, "classify", store.costs[0].operation)
	assert.Equal(t, 160, store.costs[0].units)
	assert.Greater(t, store.costs[0].costUSD, 0.0)
}

func TestProcessSignalAuditFailure(t *testing.T) {
	backend := &stubBackend{reply: replyWith(
		`{"label": "pivot", "confidence": 0.9, "rationale": "model change"}`,
	)}
	store := &fakeStore{saveErr: errors.New("connection reset")}
	p := newProcessor(backend, store, false)

	_, err := p.ProcessSignal(context.Background(), gatingSignal(
		map[string]any{"description": "aaaa"},
		map[string]any{"description": "bbbb"},
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit classification")
}

func TestProcessBatchStats(t *testing.T) {
	backend := &stubBackend{reply: replyWith(
		`{"label": "pivot", "confidence": 0.9, "rationale": "model change"}`,
	)}
	p := newProcessor(backend, nil, false)

	signals := []model.Signal{
		gatingSignal(nil, map[string]any{"description": "first sighting"}),
		gatingSignal(
			map[string]any{"description": "A fitness tracking app"},
			map[string]any{"description": "A fitness tracking application"},
		),
		gatingSignal(
			map[string]any{"description": "aaaa"},
			map[string]any{"description": "bbbb"},
		),
	}

	outcomes, stats := p.ProcessBatch(context.Background(), signals)

	require.Len(t, outcomes, 3)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 1, stats.GatingSkipped)
	assert.Equal(t, 1, stats.NotTriggered)
	assert.Equal(t, 1, stats.Triggered)
	assert.Equal(t, 1, stats.LLMCalls)
	assert.Zero(t, stats.CacheHits)
	assert.Zero(t, stats.Errors)
	assert.Equal(t, map[model.ClassificationLabel]int{model.LabelPivot: 1}, stats.LabelCounts)
	assert.GreaterOrEqual(t, stats.DurationMillis, int64(0))
}

func TestProcessBatchCountsCacheHits(t *testing.T) {
	cache, _ := openTestCache(t)
	backend := &stubBackend{reply: replyWith(
		`{"label": "expansion", "confidence": 0.85, "rationale": "new market"}`,
	)}
	trigger := gate.NewTrigger(config.DefaultScoring().Gating)
	classifier := gate.NewClassifier(backend, cache, 0.7, testLogger())
	store := &fakeStore{}
	p := gate.NewProcessor(trigger, classifier, store, false, testLogger())

	pair := func() model.Signal {
		return gatingSignal(
			map[string]any{"description": "aaaa"},
			map[string]any{"description": "bbbb"},
		)
	}
	_, stats := p.ProcessBatch(context.Background(), []model.Signal{pair(), pair()})

	assert.Equal(t, 2, stats.Triggered)
	assert.Equal(t, 1, stats.LLMCalls)
	assert.Equal(t, 1, stats.CacheHits)
	assert.Equal(t, 1, backend.callCount())

	// Both verdicts audited, only the real call tracked as spend.
	assert.Len(t, store.saved, 2)
	assert.Len(t, store.costs, 1)
}

func TestProcessBatchCountsErrors(t *testing.T) {
	backend := &stubBackend{reply: replyWith(
		`{"label": "pivot", "confidence": 0.9, "rationale": "model change"}`,
	)}
	store := &fakeStore{saveErr: errors.New("connection reset")}
	p := newProcessor(backend, store, false)

	outcomes, stats := p.ProcessBatch(context.Background(), []model.Signal{
		gatingSignal(
			map[string]any{"description": "aaaa"},
			map[string]any{"description": "bbbb"},
		),
	})

	assert.Empty(t, outcomes)
	assert.Equal(t, 1, stats.Errors)
	assert.Zero(t, stats.Triggered)
}

func TestProcessPending(t *testing.T) {
	backend := &stubBackend{reply: replyWith(
		`{"label": "minor", "confidence": 0.9, "rationale": "wording"}`,
	)}
	store := &fakeStore{pending: []model.Signal{
		gatingSignal(nil, map[string]any{"description": "fresh"}),
		gatingSignal(
			map[string]any{"description": "aaaa"},
			map[string]any{"description": "bbbb"},
		),
	}}
	p := newProcessor(backend, store, false)

	outcomes, stats, err := p.ProcessPending(context.Background(), 25, "description_change")
	require.NoError(t, err)

	assert.Equal(t, 25, store.gotLimit)
	assert.Equal(t, "description_change", store.gotSignalType)
	assert.Len(t, outcomes, 2)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.GatingSkipped)
	assert.Equal(t, 1, stats.Triggered)
}

func TestProcessPendingEmpty(t *testing.T) {
	store := &fakeStore{}
	p := newProcessor(&stubBackend{}, store, false)

	outcomes, stats, err := p.ProcessPending(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.Zero(t, stats.Processed)
}

func TestProcessorDryRun(t *testing.T) {
	backend := &stubBackend{}
	p := newProcessor(backend, nil, true)

	outcomes, stats := p.ProcessBatch(context.Background(), []model.Signal{
		gatingSignal(
			map[string]any{"description": "aaaa"},
			map[string]any{"description": "bbbb"},
		),
	})

	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Triggered)
	assert.Nil(t, outcomes[0].Classification)
	assert.False(t, outcomes[0].Actionable())
	assert.Zero(t, backend.callCount())
	// Dry run still reports what a real run would spend.
	assert.Equal(t, 1, stats.LLMCalls)
	assert.Equal(t, 1, stats.Triggered)
}

func TestOutcomeActionable(t *testing.T) {
	assert.False(t, gate.Outcome{}.Actionable())
	assert.False(t, gate.Outcome{Classification: &model.Classification{Label: model.LabelMinor}}.Actionable())
	assert.True(t, gate.Outcome{Classification: &model.Classification{Label: model.LabelExpansion}}.Actionable())
}
