package collect_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakken/internal/collect"
	"github.com/ashita-ai/hakken/internal/model"
	"github.com/ashita-ai/hakken/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore implements the slice of storage the runner needs.
type fakeStore struct {
	mu         sync.Mutex
	duplicates map[string]bool
	suppressed map[string]bool
	checkErr   error
	saveErr    error
	startErr   error
	saved      []model.Signal
	completed  []model.CollectorResult
	runID      uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		duplicates: map[string]bool{},
		suppressed: map[string]bool{},
		runID:      uuid.New(),
	}
}

func (f *fakeStore) SaveSignal(_ context.Context, s model.Signal) (model.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return model.Signal{}, f.saveErr
	}
	f.saved = append(f.saved, s)
	return s, nil
}

func (f *fakeStore) IsDuplicate(_ context.Context, canonicalKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkErr != nil {
		return false, f.checkErr
	}
	return f.duplicates[canonicalKey], nil
}

func (f *fakeStore) CheckSuppression(_ context.Context, canonicalKey string) (*model.SuppressionEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.suppressed[canonicalKey] {
		return &model.SuppressionEntry{CanonicalKey: canonicalKey, NotionPageID: "page1"}, nil
	}
	return nil, nil
}

func (f *fakeStore) StartCollectorRun(_ context.Context, _ *uuid.UUID, _ string) (uuid.UUID, error) {
	if f.startErr != nil {
		return uuid.Nil, f.startErr
	}
	return f.runID, nil
}

func (f *fakeStore) CompleteCollectorRun(_ context.Context, _ uuid.UUID, result model.CollectorResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, result)
	return nil
}

// stubAdapter returns canned signals without touching the network.
type stubAdapter struct {
	name     string
	signals  []model.Signal
	err      error
	requests int
}

func (a stubAdapter) Name() string    { return a.name }
func (a stubAdapter) APIName() string { return a.name }

func (a stubAdapter) Collect(context.Context) ([]model.Signal, error) {
	return a.signals, a.err
}

func (a stubAdapter) RequestCount() int { return a.requests }

func testSignal(id, key string) model.Signal {
	return model.Signal{
		SignalID:     id,
		SignalType:   "launch",
		SourceAPI:    "stub",
		SourceID:     id,
		CanonicalKey: key,
		Confidence:   0.7,
		DetectedAt:   time.Now().UTC(),
	}
}

func TestRunner_StoresNewSignals(t *testing.T) {
	store := newFakeStore()
	runner := collect.NewRunner(store, testLogger())
	adapter := stubAdapter{name: "stub", requests: 4, signals: []model.Signal{
		testSignal("s1", "domain:acme.ai"),
		testSignal("s2", "domain:other.io"),
	}}

	result := runner.Run(context.Background(), adapter, collect.RunOptions{})

	assert.Equal(t, model.CollectorSuccess, result.Status)
	assert.Equal(t, 2, result.SignalsCollected)
	assert.Equal(t, 2, result.SignalsStored)
	assert.Equal(t, 0, result.Deduplicated)
	assert.Equal(t, 4, result.APIRequests)
	assert.Empty(t, result.Errors)
	assert.False(t, result.FinishedAt.Before(result.StartedAt))

	assert.Len(t, store.saved, 2)
	require.Len(t, store.completed, 1)
	assert.Equal(t, model.CollectorSuccess, store.completed[0].Status)
}

func TestRunner_DeduplicatesWithinBatch(t *testing.T) {
	store := newFakeStore()
	runner := collect.NewRunner(store, testLogger())
	adapter := stubAdapter{name: "stub", signals: []model.Signal{
		testSignal("s1", "domain:acme.ai"),
		testSignal("s2", "domain:acme.ai"),
	}}

	result := runner.Run(context.Background(), adapter, collect.RunOptions{})

	assert.Equal(t, model.CollectorSuccess, result.Status)
	assert.Equal(t, 1, result.SignalsStored)
	assert.Equal(t, 1, result.Deduplicated)
	assert.Len(t, store.saved, 1)
}

func TestRunner_SkipsKnownKeys(t *testing.T) {
	store := newFakeStore()
	store.duplicates["domain:acme.ai"] = true
	store.suppressed["domain:other.io"] = true
	runner := collect.NewRunner(store, testLogger())
	adapter := stubAdapter{name: "stub", signals: []model.Signal{
		testSignal("s1", "domain:acme.ai"),
		testSignal("s2", "domain:other.io"),
		testSignal("s3", "domain:fresh.dev"),
	}}

	result := runner.Run(context.Background(), adapter, collect.RunOptions{})

	assert.Equal(t, model.CollectorSuccess, result.Status)
	assert.Equal(t, 1, result.SignalsStored)
	assert.Equal(t, 2, result.Deduplicated)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "s3", store.saved[0].SignalID)
}

func TestRunner_DryRunPersistsNothing(t *testing.T) {
	store := newFakeStore()
	store.duplicates["domain:acme.ai"] = true
	runner := collect.NewRunner(store, testLogger())
	adapter := stubAdapter{name: "stub", signals: []model.Signal{
		testSignal("s1", "domain:acme.ai"),
		testSignal("s2", "domain:other.io"),
	}}

	result := runner.Run(context.Background(), adapter, collect.RunOptions{DryRun: true})

	assert.Equal(t, model.CollectorDryRun, result.Status)
	assert.Equal(t, 1, result.SignalsStored, "dry run still reports what would be stored")
	assert.Equal(t, 1, result.Deduplicated)
	assert.Empty(t, store.saved)
}

func TestRunner_CollectFailure(t *testing.T) {
	store := newFakeStore()
	runner := collect.NewRunner(store, testLogger())
	adapter := stubAdapter{name: "stub", err: errors.New("upstream down")}

	result := runner.Run(context.Background(), adapter, collect.RunOptions{})

	assert.Equal(t, model.CollectorError, result.Status)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "upstream down")
	assert.Zero(t, result.SignalsStored)

	// The run record still closes so the failure is visible in history.
	require.Len(t, store.completed, 1)
	assert.Equal(t, model.CollectorError, store.completed[0].Status)
}

func TestRunner_SaveFailuresArePartial(t *testing.T) {
	store := newFakeStore()
	store.saveErr = errors.New("connection reset")
	runner := collect.NewRunner(store, testLogger())
	adapter := stubAdapter{name: "stub", signals: []model.Signal{testSignal("s1", "domain:acme.ai")}}

	result := runner.Run(context.Background(), adapter, collect.RunOptions{})

	assert.Equal(t, model.CollectorPartialSuccess, result.Status)
	assert.Zero(t, result.SignalsStored)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "save domain:acme.ai")
}

func TestRunner_ErrorListCapped(t *testing.T) {
	store := newFakeStore()
	store.saveErr = errors.New("connection reset")
	runner := collect.NewRunner(store, testLogger())

	var signals []model.Signal
	for i := range 20 {
		signals = append(signals, testSignal(fmt.Sprintf("s%d", i), fmt.Sprintf("domain:a%d.io", i)))
	}
	adapter := stubAdapter{name: "stub", signals: signals}

	result := runner.Run(context.Background(), adapter, collect.RunOptions{})

	assert.Equal(t, model.CollectorPartialSuccess, result.Status)
	assert.Len(t, result.Errors, 5, "error list is capped, the count columns carry the rest")
}

func TestRunner_InsertRaceCountsAsDuplicate(t *testing.T) {
	store := newFakeStore()
	store.saveErr = fmt.Errorf("save: %w", storage.ErrDuplicate)
	runner := collect.NewRunner(store, testLogger())
	adapter := stubAdapter{name: "stub", signals: []model.Signal{testSignal("s1", "domain:acme.ai")}}

	result := runner.Run(context.Background(), adapter, collect.RunOptions{})

	assert.Equal(t, model.CollectorSuccess, result.Status)
	assert.Equal(t, 1, result.Deduplicated)
	assert.Empty(t, result.Errors)
}

func TestRunner_CheckFailure(t *testing.T) {
	store := newFakeStore()
	store.checkErr = errors.New("connection refused")
	runner := collect.NewRunner(store, testLogger())
	adapter := stubAdapter{name: "stub", signals: []model.Signal{testSignal("s1", "domain:acme.ai")}}

	result := runner.Run(context.Background(), adapter, collect.RunOptions{})
	assert.Equal(t, model.CollectorPartialSuccess, result.Status)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "check domain:acme.ai")

	// A dry run has nothing to lose, so it assumes the signal is new.
	dry := runner.Run(context.Background(), adapter, collect.RunOptions{DryRun: true})
	assert.Equal(t, model.CollectorDryRun, dry.Status)
	assert.Equal(t, 1, dry.SignalsStored)
	assert.Empty(t, dry.Errors)
}

func TestRunner_NilStore(t *testing.T) {
	runner := collect.NewRunner(nil, testLogger())
	adapter := stubAdapter{name: "stub", signals: []model.Signal{
		testSignal("s1", "domain:acme.ai"),
		testSignal("s2", "domain:acme.ai"),
	}}

	result := runner.Run(context.Background(), adapter, collect.RunOptions{})

	assert.Equal(t, model.CollectorSuccess, result.Status)
	assert.Equal(t, 1, result.SignalsStored)
	assert.Equal(t, 1, result.Deduplicated, "in-batch dedup works without a store")
}

func TestRunner_RunRecordFailureIsNotFatal(t *testing.T) {
	store := newFakeStore()
	store.startErr = errors.New("connection refused")
	runner := collect.NewRunner(store, testLogger())
	adapter := stubAdapter{name: "stub", signals: []model.Signal{testSignal("s1", "domain:acme.ai")}}

	result := runner.Run(context.Background(), adapter, collect.RunOptions{})

	assert.Equal(t, model.CollectorSuccess, result.Status)
	assert.Equal(t, 1, result.SignalsStored)
	assert.Empty(t, store.completed, "no record was opened, none is closed")
}

func TestRegistry(t *testing.T) {
	r := collect.NewRegistry()
	r.Register("stub", func(env collect.Env) (collect.Adapter, error) {
		return stubAdapter{name: "stub"}, nil
	})

	a, err := r.Build("stub", collect.Env{Logger: testLogger()})
	require.NoError(t, err)
	assert.Equal(t, "stub", a.Name())

	_, err = r.Build("nope", collect.Env{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown collector "nope"`)
}

func TestDefaultRegistry(t *testing.T) {
	r := collect.DefaultRegistry()

	assert.Equal(t, []string{
		"companies_house", "domain_whois", "github",
		"hacker_news", "product_hunt", "sec_edgar",
	}, r.Names())

	// Credential-free adapters build from an empty environment.
	for _, name := range []string{"hacker_news", "product_hunt", "sec_edgar", "domain_whois"} {
		a, err := r.Build(name, collect.Env{Logger: testLogger()})
		require.NoError(t, err, name)
		assert.Equal(t, name, a.Name())
	}

	// Credentialed ones refuse to build without their keys.
	for _, name := range []string{"github", "companies_house"} {
		_, err := r.Build(name, collect.Env{Logger: testLogger()})
		require.Error(t, err, name)
	}
}
