package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakken/internal/model"
	"github.com/ashita-ai/hakken/internal/storage"
)

func testOutboxEntry(key string) model.OutboxEntry {
	return model.OutboxEntry{
		CanonicalKey: key,
		Payload: model.ProspectPayload{
			CanonicalKey:    key,
			CompanyName:     "Outbox Co",
			Stage:           model.StagePreSeed,
			Status:          model.StatusSource,
			ConfidenceScore: 0.8,
		},
		SignalIDs: []uuid.UUID{uuid.New()},
	}
}

func TestOutboxEnqueueAndClaim(t *testing.T) {
	ctx := context.Background()

	entry, err := testDB.EnqueueOutbox(ctx, testOutboxEntry("domain:outbox-claim.io"))
	require.NoError(t, err)
	assert.Equal(t, model.OutboxPending, entry.Status)
	assert.Equal(t, 0, entry.Attempts)

	claimed, err := testDB.ClaimPendingOutbox(ctx, 100)
	require.NoError(t, err)

	var mine *model.OutboxEntry
	for i := range claimed {
		if claimed[i].ID == entry.ID {
			mine = &claimed[i]
		}
	}
	require.NotNil(t, mine)
	assert.Equal(t, "domain:outbox-claim.io", mine.Payload.CanonicalKey)
	assert.Len(t, mine.SignalIDs, 1)

	// The row is locked; a second claim must not hand it out again.
	claimedAgain, err := testDB.ClaimPendingOutbox(ctx, 100)
	require.NoError(t, err)
	for _, e := range claimedAgain {
		assert.NotEqual(t, entry.ID, e.ID)
	}
}

func TestOutboxSent(t *testing.T) {
	ctx := context.Background()

	entry, err := testDB.EnqueueOutbox(ctx, testOutboxEntry("domain:outbox-sent.io"))
	require.NoError(t, err)

	require.NoError(t, testDB.MarkOutboxSent(ctx, entry.ID))

	got, err := testDB.GetOutboxEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxSent, got.Status)
	assert.NotNil(t, got.SentAt)
	assert.Nil(t, got.LastError)
}

func TestOutboxFailureBackoff(t *testing.T) {
	ctx := context.Background()

	entry, err := testDB.EnqueueOutbox(ctx, testOutboxEntry("domain:outbox-retry.io"))
	require.NoError(t, err)

	require.NoError(t, testDB.MarkOutboxFailed(ctx, entry.ID, "notion: 502"))

	got, err := testDB.GetOutboxEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "notion: 502", *got.LastError)
	// First retry waits at least the 5s base.
	assert.True(t, got.NextAttemptAt.After(time.Now().UTC().Add(4*time.Second)))

	// Not due yet, so not claimable.
	claimed, err := testDB.ClaimPendingOutbox(ctx, 100)
	require.NoError(t, err)
	for _, e := range claimed {
		assert.NotEqual(t, entry.ID, e.ID)
	}
}

func TestOutboxDeadAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()

	seed := testOutboxEntry("domain:outbox-dead.io")
	seed.Attempts = 9
	entry, err := testDB.EnqueueOutbox(ctx, seed)
	require.NoError(t, err)

	require.NoError(t, testDB.MarkOutboxFailed(ctx, entry.ID, "notion: schema mismatch"))

	got, err := testDB.GetOutboxEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxDead, got.Status)
	assert.Equal(t, 10, got.Attempts)
}

func TestSweepOutboxDeletesOldDeadRows(t *testing.T) {
	ctx := context.Background()

	old := testOutboxEntry("domain:outbox-ancient.io")
	old.Status = model.OutboxDead
	old.CreatedAt = time.Now().UTC().Add(-8 * 24 * time.Hour)
	entry, err := testDB.EnqueueOutbox(ctx, old)
	require.NoError(t, err)

	fresh := testOutboxEntry("domain:outbox-fresh-dead.io")
	fresh.Status = model.OutboxDead
	freshEntry, err := testDB.EnqueueOutbox(ctx, fresh)
	require.NoError(t, err)

	deleted, err := testDB.SweepOutbox(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(1))

	_, err = testDB.GetOutboxEntry(ctx, entry.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Recent dead rows stay for inspection.
	kept, err := testDB.GetOutboxEntry(ctx, freshEntry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxDead, kept.Status)
}

func TestCountPendingOutbox(t *testing.T) {
	ctx := context.Background()

	before, err := testDB.CountPendingOutbox(ctx)
	require.NoError(t, err)

	_, err = testDB.EnqueueOutbox(ctx, testOutboxEntry("domain:outbox-count.io"))
	require.NoError(t, err)

	after, err := testDB.CountPendingOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)
}
