package gate_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakken/internal/gate"
	"github.com/ashita-ai/hakken/internal/model"
)

func openTestCache(t *testing.T) (*gate.Cache, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "classifier_cache.db")
	c, err := gate.OpenCache(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, path
}

func TestCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := openTestCache(t)

	cls := model.Classification{
		SchemaVersion: gate.SchemaVersion,
		Label:         model.LabelPivot,
		Confidence:    0.91,
		Rationale:     "B2C to B2B shift",
		InputHash:     gate.InputHash("old", "new"),
	}
	require.NoError(t, c.Put(ctx, cls))

	got, ok, err := c.Get(ctx, cls.InputHash, gate.SchemaVersion)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.LabelPivot, got.Label)
	assert.InDelta(t, 0.91, got.Confidence, 1e-9)
	assert.Equal(t, "B2C to B2B shift", got.Rationale)
	assert.True(t, got.Cached)

	_, ok, err = c.Get(ctx, gate.InputHash("other", "pair"), gate.SchemaVersion)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheSchemaVersionFilter(t *testing.T) {
	ctx := context.Background()
	c, _ := openTestCache(t)

	cls := model.Classification{
		SchemaVersion: "v0",
		Label:         model.LabelMinor,
		Confidence:    0.8,
		Rationale:     "old contract",
		InputHash:     gate.InputHash("a", "b"),
	}
	require.NoError(t, c.Put(ctx, cls))

	_, ok, err := c.Get(ctx, cls.InputHash, gate.SchemaVersion)
	require.NoError(t, err)
	assert.False(t, ok)

	// Still counted: Size spans schema versions.
	n, err := c.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCachePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "classifier_cache.db")

	first, err := gate.OpenCache(path)
	require.NoError(t, err)
	cls := model.Classification{
		SchemaVersion: gate.SchemaVersion,
		Label:         model.LabelExpansion,
		Confidence:    0.85,
		Rationale:     "new market",
		InputHash:     gate.InputHash("before", "after"),
	}
	require.NoError(t, first.Put(ctx, cls))
	require.NoError(t, first.Close())

	second, err := gate.OpenCache(path)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	got, ok, err := second.Get(ctx, cls.InputHash, gate.SchemaVersion)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.LabelExpansion, got.Label)
}

func TestCacheReplaceAndClear(t *testing.T) {
	ctx := context.Background()
	c, _ := openTestCache(t)

	hash := gate.InputHash("x", "y")
	require.NoError(t, c.Put(ctx, model.Classification{
		SchemaVersion: gate.SchemaVersion, Label: model.LabelMinor, Confidence: 0.9, Rationale: "v1", InputHash: hash,
	}))
	require.NoError(t, c.Put(ctx, model.Classification{
		SchemaVersion: gate.SchemaVersion, Label: model.LabelRebrand, Confidence: 0.95, Rationale: "v2", InputHash: hash,
	}))

	got, ok, err := c.Get(ctx, hash, gate.SchemaVersion)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.LabelRebrand, got.Label)

	n, err := c.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, c.Clear(ctx))
	n, err = c.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
