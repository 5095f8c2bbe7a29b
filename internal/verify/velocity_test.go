package verify_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/hakken/internal/config"
	"github.com/ashita-ai/hakken/internal/model"
	"github.com/ashita-ai/hakken/internal/verify"
)

func newTracker() *verify.Tracker {
	return verify.NewTracker(config.DefaultScoring().Velocity)
}

func TestMetricsEmpty(t *testing.T) {
	m := newTracker().Metrics(nil)

	assert.Zero(t, m.Signals7d)
	assert.Zero(t, m.BoostApplied)
	assert.Zero(t, m.MomentumScore)
	assert.False(t, m.Accelerating)
	assert.False(t, m.RecentBurst)
}

func TestMetricsWindowCounts(t *testing.T) {
	signals := []model.Signal{
		sig("github_spike", "github", 0.8, time.Hour),
		sig("product_hunt_launch", "product_hunt", 0.7, 30*time.Hour),
		sig("hiring_signal", "linkedin", 0.9, 72*time.Hour),
		sig("incorporation", "companies_house", 0.9, 10*24*time.Hour),
		sig("funding_event", "sec_edgar", 0.8, 40*24*time.Hour),
	}

	m := newTracker().Metrics(signals)

	assert.Equal(t, 1, m.Signals24h)
	assert.Equal(t, 2, m.Signals48h)
	assert.Equal(t, 3, m.Signals7d)
	assert.Equal(t, 4, m.Signals30d)
	assert.Equal(t, 3, m.UniqueTypes)
	assert.Equal(t, 3, m.UniqueAPIs)

	assert.InDelta(t, 3.0/7, m.Velocity7d, 1e-6)
	assert.InDelta(t, 4.0/30, m.Velocity30d, 1e-6)
	assert.InDelta(t, 3.214, m.Acceleration, 1e-3)
	assert.True(t, m.Accelerating)

	assert.True(t, m.RecentBurst)
	assert.True(t, m.TypeSpread)
	assert.True(t, m.SourceSpread)

	// 0.10 burst + 0.15 types + 0.10 sources + 0.05 acceleration, capped.
	assert.InDelta(t, 0.35, m.BoostApplied, 1e-9)
	assert.InDelta(t, 0.8, m.MomentumScore, 1e-9)
}

func TestMetricsSingleSignal(t *testing.T) {
	signals := []model.Signal{sig("github_spike", "github", 0.8, time.Hour)}

	m := newTracker().Metrics(signals)

	assert.Equal(t, 1, m.Signals24h)
	assert.False(t, m.RecentBurst)
	assert.False(t, m.TypeSpread)
	assert.False(t, m.SourceSpread)
	assert.True(t, m.Accelerating)
	assert.InDelta(t, 0.05, m.BoostApplied, 1e-9)
	assert.InDelta(t, 0.3, m.MomentumScore, 1e-9)
}

func TestMetricsOldBurstNotRecent(t *testing.T) {
	signals := []model.Signal{
		sig("github_spike", "github", 0.8, 10*24*time.Hour+3*time.Hour),
		sig("github_spike", "github", 0.8, 10*24*time.Hour),
	}

	m := newTracker().Metrics(signals)

	assert.Zero(t, m.Signals7d)
	assert.Equal(t, 2, m.Signals30d)
	assert.False(t, m.RecentBurst)
	assert.False(t, m.Accelerating)
	assert.Zero(t, m.BoostApplied)
	assert.Zero(t, m.MomentumScore)
}

func TestMetricsNoHistoryInsideTrendWindow(t *testing.T) {
	signals := []model.Signal{
		sig("github_spike", "github", 0.8, 41*24*time.Hour),
		sig("hiring_signal", "linkedin", 0.9, 40*24*time.Hour),
	}

	m := newTracker().Metrics(signals)

	assert.Zero(t, m.Signals30d)
	assert.Zero(t, m.Acceleration)
	assert.False(t, m.Accelerating)
	assert.Zero(t, m.BoostApplied)
}

func TestMetricsSourceSpreadWithoutBurst(t *testing.T) {
	signals := []model.Signal{
		sig("github_spike", "github", 0.8, 20*time.Hour),
		sig("github_spike", "product_hunt", 0.7, 5*24*time.Hour),
	}

	m := newTracker().Metrics(signals)

	assert.False(t, m.RecentBurst)
	assert.False(t, m.TypeSpread)
	assert.True(t, m.SourceSpread)
	assert.True(t, m.Accelerating)
	assert.InDelta(t, 0.15, m.BoostApplied, 1e-9)
	assert.InDelta(t, 0.4, m.MomentumScore, 1e-9)
}
