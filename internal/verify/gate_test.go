package verify_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakken/internal/config"
	"github.com/ashita-ai/hakken/internal/model"
	"github.com/ashita-ai/hakken/internal/verify"
)

const testKey = "domain:acme.com"

func newGate(opts verify.Options) *verify.Gate {
	return verify.NewGate(config.DefaultScoring().Verification, opts)
}

func sig(signalType, source string, confidence float64, age time.Duration) model.Signal {
	return model.Signal{
		ID:           uuid.New(),
		SignalID:     signalType + "_" + source,
		SignalType:   signalType,
		SourceAPI:    source,
		CanonicalKey: testKey,
		Confidence:   confidence,
		DetectedAt:   time.Now().UTC().Add(-age),
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := verify.DefaultOptions()

	assert.False(t, opts.StrictMode)
	assert.Equal(t, "Source", opts.AutoPushStatus)
	assert.Equal(t, "Tracking", opts.NeedsReviewStatus)
	assert.True(t, opts.UseFounderScoring)
	assert.True(t, opts.UseVelocityScoring)
}

func TestEvaluateNoSignals(t *testing.T) {
	res := newGate(verify.DefaultOptions()).Evaluate(testKey, nil, verify.Boosts{})

	assert.Equal(t, model.DecisionReject, res.Decision)
	assert.Equal(t, model.VerificationUnverified, res.Status)
	assert.Zero(t, res.ConfidenceScore)
	assert.Equal(t, "No signals provided", res.Reason)
	assert.Empty(t, res.SignalsUsed)
	assert.False(t, res.CalculatedAt.IsZero())
}

func TestEvaluateHardKillOverridesBoosts(t *testing.T) {
	signals := []model.Signal{
		sig("github_spike", "github", 0.9, 0),
		sig("company_dissolved", "companies_house", 1.0, 0),
	}
	boosts := verify.Boosts{FounderScore: 1.0, VelocityBoost: 0.35, MomentumScore: 1.0}

	res := newGate(verify.DefaultOptions()).Evaluate(testKey, signals, boosts)

	assert.Equal(t, model.DecisionReject, res.Decision)
	assert.Equal(t, model.VerificationUnverified, res.Status)
	assert.Zero(t, res.ConfidenceScore)
	assert.Equal(t, "Hard kill signal: company_dissolved", res.Reason)
	assert.Empty(t, res.SuggestedCRMStatus)

	require.NotNil(t, res.Details)
	assert.Equal(t, true, res.Details["hard_kill"])
	assert.Equal(t, "company_dissolved", res.Details["kill_signal"])
	refs, ok := res.Details["signals"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, refs, 2)
}

func TestEvaluateHighConfidenceMultiSource(t *testing.T) {
	signals := []model.Signal{
		sig("hiring_signal", "linkedin", 1.0, 0),
		sig("funding_event", "sec_edgar", 1.0, 0),
		sig("incorporation", "companies_house", 1.0, 0),
	}

	res := newGate(verify.DefaultOptions()).Evaluate(testKey, signals, verify.Boosts{})

	assert.Equal(t, model.DecisionAutoPush, res.Decision)
	assert.Equal(t, model.VerificationMultiSource, res.Status)
	assert.Equal(t, "Source", res.SuggestedCRMStatus)
	assert.Equal(t, "High confidence (1.00) with 3 sources", res.Reason)
	assert.InDelta(t, 1.0, res.ConfidenceScore, 1e-9)

	assert.InDelta(t, 0.75, res.Breakdown.BaseScore, 1e-6)
	assert.Equal(t, 1.15, res.Breakdown.MultiSourceFactor)
	assert.Equal(t, 1.25, res.Breakdown.ConvergenceFactor)
	assert.Len(t, res.SignalsUsed, 3)
	assert.Equal(t, []string{"companies_house", "linkedin", "sec_edgar"}, res.SourcesChecked)
}

func TestEvaluateSingleSourceHighConfidence(t *testing.T) {
	signals := []model.Signal{
		sig("hiring_signal", "github", 1.0, 0),
		sig("funding_event", "github", 1.0, 0),
		sig("incorporation", "github", 1.0, 0),
	}

	res := newGate(verify.DefaultOptions()).Evaluate(testKey, signals, verify.Boosts{})

	assert.Equal(t, model.DecisionAutoPush, res.Decision)
	assert.Equal(t, model.VerificationSingleSource, res.Status)
	assert.Equal(t, "High confidence (0.94) from single authoritative source", res.Reason)
	assert.InDelta(t, 0.9375, res.ConfidenceScore, 1e-6)
}

func TestEvaluateStrictModeDowngradesSingleSource(t *testing.T) {
	opts := verify.DefaultOptions()
	opts.StrictMode = true
	signals := []model.Signal{
		sig("hiring_signal", "github", 1.0, 0),
		sig("funding_event", "github", 1.0, 0),
		sig("incorporation", "github", 1.0, 0),
	}

	res := newGate(opts).Evaluate(testKey, signals, verify.Boosts{})

	assert.Equal(t, model.DecisionNeedsReview, res.Decision)
	assert.Equal(t, "Medium confidence (0.94) - requires verification", res.Reason)
	assert.Equal(t, "Tracking", res.SuggestedCRMStatus)
}

func TestEvaluateMediumConfidence(t *testing.T) {
	signals := []model.Signal{
		sig("hiring_signal", "github", 1.0, 0),
		sig("github_activity", "github", 1.0, 0),
	}

	res := newGate(verify.DefaultOptions()).Evaluate(testKey, signals, verify.Boosts{})

	assert.Equal(t, model.DecisionNeedsReview, res.Decision)
	assert.Equal(t, "Medium confidence (0.48) - requires verification", res.Reason)
	assert.Equal(t, "Tracking", res.SuggestedCRMStatus)
	assert.InDelta(t, 0.48, res.ConfidenceScore, 1e-6)
}

func TestEvaluateLowConfidenceHolds(t *testing.T) {
	signals := []model.Signal{sig("github_spike", "github", 0.9, 0)}

	res := newGate(verify.DefaultOptions()).Evaluate(testKey, signals, verify.Boosts{})

	assert.Equal(t, model.DecisionHold, res.Decision)
	assert.Equal(t, "Low confidence (0.18) - waiting for more signals", res.Reason)
	assert.Empty(t, res.SuggestedCRMStatus)
	assert.InDelta(t, 0.18, res.ConfidenceScore, 1e-6)
}

func TestEvaluateMostRecentPerTypeWins(t *testing.T) {
	older := sig("github_spike", "github", 1.0, 2*time.Hour)
	older.SignalID = "older"
	newer := sig("github_spike", "github", 0.5, 0)
	newer.SignalID = "newer"

	res := newGate(verify.DefaultOptions()).Evaluate(testKey, []model.Signal{older, newer}, verify.Boosts{})

	require.Len(t, res.SignalsUsed, 1)
	assert.Equal(t, "newer", res.SignalsUsed[0].SignalID)
	assert.Equal(t, 0.5, res.SignalsUsed[0].Confidence)
	assert.InDelta(t, 0.10, res.SignalsUsed[0].Contribution, 1e-3)
	assert.InDelta(t, 0.10, res.Breakdown.BaseScore, 1e-3)
}

func TestEvaluateTimeDecay(t *testing.T) {
	// github_spike has a 14 day half life, so a 14 day old signal halves.
	signals := []model.Signal{sig("github_spike", "github", 1.0, 14*24*time.Hour)}

	res := newGate(verify.DefaultOptions()).Evaluate(testKey, signals, verify.Boosts{})

	require.Len(t, res.SignalsUsed, 1)
	assert.InDelta(t, 14.0, res.SignalsUsed[0].AgeDays, 0.01)
	assert.InDelta(t, 0.5, res.SignalsUsed[0].DecayFactor, 1e-3)
	assert.InDelta(t, 0.10, res.Breakdown.BaseScore, 1e-3)
}

func TestEvaluateNegativeMultiplier(t *testing.T) {
	signals := []model.Signal{
		sig("hiring_signal", "github", 1.0, 0),
		sig("github_inactive_90d", "github", 1.0, 0),
	}

	res := newGate(verify.DefaultOptions()).Evaluate(testKey, signals, verify.Boosts{})

	assert.Equal(t, model.DecisionHold, res.Decision)
	assert.Equal(t, model.VerificationSingleSource, res.Status)
	assert.InDelta(t, 0.09, res.Breakdown.BaseScore, 1e-6)
	assert.Len(t, res.SignalsUsed, 1)

	require.NotNil(t, res.Details)
	penalties, ok := res.Details["penalties"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, penalties, 1)
}

func TestEvaluateConflictingSignals(t *testing.T) {
	signals := []model.Signal{
		sig("hiring_signal", "github", 1.0, 0),
		sig("domain_dead", "whois", 1.0, 0),
	}

	res := newGate(verify.DefaultOptions()).Evaluate(testKey, signals, verify.Boosts{})

	assert.Equal(t, model.DecisionNeedsReview, res.Decision)
	assert.Equal(t, model.VerificationConflicting, res.Status)
	assert.Equal(t, "Conflicting signals detected - requires human review", res.Reason)
	assert.Equal(t, "Tracking", res.SuggestedCRMStatus)
	assert.InDelta(t, 0.033, res.ConfidenceScore, 1e-3)
}

func TestEvaluateBaseClampedBeforeFactors(t *testing.T) {
	signals := []model.Signal{
		sig("hiring_signal", "linkedin", 1.0, 0),
		sig("incorporation", "companies_house", 1.0, 0),
		sig("funding_event", "sec_edgar", 1.0, 0),
		sig("github_spike", "github", 1.0, 0),
		sig("domain_registration", "whois", 1.0, 0),
	}

	res := newGate(verify.DefaultOptions()).Evaluate(testKey, signals, verify.Boosts{})

	// Raw contributions sum to 1.10 but the base saturates at 1.0.
	assert.InDelta(t, 1.0, res.Breakdown.BaseScore, 1e-9)
	assert.Equal(t, 1.20, res.Breakdown.MultiSourceFactor)
	assert.Equal(t, 1.25, res.Breakdown.ConvergenceFactor)
	assert.InDelta(t, 1.0, res.ConfidenceScore, 1e-9)
	assert.Equal(t, model.DecisionAutoPush, res.Decision)
}

func TestEvaluateBoostsAreCapped(t *testing.T) {
	signals := []model.Signal{sig("github_spike", "github", 1.0, 0)}
	boosts := verify.Boosts{FounderScore: 1.0, VelocityBoost: 0.35, MomentumScore: 0.8}

	res := newGate(verify.DefaultOptions()).Evaluate(testKey, signals, boosts)

	assert.InDelta(t, 0.15, res.Breakdown.FounderBoost, 1e-9)
	assert.InDelta(t, 0.20, res.Breakdown.VelocityBoost, 1e-9)
	assert.Equal(t, 0.8, res.Breakdown.MomentumScore)
	assert.InDelta(t, 0.55, res.ConfidenceScore, 1e-6)
	assert.Equal(t, model.DecisionNeedsReview, res.Decision)
}

func TestEvaluateBoostsDisabled(t *testing.T) {
	opts := verify.DefaultOptions()
	opts.UseFounderScoring = false
	opts.UseVelocityScoring = false
	signals := []model.Signal{sig("github_spike", "github", 1.0, 0)}
	boosts := verify.Boosts{FounderScore: 1.0, VelocityBoost: 0.35}

	res := newGate(opts).Evaluate(testKey, signals, boosts)

	assert.Zero(t, res.Breakdown.FounderBoost)
	assert.Zero(t, res.Breakdown.VelocityBoost)
	assert.InDelta(t, 0.20, res.ConfidenceScore, 1e-6)
	assert.Equal(t, model.DecisionHold, res.Decision)
}

func TestEvaluateUnknownTypeUsesDefaultWeight(t *testing.T) {
	signals := []model.Signal{sig("mystery_signal", "github", 1.0, 0)}

	res := newGate(verify.DefaultOptions()).Evaluate(testKey, signals, verify.Boosts{})

	require.Len(t, res.SignalsUsed, 1)
	assert.Equal(t, 0.05, res.SignalsUsed[0].Weight)
	assert.InDelta(t, 0.05, res.Breakdown.BaseScore, 1e-6)
}
