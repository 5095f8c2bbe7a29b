// Package verify scores the grouped signals for one lead and decides whether
// the evidence is strong enough to push to the CRM.
//
// The score sums one weighted, time-decayed contribution per signal type,
// multiplies in multi-source and type-convergence factors, and adds bounded
// founder and velocity boosts. Hard-kill signal types short-circuit everything
// to a zero-confidence reject.
package verify

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/ashita-ai/hakken/internal/config"
	"github.com/ashita-ai/hakken/internal/model"
)

// calculationMethod tags results so stored scores can be recomputed when the
// formula changes.
const calculationMethod = "weighted_decay_v2"

// strongNegatives contradict alive evidence hard enough to force human review
// even when they are not configured as hard kills.
var strongNegatives = map[string]bool{
	"company_dissolved": true,
	"domain_dead":       true,
}

// Options control routing behavior, not scoring. Scoring knobs live in
// config.VerificationConfig.
type Options struct {
	// StrictMode downgrades high-confidence single-source groups to review.
	StrictMode bool

	// CRM statuses suggested alongside auto_push and needs_review decisions.
	AutoPushStatus    string
	NeedsReviewStatus string

	UseFounderScoring  bool
	UseVelocityScoring bool
}

// DefaultOptions returns the routing defaults used by the pipeline.
func DefaultOptions() Options {
	return Options{
		AutoPushStatus:     "Source",
		NeedsReviewStatus:  "Tracking",
		UseFounderScoring:  true,
		UseVelocityScoring: true,
	}
}

// Boosts carries externally computed enrichment scores into the gate.
// FounderScore and MomentumScore are in [0, 1]; VelocityBoost is the
// pre-computed boost from the velocity tracker.
type Boosts struct {
	FounderScore  float64
	VelocityBoost float64
	MomentumScore float64
}

// Gate evaluates signal groups. It is pure computation and safe for
// concurrent use.
type Gate struct {
	cfg      config.VerificationConfig
	opts     Options
	hardKill map[string]bool
}

// NewGate returns a gate using the given scoring config and routing options.
func NewGate(cfg config.VerificationConfig, opts Options) *Gate {
	kill := make(map[string]bool, len(cfg.HardKillSignals))
	for _, t := range cfg.HardKillSignals {
		kill[t] = true
	}
	return &Gate{cfg: cfg, opts: opts, hardKill: kill}
}

// Evaluate scores the signals for one canonical key and returns the push
// decision with a full audit trail. It never fails: thin or contradictory
// evidence is a data outcome, not an error.
func (g *Gate) Evaluate(canonicalKey string, signals []model.Signal, ext Boosts) model.VerificationResult {
	now := time.Now().UTC()

	if len(signals) == 0 {
		return model.VerificationResult{
			CanonicalKey:      canonicalKey,
			Decision:          model.DecisionReject,
			Status:            model.VerificationUnverified,
			Reason:            "No signals provided",
			CalculatedAt:      now,
			CalculationMethod: calculationMethod,
		}
	}

	// Hard kill before any scoring. No boost can override this.
	for _, s := range signals {
		if g.hardKill[s.SignalType] {
			return model.VerificationResult{
				CanonicalKey:    canonicalKey,
				Decision:        model.DecisionReject,
				Status:          model.VerificationUnverified,
				ConfidenceScore: 0,
				Reason:          fmt.Sprintf("Hard kill signal: %s", s.SignalType),
				Details: map[string]any{
					"hard_kill":   true,
					"kill_signal": s.SignalType,
					"signals":     signalRefs(signals),
				},
				CalculatedAt:      now,
				CalculationMethod: calculationMethod,
			}
		}
	}

	used, base := g.positiveContributions(signals, now)
	distinctTypes := len(used)

	// Clamp the base before boosts so stacked raw contributions cannot
	// launder extra headroom through the multipliers.
	if base > 1 {
		base = 1
	}

	penalties := make([]map[string]any, 0)
	for _, s := range signals {
		mult, neg := g.cfg.NegativeMultipliers[s.SignalType]
		if !neg {
			continue
		}
		base *= mult
		penalties = append(penalties, map[string]any{
			"signal_id":   signalRef(s),
			"signal_type": s.SignalType,
			"source":      s.SourceAPI,
			"multiplier":  mult,
		})
	}

	sources := distinctSources(signals)

	multiSource := 1.0
	switch {
	case len(sources) >= 4:
		multiSource = 1.20
	case len(sources) == 3:
		multiSource = 1.15
	case len(sources) == 2:
		multiSource = 1.10
	}

	convergence := 1.0
	if distinctTypes >= 3 {
		convergence = 1.25
	}

	score := base * multiSource * convergence

	founderBoost := 0.0
	if g.opts.UseFounderScoring && ext.FounderScore > 0 {
		founderBoost = math.Min(ext.FounderScore*g.cfg.FounderBoostMax, g.cfg.FounderBoostMax)
	}

	velocityBoost := 0.0
	if g.opts.UseVelocityScoring && ext.VelocityBoost > 0 {
		velocityBoost = math.Min(ext.VelocityBoost, g.cfg.VelocityBoostMax)
	}

	final := clamp01(score + founderBoost + velocityBoost)

	status := g.assessStatus(signals, len(sources))
	decision, reason, crmStatus := g.decide(final, status, len(sources))

	details := map[string]any{"signals": signalRefs(signals)}
	if len(penalties) > 0 {
		details["penalties"] = penalties
	}

	return model.VerificationResult{
		CanonicalKey:    canonicalKey,
		Decision:        decision,
		Status:          status,
		ConfidenceScore: final,
		Breakdown: model.ConfidenceBreakdown{
			BaseScore:         base,
			MultiSourceFactor: multiSource,
			ConvergenceFactor: convergence,
			FounderBoost:      founderBoost,
			VelocityBoost:     velocityBoost,
			MomentumScore:     ext.MomentumScore,
			FinalScore:        final,
		},
		Reason:             reason,
		SuggestedCRMStatus: crmStatus,
		SignalsUsed:        used,
		SourcesChecked:     sources,
		Details:            details,
		CalculatedAt:       now,
		CalculationMethod:  calculationMethod,
	}
}

// positiveContributions keeps the most recent signal per positive type and
// returns the contributions sorted by type, plus their unclamped sum. One
// contribution per type prevents inflation from rapid repeats.
func (g *Gate) positiveContributions(signals []model.Signal, now time.Time) ([]model.SignalContribution, float64) {
	latest := make(map[string]model.Signal)
	for _, s := range signals {
		if _, neg := g.cfg.NegativeMultipliers[s.SignalType]; neg {
			continue
		}
		cur, ok := latest[s.SignalType]
		if !ok || s.DetectedAt.After(cur.DetectedAt) {
			latest[s.SignalType] = s
		}
	}

	used := make([]model.SignalContribution, 0, len(latest))
	sum := 0.0
	for _, s := range latest {
		weight := g.cfg.DefaultWeight
		if w, ok := g.cfg.Weights[s.SignalType]; ok {
			weight = w
		}
		halfLife := g.cfg.DefaultHalfLife
		if hl, ok := g.cfg.HalfLives[s.SignalType]; ok {
			halfLife = hl
		}

		age := now.Sub(s.DetectedAt).Hours() / 24
		if age < 0 {
			age = 0
		}
		decay := math.Pow(0.5, age/halfLife)
		contribution := s.Confidence * weight * decay

		used = append(used, model.SignalContribution{
			SignalType:   s.SignalType,
			SignalID:     signalRef(s),
			Confidence:   s.Confidence,
			Weight:       weight,
			DecayFactor:  decay,
			AgeDays:      age,
			Contribution: contribution,
		})
		sum += contribution
	}

	slices.SortFunc(used, func(a, b model.SignalContribution) int {
		return strings.Compare(a.SignalType, b.SignalType)
	})
	return used, sum
}

func (g *Gate) assessStatus(signals []model.Signal, sourceCount int) model.VerificationStatus {
	hasPositive, hasStrongNegative := false, false
	for _, s := range signals {
		if strongNegatives[s.SignalType] {
			hasStrongNegative = true
		}
		if _, neg := g.cfg.NegativeMultipliers[s.SignalType]; !neg {
			hasPositive = true
		}
	}
	if hasPositive && hasStrongNegative {
		return model.VerificationConflicting
	}
	switch {
	case sourceCount >= 2:
		return model.VerificationMultiSource
	case sourceCount == 1:
		return model.VerificationSingleSource
	default:
		return model.VerificationUnverified
	}
}

func (g *Gate) decide(score float64, status model.VerificationStatus, sourceCount int) (model.PushDecision, string, string) {
	if status == model.VerificationConflicting {
		return model.DecisionNeedsReview,
			"Conflicting signals detected - requires human review",
			g.opts.NeedsReviewStatus
	}
	if score >= g.cfg.HighThreshold && status == model.VerificationMultiSource && sourceCount >= g.cfg.MinSources {
		return model.DecisionAutoPush,
			fmt.Sprintf("High confidence (%.2f) with %d sources", score, sourceCount),
			g.opts.AutoPushStatus
	}
	if score >= g.cfg.HighThreshold && status == model.VerificationSingleSource && !g.opts.StrictMode {
		return model.DecisionAutoPush,
			fmt.Sprintf("High confidence (%.2f) from single authoritative source", score),
			g.opts.AutoPushStatus
	}
	if score >= g.cfg.MediumThreshold {
		return model.DecisionNeedsReview,
			fmt.Sprintf("Medium confidence (%.2f) - requires verification", score),
			g.opts.NeedsReviewStatus
	}
	if score > 0 {
		return model.DecisionHold,
			fmt.Sprintf("Low confidence (%.2f) - waiting for more signals", score),
			""
	}
	return model.DecisionReject, "Insufficient evidence", ""
}

func distinctSources(signals []model.Signal) []string {
	seen := make(map[string]bool, len(signals))
	out := make([]string, 0, len(signals))
	for _, s := range signals {
		if !seen[s.SourceAPI] {
			seen[s.SourceAPI] = true
			out = append(out, s.SourceAPI)
		}
	}
	slices.Sort(out)
	return out
}

func signalRef(s model.Signal) string {
	if s.SignalID != "" {
		return s.SignalID
	}
	return s.ID.String()
}

func signalRefs(signals []model.Signal) []map[string]any {
	refs := make([]map[string]any, 0, len(signals))
	for _, s := range signals {
		refs = append(refs, map[string]any{
			"signal_id":   signalRef(s),
			"signal_type": s.SignalType,
			"source":      s.SourceAPI,
		})
	}
	return refs
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
