package verify

import (
	"math"
	"slices"
	"time"

	"github.com/ashita-ai/hakken/internal/config"
	"github.com/ashita-ai/hakken/internal/model"
)

// Tracker derives velocity metrics from a lead's signal history. Several
// signals from different sources inside a short window indicate a company
// that is actively building, which the gate rewards with a bounded boost.
type Tracker struct {
	cfg config.VelocityConfig
}

// NewTracker returns a tracker using the given windows and boost weights.
func NewTracker(cfg config.VelocityConfig) *Tracker {
	return &Tracker{cfg: cfg}
}

// Metrics computes velocity metrics over all known signals for one lead.
// Callers pass the full history, not just the pending batch; metrics over a
// partial history undercount momentum.
func (t *Tracker) Metrics(signals []model.Signal) model.VelocityMetrics {
	if len(signals) == 0 {
		return model.VelocityMetrics{}
	}

	now := time.Now().UTC()
	convergenceWindow := 7 * 24 * time.Hour

	var m model.VelocityMetrics
	recentTypes := make(map[string]bool)
	recentSources := make(map[string]bool)

	for _, s := range signals {
		age := now.Sub(s.DetectedAt)
		if age <= 24*time.Hour {
			m.Signals24h++
		}
		if age <= 48*time.Hour {
			m.Signals48h++
		}
		if age <= convergenceWindow {
			m.Signals7d++
			recentTypes[s.SignalType] = true
			recentSources[s.SourceAPI] = true
		}
		if age <= 30*24*time.Hour {
			m.Signals30d++
		}
	}

	m.UniqueTypes = len(recentTypes)
	m.UniqueAPIs = len(recentSources)
	m.Velocity7d = float64(m.Signals7d) / 7
	m.Velocity30d = float64(m.Signals30d) / 30

	if m.Velocity30d > 0 {
		m.Acceleration = m.Velocity7d / m.Velocity30d
		m.Accelerating = m.Acceleration >= t.cfg.AccelerationRatio
	} else if m.Velocity7d > 0 {
		m.Acceleration = m.Velocity7d * 10
		m.Accelerating = m.Signals7d >= 2
	}

	sorted := slices.Clone(signals)
	slices.SortFunc(sorted, func(a, b model.Signal) int {
		return a.DetectedAt.Compare(b.DetectedAt)
	})
	m.RecentBurst = t.recentBurst(sorted, now)

	m.TypeSpread = m.UniqueTypes >= t.cfg.TypeConvergenceMin
	m.SourceSpread = m.UniqueAPIs >= t.cfg.SourceConvergenceMin

	m.BoostApplied = t.boost(m)
	m.MomentumScore = momentum(m)
	return m
}

// recentBurst walks the sorted history with a sliding window and reports
// whether any burst of BurstMinSignals or more ends within the burst window
// of now. Signals consumed by a burst do not seed the next one.
func (t *Tracker) recentBurst(sorted []model.Signal, now time.Time) bool {
	if len(sorted) < t.cfg.BurstMinSignals {
		return false
	}
	window := time.Duration(t.cfg.BurstWindowHours) * time.Hour

	i := 0
	for i < len(sorted) {
		j := i + 1
		for j < len(sorted) && sorted[j].DetectedAt.Sub(sorted[i].DetectedAt) <= window {
			j++
		}
		if j-i >= t.cfg.BurstMinSignals {
			if now.Sub(sorted[j-1].DetectedAt) <= window {
				return true
			}
			i = j
			continue
		}
		i++
	}
	return false
}

func (t *Tracker) boost(m model.VelocityMetrics) float64 {
	boost := 0.0
	if m.RecentBurst {
		boost += t.cfg.BurstBoost
	}
	if m.TypeSpread {
		boost += t.cfg.TypeBoost
	}
	if m.SourceSpread {
		boost += t.cfg.SourceBoost
	}
	if m.Accelerating {
		boost += t.cfg.AccelerationBoost
	}
	return math.Min(boost, t.cfg.BoostCap)
}

// momentum folds recent activity, diversity, and acceleration into a single
// 0-1 score used for reporting, not for the confidence calculation itself.
func momentum(m model.VelocityMetrics) float64 {
	score := 0.0

	switch {
	case m.Signals48h >= 3:
		score += 0.3
	case m.Signals48h >= 2:
		score += 0.2
	case m.Signals48h >= 1:
		score += 0.1
	}

	switch {
	case m.UniqueTypes >= 4:
		score += 0.3
	case m.UniqueTypes >= 3:
		score += 0.2
	case m.UniqueTypes >= 2:
		score += 0.1
	}

	switch {
	case m.UniqueAPIs >= 3:
		score += 0.2
	case m.UniqueAPIs >= 2:
		score += 0.1
	}

	if m.Accelerating {
		score += 0.2
	}

	return math.Min(score, 1.0)
}
