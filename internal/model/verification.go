package model

import "time"

// PushDecision is the verification gate's routing outcome for one lead.
type PushDecision string

const (
	DecisionAutoPush    PushDecision = "auto_push"
	DecisionNeedsReview PushDecision = "needs_review"
	DecisionHold        PushDecision = "hold"
	DecisionReject      PushDecision = "reject"
)

// VerificationStatus describes the evidence shape behind a decision.
type VerificationStatus string

const (
	VerificationUnverified   VerificationStatus = "unverified"
	VerificationSingleSource VerificationStatus = "single_source"
	VerificationMultiSource  VerificationStatus = "multi_source"
	VerificationConflicting  VerificationStatus = "conflicting"
)

// SignalContribution records how one signal type entered the score.
type SignalContribution struct {
	SignalType   string  `json:"signal_type"`
	SignalID     string  `json:"signal_id"`
	Confidence   float64 `json:"confidence"`
	Weight       float64 `json:"weight"`
	DecayFactor  float64 `json:"decay_factor"`
	AgeDays      float64 `json:"age_days"`
	Contribution float64 `json:"contribution"`
}

// ConfidenceBreakdown makes the final score auditable component by component.
type ConfidenceBreakdown struct {
	BaseScore         float64 `json:"base_score"`
	MultiSourceFactor float64 `json:"multi_source_factor"`
	ConvergenceFactor float64 `json:"convergence_factor"`
	FounderBoost      float64 `json:"founder_boost"`
	VelocityBoost     float64 `json:"velocity_boost"`
	MomentumScore     float64 `json:"momentum_score"`
	FinalScore        float64 `json:"final_score"`
}

// VerificationResult is the gate's full output for one canonical key.
type VerificationResult struct {
	CanonicalKey       string               `json:"canonical_key"`
	Decision           PushDecision         `json:"decision"`
	Status             VerificationStatus   `json:"verification_status"`
	ConfidenceScore    float64              `json:"confidence_score"`
	Breakdown          ConfidenceBreakdown  `json:"confidence_breakdown"`
	Reason             string               `json:"reason"`
	SuggestedCRMStatus string               `json:"suggested_status"`
	SignalsUsed        []SignalContribution `json:"signals_used"`
	SourcesChecked     []string             `json:"sources_checked"`
	Details            map[string]any       `json:"verification_details,omitempty"`
	CalculatedAt       time.Time            `json:"calculated_at"`
	CalculationMethod  string               `json:"calculation_method"`
}

// VelocityMetrics summarize how fast evidence is arriving for one lead.
type VelocityMetrics struct {
	Signals24h  int     `json:"signals_24h"`
	Signals48h  int     `json:"signals_48h"`
	Signals7d   int     `json:"signals_7d"`
	Signals30d  int     `json:"signals_30d"`
	UniqueTypes int     `json:"unique_types_7d"`
	UniqueAPIs  int     `json:"unique_sources_7d"`
	Velocity7d  float64 `json:"velocity_7d"`  // signals per day over the last week
	Velocity30d float64 `json:"velocity_30d"` // signals per day over the last month

	Acceleration  float64 `json:"acceleration"` // 7d velocity relative to 30d velocity
	Accelerating  bool    `json:"is_accelerating"`
	RecentBurst   bool    `json:"has_recent_burst"`
	TypeSpread    bool    `json:"has_type_convergence"`
	SourceSpread  bool    `json:"has_source_convergence"`
	BoostApplied  float64 `json:"confidence_boost"`
	MomentumScore float64 `json:"momentum_score"`
}
