package model

// ChangeType names a detected difference between two snapshots of an asset.
type ChangeType string

const (
	ChangeDescription ChangeType = "description_change"
	ChangeDomain      ChangeType = "domain_change"
	ChangeKeywordSwap ChangeType = "keyword_swap"
)

// TriggerResult is the deterministic stage-1 verdict on a snapshot pair.
type TriggerResult struct {
	ShouldTrigger   bool         `json:"should_trigger"`
	ChangeTypes     []ChangeType `json:"change_types,omitempty"`
	TriggerReason   string       `json:"trigger_reason,omitempty"`
	ChangeMagnitude float64      `json:"change_magnitude"`
}

// ClassificationLabel is the stage-2 semantic verdict on a description change.
type ClassificationLabel string

const (
	LabelPivot       ClassificationLabel = "pivot"
	LabelExpansion   ClassificationLabel = "expansion"
	LabelRebrand     ClassificationLabel = "rebrand"
	LabelMinor       ClassificationLabel = "minor"
	LabelNeedsReview ClassificationLabel = "needs_review"
)

// Actionable reports whether the label warrants downstream attention.
func (l ClassificationLabel) Actionable() bool {
	return l == LabelPivot || l == LabelExpansion
}

// Classification is the classifier's full output for one (old, new) pair.
type Classification struct {
	SchemaVersion string              `json:"schema_version"`
	Label         ClassificationLabel `json:"label"`
	Confidence    float64             `json:"confidence"`
	Rationale     string              `json:"rationale"`
	InputHash     string              `json:"input_hash"`
	Cached        bool                `json:"cached"`

	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	LatencyMS    int64  `json:"latency_ms,omitempty"`
}

// ProcessingStats aggregates a gating batch.
type ProcessingStats struct {
	Processed      int                         `json:"processed"`
	Triggered      int                         `json:"triggered"`
	NotTriggered   int                         `json:"not_triggered"`
	GatingSkipped  int                         `json:"gating_skipped"`
	CacheHits      int                         `json:"cache_hits"`
	LLMCalls       int                         `json:"llm_calls"`
	Errors         int                         `json:"errors"`
	LabelCounts    map[ClassificationLabel]int `json:"label_counts,omitempty"`
	DurationMillis int64                       `json:"duration_ms"`
}
