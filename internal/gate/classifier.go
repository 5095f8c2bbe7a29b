package gate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashita-ai/hakken/internal/llm"
	"github.com/ashita-ai/hakken/internal/model"
)

// SchemaVersion tags classifier verdicts. Bump it when the prompt or output
// contract changes so stale cache entries stop matching.
const SchemaVersion = "v1"

const promptTemplate = `Analyze the change between old and new company descriptions.

Old: %s
New: %s

Classify this change as ONE of:
- pivot: Fundamental business model change (B2C→B2B, consumer→enterprise, completely different market)
- expansion: Adding new product line or market segment while keeping core business
- rebrand: Name/identity change without business model shift
- minor: Cosmetic changes, typo fixes, small updates, wording improvements
- needs_review: Unclear, ambiguous, or requires human review

Respond with ONLY valid JSON (no markdown, no code blocks):
{"schema_version": "v1", "label": "<label>", "confidence": <0.0-1.0>, "rationale": "<brief 1-2 sentence explanation>"}
`

// Classifier is stage 2 of the gate: it asks the LLM backend what kind of
// change a description pair represents. It never fails outright; backend and
// parse errors degrade to a zero-confidence needs_review verdict so the
// pipeline keeps moving.
type Classifier struct {
	backend       llm.Backend
	cache         *Cache // nil disables caching
	minConfidence float64
	logger        *slog.Logger
}

// NewClassifier builds a classifier. Verdicts below minConfidence are
// demoted to needs_review rather than trusted.
func NewClassifier(backend llm.Backend, cache *Cache, minConfidence float64, logger *slog.Logger) *Classifier {
	return &Classifier{
		backend:       backend,
		cache:         cache,
		minConfidence: minConfidence,
		logger:        logger,
	}
}

// InputHash derives the deterministic cache key for a description pair.
func InputHash(oldDesc, newDesc string) string {
	sum := sha256.Sum256([]byte(oldDesc + "|||" + newDesc))
	return "sha256:" + hex.EncodeToString(sum[:])[:16]
}

// Classify returns a verdict for the change from oldDesc to newDesc,
// consulting the cache first. The returned Classification always carries a
// valid label; callers check Cached and Model to tell lookups, real calls,
// and degraded verdicts apart.
func (c *Classifier) Classify(ctx context.Context, oldDesc, newDesc string) model.Classification {
	hash := InputHash(oldDesc, newDesc)

	if c.cache != nil {
		cached, ok, err := c.cache.Get(ctx, hash, SchemaVersion)
		if err != nil {
			c.logger.Warn("classifier cache read failed", "error", err)
		} else if ok {
			return cached
		}
	}

	start := time.Now()
	reply, err := c.backend.Classify(ctx, buildPrompt(oldDesc, newDesc))

	var cls model.Classification
	degraded := false
	if err != nil {
		c.logger.Error("classifier backend call failed", "error", err, "input_hash", hash)
		cls = errorVerdict(hash, "API error: "+err.Error())
		degraded = true
	} else {
		cls, degraded = parseVerdict(reply.Text, hash)
		cls.Model = reply.Model
		cls.InputTokens = reply.InputTokens
		cls.OutputTokens = reply.OutputTokens
	}
	cls.LatencyMS = time.Since(start).Milliseconds()

	// Low confidence demotes the label but keeps the reported confidence
	// so reviewers see how unsure the model was.
	if cls.Confidence < c.minConfidence {
		cls.Rationale = fmt.Sprintf("Low confidence (%.2f): %s", cls.Confidence, cls.Rationale)
		cls.Label = model.LabelNeedsReview
	}

	// Degraded verdicts stay out of the cache: a transient outage must not
	// pin needs_review for this pair across runs.
	if c.cache != nil && !degraded {
		if err := c.cache.Put(ctx, cls); err != nil {
			c.logger.Warn("classifier cache write failed", "error", err)
		}
	}
	return cls
}

type wireVerdict struct {
	SchemaVersion string  `json:"schema_version"`
	Label         string  `json:"label"`
	Confidence    float64 `json:"confidence"`
	Rationale     string  `json:"rationale"`
}

// parseVerdict decodes the backend's JSON reply. The second return is true
// when the reply was unusable and the verdict is synthesized.
func parseVerdict(text, hash string) (model.Classification, bool) {
	var wire wireVerdict
	if err := json.Unmarshal([]byte(stripFences(text)), &wire); err != nil {
		return errorVerdict(hash, "Parse error: "+err.Error()), true
	}

	label := model.ClassificationLabel(wire.Label)
	switch label {
	case model.LabelPivot, model.LabelExpansion, model.LabelRebrand, model.LabelMinor, model.LabelNeedsReview:
	default:
		label = model.LabelNeedsReview
	}
	schema := wire.SchemaVersion
	if schema == "" {
		schema = SchemaVersion
	}

	return model.Classification{
		SchemaVersion: schema,
		Label:         label,
		Confidence:    wire.Confidence,
		Rationale:     wire.Rationale,
		InputHash:     hash,
	}, false
}

func errorVerdict(hash, rationale string) model.Classification {
	return model.Classification{
		SchemaVersion: SchemaVersion,
		Label:         model.LabelNeedsReview,
		Confidence:    0,
		Rationale:     rationale,
		InputHash:     hash,
	}
}

func buildPrompt(oldDesc, newDesc string) string {
	if oldDesc == "" {
		oldDesc = "(empty)"
	}
	if newDesc == "" {
		newDesc = "(empty)"
	}
	return fmt.Sprintf(promptTemplate, oldDesc, newDesc)
}

// stripFences unwraps a markdown code block if the model ignored the
// JSON-only instruction.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	parts := strings.Split(text, "```")
	if len(parts) < 2 {
		return text
	}
	inner := strings.TrimPrefix(parts[1], "json")
	return strings.TrimSpace(inner)
}
