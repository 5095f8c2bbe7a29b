// Package gate implements the two-stage change gate: a free deterministic
// trigger that compares consecutive snapshots, and an LLM classifier that
// only runs on snapshots the trigger lets through.
package gate

import (
	"fmt"
	"math"
	"strings"

	"github.com/ashita-ai/hakken/internal/config"
	"github.com/ashita-ai/hakken/internal/model"
)

// Magnitudes for the non-proportional checks. A domain swap is treated as a
// full-strength change; a keyword swap is strong but not conclusive.
const (
	domainChangeMagnitude = 1.0
	keywordSwapMagnitude  = 0.8
	noBaselineReason      = "No baseline snapshot for comparison"
	descriptionField      = "description"
)

// Trigger is the deterministic stage-1 gate. It costs nothing to run, so it
// sees every snapshot pair and decides which ones are worth an LLM call.
type Trigger struct {
	threshold float64
	keywords  []string
}

// NewTrigger builds a gate from the gating configuration. Keywords are
// matched case-insensitively.
func NewTrigger(cfg config.GatingConfig) *Trigger {
	keywords := make([]string, 0, len(cfg.PivotKeywords))
	for _, kw := range cfg.PivotKeywords {
		keywords = append(keywords, strings.ToLower(kw))
	}
	return &Trigger{threshold: cfg.TriggerThreshold, keywords: keywords}
}

// Evaluate compares two snapshots of the same asset and reports whether the
// change is significant enough to classify. A missing baseline never
// triggers: first observations have nothing to diff against.
func (t *Trigger) Evaluate(oldSnap, newSnap map[string]any) model.TriggerResult {
	if len(oldSnap) == 0 {
		return model.TriggerResult{TriggerReason: noBaselineReason}
	}

	var (
		types     []model.ChangeType
		reasons   []string
		magnitude float64
	)

	oldDesc := stringField(oldSnap, descriptionField)
	newDesc := stringField(newSnap, descriptionField)
	if oldDesc != "" && newDesc != "" {
		if changePct := 1 - Similarity(oldDesc, newDesc); changePct > t.threshold {
			types = append(types, model.ChangeDescription)
			reasons = append(reasons, fmt.Sprintf("Description changed %.0f%%", changePct*100))
			magnitude = math.Max(magnitude, changePct)
		}
	}

	oldDomain := firstString(oldSnap, "homepage", "domain", "website")
	newDomain := firstString(newSnap, "homepage", "domain", "website")
	if oldDomain != "" && newDomain != "" && normalizeDomain(oldDomain) != normalizeDomain(newDomain) {
		types = append(types, model.ChangeDomain)
		reasons = append(reasons, fmt.Sprintf("Domain changed: %s -> %s", oldDomain, newDomain))
		magnitude = math.Max(magnitude, domainChangeMagnitude)
	}

	if found := t.addedKeywords(oldDesc, newDesc); len(found) > 0 {
		types = append(types, model.ChangeKeywordSwap)
		reasons = append(reasons, "Pivot keywords detected: "+strings.Join(found, ", "))
		magnitude = math.Max(magnitude, keywordSwapMagnitude)
	}

	if len(types) == 0 {
		return model.TriggerResult{}
	}
	return model.TriggerResult{
		ShouldTrigger:   true,
		ChangeTypes:     types,
		TriggerReason:   strings.Join(reasons, "; "),
		ChangeMagnitude: magnitude,
	}
}

// addedKeywords returns the configured keywords present in the new
// description but absent from the old one, in configuration order.
func (t *Trigger) addedKeywords(oldDesc, newDesc string) []string {
	if newDesc == "" {
		return nil
	}
	oldLower := strings.ToLower(oldDesc)
	newLower := strings.ToLower(newDesc)
	var found []string
	for _, kw := range t.keywords {
		if strings.Contains(newLower, kw) && !strings.Contains(oldLower, kw) {
			found = append(found, kw)
		}
	}
	return found
}

// Similarity scores two strings in [0, 1] as 2*LCS/(len(a)+len(b)), computed
// over runes. Identical strings score 1, disjoint strings 0. Unlike
// Levenshtein-derived ratios this stays symmetric under reordering of the
// unchanged portion, which suits prose descriptions.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	// Two-row dynamic program; descriptions are short enough that O(n*m)
	// is fine.
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			switch {
			case ra[i-1] == rb[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return 2 * float64(prev[len(rb)]) / float64(len(ra)+len(rb))
}

// normalizeDomain canonicalizes a URL-ish value for comparison. The raw
// values still go into the trigger reason so reviewers see what the source
// reported.
func normalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	return strings.TrimRight(d, "/")
}

func stringField(snap map[string]any, key string) string {
	s, _ := snap[key].(string)
	return s
}

func firstString(snap map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := stringField(snap, key); s != "" {
			return s
		}
	}
	return ""
}
