// Package thesis scores companies against the fund's investment theses
// with weighted keyword tables. It is the cheap, deterministic counterpart
// to the LLM classifier: no tokens, no network, same vocabulary as the CRM
// sector taxonomy.
package thesis

import (
	"regexp"
	"slices"
	"strings"

	"github.com/ashita-ai/hakken/internal/model"
)

// Thesis identifies one investment thesis.
type Thesis string

const (
	AIInfrastructure Thesis = "ai_infrastructure"
	Healthtech       Thesis = "healthtech"
	Cleantech        Thesis = "cleantech"
	Unknown          Thesis = "unknown"
)

// SectorName maps a thesis onto the CRM sector vocabulary. Unknown has no
// sector.
func (t Thesis) SectorName() string {
	switch t {
	case AIInfrastructure:
		return "AI Infrastructure"
	case Healthtech:
		return "Healthtech"
	case Cleantech:
		return "Cleantech"
	default:
		return ""
	}
}

// Confidence labels for a fit score.
const (
	ConfidenceHigh   = "HIGH"
	ConfidenceMedium = "MEDIUM"
	ConfidenceLow    = "LOW"
)

const (
	// normalizationCap saturates a thesis score once 40% of the table's
	// total weight has matched; nothing ever matches a whole table.
	normalizationCap = 0.4
	negativePenalty  = 0.3
	sicCodeBoost     = 0.15
	fitThreshold     = 0.4
	unknownFloor     = 0.1
)

// Fit is the outcome of scoring one company.
type Fit struct {
	Thesis           Thesis             `json:"thesis"`
	Score            float64            `json:"score"`
	MatchedKeywords  []string           `json:"matched_keywords,omitempty"`
	NegativeKeywords []string           `json:"negative_keywords,omitempty"`
	AllScores        map[Thesis]float64 `json:"all_scores"`
	Confidence       string             `json:"confidence"`
}

// IsFit reports whether the score clears the pipeline's fit bar.
func (f Fit) IsFit() bool {
	return f.Score >= fitThreshold
}

// Matcher scores text against every thesis keyword table. Build one with
// New and reuse it; keyword patterns are compiled once.
type Matcher struct {
	keywords map[Thesis]map[string]float64
	order    []Thesis
	patterns map[string]*regexp.Regexp
}

// New builds a Matcher with the built-in keyword tables.
func New() *Matcher {
	return NewWithKeywords(nil)
}

// NewWithKeywords merges custom keyword weights over the built-in tables.
// Custom entries override same-keyword weights; new theses are appended
// after the built-in ones in ranking order.
func NewWithKeywords(custom map[Thesis]map[string]float64) *Matcher {
	keywords := make(map[Thesis]map[string]float64, len(thesisKeywords))
	for t, table := range thesisKeywords {
		cloned := make(map[string]float64, len(table))
		for kw, w := range table {
			cloned[kw] = w
		}
		keywords[t] = cloned
	}
	for t, table := range custom {
		if _, ok := keywords[t]; !ok {
			keywords[t] = make(map[string]float64, len(table))
		}
		for kw, w := range table {
			keywords[t][kw] = w
		}
	}

	order := []Thesis{AIInfrastructure, Healthtech, Cleantech}
	var extra []Thesis
	for t := range keywords {
		if !slices.Contains(order, t) {
			extra = append(extra, t)
		}
	}
	slices.Sort(extra)
	order = append(order, extra...)

	patterns := make(map[string]*regexp.Regexp)
	for _, table := range keywords {
		for kw := range table {
			if _, ok := patterns[kw]; !ok {
				patterns[kw] = keywordPattern(kw)
			}
		}
	}
	for kw := range negativeKeywords {
		if _, ok := patterns[kw]; !ok {
			patterns[kw] = keywordPattern(kw)
		}
	}

	return &Matcher{keywords: keywords, order: order, patterns: patterns}
}

func keywordPattern(keyword string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(keyword) + `\b`)
}

// Score rates text against every thesis and returns the best fit.
// companyName and sicCode are optional context; the SIC code nudges the
// matching thesis, negative keywords pull the final score down.
func (m *Matcher) Score(text, companyName, sicCode string) Fit {
	if strings.TrimSpace(text) == "" {
		return Fit{Thesis: Unknown, AllScores: map[Thesis]float64{}, Confidence: ConfidenceLow}
	}

	normalized := normalize(text)
	if companyName != "" {
		normalized += " " + normalize(companyName)
	}

	scores := make(map[Thesis]float64, len(m.order))
	matches := make(map[Thesis][]string, len(m.order))
	for _, t := range m.order {
		score, matched := m.scoreTable(normalized, m.keywords[t])
		if sicCode != "" {
			score = min(score+sicBoostFor(sicCode, t), 1)
		}
		scores[t] = score
		matches[t] = matched
	}

	best := Unknown
	bestScore := -1.0
	for _, t := range m.order {
		if scores[t] > bestScore {
			best, bestScore = t, scores[t]
		}
	}

	negatives := m.findNegatives(normalized)
	if len(negatives) > 0 {
		var penalty float64
		for _, kw := range negatives {
			penalty += negativeKeywords[kw]
		}
		bestScore = max(0, bestScore-penalty*negativePenalty)
	}

	confidence := ConfidenceLow
	switch {
	case bestScore >= 0.7:
		confidence = ConfidenceHigh
	case bestScore >= fitThreshold:
		confidence = ConfidenceMedium
	}

	fit := Fit{
		Thesis:           best,
		Score:            bestScore,
		MatchedKeywords:  matches[best],
		NegativeKeywords: negatives,
		AllScores:        scores,
		Confidence:       confidence,
	}
	if bestScore <= unknownFloor {
		fit.Thesis = Unknown
	}
	return fit
}

// ScoreSignals pools the text carried by a signal group and scores the
// combined result. The company name and SIC code come from the first
// signal that carries them.
func (m *Matcher) ScoreSignals(signals []model.Signal) Fit {
	var texts []string
	var companyName, sicCode string

	for _, sig := range signals {
		if companyName == "" && sig.CompanyName != nil {
			companyName = *sig.CompanyName
		}
		raw := sig.RawData
		for _, field := range []string{"description", "short_description", "about", "bio"} {
			if v, ok := raw[field].(string); ok && v != "" {
				texts = append(texts, v)
			}
		}
		if companyName == "" {
			if v, ok := raw["company_name"].(string); ok {
				companyName = v
			}
		}
		if sicCode == "" {
			sicCode = firstSICCode(raw)
		}
		texts = append(texts, stringList(raw["topics"])...)
	}

	return m.Score(strings.Join(texts, " "), companyName, sicCode)
}

func (m *Matcher) scoreTable(text string, keywords map[string]float64) (float64, []string) {
	var matched []string
	var total, maxPossible float64
	for kw, w := range keywords {
		maxPossible += w
		if m.patterns[kw].MatchString(text) {
			matched = append(matched, kw)
			total += w
		}
	}
	if maxPossible == 0 {
		return 0, nil
	}
	slices.Sort(matched)
	return min(total/(maxPossible*normalizationCap), 1), matched
}

func (m *Matcher) findNegatives(text string) []string {
	var matched []string
	for kw := range negativeKeywords {
		if m.patterns[kw].MatchString(text) {
			matched = append(matched, kw)
		}
	}
	slices.Sort(matched)
	return matched
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// sicRanges maps each thesis to the SIC code ranges that hint at it.
// Codes compare as strings, which keeps longer child codes inside their
// parent range.
var sicRanges = map[Thesis][][2]string{
	Healthtech: {
		{"8000", "8099"}, // health services
		{"2833", "2836"}, // pharmaceuticals
		{"3841", "3845"}, // medical instruments
	},
	Cleantech: {
		{"4911", "4941"}, // electric, gas, sanitary
		{"1311", "1389"}, // oil and gas transition
		{"4953", "4959"}, // refuse systems
	},
	AIInfrastructure: {
		{"7370", "7379"}, // computer services
		{"3571", "3579"}, // computer equipment
	},
}

func sicBoostFor(sicCode string, t Thesis) float64 {
	for _, r := range sicRanges[t] {
		if sicCode >= r[0] && sicCode <= r[1] {
			return sicCodeBoost
		}
	}
	return 0
}

func firstSICCode(raw map[string]any) string {
	if v, ok := raw["sic_code"].(string); ok && v != "" {
		return v
	}
	if codes := stringList(raw["sic_codes"]); len(codes) > 0 {
		return codes[0]
	}
	return ""
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		var out []string
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
