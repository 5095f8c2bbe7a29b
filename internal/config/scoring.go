package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ScoringConfig carries every tunable scoring knob: verification weights,
// velocity windows, founder heuristics and trigger-gate keywords. The
// embedded defaults are the production values; a YAML file can override any
// subset of them. Map entries merge with the defaults, lists replace them.
type ScoringConfig struct {
	Verification VerificationConfig `yaml:"verification"`
	Velocity     VelocityConfig     `yaml:"velocity"`
	Founders     FounderConfig      `yaml:"founders"`
	Gating       GatingConfig       `yaml:"gating"`
}

// VerificationConfig tunes the confidence calculation and push thresholds.
type VerificationConfig struct {
	Weights             map[string]float64 `yaml:"weights"`
	DefaultWeight       float64            `yaml:"default_weight"`
	HalfLives           map[string]float64 `yaml:"half_lives"` // days
	DefaultHalfLife     float64            `yaml:"default_half_life"`
	NegativeMultipliers map[string]float64 `yaml:"negative_multipliers"`
	HardKillSignals     []string           `yaml:"hard_kill_signals"`

	HighThreshold   float64 `yaml:"high_threshold"`
	MediumThreshold float64 `yaml:"medium_threshold"`
	MinSources      int     `yaml:"min_sources"`

	FounderBoostMax  float64 `yaml:"founder_boost_max"`
	VelocityBoostMax float64 `yaml:"velocity_boost_max"`
}

// VelocityConfig tunes momentum detection windows and boosts.
type VelocityConfig struct {
	BurstMinSignals      int     `yaml:"burst_min_signals"`
	BurstWindowHours     int     `yaml:"burst_window_hours"`
	TypeConvergenceMin   int     `yaml:"type_convergence_min"`
	SourceConvergenceMin int     `yaml:"source_convergence_min"`
	AccelerationRatio    float64 `yaml:"acceleration_ratio"`

	BurstBoost        float64 `yaml:"burst_boost"`
	TypeBoost         float64 `yaml:"type_boost"`
	SourceBoost       float64 `yaml:"source_boost"`
	AccelerationBoost float64 `yaml:"acceleration_boost"`
	BoostCap          float64 `yaml:"boost_cap"`
}

// FounderConfig centralizes the founder-background heuristics so keyword
// and score tweaks do not require a code change.
type FounderConfig struct {
	TopTierCompanies []string `yaml:"top_tier_companies"`
	DomainKeywords   []string `yaml:"domain_keywords"`
	TechnicalRoles   []string `yaml:"technical_roles"`
	LeadershipRoles  []string `yaml:"leadership_roles"`

	ExitBonus       float64 `yaml:"exit_bonus"`
	ExitBonusCap    float64 `yaml:"exit_bonus_cap"`
	TopTierBonus    float64 `yaml:"top_tier_bonus"`
	TechnicalBonus  float64 `yaml:"technical_bonus"`
	DomainBonus     float64 `yaml:"domain_bonus"`
	YearBonus       float64 `yaml:"year_bonus"`
	YearBonusCap    float64 `yaml:"year_bonus_cap"`
	LeadershipBonus float64 `yaml:"leadership_bonus"`

	SerialFounderMinRoles int `yaml:"serial_founder_min_roles"`

	// Aggregate (team-level) scoring.
	StrongFounderMin float64 `yaml:"strong_founder_min"`
	ExtraStrongBonus float64 `yaml:"extra_strong_bonus"`
	ExtraStrongCap   float64 `yaml:"extra_strong_cap"`
	TeamBonus        float64 `yaml:"team_bonus"`
}

// GatingConfig tunes the deterministic trigger gate and classifier floor.
type GatingConfig struct {
	TriggerThreshold float64  `yaml:"trigger_threshold"`
	PivotKeywords    []string `yaml:"pivot_keywords"`
	MinConfidence    float64  `yaml:"min_confidence"`
}

// DefaultScoring returns the embedded production scoring configuration.
func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		Verification: VerificationConfig{
			Weights: map[string]float64{
				"incorporation":       0.25,
				"github_spike":        0.20,
				"domain_registration": 0.15,
				"patent_filing":       0.15,
				"product_hunt_launch": 0.10,
				"social_announcement": 0.10,
				"cofounder_search":    0.05,
				"research_paper":      0.05,
				"funding_event":       0.20,
				"hiring_signal":       0.30,
				"github_activity":     0.18,
				"hacker_news_mention": 0.10,
			},
			DefaultWeight: 0.05,
			HalfLives: map[string]float64{
				"incorporation":       365,
				"github_spike":        14,
				"domain_registration": 90,
				"patent_filing":       180,
				"product_hunt_launch": 30,
				"social_announcement": 30,
				"cofounder_search":    60,
				"research_paper":      180,
				"funding_event":       180,
				"hiring_signal":       45,
				"github_activity":     30,
				"hacker_news_mention": 30,
			},
			DefaultHalfLife: 90,
			NegativeMultipliers: map[string]float64{
				"job_at_big_co_recent": 0.6,
				"job_at_big_co_medium": 0.3,
				"job_at_big_co_old":    0.1,
				"domain_dead":          0.1,
				"github_inactive_90d":  0.3,
				"company_dissolved":    0.0,
			},
			HardKillSignals:  []string{"company_dissolved"},
			HighThreshold:    0.70,
			MediumThreshold:  0.40,
			MinSources:       2,
			FounderBoostMax:  0.15,
			VelocityBoostMax: 0.20,
		},
		Velocity: VelocityConfig{
			BurstMinSignals:      2,
			BurstWindowHours:     48,
			TypeConvergenceMin:   3,
			SourceConvergenceMin: 2,
			AccelerationRatio:    1.5,
			BurstBoost:           0.10,
			TypeBoost:            0.15,
			SourceBoost:          0.10,
			AccelerationBoost:    0.05,
			BoostCap:             0.35,
		},
		Founders: FounderConfig{
			TopTierCompanies: []string{
				"meta", "facebook", "google", "alphabet", "amazon", "apple", "netflix",
				"microsoft", "uber", "airbnb", "stripe", "square", "block", "coinbase",
				"palantir", "snowflake", "databricks", "openai", "anthropic", "nvidia",
				"salesforce", "oracle", "adobe", "twitter", "x corp", "linkedin",
				"doordash", "instacart", "shopify", "spotify", "slack", "dropbox",
				"zoom", "asana", "notion", "figma", "canva", "airtable",
			},
			DomainKeywords: []string{
				"food", "beverage", "cpg", "consumer goods", "retail", "e-commerce",
				"health", "wellness", "fitness", "beauty", "personal care",
				"travel", "hospitality", "restaurants", "entertainment",
				"media", "gaming", "social", "marketplace", "fintech",
				"consumer tech", "mobile apps", "d2c", "direct to consumer",
			},
			TechnicalRoles: []string{
				"engineer", "developer", "programmer", "architect", "cto",
				"tech lead", "data scientist", "ml engineer", "research",
				"software", "platform", "infrastructure", "devops", "sre",
			},
			LeadershipRoles: []string{
				"ceo", "cto", "cfo", "coo", "cpo", "cmo", "chief",
				"founder", "co-founder", "cofounder", "president",
				"vp", "vice president", "director", "head of", "gm", "general manager",
			},
			ExitBonus:             0.25,
			ExitBonusCap:          0.50,
			TopTierBonus:          0.15,
			TechnicalBonus:        0.10,
			DomainBonus:           0.15,
			YearBonus:             0.02,
			YearBonusCap:          0.20,
			LeadershipBonus:       0.10,
			SerialFounderMinRoles: 2,
			StrongFounderMin:      0.70,
			ExtraStrongBonus:      0.05,
			ExtraStrongCap:        0.15,
			TeamBonus:             0.05,
		},
		Gating: GatingConfig{
			TriggerThreshold: 0.2,
			PivotKeywords: []string{
				"enterprise", "b2b", "platform", "api", "saas",
				"pivot", "rebrand", "acquired", "shutdown", "deprecated",
				"discontinued", "sunsetting", "closed",
			},
			MinConfidence: 0.7,
		},
	}
}

// LoadScoring returns the embedded defaults overlaid with the YAML file at
// path. An empty path returns the defaults unchanged.
func LoadScoring(path string) (ScoringConfig, error) {
	cfg := DefaultScoring()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ScoringConfig{}, fmt.Errorf("config: read scoring config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ScoringConfig{}, fmt.Errorf("config: parse scoring config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return ScoringConfig{}, err
	}
	return cfg, nil
}

// MergeScoring overlays YAML from an analyst-published release onto base.
// Fields absent from the release keep their base value.
func MergeScoring(base ScoringConfig, data []byte) (ScoringConfig, error) {
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ScoringConfig{}, fmt.Errorf("config: parse scoring release: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return ScoringConfig{}, err
	}
	return cfg, nil
}

// Validate rejects overlays that would make scoring nonsensical.
func (c ScoringConfig) Validate() error {
	v := c.Verification
	if v.HighThreshold <= v.MediumThreshold {
		return fmt.Errorf("config: high_threshold must exceed medium_threshold")
	}
	if v.HighThreshold > 1 || v.MediumThreshold < 0 {
		return fmt.Errorf("config: thresholds must stay within [0, 1]")
	}
	if v.MinSources < 1 {
		return fmt.Errorf("config: min_sources must be at least 1")
	}
	for name, w := range v.Weights {
		if w < 0 || w > 1 {
			return fmt.Errorf("config: weight for %s out of range", name)
		}
	}
	for name, hl := range v.HalfLives {
		if hl <= 0 {
			return fmt.Errorf("config: half-life for %s must be positive", name)
		}
	}
	if c.Gating.TriggerThreshold < 0 || c.Gating.TriggerThreshold > 1 {
		return fmt.Errorf("config: trigger_threshold must stay within [0, 1]")
	}
	if c.Gating.MinConfidence < 0 || c.Gating.MinConfidence > 1 {
		return fmt.Errorf("config: min_confidence must stay within [0, 1]")
	}
	return nil
}
