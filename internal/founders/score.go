// Package founders turns founder backgrounds into the quality scores that
// feed the verification gate's founder boost. Keyword sets and bonus weights
// come from config, so tuning never requires a code change.
package founders

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/ashita-ai/hakken/internal/config"
	"github.com/ashita-ai/hakken/internal/model"
)

// Scorer derives background flags and quality scores from founder profiles.
// It is pure computation and safe for concurrent use.
type Scorer struct {
	cfg config.FounderConfig
}

// NewScorer returns a scorer using the given keyword sets and bonus weights.
func NewScorer(cfg config.FounderConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// AnalyzeBackground folds a founder's experiences into the profile's derived
// flags. Flags only turn on and counters only grow, mirroring the storage
// merge semantics, so partial profiles from different sources accumulate
// instead of clobbering each other.
func (s *Scorer) AnalyzeBackground(f model.Founder, experiences []model.FounderExperience) model.Founder {
	founderRoles := 0
	exits := 0
	years := 0

	for _, e := range experiences {
		org := strings.ToLower(e.Organization)
		title := ""
		if e.Title != nil {
			title = strings.ToLower(*e.Title)
		}

		if containsAny(org, s.cfg.TopTierCompanies) {
			f.HasFAANGExperience = true
		}
		if e.WasEngineering || containsAny(title, s.cfg.TechnicalRoles) {
			f.IsTechnical = true
		}
		if containsAny(org+" "+title, s.cfg.DomainKeywords) {
			f.HasDomainExpertise = true
		}
		if e.WasFounder || strings.Contains(title, "founder") {
			founderRoles++
			f.HasStartupHistory = true
		}
		if e.ResultedInExit {
			exits++
		}
		years += experienceYears(e)
	}

	if f.Headline != nil && containsAny(strings.ToLower(*f.Headline), s.cfg.DomainKeywords) {
		f.HasDomainExpertise = true
	}

	if founderRoles >= s.cfg.SerialFounderMinRoles {
		f.IsSerialFounder = true
	}
	if exits > f.PreviousExits {
		f.PreviousExits = exits
	}
	if years > f.YearsExperience {
		f.YearsExperience = years
	}
	if f.PreviousExits > 0 {
		f.IsSerialFounder = true
	}
	return f
}

// Score computes a founder quality score in [0, 1] from the profile flags.
// Run AnalyzeBackground first when raw experiences are available.
func (s *Scorer) Score(f model.Founder) float64 {
	score := 0.0

	if f.PreviousExits > 0 {
		score += math.Min(s.cfg.ExitBonus*float64(f.PreviousExits), s.cfg.ExitBonusCap)
	} else if f.IsSerialFounder {
		score += s.cfg.ExitBonus
	}
	if f.HasFAANGExperience {
		score += s.cfg.TopTierBonus
	}
	if f.IsTechnical {
		score += s.cfg.TechnicalBonus
	}
	if f.HasDomainExpertise {
		score += s.cfg.DomainBonus
	}
	if f.YearsExperience > 0 {
		score += math.Min(s.cfg.YearBonus*float64(f.YearsExperience), s.cfg.YearBonusCap)
	}
	if f.Headline != nil && containsAny(strings.ToLower(*f.Headline), s.cfg.LeadershipRoles) {
		score += s.cfg.LeadershipBonus
	}

	return math.Min(score, 1.0)
}

// AggregateScore folds every founder linked to one company into a single
// team score. The best founder anchors it; additional strong founders and
// having a team at all add bounded bonuses.
func (s *Scorer) AggregateScore(founders []model.Founder) float64 {
	if len(founders) == 0 {
		return 0
	}

	scores := make([]float64, 0, len(founders))
	for _, f := range founders {
		scores = append(scores, f.FounderScore)
	}
	slices.SortFunc(scores, func(a, b float64) int { return cmp.Compare(b, a) })

	aggregate := scores[0]

	strong := 0
	for _, sc := range scores[1:] {
		if sc >= s.cfg.StrongFounderMin {
			strong++
		}
	}
	aggregate += math.Min(s.cfg.ExtraStrongBonus*float64(strong), s.cfg.ExtraStrongCap)

	if len(founders) >= 2 {
		aggregate += s.cfg.TeamBonus
	}

	return math.Min(aggregate, 1.0)
}

func experienceYears(e model.FounderExperience) int {
	if e.StartYear == nil {
		return 0
	}
	end := time.Now().Year()
	if e.EndYear != nil {
		end = *e.EndYear
	}
	if y := end - *e.StartYear; y > 0 {
		return y
	}
	return 0
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
