// Package resolve maps source assets onto canonical lead keys so signals
// from different sources about the same company consolidate.
//
// Strategies run in a fixed order, each optionally producing a candidate:
// domain match (strongest), code-host org match, then a name heuristic as a
// last resort. A fuzzy name-similarity strategy is reserved but not yet
// implemented.
package resolve

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/ashita-ai/hakken/internal/canonical"
	"github.com/ashita-ai/hakken/internal/model"
)

// Hosting and code-forge domains that never identify a company.
var skipDomains = []string{
	"github.io",
	"github.com",
	"gitlab.io",
	"gitlab.com",
	"bitbucket.org",
	"herokuapp.com",
	"netlify.app",
	"vercel.app",
	"pages.dev",
	"web.app",
	"firebaseapp.com",
}

// Config tunes per-strategy confidences and toggles.
type Config struct {
	DomainMatchConfidence float64
	OrgMatchConfidence    float64
	NameMatchConfidence   float64
	HeuristicConfidence   float64

	EnableDomainMatch    bool
	EnableOrgMatch       bool
	EnableNameSimilarity bool // reserved, no strategy behind it yet
	EnableHeuristic      bool
}

// DefaultConfig returns the production strategy settings.
func DefaultConfig() Config {
	return Config{
		DomainMatchConfidence: 0.9,
		OrgMatchConfidence:    0.75,
		NameMatchConfidence:   0.6,
		HeuristicConfidence:   0.4,
		EnableDomainMatch:     true,
		EnableOrgMatch:        true,
		EnableHeuristic:       true,
	}
}

// Candidate is one possible asset-to-lead resolution.
type Candidate struct {
	LeadCanonicalKey string                 `json:"lead_canonical_key"`
	Confidence       float64                `json:"confidence"`
	Method           model.ResolutionMethod `json:"method"`
	Reason           string                 `json:"reason"`
	Metadata         map[string]any         `json:"metadata,omitempty"`
}

// Resolver runs the resolution strategies. It is pure computation and safe
// for concurrent use.
type Resolver struct {
	cfg Config
}

// New builds a resolver with the given strategy configuration.
func New(cfg Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// FindCandidates returns every resolution the enabled strategies produce for
// the asset, highest confidence first.
func (r *Resolver) FindCandidates(asset model.SourceAsset) []Candidate {
	var candidates []Candidate

	if r.cfg.EnableDomainMatch {
		if c, ok := r.resolveByDomain(asset); ok {
			candidates = append(candidates, c)
		}
	}
	if r.cfg.EnableOrgMatch {
		if c, ok := r.resolveByOrg(asset); ok {
			candidates = append(candidates, c)
		}
	}
	if r.cfg.EnableHeuristic {
		if c, ok := r.resolveByHeuristic(asset); ok {
			candidates = append(candidates, c)
		}
	}

	slices.SortStableFunc(candidates, func(a, b Candidate) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	return candidates
}

// BestCandidate returns the strongest candidate at or above minConfidence.
func (r *Resolver) BestCandidate(asset model.SourceAsset, minConfidence float64) (Candidate, bool) {
	for _, c := range r.FindCandidates(asset) {
		if c.Confidence >= minConfidence {
			return c, true
		}
	}
	return Candidate{}, false
}

// resolveByDomain extracts a homepage-style URL from the payload and keys
// the lead by its registrable domain. Hosting domains are skipped; a repo
// pointing at user.github.io says nothing about the company.
func (r *Resolver) resolveByDomain(asset model.SourceAsset) (Candidate, bool) {
	var rawURL string
	switch asset.SourceType {
	case model.AssetGitHubRepo:
		rawURL = payloadString(asset.RawPayload, "homepage")
	case model.AssetProductHunt:
		rawURL = payloadString(asset.RawPayload, "website")
	case model.AssetHackerNews:
		rawURL = payloadString(asset.RawPayload, "url")
	default:
		rawURL = firstPayloadString(asset.RawPayload, "homepage", "website", "url")
	}
	if rawURL == "" {
		return Candidate{}, false
	}

	domain := canonical.NormalizeDomain(rawURL)
	if domain == "" || skippedDomain(domain) {
		return Candidate{}, false
	}

	return Candidate{
		LeadCanonicalKey: string(canonical.KindDomain) + ":" + domain,
		Confidence:       r.cfg.DomainMatchConfidence,
		Method:           model.ResolveDomainMatch,
		Reason:           "Domain extracted from URL: " + rawURL,
		Metadata:         map[string]any{"source_url": rawURL, "domain": domain},
	}, true
}

// resolveByOrg keys code-host assets by their owning organization. Short or
// all-lowercase logins are often personal accounts, so those resolve at
// reduced confidence.
func (r *Resolver) resolveByOrg(asset model.SourceAsset) (Candidate, bool) {
	if asset.SourceType != model.AssetGitHubRepo {
		return Candidate{}, false
	}

	var org string
	switch owner := asset.RawPayload["owner"].(type) {
	case map[string]any:
		org = payloadString(owner, "login")
	case string:
		org = owner
	}
	if org == "" {
		if before, _, ok := strings.Cut(asset.ExternalID, "/"); ok {
			org = before
		}
	}
	if org == "" {
		return Candidate{}, false
	}

	key := string(canonical.KindGitHubOrg) + ":" + canonical.Slug(org)
	if len(org) < 3 || org == strings.ToLower(org) {
		return Candidate{
			LeadCanonicalKey: key,
			Confidence:       r.cfg.OrgMatchConfidence * 0.7,
			Method:           model.ResolveOrgMatch,
			Reason:           "GitHub org (possibly personal): " + org,
			Metadata:         map[string]any{"org": org, "possibly_personal": true},
		}, true
	}
	return Candidate{
		LeadCanonicalKey: key,
		Confidence:       r.cfg.OrgMatchConfidence,
		Method:           model.ResolveOrgMatch,
		Reason:           "GitHub organization: " + org,
		Metadata:         map[string]any{"org": org},
	}, true
}

// resolveByHeuristic guesses a company name from the payload when nothing
// stronger is available.
func (r *Resolver) resolveByHeuristic(asset model.SourceAsset) (Candidate, bool) {
	var name, source string
	switch asset.SourceType {
	case model.AssetGitHubRepo:
		if i := strings.LastIndex(asset.ExternalID, "/"); i >= 0 {
			name, source = asset.ExternalID[i+1:], "repo_name"
		}
	case model.AssetProductHunt:
		name, source = payloadString(asset.RawPayload, "name"), "product_name"
	case model.AssetHackerNews:
		title := payloadString(asset.RawPayload, "title")
		if rest, ok := strings.CutPrefix(title, "Show HN:"); ok {
			if fields := strings.Fields(rest); len(fields) > 0 {
				name, source = fields[0], "hn_title"
			}
		}
	}
	if name == "" {
		return Candidate{}, false
	}

	normalized := normalizeName(name)
	if len(normalized) < 2 {
		return Candidate{}, false
	}

	return Candidate{
		LeadCanonicalKey: "name:" + normalized,
		Confidence:       r.cfg.HeuristicConfidence,
		Method:           model.ResolveHeuristic,
		Reason:           fmt.Sprintf("Name extracted from %s: %s", source, name),
		Metadata:         map[string]any{"name": name, "normalized": normalized, "source": source},
	}, true
}

func skippedDomain(domain string) bool {
	for _, skip := range skipDomains {
		if domain == skip || strings.HasSuffix(domain, "."+skip) {
			return true
		}
	}
	return false
}

// Corporate suffixes stripped from heuristic names, in application order.
var nameSuffixes = []string{"inc", "llc", "ltd", "corp", "co", "io", "app"}

var nonNameRe = regexp.MustCompile(`[^a-z0-9\s]`)

// normalizeName lowercases, strips one trailing corporate suffix per entry
// in nameSuffixes, drops punctuation and collapses whitespace.
func normalizeName(name string) string {
	name = strings.ToLower(name)
	for _, suffix := range nameSuffixes {
		name = stripSuffixWord(name, suffix)
	}
	name = nonNameRe.ReplaceAllString(name, "")
	return strings.Join(strings.Fields(name), " ")
}

func stripSuffixWord(name, suffix string) string {
	trimmed := strings.TrimSuffix(name, ".")
	if !strings.HasSuffix(trimmed, suffix) {
		return name
	}
	return strings.TrimRight(strings.TrimSuffix(trimmed, suffix), " \t")
}

func payloadString(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

func firstPayloadString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := payloadString(payload, key); s != "" {
			return s
		}
	}
	return ""
}
