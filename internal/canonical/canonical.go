// Package canonical builds deterministic company identity keys.
//
// A canonical key is "<kind>:<normalized-value>", e.g. "domain:acme.ai" or
// "companies_house:sc123456". Every source that discovers a company reports
// whatever identifiers it has; this package normalizes them and picks one key
// by a strict priority order so the same company always resolves to the same
// string, no matter which source saw it first.
package canonical

import (
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// Kind is the identity source a key came from.
type Kind string

const (
	KindDomain         Kind = "domain"
	KindCompaniesHouse Kind = "companies_house"
	KindCrunchbase     Kind = "crunchbase"
	KindPitchbook      Kind = "pitchbook"
	KindGitHubOrg      Kind = "github_org"
	KindGitHubRepo     Kind = "github_repo"
	KindNameLoc        Kind = "name_loc"
)

// strengths scores each kind by how stable its identity source is.
// Domains outlive rebrands; GitHub orgs get renamed; bare names collide.
var strengths = map[Kind]int{
	KindDomain:         100,
	KindCompaniesHouse: 95,
	KindCrunchbase:     80,
	KindPitchbook:      80,
	KindGitHubOrg:      50,
	KindGitHubRepo:     40,
	KindNameLoc:        10,
}

// Inputs carries every identifier a source may know about a company.
// Zero-value fields are simply skipped.
type Inputs struct {
	Website              string
	CompaniesHouseNumber string
	CrunchbaseID         string
	PitchbookID          string
	GitHubOrg            string
	GitHubRepo           string
	CompanyName          string
	Region               string
}

var (
	slugRe  = regexp.MustCompile(`[^a-z0-9]+`)
	alnumRe = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// Slug lowercases, collapses runs of non-alphanumerics to "-" and trims.
func Slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// NormalizeDomain reduces a website or bare hostname to a stable root
// domain: scheme, credentials, port, path and a leading "www." are all
// stripped. Returns "" when no plausible domain remains (a domain must
// contain a dot).
func NormalizeDomain(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if !strings.Contains(v, "://") {
		v = "https://" + v
	}
	u, err := url.Parse(v)
	if err != nil {
		return ""
	}
	host := strings.ToLower(strings.TrimSpace(u.Hostname()))
	host = strings.Trim(host, ".")
	host = strings.TrimPrefix(host, "www.")
	if !strings.Contains(host, ".") {
		return ""
	}
	return host
}

// NormalizeCompanyNumber normalizes registry numbers such as UK Companies
// House ones: keeps alphanumerics, lowercases ("NI-123-456" -> "ni123456").
func NormalizeCompanyNumber(value string) string {
	return strings.ToLower(alnumRe.ReplaceAllString(strings.TrimSpace(value), ""))
}

// NormalizeRepo normalizes a GitHub repository reference to "org/repo".
// Accepts "Org/Repo" or a full github.com URL.
func NormalizeRepo(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if strings.Contains(v, "github.com") {
		if !strings.Contains(v, "://") {
			v = "https://" + v
		}
		u, err := url.Parse(v)
		if err != nil {
			return ""
		}
		v = strings.Trim(u.Path, "/")
	}
	parts := strings.Split(v, "/")
	parts = slices.DeleteFunc(parts, func(p string) bool { return p == "" })
	if len(parts) < 2 {
		return ""
	}
	org, repo := Slug(parts[0]), Slug(parts[1])
	if org == "" || repo == "" {
		return ""
	}
	return org + "/" + repo
}

// Candidates returns every key the inputs support, best first, de-duped.
// Callers use the full list for dedupe lookups and stub promotion; the
// head of the list is the canonical key.
func Candidates(in Inputs) []string {
	var out []string
	add := func(kind Kind, value string) {
		if value == "" {
			return
		}
		key := string(kind) + ":" + value
		if !slices.Contains(out, key) {
			out = append(out, key)
		}
	}

	add(KindDomain, NormalizeDomain(in.Website))
	add(KindCompaniesHouse, NormalizeCompanyNumber(in.CompaniesHouseNumber))
	add(KindCrunchbase, strings.ToLower(strings.TrimSpace(in.CrunchbaseID)))
	add(KindPitchbook, strings.ToLower(strings.TrimSpace(in.PitchbookID)))
	add(KindGitHubOrg, Slug(in.GitHubOrg))
	add(KindGitHubRepo, NormalizeRepo(in.GitHubRepo))

	// Last-resort fallback for stealth companies. Never strong enough for
	// auto-merge, but it keeps the record findable in review queues.
	if name := Slug(in.CompanyName); name != "" {
		v := name
		if region := Slug(in.Region); region != "" {
			v += "|" + region
		}
		add(KindNameLoc, v)
	}
	return out
}

// Build returns the single best key for the inputs, or "" when the inputs
// carry no usable identifier at all.
func Build(in Inputs) string {
	if c := Candidates(in); len(c) > 0 {
		return c[0]
	}
	return ""
}

// KindOf extracts the kind prefix from a key. Returns "" for malformed keys.
func KindOf(key string) Kind {
	prefix, _, ok := strings.Cut(key, ":")
	if !ok {
		return ""
	}
	return Kind(prefix)
}

// Strength scores a key by the stability of its identity source. Higher
// wins when merging records; unknown or malformed keys score 0.
func Strength(key string) int {
	return strengths[KindOf(key)]
}

// IsStrong reports whether the key is stable enough for automatic merging.
// Only domain, companies_house, crunchbase and pitchbook qualify.
func IsStrong(key string) bool {
	return Strength(key) >= 80
}

// Result pairs the selected key with the full candidate list behind it.
type Result struct {
	Key        string
	Candidates []string
}

// HasStrongKey reports whether the selected key is safe for auto-merge.
func (r Result) HasStrongKey() bool {
	return r.Key != "" && IsStrong(r.Key)
}

// discoveryKinds lists every kind a discovery id can start with.
var discoveryKinds = []Kind{
	KindDomain,
	KindCompaniesHouse,
	KindCrunchbase,
	KindPitchbook,
	KindGitHubOrg,
	KindGitHubRepo,
	KindNameLoc,
}

// DiscoveryID derives the external prospect identifier the CRM carries for
// a canonical key. Colons become underscores so the id survives systems
// that treat ":" as a separator.
func DiscoveryID(key string) string {
	if key == "" {
		return ""
	}
	return "disc_" + strings.ReplaceAll(key, ":", "_")
}

// FromDiscoveryID reverses DiscoveryID by matching the leading key kind.
// Returns "" when the id carries no known kind.
func FromDiscoveryID(id string) string {
	rest, ok := strings.CutPrefix(id, "disc_")
	if !ok || rest == "" {
		return ""
	}
	for _, kind := range discoveryKinds {
		if v, ok := strings.CutPrefix(rest, string(kind)+"_"); ok && v != "" {
			return string(kind) + ":" + v
		}
	}
	return ""
}

// FromRefs builds a Result from an external_refs map as connectors store
// it. Recognized keys: domain, website, companies_house_number,
// crunchbase_id, pitchbook_id, github_org, github_repo. The fallback name
// and region only contribute the weak name_loc candidate.
func FromRefs(refs map[string]string, fallbackName, fallbackRegion string) Result {
	website := refs["domain"]
	if website == "" {
		website = refs["website"]
	}
	c := Candidates(Inputs{
		Website:              website,
		CompaniesHouseNumber: refs["companies_house_number"],
		CrunchbaseID:         refs["crunchbase_id"],
		PitchbookID:          refs["pitchbook_id"],
		GitHubOrg:            refs["github_org"],
		GitHubRepo:           refs["github_repo"],
		CompanyName:          fallbackName,
		Region:               fallbackRegion,
	})
	r := Result{Candidates: c}
	if len(c) > 0 {
		r.Key = c[0]
	}
	return r
}
