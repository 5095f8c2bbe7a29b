package model

import (
	"time"

	"github.com/google/uuid"
)

// Asset source types as registered by the collectors.
const (
	AssetGitHubRepo  = "github_repo"
	AssetProductHunt = "product_hunt"
	AssetHackerNews  = "hacker_news"
	AssetCHCompany   = "ch_company"
	AssetSECFiling   = "sec_filing"
	AssetWhoisDomain = "whois_domain"
)

// SourceAsset is one snapshot of an upstream entity (a repo, a filing, a
// launch) at a point in time. Snapshots are append-only; the latest row is
// "current" and the one before it is the basis for change detection.
type SourceAsset struct {
	ID             uuid.UUID      `json:"id"`
	SourceType     string         `json:"source_type"` // e.g. AssetGitHubRepo
	ExternalID     string         `json:"external_id"` // stable id from the source, e.g. "acme/app"
	RawPayload     map[string]any `json:"raw_payload"`
	ContentHash    string         `json:"content_hash,omitempty"`
	FetchedAt      time.Time      `json:"fetched_at"`
	ChangeDetected bool           `json:"change_detected"`
}

// ResolutionMethod says how an asset was linked to a lead.
type ResolutionMethod string

const (
	ResolveDomainMatch    ResolutionMethod = "domain_match"
	ResolveOrgMatch       ResolutionMethod = "org_match"
	ResolveNameSimilarity ResolutionMethod = "name_similarity"
	ResolveHeuristic      ResolutionMethod = "heuristic"
	ResolveManual         ResolutionMethod = "manual"
)

// AssetLink maps a source asset to a canonical lead key. At most one link is
// active per (source_type, external_id); manual links outrank all others and
// among non-manual links the highest confidence wins.
type AssetLink struct {
	ID               uuid.UUID        `json:"id"`
	SourceType       string           `json:"source_type"`
	ExternalID       string           `json:"external_id"`
	LeadCanonicalKey string           `json:"lead_canonical_key"`
	Confidence       float64          `json:"confidence"`
	ResolvedBy       ResolutionMethod `json:"resolved_by"`
	Reason           string           `json:"reason,omitempty"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
	ResolvedAt       time.Time        `json:"resolved_at"`
}

// AssetRef identifies a registered asset that may or may not be linked yet.
type AssetRef struct {
	SourceType   string    `json:"source_type"`
	ExternalID   string    `json:"external_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

// AssetDelta partitions a fetch against the previous snapshots.
type AssetDelta struct {
	New       []map[string]any `json:"new"`
	Changed   []map[string]any `json:"changed"`
	Unchanged []map[string]any `json:"unchanged"`
}
