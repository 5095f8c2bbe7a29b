// Package model defines the core domain types for Hakken.
//
// Types correspond directly to database tables and connector payloads.
// They use strong typing (UUIDs, time.Time, enums) and avoid interface{}
// outside of raw source payloads, which stay schemaless.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus tracks a signal through its lifecycle. Status only moves
// forward: pending -> pushed or pending -> rejected, never backwards.
type ProcessingStatus string

const (
	ProcessingPending  ProcessingStatus = "pending"
	ProcessingPushed   ProcessingStatus = "pushed"
	ProcessingRejected ProcessingStatus = "rejected"
)

// Well-known raw_data keys. Everything else in raw_data is opaque to the core;
// adapters and the verification gate may project further fields at their own risk.
const (
	RawKeyCanonicalKey     = "canonical_key"
	RawKeyKeyCandidates    = "canonical_key_candidates"
	RawKeyCompanyName      = "company_name"
	RawKeyPreviousSnapshot = "_previous_snapshot"
	RawKeyWhyNow           = "why_now"
)

// Signal is a single observation from one source about one (approximate)
// company. Immutable after insert except for processing status and the
// attached CRM page reference.
type Signal struct {
	ID         uuid.UUID `json:"id"`
	SignalID   string    `json:"signal_id"` // source-derived stable id, e.g. "github_spike_3fa8c1d2e901"
	SignalType string    `json:"signal_type"`
	SourceAPI  string    `json:"source_api"`
	SourceID   string    `json:"source_id,omitempty"`
	SourceURL  string    `json:"source_url,omitempty"`

	// SHA-256 of the raw upstream response, for provenance.
	SourceResponseHash string `json:"source_response_hash,omitempty"`

	CanonicalKey  string   `json:"canonical_key"`
	KeyCandidates []string `json:"canonical_key_candidates,omitempty"`
	CompanyName   *string  `json:"company_name,omitempty"`

	Confidence float64        `json:"confidence"`
	RawData    map[string]any `json:"raw_data"`

	// Dedup hash over (source_api, source_id); first 32 hex chars.
	ContentHash string `json:"content_hash,omitempty"`

	DetectedAt  time.Time `json:"detected_at"`
	CreatedAt   time.Time `json:"created_at"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`

	// Processing state (joined from signal_processing).
	Status       ProcessingStatus `json:"status,omitempty"`
	NotionPageID *string          `json:"notion_page_id,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	ProcessedAt  *time.Time       `json:"processed_at,omitempty"`
}

// Key returns the effective canonical key: the explicit key, else the first
// candidate, else the signal's own id. Signals never group with each other
// when they fall back to their own id.
func (s Signal) Key() string {
	if s.CanonicalKey != "" {
		return s.CanonicalKey
	}
	if len(s.KeyCandidates) > 0 {
		return s.KeyCandidates[0]
	}
	return s.SignalID
}

// AgeDays returns the age of the signal in fractional days at the given time.
func (s Signal) AgeDays(now time.Time) float64 {
	return now.Sub(s.DetectedAt).Hours() / 24
}

// ContentHash fingerprints an observation by its immutable source
// identifiers only, so renames upstream never break dedup. First 32 hex
// chars of SHA-256 over "api|id".
func ContentHash(sourceAPI, sourceID string) string {
	sum := sha256.Sum256([]byte(sourceAPI + "|" + sourceID))
	return hex.EncodeToString(sum[:])[:32]
}

// SuppressionEntry caches a canonical key already present in the external CRM.
// Entries past expires_at are treated as absent.
type SuppressionEntry struct {
	CanonicalKey string         `json:"canonical_key"`
	NotionPageID string         `json:"notion_page_id"`
	Status       string         `json:"status"`
	CompanyName  *string        `json:"company_name,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CachedAt     time.Time      `json:"cached_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
}
