package model

import (
	"time"

	"github.com/google/uuid"
)

// Investment stages understood by the CRM.
const (
	StagePreSeed  = "Pre-Seed"
	StageSeed     = "Seed"
	StageSeedPlus = "Seed +"
	StageSeriesA  = "Series A"
	StageSeriesB  = "Series B"
	StageSeriesC  = "Series C"
	StageSeriesD  = "Series D"
)

// Deal statuses understood by the CRM. "Dilligence" matches the CRM's own
// spelling; do not correct it here or lookups will miss.
const (
	StatusSource         = "Source"
	StatusInitialMeeting = "Initial Meeting / Call"
	StatusDiligence      = "Dilligence"
	StatusTracking       = "Tracking"
	StatusCommitted      = "Committed"
	StatusFunded         = "Funded"
	StatusPassed         = "Passed"
	StatusLost           = "Lost"
)

// ProspectPayload is the full record pushed to the CRM for one lead.
type ProspectPayload struct {
	DiscoveryID   string   `json:"discovery_id"`
	CompanyName   string   `json:"company_name"`
	CanonicalKey  string   `json:"canonical_key"`
	KeyCandidates []string `json:"canonical_key_candidates,omitempty"`

	Stage  string `json:"stage"`
	Status string `json:"status"`

	Website           string            `json:"website,omitempty"`
	ConfidenceScore   float64           `json:"confidence_score"`
	SignalTypes       []string          `json:"signal_types,omitempty"`
	WhyNow            string            `json:"why_now,omitempty"`
	ShortDescription  string            `json:"short_description,omitempty"`
	Sector            string            `json:"sector,omitempty"`
	ProposedSector    string            `json:"proposed_sector,omitempty"`
	TaxonomyStatus    string            `json:"taxonomy_status,omitempty"`
	FounderName       string            `json:"founder_name,omitempty"`
	FounderLinkedIn   string            `json:"founder_linkedin,omitempty"`
	Location          string            `json:"location,omitempty"`
	TargetRaise       string            `json:"target_raise,omitempty"`
	ExternalRefs      map[string]string `json:"external_refs,omitempty"`
	WatchlistsMatched []string          `json:"watchlists_matched,omitempty"`
}

// UpsertOutcome says what the CRM connector actually did.
type UpsertOutcome string

const (
	UpsertCreated UpsertOutcome = "created"
	UpsertUpdated UpsertOutcome = "updated"
	UpsertSkipped UpsertOutcome = "skipped"
)

// UpsertResult is the CRM connector's response to an upsert.
type UpsertResult struct {
	Outcome UpsertOutcome `json:"status"`
	PageID  string        `json:"page_id,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}

// OutboxStatus tracks a queued CRM write. Terminal once sent; failed rows are
// retried after next_attempt_at, dead rows only leave via the cleanup sweep.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
	OutboxDead    OutboxStatus = "dead"
)

// OutboxEntry is one durable queued write to the CRM.
type OutboxEntry struct {
	ID            uuid.UUID       `json:"id"`
	CanonicalKey  string          `json:"canonical_key"`
	Payload       ProspectPayload `json:"payload"`
	SignalIDs     []uuid.UUID     `json:"signal_ids"`
	Status        OutboxStatus    `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     *string         `json:"last_error,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
	SentAt        *time.Time      `json:"sent_at,omitempty"`
}
