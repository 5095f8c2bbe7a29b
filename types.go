package hakken

import (
	"time"
)

// RunMode selects which pipeline stages a Discover call executes.
type RunMode string

const (
	// RunFull collects, processes and syncs in one pass.
	RunFull RunMode = "full"
	// RunCollect only pulls signals from the configured sources.
	RunCollect RunMode = "collect"
	// RunProcess only scores and routes signals already stored.
	RunProcess RunMode = "process"
	// RunSync only refreshes the suppression cache from the CRM.
	RunSync RunMode = "sync"
)

// PushDecision is the verification gate's routing verdict for a lead.
type PushDecision string

const (
	DecisionAutoPush    PushDecision = "auto_push"
	DecisionNeedsReview PushDecision = "needs_review"
	DecisionHold        PushDecision = "hold"
)

// PushOutcome says what a CRM connector actually did with a prospect.
type PushOutcome string

const (
	PushCreated PushOutcome = "created"
	PushUpdated PushOutcome = "updated"
	PushSkipped PushOutcome = "skipped"
)

// Signal is one discovery observation produced by a SourceAdapter.
// It is a curated view of the internal signal type for use in extension
// interfaces. No internal package imports — safe to use from outside the
// module.
//
// SignalID must be stable across runs for the same upstream fact; it is
// the dedup identity. CanonicalKey may be left empty when the adapter
// only knows a website or company name — the engine derives the key.
type Signal struct {
	SignalID   string
	SignalType string
	SourceAPI  string
	SourceID   string
	SourceURL  string

	CompanyName   string
	Website       string
	CanonicalKey  string
	KeyCandidates []string

	Confidence float64
	RawData    map[string]any
	DetectedAt time.Time
}

// Prospect is the public representation of a CRM-bound lead.
// It mirrors the payload the built-in Notion connector writes, so a
// custom CRMConnector sees the same fields.
type Prospect struct {
	DiscoveryID   string
	CompanyName   string
	CanonicalKey  string
	KeyCandidates []string

	Stage  string
	Status string

	Website           string
	ConfidenceScore   float64
	SignalTypes       []string
	WhyNow            string
	ShortDescription  string
	Sector            string
	ProposedSector    string
	TaxonomyStatus    string
	FounderName       string
	FounderLinkedIn   string
	Location          string
	TargetRaise       string
	ExternalRefs      map[string]string
	WatchlistsMatched []string
}

// PushResult reports what a CRMConnector did with a prospect.
type PushResult struct {
	Outcome PushOutcome
	// PageID is the connector's record identifier, used for suppression
	// and signal back-references.
	PageID string
	// Reason explains a skip (e.g. suppressed, below threshold).
	Reason string
}

// LLMReply is a classifier backend's raw response plus usage accounting.
type LLMReply struct {
	// Text is the raw response, expected to be JSON matching the prompt
	// contract.
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Evaluation is the verification gate's verdict for one lead.
type Evaluation struct {
	CanonicalKey   string
	Decision       PushDecision
	Confidence     float64
	Reason         string
	SourcesChecked []string
	CalculatedAt   time.Time
}

// RunOptions tune one Discover call. The zero value runs every registered
// collector in full mode with the configured parallelism and batch size.
type RunOptions struct {
	// Mode defaults to RunFull.
	Mode RunMode
	// Collectors restricts collection to these names. Empty runs every
	// registered collector.
	Collectors []string
	// DryRun collects and scores but persists no decisions and pushes
	// nothing to the CRM.
	DryRun bool
	// SignalType restricts processing to one signal type.
	SignalType string
}

// RunReport summarizes one completed pipeline run.
type RunReport struct {
	Mode       RunMode
	Status     string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time

	CollectorsRun       int
	CollectorsSucceeded int
	CollectorsFailed    int

	SignalsCollected    int
	SignalsStored       int
	SignalsDeduplicated int

	SignalsProcessed int
	AutoPush         int
	NeedsReview      int
	Held             int
	Rejected         int

	ProspectsCreated int
	ProspectsUpdated int
	ProspectsSkipped int

	SuppressionSynced int

	Errors []string
}
