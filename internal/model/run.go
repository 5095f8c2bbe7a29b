package model

import (
	"time"

	"github.com/google/uuid"
)

// CollectorStatus is the terminal state of one collector invocation.
type CollectorStatus string

const (
	CollectorRunning        CollectorStatus = "running"
	CollectorDryRun         CollectorStatus = "dry_run"
	CollectorSuccess        CollectorStatus = "success"
	CollectorPartialSuccess CollectorStatus = "partial_success"
	CollectorError          CollectorStatus = "error"
)

// CollectorResult summarizes one collector invocation.
type CollectorResult struct {
	Collector        string          `json:"collector"`
	Status           CollectorStatus `json:"status"`
	SignalsCollected int             `json:"signals_collected"`
	SignalsStored    int             `json:"signals_stored"`
	Deduplicated     int             `json:"deduplicated"`
	APIRequests      int             `json:"api_requests"`
	Errors           []string        `json:"errors,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
}

// Duration is the wall-clock time the collector ran for.
func (r CollectorResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// CollectorRun is the persisted record of a collector invocation.
type CollectorRun struct {
	ID               uuid.UUID       `json:"id"`
	RunID            *uuid.UUID      `json:"run_id,omitempty"`
	Collector        string          `json:"collector"`
	Status           CollectorStatus `json:"status"`
	SignalsCollected int             `json:"signals_collected"`
	SignalsStored    int             `json:"signals_stored"`
	Deduplicated     int             `json:"deduplicated"`
	APIRequests      int             `json:"api_requests"`
	ErrorDetail      *string         `json:"error_detail,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty"`
}

// PipelineStats accumulates counters across one end-to-end run.
type PipelineStats struct {
	CollectorsRun       int `json:"collectors_run"`
	CollectorsSucceeded int `json:"collectors_succeeded"`
	CollectorsFailed    int `json:"collectors_failed"`

	SignalsCollected    int `json:"signals_collected"`
	SignalsStored       int `json:"signals_stored"`
	SignalsDeduplicated int `json:"signals_deduplicated"`

	SignalsProcessed int `json:"signals_processed"`
	AutoPush         int `json:"auto_push"`
	NeedsReview      int `json:"needs_review"`
	Held             int `json:"held"`
	Rejected         int `json:"rejected"`

	ProspectsCreated int `json:"prospects_created"`
	ProspectsUpdated int `json:"prospects_updated"`
	ProspectsSkipped int `json:"prospects_skipped"`

	SuppressionSynced int `json:"suppression_synced"`

	Errors []string `json:"errors,omitempty"`
}

// AddError appends err, capped at 20 entries so a flapping collector
// cannot balloon the persisted run record.
func (s *PipelineStats) AddError(err string) {
	if len(s.Errors) >= 20 {
		return
	}
	s.Errors = append(s.Errors, err)
}

// RunStatus is the terminal state of a pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunMode selects which phases a pipeline run executes.
type RunMode string

const (
	ModeFull    RunMode = "full"
	ModeCollect RunMode = "collect"
	ModeProcess RunMode = "process"
	ModeSync    RunMode = "sync"
)

// PipelineRun is the persisted record of one orchestrator invocation.
type PipelineRun struct {
	ID         uuid.UUID     `json:"id"`
	Mode       RunMode       `json:"mode"`
	Status     RunStatus     `json:"status"`
	DryRun     bool          `json:"dry_run"`
	Stats      PipelineStats `json:"stats"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}
