package model

import (
	"time"

	"github.com/google/uuid"
)

// Founder is a person tracked across signals. FounderKey identifies the
// person across sources: "linkedin:<slug>", "github:<login>" or
// "email:<address>", matching whichever identifier the source exposed.
type Founder struct {
	ID         uuid.UUID `json:"id"`
	FounderKey string    `json:"founder_key"`
	FullName   string    `json:"full_name"`
	LinkedIn   *string   `json:"linkedin_url,omitempty"`
	GitHub     *string   `json:"github_login,omitempty"`
	Email      *string   `json:"email,omitempty"`
	Location   *string   `json:"location,omitempty"`
	Headline   *string   `json:"headline,omitempty"`

	IsSerialFounder    bool `json:"is_serial_founder"`
	IsTechnical        bool `json:"is_technical"`
	HasFAANGExperience bool `json:"has_faang_experience"`
	HasStartupHistory  bool `json:"has_startup_experience"`
	HasDomainExpertise bool `json:"has_domain_expertise"`
	PreviousExits      int  `json:"previous_exits"`
	YearsExperience    int  `json:"years_experience"`

	// FounderScore is recomputed lazily; ScoreCalculatedAt tells when.
	FounderScore      float64    `json:"founder_score"`
	ScoreCalculatedAt *time.Time `json:"score_calculated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExperienceType categorizes one entry in a founder's history.
type ExperienceType string

const (
	ExperienceWork       ExperienceType = "work"
	ExperienceEducation  ExperienceType = "education"
	ExperienceAdvisory   ExperienceType = "advisory"
	ExperienceInvestment ExperienceType = "investment"
)

// FounderExperience is one role in a founder's background.
type FounderExperience struct {
	ID             uuid.UUID      `json:"id"`
	FounderID      uuid.UUID      `json:"founder_id"`
	ExperienceType ExperienceType `json:"experience_type"`
	Organization   string         `json:"organization"`
	Title          *string        `json:"title,omitempty"`
	StartYear      *int           `json:"start_year,omitempty"`
	EndYear        *int           `json:"end_year,omitempty"`
	IsCurrent      bool           `json:"is_current"`

	WasFounder     bool `json:"was_founder"`
	WasExecutive   bool `json:"was_executive"`
	WasEngineering bool `json:"was_engineering"`
	ResultedInExit bool `json:"resulted_in_exit"`

	CreatedAt time.Time `json:"created_at"`
}

// FounderRelationship describes how a founder relates to a signal's company.
type FounderRelationship string

const (
	RelationshipFounder   FounderRelationship = "founder"
	RelationshipCofounder FounderRelationship = "cofounder"
	RelationshipAdvisor   FounderRelationship = "advisor"
	RelationshipInvestor  FounderRelationship = "investor"
)

// FounderSignalLink ties a founder to a signal with a relationship label.
type FounderSignalLink struct {
	ID           uuid.UUID           `json:"id"`
	FounderID    uuid.UUID           `json:"founder_id"`
	SignalID     uuid.UUID           `json:"signal_id"`
	Relationship FounderRelationship `json:"relationship"`
	Confidence   float64             `json:"confidence"`
	CreatedAt    time.Time           `json:"created_at"`
}
