package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConfigRelease is one externally managed configuration document (thesis
// text, sector taxonomy) pulled from the CRM workspace. Content is the raw
// document body; ContentHash fingerprints it for change detection.
type ConfigRelease struct {
	Type         string    `json:"config_type"`
	HumanVersion string    `json:"human_version"`
	PageID       string    `json:"page_id,omitempty"`
	Content      string    `json:"content"`
	ContentHash  string    `json:"content_hash"`
	Fallback     bool      `json:"fallback,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// ConfigSnapshot is the persisted audit copy of a fetched release.
type ConfigSnapshot struct {
	ID           uuid.UUID `json:"id"`
	ConfigType   string    `json:"config_type"`
	HumanVersion string    `json:"human_version"`
	NotionPageID *string   `json:"notion_page_id,omitempty"`
	ContentHash  string    `json:"content_hash"`
	ContentText  string    `json:"content_text"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Watchlist is an analyst-maintained focus filter. Keywords are stored
// lowercased; matching is substring-based over name plus description.
type Watchlist struct {
	Name            string   `json:"name"`
	Status          string   `json:"status"`
	IncludeKeywords []string `json:"include_keywords,omitempty"`
	ExcludeKeywords []string `json:"exclude_keywords,omitempty"`
	MinScore        float64  `json:"min_score"`
}

// Matches reports whether a prospect falls inside the watchlist: the score
// clears the floor, at least one include keyword appears (when any are set)
// and no exclude keyword appears.
func (w Watchlist) Matches(companyName, description string, score float64) bool {
	if score < w.MinScore {
		return false
	}
	text := strings.ToLower(companyName + " " + description)
	if len(w.IncludeKeywords) > 0 {
		hit := false
		for _, kw := range w.IncludeKeywords {
			if kw != "" && strings.Contains(text, kw) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for _, kw := range w.ExcludeKeywords {
		if kw != "" && strings.Contains(text, kw) {
			return false
		}
	}
	return true
}
