package notion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashita-ai/hakken/internal/model"
)

// Property names in the Config Releases and Watchlists databases.
const (
	propConfigType   = "Config Type"
	propHumanVersion = "Human Version"
	propContent      = "Content"

	propWatchlistName = "Name"
	propIncludeWords  = "Include Keywords"
	propExcludeWords  = "Exclude Keywords"
	propMinScore      = "Min Score"
)

// statusActive marks the live entry in both databases.
const statusActive = "Active"

// Release fetch failures the config loader tells apart: a missing Active
// page can fall back to a compiled-in default, while an ambiguous or blank
// release is an operator error and always propagates.
var (
	ErrNoActiveRelease  = errors.New("notion: no active release")
	ErrAmbiguousRelease = errors.New("notion: multiple active releases")
	ErrEmptyRelease     = errors.New("notion: active release has no content")
)

// ReleaseSource fetches config releases from a Config Releases database.
// Releases let analysts version thesis and taxonomy documents in the CRM
// and promote one at a time by flipping its Status to Active.
type ReleaseSource struct {
	transport  *Transport
	databaseID string
}

// NewReleaseSource builds a ReleaseSource against one releases database.
func NewReleaseSource(transport *Transport, databaseID string) *ReleaseSource {
	return &ReleaseSource{transport: transport, databaseID: databaseID}
}

// FetchActive returns the single Active release for configType. Zero Active
// pages yields ErrNoActiveRelease; more than one is an error because the
// ambiguity cannot be resolved here, someone must demote a page.
func (s *ReleaseSource) FetchActive(ctx context.Context, configType string) (model.ConfigRelease, error) {
	f := filter{And: []filter{
		selectEquals(propConfigType, configType),
		selectEquals(propStatus, statusActive),
	}}
	var resp queryResponse
	err := s.transport.Post(ctx, "/databases/"+s.databaseID+"/query", queryRequest{Filter: &f}, &resp)
	if err != nil {
		return model.ConfigRelease{}, err
	}

	switch len(resp.Results) {
	case 0:
		return model.ConfigRelease{}, fmt.Errorf("%w for %q", ErrNoActiveRelease, configType)
	case 1:
	default:
		return model.ConfigRelease{}, fmt.Errorf("%w for %q", ErrAmbiguousRelease, configType)
	}

	pg := resp.Results[0]
	content := pg.Properties[propContent].text()
	if content == "" {
		return model.ConfigRelease{}, fmt.Errorf("%w for %q", ErrEmptyRelease, configType)
	}
	return model.ConfigRelease{
		Type:         configType,
		HumanVersion: pg.Properties[propHumanVersion].text(),
		PageID:       pg.ID,
		Content:      content,
		ContentHash:  HashContent(content),
		FetchedAt:    time.Now().UTC(),
	}, nil
}

// HashContent fingerprints release content for change detection.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// WatchlistSource fetches analyst watchlists from a Watchlists database.
type WatchlistSource struct {
	transport  *Transport
	databaseID string
}

// NewWatchlistSource builds a WatchlistSource against one watchlists
// database.
func NewWatchlistSource(transport *Transport, databaseID string) *WatchlistSource {
	return &WatchlistSource{transport: transport, databaseID: databaseID}
}

// FetchActive returns every watchlist whose Status is Active. Pages without
// a name are skipped.
func (s *WatchlistSource) FetchActive(ctx context.Context) ([]model.Watchlist, error) {
	f := selectEquals(propStatus, statusActive)
	var resp queryResponse
	err := s.transport.Post(ctx, "/databases/"+s.databaseID+"/query", queryRequest{Filter: &f}, &resp)
	if err != nil {
		return nil, err
	}

	watchlists := make([]model.Watchlist, 0, len(resp.Results))
	for _, pg := range resp.Results {
		props := pg.Properties
		name := props[propWatchlistName].title()
		if name == "" {
			continue
		}
		status := props[propStatus].selectName()
		if status == "" {
			status = statusActive
		}
		watchlists = append(watchlists, model.Watchlist{
			Name:            name,
			Status:          status,
			IncludeKeywords: keywordsOf(props[propIncludeWords]),
			ExcludeKeywords: keywordsOf(props[propExcludeWords]),
			MinScore:        props[propMinScore].number(),
		})
	}
	return watchlists, nil
}

// keywordsOf reads keywords from whichever shape the analysts used: a
// multi_select with one option per keyword, or free text split on commas,
// semicolons and newlines. Keywords come back lowercased.
func keywordsOf(p property) []string {
	var keywords []string
	switch {
	case len(p.MultiSelect) > 0:
		for _, option := range p.MultiSelect {
			if kw := strings.ToLower(strings.TrimSpace(option.Name)); kw != "" {
				keywords = append(keywords, kw)
			}
		}
	case len(p.RichText) > 0:
		keywords = splitKeywords(joinSegments(p.RichText))
	case len(p.Title) > 0:
		keywords = splitKeywords(joinSegments(p.Title))
	}
	return keywords
}

func splitKeywords(text string) []string {
	if text == "" {
		return nil
	}
	var keywords []string
	for _, chunk := range strings.Split(strings.ReplaceAll(text, ";", ","), ",") {
		for _, line := range strings.Split(chunk, "\n") {
			if kw := strings.ToLower(strings.TrimSpace(line)); kw != "" {
				keywords = append(keywords, kw)
			}
		}
	}
	return keywords
}
