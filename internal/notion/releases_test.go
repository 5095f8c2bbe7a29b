package notion_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakken/internal/notion"
	"github.com/ashita-ai/hakken/internal/ratelimit"
)

const releasesDatabaseID = "db-releases"

// queryServer serves a single database query endpoint with canned results
// and captures the filters it receives.
type queryServer struct {
	srv     *httptest.Server
	results []map[string]any
	filters []fakeFilter
}

func newQueryServer(t *testing.T, databaseID string, results []map[string]any) *queryServer {
	qs := &queryServer{results: results}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /databases/"+databaseID+"/query", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Filter fakeFilter `json:"filter"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		qs.filters = append(qs.filters, req.Filter)
		writeJSON(w, map[string]any{"results": qs.results, "has_more": false})
	})
	qs.srv = httptest.NewServer(mux)
	t.Cleanup(qs.srv.Close)
	return qs
}

func (qs *queryServer) transport() *notion.Transport {
	return notion.NewTransport("secret", ratelimit.NoopLimiter{}, notion.TransportOptions{
		BaseURL: qs.srv.URL,
		Timeout: 5 * time.Second,
	})
}

func selectPropJSON(name string) map[string]any {
	return map[string]any{"type": "select", "select": map[string]any{"name": name}}
}

func titlePropJSON(s string) map[string]any {
	return map[string]any{"type": "title", "title": []any{map[string]any{"plain_text": s}}}
}

func TestFetchActiveRelease(t *testing.T) {
	page := map[string]any{"id": "rel-1", "properties": map[string]any{
		"Config Type":   selectPropJSON("thesis"),
		"Status":        selectPropJSON("Active"),
		"Human Version": richTextJSON("v3-2026-08"),
		"Content": map[string]any{"type": "rich_text", "rich_text": []any{
			map[string]any{"plain_text": "You are a deal screening analyst. "},
			map[string]any{"plain_text": "Score each company."},
		}},
	}}
	qs := newQueryServer(t, releasesDatabaseID, []map[string]any{page})
	src := notion.NewReleaseSource(qs.transport(), releasesDatabaseID)

	rel, err := src.FetchActive(context.Background(), "thesis")
	require.NoError(t, err)

	assert.Equal(t, "thesis", rel.Type)
	assert.Equal(t, "v3-2026-08", rel.HumanVersion)
	assert.Equal(t, "rel-1", rel.PageID)
	assert.Equal(t, "You are a deal screening analyst. Score each company.", rel.Content)
	assert.Equal(t, notion.HashContent(rel.Content), rel.ContentHash)
	assert.False(t, rel.FetchedAt.IsZero())

	require.Len(t, qs.filters, 1)
	and := qs.filters[0].And
	require.Len(t, and, 2)
	assert.Equal(t, "Config Type", and[0].Property)
	assert.Equal(t, "thesis", and[0].Select.Equals)
	assert.Equal(t, "Status", and[1].Property)
	assert.Equal(t, "Active", and[1].Select.Equals)
}

func TestFetchActiveReleaseNone(t *testing.T) {
	qs := newQueryServer(t, releasesDatabaseID, nil)
	src := notion.NewReleaseSource(qs.transport(), releasesDatabaseID)

	_, err := src.FetchActive(context.Background(), "taxonomy")
	require.Error(t, err)
	assert.ErrorIs(t, err, notion.ErrNoActiveRelease)
	assert.Contains(t, err.Error(), "taxonomy")
}

func TestFetchActiveReleaseMultiple(t *testing.T) {
	page := func(id string) map[string]any {
		return map[string]any{"id": id, "properties": map[string]any{
			"Config Type": selectPropJSON("thesis"),
			"Status":      selectPropJSON("Active"),
			"Content":     richTextJSON("text"),
		}}
	}
	qs := newQueryServer(t, releasesDatabaseID, []map[string]any{page("rel-1"), page("rel-2")})
	src := notion.NewReleaseSource(qs.transport(), releasesDatabaseID)

	_, err := src.FetchActive(context.Background(), "thesis")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple active releases")
}

func TestFetchActiveReleaseMissingContent(t *testing.T) {
	page := map[string]any{"id": "rel-1", "properties": map[string]any{
		"Config Type": selectPropJSON("thesis"),
		"Status":      selectPropJSON("Active"),
	}}
	qs := newQueryServer(t, releasesDatabaseID, []map[string]any{page})
	src := notion.NewReleaseSource(qs.transport(), releasesDatabaseID)

	_, err := src.FetchActive(context.Background(), "thesis")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no content")
}

func TestFetchWatchlists(t *testing.T) {
	pages := []map[string]any{
		{"id": "wl-1", "properties": map[string]any{
			"Name":   titlePropJSON("AI Infra"),
			"Status": selectPropJSON("Active"),
			"Include Keywords": map[string]any{
				"type":         "multi_select",
				"multi_select": []any{map[string]any{"name": "GPU"}, map[string]any{"name": "  Inference "}},
			},
			"Exclude Keywords": richTextJSON("crypto; web3\ngambling"),
			"Min Score":        map[string]any{"type": "number", "number": 0.6},
		}},
		// Nameless pages are skipped.
		{"id": "wl-2", "properties": map[string]any{
			"Status": selectPropJSON("Active"),
		}},
		{"id": "wl-3", "properties": map[string]any{
			"Name":             titlePropJSON("Climate"),
			"Include Keywords": richTextJSON("heat pumps, grid storage"),
		}},
	}
	qs := newQueryServer(t, "db-watchlists", pages)
	src := notion.NewWatchlistSource(qs.transport(), "db-watchlists")

	lists, err := src.FetchActive(context.Background())
	require.NoError(t, err)

	require.Len(t, lists, 2)

	ai := lists[0]
	assert.Equal(t, "AI Infra", ai.Name)
	assert.Equal(t, "Active", ai.Status)
	assert.Equal(t, []string{"gpu", "inference"}, ai.IncludeKeywords)
	assert.Equal(t, []string{"crypto", "web3", "gambling"}, ai.ExcludeKeywords)
	assert.InDelta(t, 0.6, ai.MinScore, 1e-9)

	climate := lists[1]
	assert.Equal(t, "Climate", climate.Name)
	assert.Equal(t, "Active", climate.Status, "missing status defaults to Active")
	assert.Equal(t, []string{"heat pumps", "grid storage"}, climate.IncludeKeywords)
	assert.Empty(t, climate.ExcludeKeywords)
	assert.Zero(t, climate.MinScore)

	require.Len(t, qs.filters, 1)
	assert.Equal(t, "Status", qs.filters[0].Property)
	assert.Equal(t, "Active", qs.filters[0].Select.Equals)
}
