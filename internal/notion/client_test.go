package notion_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakken/internal/model"
	"github.com/ashita-ai/hakken/internal/notion"
	"github.com/ashita-ai/hakken/internal/ratelimit"
)

const testDatabaseID = "db1"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// crmPage is a deal row the fake CRM serves back through query filters.
type crmPage struct {
	ID           string
	Name         string
	Status       string
	DiscoveryID  string
	CanonicalKey string
	Website      string
	Sector       string
}

func (p crmPage) render() map[string]any {
	props := map[string]any{
		"Company Name": map[string]any{
			"type":  "title",
			"title": []any{map[string]any{"plain_text": p.Name}},
		},
		"Status": map[string]any{
			"type":   "select",
			"select": map[string]any{"name": p.Status},
		},
	}
	if p.DiscoveryID != "" {
		props["Discovery ID"] = richTextJSON(p.DiscoveryID)
	}
	if p.CanonicalKey != "" {
		props["Canonical Key"] = richTextJSON(p.CanonicalKey)
	}
	if p.Website != "" {
		props["Website"] = map[string]any{"type": "url", "url": p.Website}
	}
	if p.Sector != "" {
		props["Sector"] = map[string]any{"type": "select", "select": map[string]any{"name": p.Sector}}
	}
	return map[string]any{"id": p.ID, "properties": props}
}

func richTextJSON(s string) map[string]any {
	return map[string]any{
		"type":      "rich_text",
		"rich_text": []any{map[string]any{"plain_text": s}},
	}
}

func selectSchemaJSON(options ...string) map[string]any {
	opts := make([]any, 0, len(options))
	for _, o := range options {
		opts = append(opts, map[string]any{"name": o})
	}
	return map[string]any{"type": "select", "select": map[string]any{"options": opts}}
}

func richTextSchemaJSON() map[string]any {
	return map[string]any{"type": "rich_text", "rich_text": map[string]any{}}
}

// validSchema returns a deal database schema with every property the
// connector knows about, all select options included.
func validSchema() map[string]any {
	return map[string]any{
		"id": testDatabaseID,
		"properties": map[string]any{
			"Company Name": map[string]any{"type": "title", "title": map[string]any{}},
			"Status": selectSchemaJSON(
				"Source", "Initial Meeting / Call", "Dilligence", "Tracking",
				"Committed", "Funded", "Passed", "Lost"),
			"Investment Stage": selectSchemaJSON(
				"Pre-Seed", "Seed", "Seed +", "Series A", "Series B", "Series C", "Series D"),
			"Discovery ID":       richTextSchemaJSON(),
			"Canonical Key":      richTextSchemaJSON(),
			"Confidence Score":   map[string]any{"type": "number", "number": map[string]any{}},
			"Website":            map[string]any{"type": "url", "url": map[string]any{}},
			"Signal Types":       map[string]any{"type": "multi_select", "multi_select": map[string]any{"options": []any{}}},
			"Why Now":            richTextSchemaJSON(),
			"Sector":             selectSchemaJSON("Fintech", "Climate", "Unclassified"),
			"Proposed Sector":    richTextSchemaJSON(),
			"Taxonomy Status":    selectSchemaJSON("Classified", "Unclassified"),
			"Watchlists Matched": map[string]any{"type": "multi_select", "multi_select": map[string]any{"options": []any{}}},
			"Short Description":  richTextSchemaJSON(),
		},
	}
}

type fakeFilter struct {
	Or       []fakeFilter   `json:"or"`
	And      []fakeFilter   `json:"and"`
	Property string         `json:"property"`
	RichText *fakeCondition `json:"rich_text"`
	URL      *fakeCondition `json:"url"`
	Select   *fakeCondition `json:"select"`
}

type fakeCondition struct {
	Equals   string `json:"equals"`
	Contains string `json:"contains"`
}

// fakeCRM is an httptest-backed Notion database with just enough filter
// support for the client's queries.
type fakeCRM struct {
	t *testing.T

	mu         sync.Mutex
	schema     map[string]any
	pages      []crmPage
	queries    int
	schemaGets int
	created    []map[string]map[string]any
	updates    map[string][]map[string]map[string]any
	dbPatches  []map[string]map[string]any

	srv *httptest.Server
}

func newFakeCRM(t *testing.T) *fakeCRM {
	f := &fakeCRM{
		t:       t,
		schema:  validSchema(),
		updates: map[string][]map[string]map[string]any{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /databases/"+testDatabaseID, f.handleSchema)
	mux.HandleFunc("PATCH /databases/"+testDatabaseID, f.handleDatabasePatch)
	mux.HandleFunc("POST /databases/"+testDatabaseID+"/query", f.handleQuery)
	mux.HandleFunc("POST /pages", f.handleCreatePage)
	mux.HandleFunc("PATCH /pages/{id}", f.handleUpdatePage)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCRM) client() *notion.Client {
	tr := notion.NewTransport("secret", ratelimit.NoopLimiter{}, notion.TransportOptions{
		BaseURL:     f.srv.URL,
		Timeout:     5 * time.Second,
		BackoffBase: time.Millisecond,
		BackoffCap:  2 * time.Millisecond,
	})
	c := notion.NewClient(tr, testDatabaseID, testLogger())
	f.t.Cleanup(c.Close)
	return c
}

func (f *fakeCRM) schemaProps() map[string]any {
	return f.schema["properties"].(map[string]any)
}

func (f *fakeCRM) removeProperty(name string) {
	delete(f.schemaProps(), name)
}

func (f *fakeCRM) setPropertyType(name, typ string) {
	f.schemaProps()[name] = map[string]any{"type": typ, typ: map[string]any{}}
}

func (f *fakeCRM) removeSelectOption(prop, option string) {
	cfg := f.schemaProps()[prop].(map[string]any)
	sel := cfg["select"].(map[string]any)
	var kept []any
	for _, o := range sel["options"].([]any) {
		if o.(map[string]any)["name"] != option {
			kept = append(kept, o)
		}
	}
	sel["options"] = kept
}

func (f *fakeCRM) handleSchema(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.schemaGets++
	schema := f.schema
	f.mu.Unlock()
	writeJSON(w, schema)
}

func (f *fakeCRM) handleDatabasePatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Properties map[string]map[string]any `json:"properties"`
	}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
	f.mu.Lock()
	f.dbPatches = append(f.dbPatches, body.Properties)
	f.mu.Unlock()
	writeJSON(w, map[string]any{"id": testDatabaseID})
}

func (f *fakeCRM) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filter   *fakeFilter `json:"filter"`
		PageSize int         `json:"page_size"`
	}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))

	f.mu.Lock()
	f.queries++
	pages := make([]crmPage, len(f.pages))
	copy(pages, f.pages)
	f.mu.Unlock()

	var results []map[string]any
	for _, p := range pages {
		if matchesFilter(p, req.Filter) {
			results = append(results, p.render())
		}
	}
	if req.PageSize > 0 && len(results) > req.PageSize {
		results = results[:req.PageSize]
	}
	writeJSON(w, map[string]any{"results": results, "has_more": false})
}

func matchesFilter(p crmPage, f *fakeFilter) bool {
	switch {
	case f == nil:
		return true
	case len(f.Or) > 0:
		for _, sub := range f.Or {
			if sub.Select != nil && sub.Select.Equals == p.Status {
				return true
			}
		}
		return false
	case f.Property == "Discovery ID" && f.RichText != nil:
		return p.DiscoveryID != "" && p.DiscoveryID == f.RichText.Equals
	case f.Property == "Canonical Key" && f.RichText != nil:
		return p.CanonicalKey != "" && p.CanonicalKey == f.RichText.Equals
	case f.Property == "Website" && f.URL != nil:
		return p.Website != "" && strings.Contains(p.Website, f.URL.Contains)
	default:
		return false
	}
}

func (f *fakeCRM) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Parent     map[string]any            `json:"parent"`
		Properties map[string]map[string]any `json:"properties"`
	}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
	assert.Equal(f.t, testDatabaseID, body.Parent["database_id"])

	f.mu.Lock()
	f.created = append(f.created, body.Properties)
	id := "created-page"
	f.mu.Unlock()
	writeJSON(w, map[string]any{"id": id})
}

func (f *fakeCRM) handleUpdatePage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Properties map[string]map[string]any `json:"properties"`
	}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))

	f.mu.Lock()
	f.updates[id] = append(f.updates[id], body.Properties)
	f.mu.Unlock()
	writeJSON(w, map[string]any{"id": id})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Property assertions on captured request bodies.

func propText(prop map[string]any) string {
	for _, key := range []string{"rich_text", "title"} {
		items, ok := prop[key].([]any)
		if !ok || len(items) == 0 {
			continue
		}
		first, ok := items[0].(map[string]any)
		if !ok {
			continue
		}
		if txt, ok := first["text"].(map[string]any); ok {
			if content, ok := txt["content"].(string); ok {
				return content
			}
		}
	}
	return ""
}

func propSelect(prop map[string]any) string {
	sel, ok := prop["select"].(map[string]any)
	if !ok {
		return ""
	}
	name, _ := sel["name"].(string)
	return name
}

func propNumber(prop map[string]any) float64 {
	n, _ := prop["number"].(float64)
	return n
}

func propMultiSelect(prop map[string]any) []string {
	items, ok := prop["multi_select"].([]any)
	if !ok {
		return nil
	}
	var names []string
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			if name, ok := m["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names
}

func payload() model.ProspectPayload {
	return model.ProspectPayload{
		DiscoveryID:      "disc-1",
		CompanyName:      "Acme AI",
		CanonicalKey:     "domain:acme.com",
		KeyCandidates:    []string{"domain:acme.com", "github_org:acme"},
		Website:          "https://acme.com",
		ConfidenceScore:  0.8675,
		SignalTypes:      []string{"hiring_spike", "funding_round"},
		WhyNow:           "Raised a seed round and doubled engineering hires.",
		ShortDescription: "Applied ML for logistics.",
	}
}

func TestUpsertCreatesNewDeal(t *testing.T) {
	f := newFakeCRM(t)
	c := f.client()

	res, err := c.UpsertProspect(context.Background(), payload())
	require.NoError(t, err)

	assert.Equal(t, model.UpsertCreated, res.Outcome)
	assert.Equal(t, "created-page", res.PageID)
	assert.Equal(t, "New deal created", res.Reason)

	require.Len(t, f.created, 1)
	props := f.created[0]
	assert.Equal(t, "Acme AI", propText(props["Company Name"]))
	assert.Equal(t, "Source", propSelect(props["Status"]), "new deals default to Source")
	assert.Equal(t, "Pre-Seed", propSelect(props["Investment Stage"]))
	assert.Equal(t, "domain:acme.com", propText(props["Canonical Key"]))
	assert.Equal(t, "disc-1", propText(props["Discovery ID"]))
	assert.Equal(t, 0.87, propNumber(props["Confidence Score"]), "confidence is rounded to 2dp")
	assert.Equal(t, []string{"hiring_spike", "funding_round"}, propMultiSelect(props["Signal Types"]))
}

func TestUpsertHardSuppressed(t *testing.T) {
	f := newFakeCRM(t)
	f.pages = []crmPage{{
		ID: "pg-passed", Name: "Acme AI", Status: "Passed", CanonicalKey: "domain:acme.com",
	}}
	c := f.client()

	res, err := c.UpsertProspect(context.Background(), payload())
	require.NoError(t, err)

	assert.Equal(t, model.UpsertSkipped, res.Outcome)
	assert.Equal(t, "pg-passed", res.PageID)
	assert.Equal(t, "Hard suppressed (Passed) via canonical:domain:acme.com", res.Reason)
	assert.Empty(t, f.created)
	assert.Empty(t, f.updates)
}

func TestUpsertSoftSuppressedUpdatesDiscoveryFieldsOnly(t *testing.T) {
	f := newFakeCRM(t)
	f.pages = []crmPage{{
		ID: "pg-live", Name: "Acme AI", Status: "Source", DiscoveryID: "disc-1",
	}}
	c := f.client()

	res, err := c.UpsertProspect(context.Background(), payload())
	require.NoError(t, err)

	assert.Equal(t, model.UpsertUpdated, res.Outcome)
	assert.Equal(t, "pg-live", res.PageID)
	assert.Equal(t, "Updated in-pipeline deal (Source) via discovery:disc-1", res.Reason)

	require.Len(t, f.updates["pg-live"], 1)
	props := f.updates["pg-live"][0]
	assert.Contains(t, props, "Discovery ID")
	assert.Contains(t, props, "Canonical Key")
	assert.Contains(t, props, "Confidence Score")
	for _, owned := range []string{
		"Company Name", "Website", "Status", "Investment Stage",
		"Founder", "Location", "Short Description",
	} {
		assert.NotContains(t, props, owned, "updates must not touch analyst-owned fields")
	}
}

func TestUpsertMatchesExistingByCanonicalKey(t *testing.T) {
	f := newFakeCRM(t)
	// Tracking is not a suppress status, so the match has to come from a
	// live canonical key query.
	f.pages = []crmPage{{
		ID: "pg-track", Name: "Acme AI", Status: "Tracking", CanonicalKey: "domain:acme.com",
	}}
	c := f.client()

	p := payload()
	p.DiscoveryID = "disc-unknown"
	res, err := c.UpsertProspect(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, model.UpsertUpdated, res.Outcome)
	assert.Equal(t, "pg-track", res.PageID)
	assert.Equal(t, "Matched existing deal", res.Reason)
}

func TestUpsertMatchesExistingByWebsite(t *testing.T) {
	f := newFakeCRM(t)
	f.pages = []crmPage{{
		ID: "pg-web", Name: "Acme AI", Status: "Tracking",
		Website: "https://www.acme.com/about",
	}}
	c := f.client()

	p := model.ProspectPayload{
		DiscoveryID: "disc-2",
		CompanyName: "Acme AI",
		Website:     "http://acme.com",
	}
	res, err := c.UpsertProspect(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, model.UpsertUpdated, res.Outcome)
	assert.Equal(t, "pg-web", res.PageID)
	assert.Equal(t, "Matched existing deal", res.Reason)
}

func TestUpsertFailsWhenSchemaInvalid(t *testing.T) {
	f := newFakeCRM(t)
	f.removeProperty("Discovery ID")
	c := f.client()

	_, err := c.UpsertProspect(context.Background(), payload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema preflight failed")
	assert.Contains(t, err.Error(), "Discovery ID")
	assert.Empty(t, f.created)
}

func TestUpsertCapsSignalTypesAndTruncatesText(t *testing.T) {
	f := newFakeCRM(t)
	c := f.client()

	p := payload()
	p.SignalTypes = []string{"a", "b", "c", "d", "e", "f", "g"}
	p.WhyNow = strings.Repeat("x", 2500)

	_, err := c.UpsertProspect(context.Background(), p)
	require.NoError(t, err)

	require.Len(t, f.created, 1)
	props := f.created[0]
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, propMultiSelect(props["Signal Types"]))
	assert.Len(t, propText(props["Why Now"]), 2000)
}

func TestUpsertTaxonomyKnownSector(t *testing.T) {
	f := newFakeCRM(t)
	c := f.client()

	p := payload()
	p.Sector = "Fintech"
	_, err := c.UpsertProspect(context.Background(), p)
	require.NoError(t, err)

	props := f.created[0]
	assert.Equal(t, "Fintech", propSelect(props["Sector"]))
	assert.Equal(t, "Classified", propSelect(props["Taxonomy Status"]))
	assert.NotContains(t, props, "Proposed Sector")
}

func TestUpsertTaxonomyUnknownSectorGoesToTriage(t *testing.T) {
	f := newFakeCRM(t)
	c := f.client()

	p := payload()
	p.ProposedSector = "Space Logistics"
	_, err := c.UpsertProspect(context.Background(), p)
	require.NoError(t, err)

	props := f.created[0]
	assert.Equal(t, "Unclassified", propSelect(props["Sector"]))
	assert.Equal(t, "Space Logistics", propText(props["Proposed Sector"]))
	assert.Equal(t, "Unclassified", propSelect(props["Taxonomy Status"]))
}

func TestSuppressionIndexCachesUntilInvalidated(t *testing.T) {
	f := newFakeCRM(t)
	f.pages = []crmPage{{
		ID: "pg-1", Name: "Acme AI", Status: "Funded",
		DiscoveryID: "disc-1", CanonicalKey: "domain:acme.com", Website: "https://acme.com",
	}}
	c := f.client()

	index, err := c.SuppressionIndex(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, index, 3, "one entry per lookup key")
	assert.Equal(t, "pg-1", index["discovery:disc-1"].PageID)
	assert.Equal(t, "pg-1", index["canonical:domain:acme.com"].PageID)
	assert.Equal(t, "pg-1", index["website:acme.com"].PageID)

	_, err = c.SuppressionIndex(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.queries, "second read must come from cache")

	c.InvalidateSuppression()
	_, err = c.SuppressionIndex(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, f.queries)
}

func TestPortfolioCompanies(t *testing.T) {
	f := newFakeCRM(t)
	f.pages = []crmPage{
		{ID: "pg-1", Name: "Acme AI", Status: "Funded", Website: "https://acme.com", Sector: "Fintech"},
		{ID: "pg-2", Name: "Beta Robotics", Status: "Funded"},
		{ID: "pg-3", Name: "Gamma", Status: "Source"},
	}
	c := f.client()

	portfolio, err := c.PortfolioCompanies(context.Background())
	require.NoError(t, err)

	require.Len(t, portfolio, 2)
	assert.Equal(t, notion.PortfolioCompany{
		PageID: "pg-1", CompanyName: "Acme AI", Website: "https://acme.com", Sector: "Fintech",
	}, portfolio[0])
	assert.Equal(t, "Beta Robotics", portfolio[1].CompanyName)
}
