package collect_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakken/internal/collect"
	"github.com/ashita-ai/hakken/internal/config"
	"github.com/ashita-ai/hakken/internal/model"
)

func chEnv(srv *httptest.Server) collect.Env {
	return collect.Env{
		Config:     config.Config{CompaniesHouseAPIKey: "ch-key"},
		Logger:     testLogger(),
		HTTPClient: srv.Client(),
	}
}

func chProfileJSON(number, name, status, created string, sic []string) map[string]any {
	return map[string]any{
		"company_number":   number,
		"company_name":     name,
		"company_status":   status,
		"type":             "ltd",
		"date_of_creation": created,
		"sic_codes":        sic,
		"jurisdiction":     "england-wales",
		"registered_office_address": map[string]any{
			"locality":    "London",
			"postal_code": "EC1A 1AA",
		},
	}
}

func chOfficersJSON(n int) map[string]any {
	items := make([]any, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, map[string]any{
			"name":         fmt.Sprintf("Officer %d", i+1),
			"officer_role": "director",
			"appointed_on": "2025-06-01",
		})
	}
	return map[string]any{"items": items}
}

func TestCompaniesHouse_RequiresKey(t *testing.T) {
	_, err := collect.NewCompaniesHouse(collect.Env{Logger: testLogger()}, collect.CompaniesHouseOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "companies house api key required")
}

func TestCompaniesHouse_CollectIncorporation(t *testing.T) {
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("ch-key:"))
	incorporated := time.Now().UTC().AddDate(0, 0, -60).Format("2006-01-02")

	mux := http.NewServeMux()
	mux.HandleFunc("/search/companies", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wantAuth, r.Header.Get("Authorization"))
		assert.Equal(t, "active", r.URL.Query().Get("company_status"))
		assert.Equal(t, "50", r.URL.Query().Get("size"))
		assert.NotEmpty(t, r.URL.Query().Get("incorporated_from"))
		writeJSON(t, w, map[string]any{
			"items":         []any{map[string]any{"company_number": "12345678"}},
			"total_results": 1,
		})
	})
	mux.HandleFunc("/company/12345678", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wantAuth, r.Header.Get("Authorization"))
		writeJSON(t, w, chProfileJSON("12345678", "Acme Bio Ltd", "active", incorporated, []string{"62012"}))
	})
	mux.HandleFunc("/company/12345678/officers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, chOfficersJSON(2))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ch, err := collect.NewCompaniesHouse(chEnv(srv), collect.CompaniesHouseOptions{BaseURL: srv.URL})
	require.NoError(t, err)

	signals, err := ch.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, "incorporation", sig.SignalType)
	assert.Equal(t, "companies_house", sig.SourceAPI)
	assert.Equal(t, "companies_house_12345678", sig.SignalID)
	assert.Equal(t, "companies_house:12345678", sig.CanonicalKey)
	assert.Contains(t, sig.KeyCandidates, "name_loc:acme-bio-ltd|england-wales")
	require.NotNil(t, sig.CompanyName)
	assert.Equal(t, "Acme Bio Ltd", *sig.CompanyName)
	// 0.6 active + 0.2 target SIC + 0.1 under 90 days + 0.05 two officers.
	assert.InDelta(t, 0.95, sig.Confidence, 1e-9)
	assert.Equal(t, incorporated, sig.DetectedAt.Format("2006-01-02"))
	assert.Equal(t, model.ContentHash("companies_house", "12345678"), sig.ContentHash)
	assert.Contains(t, sig.SourceURL, "/company/12345678")
	assert.Equal(t, "ai_infrastructure", sig.RawData["industry_group"])
	assert.Equal(t, []string{"62012"}, sig.RawData["sic_codes"])
	assert.Equal(t, 60, sig.RawData["age_days"])
	assert.Equal(t, "Pre-Seed", sig.RawData["stage_estimate"])
	assert.Equal(t, 2, sig.RawData["officers_count"])
	assert.Equal(t, "London, EC1A 1AA", sig.RawData["registered_address"])
	assert.Positive(t, ch.RequestCount())
}

func TestCompaniesHouse_FiltersBySectorAndStatus(t *testing.T) {
	incorporated := time.Now().UTC().AddDate(0, 0, -20).Format("2006-01-02")

	mux := http.NewServeMux()
	mux.HandleFunc("/search/companies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"items": []any{
				map[string]any{"company_number": "11111111"},
				map[string]any{"company_number": "22222222"},
			},
			"total_results": 2,
		})
	})
	mux.HandleFunc("/company/11111111", func(w http.ResponseWriter, r *http.Request) {
		// Restaurant SIC, outside every target sector.
		writeJSON(t, w, chProfileJSON("11111111", "Brunch Spot Ltd", "active", incorporated, []string{"56101"}))
	})
	mux.HandleFunc("/company/22222222", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, chProfileJSON("22222222", "Dead AI Ltd", "dissolved", incorporated, []string{"62012"}))
	})
	mux.HandleFunc("/company/11111111/officers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, chOfficersJSON(0))
	})
	mux.HandleFunc("/company/22222222/officers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, chOfficersJSON(0))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ch, err := collect.NewCompaniesHouse(chEnv(srv), collect.CompaniesHouseOptions{BaseURL: srv.URL})
	require.NoError(t, err)
	signals, err := ch.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, signals)

	all, err := collect.NewCompaniesHouse(chEnv(srv), collect.CompaniesHouseOptions{BaseURL: srv.URL, AllSectors: true})
	require.NoError(t, err)
	signals, err = all.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "Brunch Spot Ltd", *signals[0].CompanyName)
	assert.Equal(t, "", signals[0].RawData["industry_group"])
	// 0.6 active + 0.15 under 30 days, no sector or officer bonus.
	assert.InDelta(t, 0.75, signals[0].Confidence, 1e-9)
}

func TestCompaniesHouse_SkipsMissingProfiles(t *testing.T) {
	incorporated := time.Now().UTC().AddDate(0, 0, -10).Format("2006-01-02")

	var hitCalls, missCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/search/companies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"items": []any{
				map[string]any{"company_number": "33333333"},
				map[string]any{"company_number": "44444444"},
				map[string]any{"company_number": "33333333"},
			},
			"total_results": 3,
		})
	})
	mux.HandleFunc("/company/33333333", func(w http.ResponseWriter, r *http.Request) {
		hitCalls++
		writeJSON(t, w, chProfileJSON("33333333", "Synth Grid Ltd", "active", incorporated, []string{"35110"}))
	})
	mux.HandleFunc("/company/33333333/officers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, chOfficersJSON(1))
	})
	mux.HandleFunc("/company/44444444", func(w http.ResponseWriter, r *http.Request) {
		missCalls++
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ch, err := collect.NewCompaniesHouse(chEnv(srv), collect.CompaniesHouseOptions{BaseURL: srv.URL})
	require.NoError(t, err)
	signals, err := ch.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "companies_house_33333333", signals[0].SignalID)
	assert.Equal(t, "cleantech", signals[0].RawData["industry_group"])
	assert.Equal(t, 1, hitCalls, "duplicate listing should not refetch the profile")
	assert.Equal(t, 1, missCalls)
}

func TestCompaniesHouse_OfficersFailureNonFatal(t *testing.T) {
	incorporated := time.Now().UTC().AddDate(0, 0, -10).Format("2006-01-02")

	mux := http.NewServeMux()
	mux.HandleFunc("/search/companies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"items":         []any{map[string]any{"company_number": "55555555"}},
			"total_results": 1,
		})
	})
	mux.HandleFunc("/company/55555555", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, chProfileJSON("55555555", "Care Loop Ltd", "active", incorporated, []string{"86210"}))
	})
	mux.HandleFunc("/company/55555555/officers", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ch, err := collect.NewCompaniesHouse(chEnv(srv), collect.CompaniesHouseOptions{
		BaseURL: srv.URL,
		Policy:  fastPolicy(0),
	})
	require.NoError(t, err)
	signals, err := ch.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, 0, signals[0].RawData["officers_count"])
	// 0.6 active + 0.2 target SIC + 0.15 under 30 days, officers unknown.
	assert.InDelta(t, 0.95, signals[0].Confidence, 1e-9)
}

func TestCompaniesHouse_MaxCompaniesCap(t *testing.T) {
	incorporated := time.Now().UTC().AddDate(0, 0, -10).Format("2006-01-02")

	var profileCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/search/companies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"items": []any{
				map[string]any{"company_number": "66666666"},
				map[string]any{"company_number": "77777777"},
			},
			"total_results": 2,
		})
	})
	mux.HandleFunc("/company/66666666", func(w http.ResponseWriter, r *http.Request) {
		profileCalls++
		writeJSON(t, w, chProfileJSON("66666666", "Micro Reactor Ltd", "active", incorporated, []string{"35110"}))
	})
	mux.HandleFunc("/company/66666666/officers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, chOfficersJSON(1))
	})
	mux.HandleFunc("/company/77777777", func(w http.ResponseWriter, r *http.Request) {
		profileCalls++
		writeJSON(t, w, chProfileJSON("77777777", "Overflow Ltd", "active", incorporated, []string{"35110"}))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ch, err := collect.NewCompaniesHouse(chEnv(srv), collect.CompaniesHouseOptions{BaseURL: srv.URL, MaxCompanies: 1})
	require.NoError(t, err)
	signals, err := ch.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "companies_house_66666666", signals[0].SignalID)
	assert.Equal(t, 1, profileCalls)
}

func TestCompaniesHouse_SearchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance window", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ch, err := collect.NewCompaniesHouse(chEnv(srv), collect.CompaniesHouseOptions{
		BaseURL: srv.URL,
		Policy:  fastPolicy(0),
	})
	require.NoError(t, err)
	_, err = ch.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "companies house search")
}
