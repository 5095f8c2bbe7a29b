package collect_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakken/internal/collect"
	"github.com/ashita-ai/hakken/internal/model"
)

func whoisEnv(srv *httptest.Server) collect.Env {
	return collect.Env{
		Logger:     testLogger(),
		HTTPClient: srv.Client(),
	}
}

func rdapMinimalJSON(regDate time.Time, status ...string) map[string]any {
	if status == nil {
		status = []string{}
	}
	return map[string]any{
		"events": []any{
			map[string]any{"eventAction": "registration", "eventDate": regDate.Format(time.RFC3339)},
		},
		"status": status,
	}
}

func TestDomainWhois_NoDomainsConfigured(t *testing.T) {
	w := collect.NewDomainWhois(collect.Env{Logger: testLogger()}, collect.DomainWhoisOptions{})
	signals, err := w.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestDomainWhois_CollectRegistration(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	regDate := now.AddDate(0, 0, -10)
	expDate := now.AddDate(1, 0, 0)

	mux := http.NewServeMux()
	mux.HandleFunc("/ai/acme.ai", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/rdap+json,application/json", r.Header.Get("Accept"))
		writeJSON(t, w, map[string]any{
			"events": []any{
				map[string]any{"eventAction": "registration", "eventDate": regDate.Format(time.RFC3339)},
				map[string]any{"eventAction": "expiration", "eventDate": expDate.Format(time.RFC3339)},
			},
			"entities": []any{
				map[string]any{
					"roles": []any{"registrar"},
					"vcardArray": []any{"vcard", []any{
						[]any{"version", map[string]any{}, "text", "4.0"},
						[]any{"fn", map[string]any{}, "text", "MarkMonitor Inc."},
					}},
					"publicIds": []any{map[string]any{"type": "IANA Registrar ID", "identifier": "292"}},
				},
				map[string]any{
					"roles": []any{"registrant"},
					"vcardArray": []any{"vcard", []any{
						[]any{"org", map[string]any{}, "text", "Acme AI Ltd"},
						[]any{"adr", map[string]any{}, "text", map[string]any{"country": "GB"}},
					}},
				},
			},
			"nameservers": []any{
				map[string]any{"ldhName": "NS1.CLOUDFLARE.COM"},
				map[string]any{"unicodeName": "ns2.cloudflare.com"},
			},
			"status": []any{"client transfer prohibited"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	w := collect.NewDomainWhois(whoisEnv(srv), collect.DomainWhoisOptions{
		Domains:   []string{"https://www.Acme.AI"},
		Endpoints: map[string]string{"ai": srv.URL + "/ai/"},
	})
	signals, err := w.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, "domain_registration", sig.SignalType)
	assert.Equal(t, "rdap", sig.SourceAPI)
	assert.Equal(t, "domain_whois_acme_ai", sig.SignalID)
	assert.Equal(t, "acme.ai", sig.SourceID)
	assert.Equal(t, srv.URL+"/ai/acme.ai", sig.SourceURL)
	assert.Equal(t, "domain:acme.ai", sig.CanonicalKey)
	assert.Equal(t, []string{"domain:acme.ai"}, sig.KeyCandidates)
	// 0.6 under 30 days + 0.1 tech TLD + 0.05 premium registrar.
	assert.InDelta(t, 0.75, sig.Confidence, 1e-9)
	assert.Equal(t, regDate.Format(time.RFC3339), sig.DetectedAt.Format(time.RFC3339))
	assert.Equal(t, model.ContentHash("rdap", "acme.ai"), sig.ContentHash)
	assert.Len(t, sig.SourceResponseHash, 16)
	assert.Equal(t, "ai", sig.RawData["tld"])
	assert.Equal(t, 10, sig.RawData["age_days"])
	assert.Equal(t, true, sig.RawData["is_tech_tld"])
	assert.Equal(t, "MarkMonitor Inc.", sig.RawData["registrar"])
	assert.Equal(t, true, sig.RawData["has_premium_registrar"])
	assert.Equal(t, []string{"NS1.CLOUDFLARE.COM", "ns2.cloudflare.com"}, sig.RawData["nameservers"])
	assert.Equal(t, "Acme AI Ltd", sig.RawData["registrant_org"])
	assert.Equal(t, "GB", sig.RawData["registrant_country"])
	assert.Equal(t, expDate.Format(time.RFC3339), sig.RawData["expiration_date"])
	assert.Positive(t, w.RequestCount())
}

func TestDomainWhois_SkipsOldAndUnregistered(t *testing.T) {
	now := time.Now().UTC()

	var freshCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/ai/old.ai", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, rdapMinimalJSON(now.AddDate(0, 0, -200)))
	})
	mux.HandleFunc("/ai/ghost.ai", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/ai/fresh.ai", func(w http.ResponseWriter, r *http.Request) {
		freshCalls++
		writeJSON(t, w, rdapMinimalJSON(now.AddDate(0, 0, -5)))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	w := collect.NewDomainWhois(whoisEnv(srv), collect.DomainWhoisOptions{
		Domains:   []string{"old.ai", "ghost.ai", "fresh.ai", "fresh.ai"},
		Endpoints: map[string]string{"ai": srv.URL + "/ai/"},
	})
	signals, err := w.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "domain_whois_fresh_ai", signals[0].SignalID)
	assert.Equal(t, 1, freshCalls, "duplicate domains should be looked up once")
}

func TestDomainWhois_FallbackEndpointAndTechFilter(t *testing.T) {
	now := time.Now().UTC()

	mux := http.NewServeMux()
	mux.HandleFunc("/generic/launchpad.org", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, rdapMinimalJSON(now.AddDate(0, 0, -5)))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	opts := collect.DomainWhoisOptions{
		Domains:          []string{"launchpad.org"},
		Endpoints:        map[string]string{"ai": srv.URL + "/ai/"},
		FallbackEndpoint: srv.URL + "/generic/",
	}
	w := collect.NewDomainWhois(whoisEnv(srv), opts)
	signals, err := w.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, srv.URL+"/generic/launchpad.org", signals[0].SourceURL)
	// 0.8 under 7 days, no TLD or registrar bonus.
	assert.InDelta(t, 0.80, signals[0].Confidence, 1e-9)
	assert.Equal(t, false, signals[0].RawData["is_tech_tld"])

	opts.TechTLDsOnly = true
	techOnly := collect.NewDomainWhois(whoisEnv(srv), opts)
	signals, err = techOnly.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestDomainWhois_LowScoreDropped(t *testing.T) {
	now := time.Now().UTC()

	mux := http.NewServeMux()
	mux.HandleFunc("/ai/parked.ai", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, rdapMinimalJSON(now.AddDate(0, 0, -3), "pending delete"))
	})
	mux.HandleFunc("/generic/dusty.org", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, rdapMinimalJSON(now.AddDate(0, 0, -200)))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	w := collect.NewDomainWhois(whoisEnv(srv), collect.DomainWhoisOptions{
		Domains:          []string{"parked.ai", "dusty.org"},
		LookbackDays:     365,
		Endpoints:        map[string]string{"ai": srv.URL + "/ai/"},
		FallbackEndpoint: srv.URL + "/generic/",
	})
	signals, err := w.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, signals, "inactive and stale registrations score below the floor")
}

func TestDomainWhois_UnchangedSnapshotSkipped(t *testing.T) {
	now := time.Now().UTC()

	mux := http.NewServeMux()
	mux.HandleFunc("/ai/acme.ai", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, rdapMinimalJSON(now.AddDate(0, 0, -5)))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	assets := newFakeAssets()
	env := whoisEnv(srv)
	env.Assets = assets
	w := collect.NewDomainWhois(env, collect.DomainWhoisOptions{
		Domains:   []string{"acme.ai"},
		Endpoints: map[string]string{"ai": srv.URL + "/ai/"},
	})

	signals, err := w.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 1)
	require.NotNil(t, assets.snapshots[model.AssetWhoisDomain+"/acme.ai"])

	// Same record again: snapshot exists with no diff, so nothing new.
	signals, err = w.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, signals)

	// A recorded change re-emits the signal.
	assets.diffs["acme.ai"] = []string{"status"}
	signals, err = w.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, signals, 1)

	// Snapshot trouble never swallows the signal.
	assets.saveErr = errors.New("disk full")
	signals, err = w.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestDomainWhois_LookupFailureNonFatal(t *testing.T) {
	now := time.Now().UTC()

	mux := http.NewServeMux()
	mux.HandleFunc("/ai/flaky.ai", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rdap melted", http.StatusInternalServerError)
	})
	mux.HandleFunc("/ai/solid.ai", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, rdapMinimalJSON(now.AddDate(0, 0, -5)))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	w := collect.NewDomainWhois(whoisEnv(srv), collect.DomainWhoisOptions{
		Domains:   []string{"flaky.ai", "solid.ai"},
		Endpoints: map[string]string{"ai": srv.URL + "/ai/"},
		Policy:    fastPolicy(0),
	})
	signals, err := w.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "domain_whois_solid_ai", signals[0].SignalID)
}
