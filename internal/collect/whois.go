package collect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ashita-ai/hakken/internal/canonical"
	"github.com/ashita-ai/hakken/internal/model"
)

const (
	defaultWhoisLookbackDays = 90
	defaultWhoisMaxDomains   = 100
	whoisMinConfidence       = 0.3
)

// Tech-focused TLDs that signal startup activity.
var whoisTechTLDs = map[string]struct{}{
	"ai": {}, "io": {}, "tech": {}, "dev": {}, "app": {}, "cloud": {},
	"health": {}, "healthcare": {}, "bio": {}, "ml": {}, "data": {},
}

// Registrars that indicate a serious operation rather than a squatter.
var whoisPremiumRegistrars = []string{
	"markmonitor", "cscglobal", "safenames", "cscdbs",
	"namecheap", "google", "cloudflare", "aws", "gandi",
}

// RDAP endpoints per TLD. Anything else goes through the rdap.org
// bootstrap service.
var whoisRDAPEndpoints = map[string]string{
	"com":    "https://rdap.verisign.com/com/v1/domain/",
	"net":    "https://rdap.verisign.com/net/v1/domain/",
	"io":     "https://rdap.nic.io/domain/",
	"ai":     "https://rdap.nic.ai/domain/",
	"tech":   "https://rdap.centralnic.com/tech/domain/",
	"dev":    "https://rdap.google.com/domain/",
	"app":    "https://rdap.google.com/domain/",
	"health": "https://rdap.nic.health/domain/",
}

const whoisFallbackEndpoint = "https://rdap.org/domain/"

// Statuses that mean the domain is on its way out.
var whoisInactiveStatuses = map[string]struct{}{
	"pending delete":    {},
	"redemption period": {},
	"expired":           {},
	"client hold":       {},
	"server hold":       {},
}

// DomainWhoisOptions tune the RDAP adapter.
type DomainWhoisOptions struct {
	// Domains to look up. RDAP has no new-registration feed, so the
	// adapter only enriches domains surfaced by other sources.
	Domains      []string
	LookbackDays int
	MaxDomains   int
	// TechTLDsOnly drops registrations outside whoisTechTLDs.
	TechTLDsOnly bool
	// Endpoints overrides the per-TLD RDAP endpoints.
	Endpoints map[string]string
	// FallbackEndpoint overrides the bootstrap endpoint.
	FallbackEndpoint string
	Policy           RetryPolicy
}

// DomainWhois looks up domain registrations over RDAP. A fresh
// registration on a tech TLD is an early hint of company formation.
type DomainWhois struct {
	client       *Client
	logger       *slog.Logger
	assets       AssetStore
	domains      []string
	lookbackDays int
	maxDomains   int
	techOnly     bool
	endpoints    map[string]string
	fallback     string
}

// NewDomainWhois builds the RDAP adapter. No credentials are needed;
// RDAP endpoints are public.
func NewDomainWhois(env Env, opts DomainWhoisOptions) *DomainWhois {
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = defaultWhoisLookbackDays
	}
	if opts.MaxDomains <= 0 {
		opts.MaxDomains = defaultWhoisMaxDomains
	}
	if opts.Endpoints == nil {
		opts.Endpoints = whoisRDAPEndpoints
	}
	if opts.FallbackEndpoint == "" {
		opts.FallbackEndpoint = whoisFallbackEndpoint
	}
	logger := env.logger()
	return &DomainWhois{
		client:       NewClient("rdap", env.Limiter, logger, env.clientOptions(opts.Policy)),
		logger:       logger,
		assets:       env.Assets,
		domains:      opts.Domains,
		lookbackDays: opts.LookbackDays,
		maxDomains:   opts.MaxDomains,
		techOnly:     opts.TechTLDsOnly,
		endpoints:    opts.Endpoints,
		fallback:     opts.FallbackEndpoint,
	}
}

func (w *DomainWhois) Name() string    { return "domain_whois" }
func (w *DomainWhois) APIName() string { return "rdap" }

// RetryPolicy reports the policy the adapter's client runs under.
func (w *DomainWhois) RetryPolicy() RetryPolicy { return w.client.policy }

// RequestCount reports upstream requests made so far.
func (w *DomainWhois) RequestCount() int { return w.client.RequestCount() }

type rdapResponse struct {
	Events []struct {
		EventAction string `json:"eventAction"`
		EventDate   string `json:"eventDate"`
	} `json:"events"`
	Entities []struct {
		Roles      []string        `json:"roles"`
		VCardArray json.RawMessage `json:"vcardArray"`
		PublicIDs  []struct {
			Type       string `json:"type"`
			Identifier string `json:"identifier"`
		} `json:"publicIds"`
	} `json:"entities"`
	Nameservers []struct {
		LDHName     string `json:"ldhName"`
		UnicodeName string `json:"unicodeName"`
	} `json:"nameservers"`
	Status []string `json:"status"`
}

// domainRegistration is a parsed RDAP record for one domain.
type domainRegistration struct {
	domain            string
	tld               string
	registrationDate  time.Time
	expirationDate    time.Time
	lastUpdated       time.Time
	registrar         string
	registrarID       string
	nameservers       []string
	status            []string
	registrantName    string
	registrantOrg     string
	registrantCountry string
	endpoint          string
	retrievedAt       time.Time
}

func (r domainRegistration) ageDays() int {
	if r.registrationDate.IsZero() {
		// Unknown registration date reads as ancient.
		return 999999
	}
	return int(time.Since(r.registrationDate).Hours() / 24)
}

func (r domainRegistration) techTLD() bool {
	_, ok := whoisTechTLDs[strings.ToLower(r.tld)]
	return ok
}

func (r domainRegistration) premiumRegistrar() bool {
	registrar := strings.ToLower(r.registrar)
	if registrar == "" {
		return false
	}
	for _, premium := range whoisPremiumRegistrars {
		if strings.Contains(registrar, premium) {
			return true
		}
	}
	return false
}

func (r domainRegistration) active() bool {
	for _, s := range r.status {
		if _, ok := whoisInactiveStatuses[strings.ToLower(s)]; ok {
			return false
		}
	}
	return true
}

func (r domainRegistration) score() float64 {
	if !r.active() {
		return 0.0
	}
	var base float64
	switch age := r.ageDays(); {
	case age <= 7:
		base = 0.8
	case age <= 30:
		base = 0.6
	case age <= 90:
		base = 0.4
	case age <= 180:
		base = 0.3
	default:
		base = 0.2
	}
	if r.techTLD() {
		base += 0.1
	}
	if r.premiumRegistrar() {
		base += 0.05
	}
	return min(base, 1.0)
}

// payload is the asset-store snapshot; the date and status fields are
// what move when a registration changes hands or lapses.
func (r domainRegistration) payload() map[string]any {
	return map[string]any{
		"domain":            r.domain,
		"tld":               r.tld,
		"registration_date": formatTime(r.registrationDate),
		"expiration_date":   formatTime(r.expirationDate),
		"registrar":         r.registrar,
		"nameservers":       strings.Join(r.nameservers, ","),
		"status":            strings.Join(r.status, ","),
	}
}

// Collect looks up the configured domains over RDAP and emits a
// registration signal for each fresh, active one.
func (w *DomainWhois) Collect(ctx context.Context) ([]model.Signal, error) {
	if len(w.domains) == 0 {
		w.logger.Warn("rdap discovery mode unavailable, configure domains from other sources")
		return nil, nil
	}

	domains := w.domains
	if len(domains) > w.maxDomains {
		domains = domains[:w.maxDomains]
	}
	registrations := w.lookup(ctx, domains)
	w.logger.Info("rdap lookups done", "requested", len(domains), "found", len(registrations))

	cutoff := time.Now().UTC().AddDate(0, 0, -w.lookbackDays)
	var recent []domainRegistration
	for _, r := range registrations {
		if r.registrationDate.IsZero() || r.registrationDate.Before(cutoff) {
			continue
		}
		if w.techOnly && !r.techTLD() {
			continue
		}
		recent = append(recent, r)
	}
	w.logger.Info("rdap registrations filtered", "recent", len(recent), "lookback_days", w.lookbackDays)

	var signals []model.Signal
	for _, r := range recent {
		if w.assets != nil {
			_, isNew, changes, err := w.assets.SaveAsset(ctx, model.AssetWhoisDomain, r.domain, r.payload())
			if err != nil {
				w.logger.Warn("rdap snapshot not saved", "domain", r.domain, "error", err)
			} else if !isNew && len(changes) == 0 {
				continue
			}
		}
		sig := w.signal(r)
		if sig.Confidence < whoisMinConfidence {
			continue
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

func (w *DomainWhois) header() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/rdap+json,application/json")
	return h
}

func (w *DomainWhois) lookup(ctx context.Context, domains []string) []domainRegistration {
	var registrations []domainRegistration
	seen := make(map[string]struct{}, len(domains))
	for _, domain := range domains {
		normalized := canonical.NormalizeDomain(domain)
		if normalized == "" {
			w.logger.Warn("rdap domain invalid", "domain", domain)
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}

		registration, err := w.fetch(ctx, normalized)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Warn("rdap lookup failed", "domain", normalized, "error", err)
			continue
		}
		if registration != nil {
			registrations = append(registrations, *registration)
		}
	}
	return registrations
}

// fetch returns nil for domains with no RDAP record: an unregistered
// domain is not an error.
func (w *DomainWhois) fetch(ctx context.Context, domain string) (*domainRegistration, error) {
	tld := domain[strings.LastIndex(domain, ".")+1:]
	base, ok := w.endpoints[strings.ToLower(tld)]
	if !ok {
		base = w.fallback
	}
	rdapURL := base + domain

	var resp rdapResponse
	err := w.client.GetJSON(ctx, rdapURL, w.header(), &resp)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("collect: rdap %s: %w", domain, err)
	}

	registration := domainRegistration{
		domain:      domain,
		tld:         strings.ToLower(tld),
		status:      resp.Status,
		endpoint:    base,
		retrievedAt: time.Now().UTC(),
	}
	for _, event := range resp.Events {
		t, err := time.Parse(time.RFC3339, event.EventDate)
		if err != nil {
			continue
		}
		switch strings.ToLower(event.EventAction) {
		case "registration":
			registration.registrationDate = t.UTC()
		case "expiration":
			registration.expirationDate = t.UTC()
		case "last changed", "last update of rdap database":
			registration.lastUpdated = t.UTC()
		}
	}
	for _, entity := range resp.Entities {
		switch {
		case slices.Contains(entity.Roles, "registrar"):
			for _, f := range vcardFields(entity.VCardArray) {
				if vcardName(f) == "fn" {
					registration.registrar = vcardText(f)
					break
				}
			}
			for _, id := range entity.PublicIDs {
				if id.Type == "IANA Registrar ID" {
					registration.registrarID = id.Identifier
				}
			}
		case slices.Contains(entity.Roles, "registrant"):
			// Usually redacted for privacy, but worth keeping when present.
			for _, f := range vcardFields(entity.VCardArray) {
				switch vcardName(f) {
				case "fn":
					registration.registrantName = vcardText(f)
				case "org":
					registration.registrantOrg = vcardText(f)
				case "adr":
					if country := vcardCountry(f); country != "" {
						registration.registrantCountry = country
					}
				}
			}
		}
	}
	for _, ns := range resp.Nameservers {
		if name := firstNonEmpty(ns.LDHName, ns.UnicodeName); name != "" {
			registration.nameservers = append(registration.nameservers, name)
		}
	}
	return &registration, nil
}

func (w *DomainWhois) signal(r domainRegistration) model.Signal {
	confidence := r.score()
	key := "domain:" + r.domain

	detectedAt := r.registrationDate
	if detectedAt.IsZero() {
		detectedAt = r.retrievedAt
	}

	status := slices.Clone(r.status)
	slices.Sort(status)
	hashParts := append([]string{r.domain, formatTime(r.registrationDate), r.registrar}, status...)
	sum := sha256.Sum256([]byte(strings.Join(hashParts, "|")))

	raw := map[string]any{
		"domain":                 r.domain,
		"tld":                    r.tld,
		"registration_date":      formatTime(r.registrationDate),
		"age_days":               r.ageDays(),
		"is_tech_tld":            r.techTLD(),
		"registrar":              r.registrar,
		"has_premium_registrar":  r.premiumRegistrar(),
		"nameservers":            r.nameservers,
		"status":                 r.status,
		"registrant_org":         r.registrantOrg,
		"registrant_country":     r.registrantCountry,
		"expiration_date":        formatTime(r.expirationDate),
		model.RawKeyCanonicalKey: key,
	}

	return model.Signal{
		SignalID:           "domain_whois_" + strings.ReplaceAll(r.domain, ".", "_"),
		SignalType:         "domain_registration",
		SourceAPI:          "rdap",
		SourceID:           r.domain,
		SourceURL:          r.endpoint + r.domain,
		SourceResponseHash: hex.EncodeToString(sum[:])[:16],
		CanonicalKey:       key,
		KeyCandidates:      []string{key},
		Confidence:         confidence,
		ContentHash:        model.ContentHash("rdap", r.domain),
		DetectedAt:         detectedAt,
		RawData:            raw,
	}
}

// vcardFields unpacks ["vcard", [[name, params, type, value], ...]].
func vcardFields(raw json.RawMessage) [][]json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var outer []json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil || len(outer) < 2 {
		return nil
	}
	var fields [][]json.RawMessage
	if err := json.Unmarshal(outer[1], &fields); err != nil {
		return nil
	}
	return fields
}

func vcardName(field []json.RawMessage) string {
	if len(field) < 4 {
		return ""
	}
	var name string
	if err := json.Unmarshal(field[0], &name); err != nil {
		return ""
	}
	return name
}

func vcardText(field []json.RawMessage) string {
	if len(field) < 4 {
		return ""
	}
	var value string
	if err := json.Unmarshal(field[3], &value); err != nil {
		return ""
	}
	return value
}

func vcardCountry(field []json.RawMessage) string {
	if len(field) < 4 {
		return ""
	}
	var addr struct {
		Country string `json:"country"`
	}
	if err := json.Unmarshal(field[3], &addr); err != nil {
		return ""
	}
	return addr.Country
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
