package collect

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/hakken/internal/canonical"
	"github.com/ashita-ai/hakken/internal/model"
)

const (
	defaultCHLookbackDays = 90
	defaultCHMaxCompanies = 100
	chPageSize            = 50
)

// UK SIC codes (5-digit) per thesis sector. The search API cannot filter
// by SIC, so classification happens after fetching full profiles.
var (
	chHealthtechSIC = []string{
		"86101", "86102", "86210", "86220", "86230", "86900",
		"87100", "87200", "87300", "87900",
		"21100", "21200", "32501", "32502",
		"72110", "72190", "72200",
	}
	chCleantechSIC = []string{
		"35110", "35120", "35130", "35140", "35220", "35230",
		"38110", "38120", "38210", "38220", "38310", "38320", "39000",
		"27110", "27120", "72190", "72200",
	}
	chAISIC = []string{
		"62011", "62012", "62020", "62030", "62090",
		"63110", "63120", "63910", "63990",
		"72110", "72190", "72200",
	}

	// Later writes win, so for shared codes healthtech outranks
	// cleantech outranks AI infrastructure.
	chSICIndustry = func() map[string]string {
		m := make(map[string]string)
		for _, code := range chAISIC {
			m[code] = "ai_infrastructure"
		}
		for _, code := range chCleantechSIC {
			m[code] = "cleantech"
		}
		for _, code := range chHealthtechSIC {
			m[code] = "healthtech"
		}
		return m
	}()
)

// CompaniesHouseOptions tune the Companies House adapter.
type CompaniesHouseOptions struct {
	BaseURL      string
	LookbackDays int
	MaxCompanies int
	// AllSectors keeps companies outside the thesis SIC codes too.
	AllSectors bool
	Policy     RetryPolicy
}

// CompaniesHouse collects recent UK incorporations filtered to active
// companies in thesis sectors.
type CompaniesHouse struct {
	client       *Client
	logger       *slog.Logger
	authHeader   string
	baseURL      string
	lookbackDays int
	maxCompanies int
	allSectors   bool
}

// NewCompaniesHouse builds the Companies House adapter. The API rejects
// anonymous requests, so a missing key is an error.
func NewCompaniesHouse(env Env, opts CompaniesHouseOptions) (*CompaniesHouse, error) {
	if env.Config.CompaniesHouseAPIKey == "" {
		return nil, errors.New("collect: companies house api key required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.company-information.service.gov.uk"
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = defaultCHLookbackDays
	}
	if opts.MaxCompanies <= 0 {
		opts.MaxCompanies = defaultCHMaxCompanies
	}
	logger := env.logger()
	auth := base64.StdEncoding.EncodeToString([]byte(env.Config.CompaniesHouseAPIKey + ":"))
	return &CompaniesHouse{
		client:       NewClient("companies_house", env.Limiter, logger, env.clientOptions(opts.Policy)),
		logger:       logger,
		authHeader:   "Basic " + auth,
		baseURL:      strings.TrimSuffix(opts.BaseURL, "/"),
		lookbackDays: opts.LookbackDays,
		maxCompanies: opts.MaxCompanies,
		allSectors:   opts.AllSectors,
	}, nil
}

func (c *CompaniesHouse) Name() string    { return "companies_house" }
func (c *CompaniesHouse) APIName() string { return "companies_house" }

// RetryPolicy reports the policy the adapter's client runs under.
func (c *CompaniesHouse) RetryPolicy() RetryPolicy { return c.client.policy }

// RequestCount reports upstream requests made so far.
func (c *CompaniesHouse) RequestCount() int { return c.client.RequestCount() }

type chSearchResponse struct {
	Items []struct {
		CompanyNumber string `json:"company_number"`
	} `json:"items"`
	TotalResults int `json:"total_results"`
}

type chCompanyResponse struct {
	CompanyNumber  string   `json:"company_number"`
	CompanyName    string   `json:"company_name"`
	CompanyStatus  string   `json:"company_status"`
	Type           string   `json:"type"`
	DateOfCreation string   `json:"date_of_creation"`
	SICCodes       []string `json:"sic_codes"`
	Jurisdiction   string   `json:"jurisdiction"`
	Address        struct {
		Locality   string `json:"locality"`
		Region     string `json:"region"`
		PostalCode string `json:"postal_code"`
	} `json:"registered_office_address"`
}

type chOfficersResponse struct {
	Items []struct {
		Name        string `json:"name"`
		OfficerRole string `json:"officer_role"`
		AppointedOn string `json:"appointed_on"`
	} `json:"items"`
}

// chProfile is a company profile plus everything derived from it.
type chProfile struct {
	number        string
	name          string
	status        string
	companyType   string
	incorporated  time.Time // zero when the API gave no date
	sicCodes      []string
	industryGroup string
	locality      string
	region        string
	postalCode    string
	jurisdiction  string
	officersCount int
	url           string
	retrievedAt   time.Time
}

func (p chProfile) ageDays() int {
	if p.incorporated.IsZero() {
		return 0
	}
	return int(time.Since(p.incorporated).Hours() / 24)
}

func (p chProfile) active() bool {
	s := strings.ToLower(p.status)
	return s == "active" || s == "live"
}

func (p chProfile) targetSector() bool { return p.industryGroup != "" }

func (p chProfile) stage() string {
	switch age := p.ageDays(); {
	case age < 180:
		return "Pre-Seed"
	case age < 365:
		return "Seed"
	default:
		return "Seed +"
	}
}

// Collect searches recent incorporations, fetches each full profile and
// emits a signal per active thesis-sector company.
func (c *CompaniesHouse) Collect(ctx context.Context) ([]model.Signal, error) {
	profiles, err := c.fetchIncorporations(ctx)
	if err != nil {
		return nil, err
	}

	var kept []chProfile
	for _, p := range profiles {
		if !c.allSectors && !p.targetSector() {
			continue
		}
		if !p.active() {
			continue
		}
		kept = append(kept, p)
	}
	c.logger.Info("companies house incorporations filtered",
		"fetched", len(profiles), "kept", len(kept), "all_sectors", c.allSectors)

	signals := make([]model.Signal, 0, len(kept))
	for _, p := range kept {
		signals = append(signals, c.signal(p))
	}
	return signals, nil
}

func (c *CompaniesHouse) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", c.authHeader)
	return h
}

func (c *CompaniesHouse) fetchIncorporations(ctx context.Context) ([]chProfile, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -c.lookbackDays).Format("2006-01-02")
	to := now.Format("2006-01-02")

	seen := make(map[string]struct{})
	var profiles []chProfile
	for startIndex := 0; len(profiles) < c.maxCompanies; startIndex += chPageSize {
		params := url.Values{
			"incorporated_from": {from},
			"incorporated_to":   {to},
			"company_status":    {"active"},
			"size":              {strconv.Itoa(chPageSize)},
			"start_index":       {strconv.Itoa(startIndex)},
		}
		var resp chSearchResponse
		err := c.client.GetJSON(ctx, c.baseURL+"/search/companies?"+params.Encode(), c.header(), &resp)
		if err != nil {
			if startIndex == 0 {
				return nil, fmt.Errorf("collect: companies house search: %w", err)
			}
			c.logger.Warn("companies house search page failed", "start_index", startIndex, "error", err)
			break
		}
		if len(resp.Items) == 0 {
			break
		}

		for _, item := range resp.Items {
			if len(profiles) >= c.maxCompanies {
				break
			}
			number := canonical.NormalizeCompanyNumber(item.CompanyNumber)
			if number == "" {
				continue
			}
			if _, ok := seen[number]; ok {
				continue
			}
			profile, err := c.fetchProfile(ctx, number)
			if err != nil {
				c.logger.Warn("companies house profile fetch failed", "company_number", number, "error", err)
				continue
			}
			if profile == nil {
				continue
			}
			seen[number] = struct{}{}
			profiles = append(profiles, *profile)
		}

		if startIndex+chPageSize >= resp.TotalResults {
			break
		}
	}
	return profiles, nil
}

// fetchProfile returns nil for companies the register no longer resolves.
func (c *CompaniesHouse) fetchProfile(ctx context.Context, number string) (*chProfile, error) {
	var resp chCompanyResponse
	err := c.client.GetJSON(ctx, c.baseURL+"/company/"+url.PathEscape(number), c.header(), &resp)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var incorporated time.Time
	if resp.DateOfCreation != "" {
		if t, perr := time.Parse("2006-01-02", resp.DateOfCreation); perr == nil {
			incorporated = t.UTC()
		}
	}

	industry := ""
	for _, code := range resp.SICCodes {
		if group, ok := chSICIndustry[code]; ok {
			industry = group
			break
		}
	}

	jurisdiction := resp.Jurisdiction
	if jurisdiction == "" {
		jurisdiction = "england-wales"
	}

	profile := &chProfile{
		number:        resp.CompanyNumber,
		name:          resp.CompanyName,
		status:        resp.CompanyStatus,
		companyType:   resp.Type,
		incorporated:  incorporated,
		sicCodes:      resp.SICCodes,
		industryGroup: industry,
		locality:      resp.Address.Locality,
		region:        resp.Address.Region,
		postalCode:    resp.Address.PostalCode,
		jurisdiction:  jurisdiction,
		url:           c.baseURL + "/company/" + resp.CompanyNumber,
		retrievedAt:   time.Now().UTC(),
	}

	// Officers only raise confidence; a failed lookup is not fatal.
	var officers chOfficersResponse
	if oerr := c.client.GetJSON(ctx, c.baseURL+"/company/"+url.PathEscape(number)+"/officers", c.header(), &officers); oerr != nil {
		c.logger.Debug("companies house officers unavailable", "company_number", number, "error", oerr)
	} else {
		profile.officersCount = len(officers.Items)
	}
	return profile, nil
}

func (c *CompaniesHouse) signal(p chProfile) model.Signal {
	var confidence float64
	if p.active() {
		// Incorporation records are authoritative, so the floor is high.
		confidence = 0.6
		if p.targetSector() {
			confidence += 0.2
		}
		switch age := p.ageDays(); {
		case age <= 30:
			confidence += 0.15
		case age <= 90:
			confidence += 0.1
		}
		if p.officersCount >= 2 {
			confidence += 0.05
		}
		confidence = min(max(confidence, 0.0), 1.0)
	}

	candidates := canonical.Candidates(canonical.Inputs{
		CompaniesHouseNumber: p.number,
		CompanyName:          p.name,
		Region:               p.jurisdiction,
	})
	key := "companies_house:" + p.number
	if len(candidates) > 0 {
		key = candidates[0]
	}

	var addressParts []string
	for _, part := range []string{p.locality, p.region, p.postalCode} {
		if part != "" {
			addressParts = append(addressParts, part)
		}
	}

	detectedAt := p.retrievedAt
	incorporatedStr := ""
	if !p.incorporated.IsZero() {
		detectedAt = p.incorporated
		incorporatedStr = p.incorporated.Format("2006-01-02")
	}
	respSum := sha256.Sum256([]byte(p.number + ":" + incorporatedStr))

	return model.Signal{
		SignalID:           "companies_house_" + p.number,
		SignalType:         "incorporation",
		SourceAPI:          "companies_house",
		SourceID:           p.number,
		SourceURL:          p.url,
		SourceResponseHash: hex.EncodeToString(respSum[:])[:16],
		CanonicalKey:       key,
		KeyCandidates:      candidates,
		CompanyName:        strPtr(p.name),
		Confidence:         confidence,
		ContentHash:        model.ContentHash("companies_house", p.number),
		DetectedAt:         detectedAt,
		RawData: map[string]any{
			"company_number":          p.number,
			model.RawKeyCompanyName:   p.name,
			"company_status":          p.status,
			"company_type":            p.companyType,
			"incorporation_date":      incorporatedStr,
			"age_days":                p.ageDays(),
			"sic_codes":               p.sicCodes,
			"industry_group":          p.industryGroup,
			"jurisdiction":            p.jurisdiction,
			"registered_address":      strings.Join(addressParts, ", "),
			"officers_count":          p.officersCount,
			"stage_estimate":          p.stage(),
			model.RawKeyCanonicalKey:  key,
			model.RawKeyKeyCandidates: candidates,
		},
	}
}
