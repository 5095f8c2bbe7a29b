package collect

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/hakken/internal/canonical"
	"github.com/ashita-ai/hakken/internal/model"
)

const (
	defaultSECLookbackDays = 30
	defaultSECMaxFilings   = 100
)

// US SIC codes (4-digit) per thesis sector. Form D filings carry the
// issuer's SIC classification.
var (
	secHealthtechSIC = map[string]struct{}{
		"2834": {}, "2835": {}, "2836": {}, "3841": {}, "3842": {}, "3845": {},
		"5047": {}, "8071": {}, "8082": {}, "8090": {}, "8091": {},
	}
	secCleantechSIC = map[string]struct{}{
		"1311": {}, "1381": {}, "2860": {}, "2890": {},
		"3510": {}, "3511": {}, "3531": {}, "3600": {}, "3621": {},
		"3711": {}, "3714": {},
		"4911": {}, "4922": {}, "4923": {}, "4931": {}, "4939": {}, "4953": {},
	}
	secAISIC = map[string]struct{}{
		"3570": {}, "3571": {}, "3572": {}, "3576": {}, "3577": {},
		"7370": {}, "7371": {}, "7372": {}, "7373": {}, "7374": {}, "7389": {},
	}
)

var (
	secTitleRe     = regexp.MustCompile(`D\s+-\s+(.+?)\s+\((\d+)\)\s+\(Filer\)`)
	secAccessionRe = regexp.MustCompile(`accession-number=([0-9-]+)`)
)

// SECEdgarOptions tune the SEC EDGAR adapter.
type SECEdgarOptions struct {
	// FeedBaseURL is the browse-edgar endpoint serving the Atom feed.
	FeedBaseURL string
	// ArchivesBaseURL is the document archive serving Form D XML.
	ArchivesBaseURL string
	LookbackDays    int
	MaxFilings      int
	// AllSectors keeps filings outside the thesis SIC codes too.
	AllSectors bool
	Policy     RetryPolicy
}

// SECEdgar collects Form D filings: companies raising private placements,
// often before any public announcement. No API key; SEC only requires a
// contact in the User-Agent.
type SECEdgar struct {
	client       *Client
	logger       *slog.Logger
	userAgent    string
	feedBase     string
	archivesBase string
	lookbackDays int
	maxFilings   int
	allSectors   bool
}

// NewSECEdgar builds the SEC EDGAR adapter.
func NewSECEdgar(env Env, opts SECEdgarOptions) *SECEdgar {
	if opts.FeedBaseURL == "" {
		opts.FeedBaseURL = "https://www.sec.gov/cgi-bin/browse-edgar"
	}
	if opts.ArchivesBaseURL == "" {
		opts.ArchivesBaseURL = "https://www.sec.gov/Archives"
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = defaultSECLookbackDays
	}
	if opts.MaxFilings <= 0 {
		opts.MaxFilings = defaultSECMaxFilings
	}
	logger := env.logger()
	return &SECEdgar{
		client:       NewClient("sec_edgar", env.Limiter, logger, env.clientOptions(opts.Policy)),
		logger:       logger,
		userAgent:    env.Config.SECUserAgent,
		feedBase:     strings.TrimSuffix(opts.FeedBaseURL, "/"),
		archivesBase: strings.TrimSuffix(opts.ArchivesBaseURL, "/"),
		lookbackDays: opts.LookbackDays,
		maxFilings:   opts.MaxFilings,
		allSectors:   opts.AllSectors,
	}
}

func (s *SECEdgar) Name() string    { return "sec_edgar" }
func (s *SECEdgar) APIName() string { return "sec_edgar" }

// RetryPolicy reports the policy the adapter's client runs under.
func (s *SECEdgar) RetryPolicy() RetryPolicy { return s.client.policy }

// RequestCount reports upstream requests made so far.
func (s *SECEdgar) RequestCount() int { return s.client.RequestCount() }

type secAtomFeed struct {
	Entries []secAtomEntry `xml:"entry"`
}

type secAtomEntry struct {
	Title   string `xml:"title"`
	ID      string `xml:"id"`
	Updated string `xml:"updated"`
	Link    struct {
		Href string `xml:"href,attr"`
	} `xml:"link"`
}

type secFormD struct {
	OfferingData struct {
		TotalOfferingAmount       string `xml:"totalOfferingAmount"`
		TotalAmountSold           string `xml:"totalAmountSold"`
		MinimumInvestmentAccepted string `xml:"minimumInvestmentAccepted"`
	} `xml:"offeringData"`
	IssuerData struct {
		IndustryGroup struct {
			IndustryGroupType string `xml:"industryGroupType"`
		} `xml:"industryGroup"`
		IssuerEntityType string `xml:"issuerEntityType"`
		IssuerAddress    struct {
			StateOrCountry            string `xml:"stateOrCountry"`
			StateOrCountryDescription string `xml:"stateOrCountryDescription"`
		} `xml:"issuerAddress"`
	} `xml:"issuerData"`
}

// secFiling is a parsed Form D filing, enriched from the filing document
// when available.
type secFiling struct {
	cik            string
	companyName    string
	accession      string
	filingDate     time.Time
	filingURL      string
	offeringAmount *float64
	offeringSold   *float64
	minInvestment  *float64
	sicCode        string
	industryGroup  string
	issuerType     string
	state          string
	country        string
}

func (f secFiling) ageDays() int { return int(time.Since(f.filingDate).Hours() / 24) }

func (f secFiling) targetSector() bool { return f.industryGroup != "" }

func (f secFiling) stage() string {
	if f.offeringAmount == nil || *f.offeringAmount == 0 {
		return "Unknown"
	}
	switch amount := *f.offeringAmount; {
	case amount < 500_000:
		return "Pre-Seed"
	case amount < 3_000_000:
		return "Seed"
	case amount < 10_000_000:
		return "Seed +"
	case amount < 30_000_000:
		return "Series A"
	default:
		return "Series B"
	}
}

// Collect fetches the current Form D Atom feed, enriches each filing from
// its primary document and emits a funding-event signal per filing in a
// thesis sector.
func (s *SECEdgar) Collect(ctx context.Context) ([]model.Signal, error) {
	filings, err := s.fetchRecentFilings(ctx)
	if err != nil {
		return nil, err
	}

	var kept []secFiling
	for _, f := range filings {
		if !s.allSectors && !f.targetSector() {
			continue
		}
		kept = append(kept, f)
	}
	s.logger.Info("sec filings filtered", "fetched", len(filings), "kept", len(kept), "all_sectors", s.allSectors)

	signals := make([]model.Signal, 0, len(kept))
	for _, f := range kept {
		signals = append(signals, s.signal(f))
	}
	return signals, nil
}

func (s *SECEdgar) header() http.Header {
	h := http.Header{}
	h.Set("User-Agent", s.userAgent)
	return h
}

func (s *SECEdgar) fetchRecentFilings(ctx context.Context) ([]secFiling, error) {
	params := url.Values{
		"action":  {"getcurrent"},
		"type":    {"D"},
		"company": {""},
		"dateb":   {""},
		"owner":   {"include"},
		"count":   {strconv.Itoa(s.maxFilings)},
		"output":  {"atom"},
	}
	var feed secAtomFeed
	if err := s.client.GetXML(ctx, s.feedBase+"?"+params.Encode(), s.header(), &feed); err != nil {
		return nil, fmt.Errorf("collect: sec form d feed: %w", err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.lookbackDays)
	var filings []secFiling
	for _, entry := range feed.Entries {
		filing, ok := parseSECEntry(entry)
		if !ok || filing.filingDate.Before(cutoff) {
			continue
		}
		filings = append(filings, filing)
	}
	s.logger.Info("sec filings parsed", "entries", len(feed.Entries), "within_lookback", len(filings))

	if len(filings) > s.maxFilings {
		filings = filings[:s.maxFilings]
	}
	enriched := make(map[string]struct{}, len(filings))
	for i := range filings {
		// The feed occasionally repeats an accession; enrich it once.
		if _, ok := enriched[filings[i].accession]; ok {
			continue
		}
		enriched[filings[i].accession] = struct{}{}
		if err := s.enrich(ctx, &filings[i]); err != nil {
			s.logger.Warn("sec filing not enriched", "accession", filings[i].accession, "error", err)
		}
	}
	return filings, nil
}

// parseSECEntry reads one Atom entry. Titles look like
// "D - Company Name (0001234567) (Filer)"; amendments (D/A) never match
// and are dropped.
func parseSECEntry(entry secAtomEntry) (secFiling, bool) {
	m := secTitleRe.FindStringSubmatch(entry.Title)
	if m == nil {
		return secFiling{}, false
	}
	am := secAccessionRe.FindStringSubmatch(entry.ID)
	if am == nil {
		return secFiling{}, false
	}

	filingDate := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, entry.Updated); err == nil {
		filingDate = t.UTC()
	}
	return secFiling{
		cik:         m[2],
		companyName: strings.TrimSpace(m[1]),
		accession:   am[1],
		filingDate:  filingDate,
		filingURL:   entry.Link.Href,
		country:     "US",
	}, true
}

// enrich loads the filing's primary document. A missing document is
// normal (not every filing index carries one) and leaves the feed-level
// data as is.
func (s *SECEdgar) enrich(ctx context.Context, filing *secFiling) error {
	cikPadded := fmt.Sprintf("%010s", filing.cik)
	accession := strings.ReplaceAll(filing.accession, "-", "")
	docURL := fmt.Sprintf("%s/edgar/data/%s/%s/primary_doc.xml", s.archivesBase, cikPadded, accession)

	var doc secFormD
	err := s.client.GetXML(ctx, docURL, s.header(), &doc)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	filing.offeringAmount = parseAmount(doc.OfferingData.TotalOfferingAmount)
	filing.offeringSold = parseAmount(doc.OfferingData.TotalAmountSold)
	filing.minInvestment = parseAmount(doc.OfferingData.MinimumInvestmentAccepted)
	filing.issuerType = strings.TrimSpace(doc.IssuerData.IssuerEntityType)
	if state := strings.TrimSpace(doc.IssuerData.IssuerAddress.StateOrCountry); state != "" {
		filing.state = state
	}
	if country := strings.TrimSpace(doc.IssuerData.IssuerAddress.StateOrCountryDescription); country != "" {
		filing.country = country
	}
	if sic := strings.TrimSpace(doc.IssuerData.IndustryGroup.IndustryGroupType); sic != "" {
		filing.sicCode = sic
		filing.industryGroup = classifySECIndustry(sic)
	}
	return nil
}

func parseAmount(value string) *float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &f
}

func classifySECIndustry(sic string) string {
	if _, ok := secHealthtechSIC[sic]; ok {
		return "healthtech"
	}
	if _, ok := secCleantechSIC[sic]; ok {
		return "cleantech"
	}
	if _, ok := secAISIC[sic]; ok {
		return "ai_infrastructure"
	}
	return ""
}

func (s *SECEdgar) signal(f secFiling) model.Signal {
	// Form D is authoritative: a filing means money actually moved.
	confidence := 0.7
	if f.targetSector() {
		confidence += 0.15
	}
	if f.offeringAmount != nil && *f.offeringAmount >= 500_000 {
		confidence += 0.1
	}
	if f.ageDays() > 60 {
		confidence -= 0.05
	}
	if f.ageDays() > 120 {
		confidence -= 0.1
	}
	confidence = min(max(confidence, 0.0), 1.0)

	region := f.state
	if region == "" {
		region = f.country
	}
	candidates := canonical.Candidates(canonical.Inputs{
		CompanyName: f.companyName,
		Region:      region,
	})
	key := "sec_edgar_" + f.cik
	if len(candidates) > 0 {
		key = candidates[0]
	}

	raw := map[string]any{
		"cik":                     f.cik,
		model.RawKeyCompanyName:   f.companyName,
		"sic_code":                f.sicCode,
		"industry_group":          f.industryGroup,
		"state":                   f.state,
		"country":                 f.country,
		"stage_estimate":          f.stage(),
		"filing_date":             f.filingDate.Format(time.RFC3339),
		"issuer_type":             f.issuerType,
		model.RawKeyCanonicalKey:  key,
		model.RawKeyKeyCandidates: candidates,
	}
	if f.offeringAmount != nil {
		raw["offering_amount"] = *f.offeringAmount
	}
	if f.offeringSold != nil {
		raw["offering_sold"] = *f.offeringSold
	}
	if f.minInvestment != nil {
		raw["minimum_investment"] = *f.minInvestment
	}

	return model.Signal{
		SignalID:      "sec_edgar_" + f.accession,
		SignalType:    "funding_event",
		SourceAPI:     "sec_edgar",
		SourceID:      f.accession,
		SourceURL:     f.filingURL,
		CanonicalKey:  key,
		KeyCandidates: candidates,
		CompanyName:   strPtr(f.companyName),
		Confidence:    confidence,
		ContentHash:   model.ContentHash("sec_edgar", f.accession),
		DetectedAt:    f.filingDate,
		RawData:       raw,
	}
}
