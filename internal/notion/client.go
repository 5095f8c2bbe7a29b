package notion

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ashita-ai/hakken/internal/cache"
	"github.com/ashita-ai/hakken/internal/canonical"
	"github.com/ashita-ai/hakken/internal/model"
)

// Property names in the deal database. These must match the CRM exactly,
// including the historical "Dilligence" spelling carried by the Status
// options (see the model package).
const (
	propCompanyName     = "Company Name"
	propWebsite         = "Website"
	propStage           = "Investment Stage"
	propStatus          = "Status"
	propDescription     = "Short Description"
	propSector          = "Sector"
	propProposedSector  = "Proposed Sector"
	propTaxonomyStatus  = "Taxonomy Status"
	propFounder         = "Founder"
	propFounderLinkedIn = "Founder LinkedIn"
	propLocation        = "Location"
	propTargetRaise     = "Target Raise Amount"
	propDiscoveryID     = "Discovery ID"
	propCanonicalKey    = "Canonical Key"
	propConfidence      = "Confidence Score"
	propSignalTypes     = "Signal Types"
	propWhyNow          = "Why Now"
	propWatchlists      = "Watchlists Matched"
)

// suppressStatuses lists deals the pipeline must not push as new. Tracking
// is deliberately absent: tracked deals still receive discovery updates.
var suppressStatuses = []string{
	model.StatusPassed,
	model.StatusLost,
	model.StatusFunded,
	model.StatusCommitted,
	model.StatusDiligence,
	model.StatusInitialMeeting,
	model.StatusSource,
}

// hardSuppress statuses freeze the page entirely: not even discovery-owned
// fields get refreshed.
var hardSuppress = map[string]bool{
	model.StatusPassed: true,
	model.StatusLost:   true,
}

const (
	defaultNewStatus = model.StatusSource

	schemaCacheTTL      = 6 * time.Hour
	suppressionCacheTTL = 15 * time.Minute

	schemaCacheKey      = "schema"
	suppressionCacheKey = "index"

	// maxRichTextLen and maxSignalTypes are Notion property limits.
	maxRichTextLen = 2000
	maxSignalTypes = 5
)

// PageRef points at an existing CRM page and the pipeline status it holds.
type PageRef struct {
	PageID       string
	Status       string
	DiscoveryID  string
	CanonicalKey string
	Website      string
}

// Client talks to the deal-pipeline database. It caches the database schema
// for six hours and the suppression index for fifteen minutes; call Close to
// release both caches.
type Client struct {
	transport  *Transport
	databaseID string
	logger     *slog.Logger

	schema      *cache.TTL[database]
	suppression *cache.TTL[map[string]PageRef]
}

// NewClient builds a Client for one deal database.
func NewClient(transport *Transport, databaseID string, logger *slog.Logger) *Client {
	return &Client{
		transport:   transport,
		databaseID:  databaseID,
		logger:      logger,
		schema:      cache.New[database](schemaCacheTTL),
		suppression: cache.New[map[string]PageRef](suppressionCacheTTL),
	}
}

// Close stops the cache eviction goroutines.
func (c *Client) Close() {
	c.schema.Close()
	c.suppression.Close()
}

// UpsertProspect creates or updates a deal. Match order: the suppression
// index first (discovery ID, every canonical key candidate, website), then
// live queries in the same order. A hard-suppressed match is skipped, a
// soft-suppressed one gets a discovery-fields-only update, and no match at
// all creates a fresh page.
func (c *Client) UpsertProspect(ctx context.Context, p model.ProspectPayload) (model.UpsertResult, error) {
	if err := c.EnsureSchema(ctx, true); err != nil {
		return model.UpsertResult{}, err
	}

	index, err := c.SuppressionIndex(ctx, false)
	if err != nil {
		return model.UpsertResult{}, err
	}
	for _, key := range suppressionKeys(p) {
		ref, ok := index[key]
		if !ok {
			continue
		}
		if hardSuppress[ref.Status] {
			return model.UpsertResult{
				Outcome: model.UpsertSkipped,
				PageID:  ref.PageID,
				Reason:  fmt.Sprintf("Hard suppressed (%s) via %s", ref.Status, key),
			}, nil
		}
		if err := c.updatePage(ctx, ref.PageID, p); err != nil {
			return model.UpsertResult{}, err
		}
		return model.UpsertResult{
			Outcome: model.UpsertUpdated,
			PageID:  ref.PageID,
			Reason:  fmt.Sprintf("Updated in-pipeline deal (%s) via %s", ref.Status, key),
		}, nil
	}

	pageID, err := c.findExisting(ctx, p)
	if err != nil {
		return model.UpsertResult{}, err
	}
	if pageID != "" {
		if err := c.updatePage(ctx, pageID, p); err != nil {
			return model.UpsertResult{}, err
		}
		return model.UpsertResult{
			Outcome: model.UpsertUpdated,
			PageID:  pageID,
			Reason:  "Matched existing deal",
		}, nil
	}

	pageID, err = c.createPage(ctx, p)
	if err != nil {
		return model.UpsertResult{}, err
	}
	return model.UpsertResult{
		Outcome: model.UpsertCreated,
		PageID:  pageID,
		Reason:  "New deal created",
	}, nil
}

// suppressionKeys returns every index key the payload can match, strongest
// first: discovery ID, canonical candidates (or the single canonical key
// when no candidate list was kept), then the website domain.
func suppressionKeys(p model.ProspectPayload) []string {
	var keys []string
	if p.DiscoveryID != "" {
		keys = append(keys, "discovery:"+p.DiscoveryID)
	}
	for _, candidate := range p.KeyCandidates {
		keys = append(keys, "canonical:"+normalizeKey(candidate))
	}
	if len(p.KeyCandidates) == 0 && p.CanonicalKey != "" {
		keys = append(keys, "canonical:"+normalizeKey(p.CanonicalKey))
	}
	if p.Website != "" {
		keys = append(keys, "website:"+canonical.NormalizeDomain(p.Website))
	}
	return keys
}

// SuppressionIndex returns deals that must not re-enter the pipeline, keyed
// by discovery:, canonical: and website: lookups. Served from cache unless
// force is set.
func (c *Client) SuppressionIndex(ctx context.Context, force bool) (map[string]PageRef, error) {
	if !force {
		if index, ok := c.suppression.Get(suppressionCacheKey); ok {
			return index, nil
		}
	}

	if err := c.EnsureSchema(ctx, false); err != nil {
		return nil, err
	}
	pages, err := c.queryByStatuses(ctx, suppressStatuses)
	if err != nil {
		return nil, err
	}

	index := make(map[string]PageRef)
	for _, pg := range pages {
		props := pg.Properties
		ref := PageRef{
			PageID:       pg.ID,
			Status:       props[propStatus].selectName(),
			DiscoveryID:  props[propDiscoveryID].text(),
			CanonicalKey: props[propCanonicalKey].text(),
			Website:      props[propWebsite].url(),
		}
		if ref.DiscoveryID != "" {
			index["discovery:"+ref.DiscoveryID] = ref
		}
		if ref.CanonicalKey != "" {
			index["canonical:"+normalizeKey(ref.CanonicalKey)] = ref
		}
		if ref.Website != "" {
			index["website:"+canonical.NormalizeDomain(ref.Website)] = ref
		}
	}

	c.suppression.Set(suppressionCacheKey, index)
	c.logger.Info("suppression index refreshed", "entries", len(index), "pages", len(pages))
	return index, nil
}

// InvalidateSuppression drops the cached index, forcing the next lookup to
// refetch. Call it after out-of-band CRM status changes.
func (c *Client) InvalidateSuppression() {
	c.suppression.Delete(suppressionCacheKey)
}

// PortfolioCompany is one funded deal.
type PortfolioCompany struct {
	PageID      string `json:"page_id"`
	CompanyName string `json:"company_name"`
	Website     string `json:"website,omitempty"`
	Sector      string `json:"sector,omitempty"`
}

// PortfolioCompanies lists every deal with Funded status.
func (c *Client) PortfolioCompanies(ctx context.Context) ([]PortfolioCompany, error) {
	pages, err := c.queryByStatuses(ctx, []string{model.StatusFunded})
	if err != nil {
		return nil, err
	}
	portfolio := make([]PortfolioCompany, 0, len(pages))
	for _, pg := range pages {
		props := pg.Properties
		portfolio = append(portfolio, PortfolioCompany{
			PageID:      pg.ID,
			CompanyName: props[propCompanyName].title(),
			Website:     props[propWebsite].url(),
			Sector:      props[propSector].selectName(),
		})
	}
	return portfolio, nil
}

func (c *Client) findExisting(ctx context.Context, p model.ProspectPayload) (string, error) {
	if p.DiscoveryID != "" {
		pageID, err := c.findOne(ctx, propertyEquals(propDiscoveryID, p.DiscoveryID))
		if err != nil || pageID != "" {
			return pageID, err
		}
	}

	candidates := p.KeyCandidates
	if len(candidates) == 0 && p.CanonicalKey != "" {
		candidates = []string{p.CanonicalKey}
	}
	for _, candidate := range candidates {
		key := normalizeKey(candidate)
		if key == "" {
			continue
		}
		pageID, err := c.findOne(ctx, propertyEquals(propCanonicalKey, key))
		if err != nil || pageID != "" {
			return pageID, err
		}
	}

	if p.Website != "" {
		return c.findByWebsite(ctx, p.Website)
	}
	return "", nil
}

// findOne runs a single-result query and returns the page ID, if any.
func (c *Client) findOne(ctx context.Context, f filter) (string, error) {
	var resp queryResponse
	err := c.transport.Post(ctx, "/databases/"+c.databaseID+"/query", queryRequest{
		Filter:   &f,
		PageSize: 1,
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return resp.Results[0].ID, nil
}

// findByWebsite matches on the normalized domain. Notion's url filter only
// supports substring matching, so candidates are re-checked exactly.
func (c *Client) findByWebsite(ctx context.Context, website string) (string, error) {
	normalized := canonical.NormalizeDomain(website)
	if normalized == "" {
		return "", nil
	}
	f := filter{Property: propWebsite, URL: &textFilter{Contains: normalized}}
	var resp queryResponse
	err := c.transport.Post(ctx, "/databases/"+c.databaseID+"/query", queryRequest{
		Filter:   &f,
		PageSize: 5,
	}, &resp)
	if err != nil {
		return "", err
	}
	for _, pg := range resp.Results {
		if canonical.NormalizeDomain(pg.Properties[propWebsite].url()) == normalized {
			return pg.ID, nil
		}
	}
	return "", nil
}

// queryByStatuses fetches every deal in any of the given statuses with a
// single OR query, following pagination to the end.
func (c *Client) queryByStatuses(ctx context.Context, statuses []string) ([]page, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	or := make([]filter, 0, len(statuses))
	for _, s := range statuses {
		or = append(or, selectEquals(propStatus, s))
	}

	var all []page
	cursor := ""
	for {
		req := queryRequest{
			Filter:      &filter{Or: or},
			PageSize:    100,
			StartCursor: cursor,
		}
		var resp queryResponse
		if err := c.transport.Post(ctx, "/databases/"+c.databaseID+"/query", req, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Results...)
		if !resp.HasMore || resp.NextCursor == nil {
			return all, nil
		}
		cursor = *resp.NextCursor
	}
}

func (c *Client) createPage(ctx context.Context, p model.ProspectPayload) (string, error) {
	var created page
	err := c.transport.Post(ctx, "/pages", createPageRequest{
		Parent:     pageParent{DatabaseID: c.databaseID},
		Properties: c.createProperties(p),
	}, &created)
	if err != nil {
		return "", err
	}
	c.logger.Info("crm page created", "company", p.CompanyName, "page_id", created.ID)
	return created.ID, nil
}

func (c *Client) updatePage(ctx context.Context, pageID string, p model.ProspectPayload) error {
	err := c.transport.Patch(ctx, "/pages/"+pageID, updatePageRequest{
		Properties: c.updateProperties(p),
	}, nil)
	if err != nil {
		return err
	}
	c.logger.Info("crm page updated", "company", p.CompanyName, "page_id", pageID)
	return nil
}

// createProperties builds the full property set for a new deal.
func (c *Client) createProperties(p model.ProspectPayload) map[string]property {
	stage := p.Stage
	if stage == "" {
		stage = model.StagePreSeed
	}
	status := p.Status
	if status == "" {
		status = defaultNewStatus
	}

	props := map[string]property{
		propCompanyName:  titleOf(p.CompanyName),
		propStage:        selectOf(stage),
		propStatus:       selectOf(status),
		propCanonicalKey: richTextOf(normalizeKey(p.CanonicalKey)),
		propDiscoveryID:  richTextOf(p.DiscoveryID),
		propConfidence:   numberOf(round2(p.ConfidenceScore)),
	}
	if p.Website != "" {
		props[propWebsite] = urlOf(p.Website)
	}
	if p.ShortDescription != "" {
		props[propDescription] = richTextOf(truncateRunes(p.ShortDescription, maxRichTextLen))
	}
	c.addTaxonomy(props, p)
	if p.FounderName != "" {
		props[propFounder] = richTextOf(p.FounderName)
	}
	if p.FounderLinkedIn != "" {
		props[propFounderLinkedIn] = urlOf(p.FounderLinkedIn)
	}
	if p.Location != "" {
		props[propLocation] = richTextOf(p.Location)
	}
	if p.TargetRaise != "" {
		props[propTargetRaise] = richTextOf(p.TargetRaise)
	}
	if len(p.SignalTypes) > 0 {
		props[propSignalTypes] = multiSelectOf(capStrings(p.SignalTypes, maxSignalTypes))
	}
	if len(p.WatchlistsMatched) > 0 && c.propertyExists(propWatchlists) {
		props[propWatchlists] = multiSelectOf(p.WatchlistsMatched)
	}
	if p.WhyNow != "" {
		props[propWhyNow] = richTextOf(truncateRunes(p.WhyNow, maxRichTextLen))
	}
	return props
}

// updateProperties builds the property set for refreshing an existing deal.
// Company Name, Website, Status, Investment Stage, Founder and Location
// belong to the analysts; updates never touch them.
func (c *Client) updateProperties(p model.ProspectPayload) map[string]property {
	props := map[string]property{
		propDiscoveryID:  richTextOf(p.DiscoveryID),
		propCanonicalKey: richTextOf(normalizeKey(p.CanonicalKey)),
		propConfidence:   numberOf(round2(p.ConfidenceScore)),
	}
	if len(p.SignalTypes) > 0 {
		props[propSignalTypes] = multiSelectOf(capStrings(p.SignalTypes, maxSignalTypes))
	}
	if p.WhyNow != "" {
		props[propWhyNow] = richTextOf(truncateRunes(p.WhyNow, maxRichTextLen))
	}
	c.addTaxonomy(props, p)
	if len(p.WatchlistsMatched) > 0 && c.propertyExists(propWatchlists) {
		props[propWatchlists] = multiSelectOf(p.WatchlistsMatched)
	}
	return props
}

// addTaxonomy triages the sector. A sector already in the CRM's Sector
// options lands there marked Classified; anything else goes to Proposed
// Sector with the Sector select parked on Unclassified so analysts can
// promote it later.
func (c *Client) addTaxonomy(props map[string]property, p model.ProspectPayload) {
	sector := strings.TrimSpace(p.Sector)
	proposed := strings.TrimSpace(p.ProposedSector)
	taxonomyStatus := strings.TrimSpace(p.TaxonomyStatus)

	candidate := sector
	if candidate == "" {
		candidate = proposed
	}
	if candidate == "" {
		return
	}

	options := c.selectOptions(propSector)
	if len(options) > 0 && options[candidate] {
		if c.propertyExists(propSector) {
			props[propSector] = selectOf(candidate)
		}
		if c.propertyExists(propTaxonomyStatus) {
			if taxonomyStatus == "" {
				taxonomyStatus = "Classified"
			}
			props[propTaxonomyStatus] = selectOf(taxonomyStatus)
		}
		return
	}

	if c.propertyExists(propSector) && options["Unclassified"] {
		props[propSector] = selectOf("Unclassified")
	}
	if c.propertyExists(propProposedSector) {
		props[propProposedSector] = richTextOf(candidate)
	}
	if c.propertyExists(propTaxonomyStatus) {
		if taxonomyStatus == "" {
			taxonomyStatus = "Unclassified"
		}
		props[propTaxonomyStatus] = selectOf(taxonomyStatus)
	}
}

// databaseSchema fetches the deal database schema, cached for six hours.
func (c *Client) databaseSchema(ctx context.Context, force bool) (database, error) {
	if !force {
		if db, ok := c.schema.Get(schemaCacheKey); ok {
			return db, nil
		}
	}
	var db database
	if err := c.transport.Get(ctx, "/databases/"+c.databaseID, &db); err != nil {
		return database{}, err
	}
	c.schema.Set(schemaCacheKey, db)
	return db, nil
}

// propertyExists consults the cached schema only; callers are expected to
// have run EnsureSchema first.
func (c *Client) propertyExists(name string) bool {
	db, ok := c.schema.Get(schemaCacheKey)
	if !ok {
		return false
	}
	_, ok = db.Properties[name]
	return ok
}

// selectOptions returns the option set of a cached select property.
func (c *Client) selectOptions(name string) map[string]bool {
	db, ok := c.schema.Get(schemaCacheKey)
	if !ok {
		return nil
	}
	pc, ok := db.Properties[name]
	if !ok || pc.Type != "select" {
		return nil
	}
	return pc.optionNames()
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func capStrings(values []string, n int) []string {
	if len(values) <= n {
		return values
	}
	return values[:n]
}
