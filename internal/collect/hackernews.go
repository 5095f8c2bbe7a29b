package collect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ashita-ai/hakken/internal/model"
)

const (
	defaultHNLookbackDays = 7
	defaultHNMinPoints    = 10
	hnHitsPerPage         = 50
	hnMaxPages            = 5
)

// HackerNewsOptions tune the Hacker News adapter.
type HackerNewsOptions struct {
	BaseURL      string
	LookbackDays int
	MinPoints    int
	// Domains switches the adapter from Show HN discovery to enrichment:
	// each domain is searched for story mentions.
	Domains []string
	Policy  RetryPolicy
}

// HackerNews collects launch and traction signals from the Algolia HN
// search API. No credentials required.
type HackerNews struct {
	client       *Client
	logger       *slog.Logger
	baseURL      string
	lookbackDays int
	minPoints    int
	domains      []string
}

// NewHackerNews builds the Hacker News adapter.
func NewHackerNews(env Env, opts HackerNewsOptions) *HackerNews {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://hn.algolia.com/api/v1/search"
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = defaultHNLookbackDays
	}
	if opts.MinPoints <= 0 {
		opts.MinPoints = defaultHNMinPoints
	}
	logger := env.logger()
	return &HackerNews{
		client:       NewClient("hacker_news", env.Limiter, logger, env.clientOptions(opts.Policy)),
		logger:       logger,
		baseURL:      opts.BaseURL,
		lookbackDays: opts.LookbackDays,
		minPoints:    opts.MinPoints,
		domains:      opts.Domains,
	}
}

func (h *HackerNews) Name() string    { return "hacker_news" }
func (h *HackerNews) APIName() string { return "hacker_news" }

// RetryPolicy reports the policy the adapter's client runs under.
func (h *HackerNews) RetryPolicy() RetryPolicy { return h.client.policy }

// RequestCount reports upstream requests made so far.
func (h *HackerNews) RequestCount() int { return h.client.RequestCount() }

type hnSearchResponse struct {
	Hits    []hnHit `json:"hits"`
	NbPages int     `json:"nbPages"`
}

type hnHit struct {
	ObjectID    string   `json:"objectID"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Author      string   `json:"author"`
	Points      int      `json:"points"`
	NumComments int      `json:"num_comments"`
	CreatedAtI  int64    `json:"created_at_i"`
	CreatedAt   string   `json:"created_at"`
	StoryText   string   `json:"story_text"`
	Tags        []string `json:"_tags"`
}

// hnPost is a parsed hit.
type hnPost struct {
	objectID    string
	title       string
	url         string
	author      string
	points      int
	numComments int
	createdAt   time.Time
	storyText   string
	tags        []string
}

func (p hnPost) showHN() bool {
	for _, t := range p.tags {
		if t == "show_hn" {
			return true
		}
	}
	return strings.HasPrefix(strings.ToLower(p.title), "show hn")
}

func (p hnPost) domain() string {
	if p.url == "" {
		return ""
	}
	u, err := url.Parse(p.url)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Collect fetches recent Show HN posts, or story mentions per configured
// domain, and emits a signal per post above the points floor.
func (h *HackerNews) Collect(ctx context.Context) ([]model.Signal, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -h.lookbackDays).Unix()

	var posts []hnPost
	if len(h.domains) > 0 {
		for _, domain := range h.domains {
			found, err := h.searchDomain(ctx, domain, cutoff)
			if err != nil {
				h.logger.Warn("hn domain search failed", "domain", domain, "error", err)
				continue
			}
			posts = append(posts, found...)
		}
	} else {
		found, err := h.searchShowHN(ctx, cutoff)
		if err != nil {
			return nil, err
		}
		posts = found
	}

	signals := make([]model.Signal, 0, len(posts))
	for _, post := range posts {
		if post.points < h.minPoints {
			continue
		}
		signals = append(signals, h.signal(post))
	}
	h.logger.Info("hn posts fetched", "kept", len(signals), "fetched", len(posts), "min_points", h.minPoints)
	return signals, nil
}

func (h *HackerNews) searchShowHN(ctx context.Context, cutoff int64) ([]hnPost, error) {
	var posts []hnPost
	for page := 0; page < hnMaxPages; page++ {
		params := url.Values{
			"tags":           {"show_hn"},
			"numericFilters": {fmt.Sprintf("created_at_i>%d", cutoff)},
			"hitsPerPage":    {strconv.Itoa(hnHitsPerPage)},
			"page":           {strconv.Itoa(page)},
		}
		var resp hnSearchResponse
		if err := h.client.GetJSON(ctx, h.baseURL+"?"+params.Encode(), nil, &resp); err != nil {
			if page == 0 {
				return nil, fmt.Errorf("collect: hn search: %w", err)
			}
			h.logger.Warn("hn search page failed", "page", page, "error", err)
			break
		}
		if len(resp.Hits) == 0 {
			break
		}
		for _, hit := range resp.Hits {
			posts = append(posts, parseHNHit(hit))
		}
		if page >= resp.NbPages-1 {
			break
		}
	}
	return posts, nil
}

func (h *HackerNews) searchDomain(ctx context.Context, domain string, cutoff int64) ([]hnPost, error) {
	params := url.Values{
		"query":          {domain},
		"tags":           {"story"},
		"numericFilters": {fmt.Sprintf("created_at_i>%d", cutoff)},
		"hitsPerPage":    {strconv.Itoa(hnHitsPerPage)},
	}
	var resp hnSearchResponse
	if err := h.client.GetJSON(ctx, h.baseURL+"?"+params.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("collect: hn search %s: %w", domain, err)
	}
	var posts []hnPost
	for _, hit := range resp.Hits {
		// Algolia matches text too; keep only hits whose URL is the domain.
		if !strings.Contains(strings.ToLower(hit.URL), strings.ToLower(domain)) {
			continue
		}
		posts = append(posts, parseHNHit(hit))
	}
	return posts, nil
}

func parseHNHit(hit hnHit) hnPost {
	createdAt := time.Now().UTC()
	if hit.CreatedAtI > 0 {
		createdAt = time.Unix(hit.CreatedAtI, 0).UTC()
	} else if hit.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, hit.CreatedAt); err == nil {
			createdAt = t.UTC()
		}
	}
	return hnPost{
		objectID:    hit.ObjectID,
		title:       hit.Title,
		url:         hit.URL,
		author:      hit.Author,
		points:      hit.Points,
		numComments: hit.NumComments,
		createdAt:   createdAt,
		storyText:   hit.StoryText,
		tags:        hit.Tags,
	}
}

func (h *HackerNews) signal(post hnPost) model.Signal {
	confidence := 0.5
	switch {
	case post.points >= 500:
		confidence += 0.15
	case post.points >= 200:
		confidence += 0.1
	case post.points >= 50:
		confidence += 0.05
	}
	switch {
	case post.numComments >= 100:
		confidence += 0.1
	case post.numComments >= 50:
		confidence += 0.07
	case post.numComments >= 20:
		confidence += 0.05
	}
	if post.showHN() {
		// A Show HN is a launch, not just a mention.
		confidence += 0.05
	}
	if time.Since(post.createdAt).Hours()/24 <= 7 {
		confidence += 0.05
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	domain := post.domain()
	key := "hacker_news:" + post.objectID
	if domain != "" {
		key = "domain:" + domain
	}

	idSum := sha256.Sum256([]byte("hn_" + post.objectID))
	respSum := sha256.Sum256([]byte(post.objectID + ":" + strconv.Itoa(post.points)))
	name := post.companyName()

	return model.Signal{
		SignalID:           "hacker_news_mention_" + hex.EncodeToString(idSum[:])[:12],
		SignalType:         "hacker_news_mention",
		SourceAPI:          "hacker_news",
		SourceID:           post.objectID,
		SourceURL:          "https://news.ycombinator.com/item?id=" + post.objectID,
		SourceResponseHash: hex.EncodeToString(respSum[:])[:16],
		CanonicalKey:       key,
		CompanyName:        strPtr(name),
		Confidence:         confidence,
		ContentHash:        model.ContentHash("hacker_news", post.objectID),
		DetectedAt:         post.createdAt,
		RawData: map[string]any{
			model.RawKeyCanonicalKey: key,
			model.RawKeyCompanyName:  name,
			"company_domain":         domain,
			"hacker_news_id":         post.objectID,
			"title":                  post.title,
			"points":                 post.points,
			"num_comments":           post.numComments,
			"author":                 post.author,
			"is_show_hn":             post.showHN(),
			"story_text":             truncate(post.storyText, 500),
			"url":                    post.url,
		},
	}
}

// companyName guesses the product name from a Show HN title, falling back
// to the link domain.
func (p hnPost) companyName() string {
	if p.showHN() {
		if _, after, ok := strings.Cut(p.title, ":"); ok {
			name := strings.TrimSpace(after)
			for _, sep := range []string{" - ", " – ", " (", ","} {
				if i := strings.Index(name, sep); i >= 0 {
					name = strings.TrimSpace(name[:i])
					break
				}
			}
			return truncate(name, 50)
		}
	}
	if d := p.domain(); d != "" {
		label, _, _ := strings.Cut(d, ".")
		return titleCase(label)
	}
	return ""
}

// titleCase uppercases the first letter of every alphanumeric run.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	upper := true
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			b.WriteRune(r)
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
