package collect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/hakken/internal/canonical"
	"github.com/ashita-ai/hakken/internal/model"
)

// Spike thresholds. The GitHub API exposes no star history, so recent
// stars are estimated from average velocity and push recency.
const (
	githubMinStars       = 100
	githubMinRecentStars = 20
	githubMinGrowthRate  = 0.1
	githubPerPage        = 100
	githubMaxSearchPages = 3

	defaultGitHubLookbackDays  = 30
	defaultGitHubMaxRepos      = 100
	defaultStarChangeThreshold = 0.10
)

// githubRelevantTopics is the focus-area filter applied to search results.
var githubRelevantTopics = map[string]struct{}{
	"ai": {}, "artificial-intelligence": {}, "machine-learning": {}, "ml": {},
	"llm": {}, "large-language-models": {}, "mlops": {}, "ai-infrastructure": {},
	"vector-database": {}, "embeddings": {}, "transformers": {},
	"developer-tools": {}, "devtools": {}, "api": {}, "sdk": {}, "cli": {},
	"framework": {}, "library": {}, "infrastructure": {},
	"python": {}, "typescript": {}, "rust": {}, "go": {}, "javascript": {},
	"docker": {}, "kubernetes": {}, "serverless": {}, "edge-computing": {},
	"data-engineering": {}, "data-science": {}, "deep-learning": {},
	"neural-networks": {}, "pytorch": {}, "tensorflow": {},
}

// GitHubOptions tune the GitHub adapter away from the defaults.
type GitHubOptions struct {
	BaseURL      string
	LookbackDays int
	MaxRepos     int
	// StarChangeThreshold is the fractional star growth that counts as a
	// change when snapshot-based change detection is on.
	StarChangeThreshold float64
	Policy              RetryPolicy
}

// GitHub finds repositories with star spikes and turns them into
// prospecting signals.
type GitHub struct {
	client        *Client
	logger        *slog.Logger
	assets        AssetStore
	token         string
	baseURL       string
	lookbackDays  int
	maxRepos      int
	starThreshold float64
	ownerCache    map[string]githubOwner
}

// NewGitHub builds the GitHub adapter. A missing token is an error; the
// unauthenticated search quota is useless for daily runs.
func NewGitHub(env Env, opts GitHubOptions) (*GitHub, error) {
	if env.Config.GitHubToken == "" {
		return nil, errors.New("collect: github token required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.github.com"
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = defaultGitHubLookbackDays
	}
	if opts.MaxRepos <= 0 {
		opts.MaxRepos = defaultGitHubMaxRepos
	}
	if opts.StarChangeThreshold <= 0 {
		opts.StarChangeThreshold = defaultStarChangeThreshold
	}
	logger := env.logger()
	return &GitHub{
		client:        NewClient("github", env.Limiter, logger, env.clientOptions(opts.Policy)),
		logger:        logger,
		assets:        env.Assets,
		token:         env.Config.GitHubToken,
		baseURL:       strings.TrimSuffix(opts.BaseURL, "/"),
		lookbackDays:  opts.LookbackDays,
		maxRepos:      opts.MaxRepos,
		starThreshold: opts.StarChangeThreshold,
		ownerCache:    map[string]githubOwner{},
	}, nil
}

func (g *GitHub) Name() string    { return "github" }
func (g *GitHub) APIName() string { return "github" }

// RetryPolicy reports the policy the adapter's client runs under.
func (g *GitHub) RetryPolicy() RetryPolicy { return g.client.policy }

// RequestCount reports upstream requests made so far.
func (g *GitHub) RequestCount() int { return g.client.RequestCount() }

type githubSearchResponse struct {
	TotalCount int               `json:"total_count"`
	Items      []json.RawMessage `json:"items"`
}

type githubRepo struct {
	FullName    string    `json:"full_name"`
	Description string    `json:"description"`
	Stars       int       `json:"stargazers_count"`
	Forks       int       `json:"forks_count"`
	Watchers    int       `json:"watchers_count"`
	OpenIssues  int       `json:"open_issues_count"`
	Language    string    `json:"language"`
	Topics      []string  `json:"topics"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	PushedAt    time.Time `json:"pushed_at"`
	HTMLURL     string    `json:"html_url"`
	Homepage    string    `json:"homepage"`
	Owner       struct {
		Login string `json:"login"`
	} `json:"owner"`
}

func (r githubRepo) org() string {
	org, _, _ := strings.Cut(r.FullName, "/")
	return org
}

type githubOwner struct {
	Login   string `json:"login"`
	Type    string `json:"type"`
	Company string `json:"company"`
	Bio     string `json:"bio"`
	Blog    string `json:"blog"`
	Email   string `json:"email"`
}

// repoMetrics is a repo enriched with owner data and spike estimates.
type repoMetrics struct {
	repo        githubRepo
	raw         json.RawMessage
	owner       githubOwner
	recentStars int
	growthRate  float64
	velocity    float64
	ageDays     int
}

func (m repoMetrics) orgOwned() bool { return m.owner.Type == "Organization" }

func (m repoMetrics) relevant() bool {
	for _, t := range m.repo.Topics {
		if _, ok := githubRelevantTopics[strings.ToLower(t)]; ok {
			return true
		}
	}
	return false
}

// Collect searches for trending repositories, enriches them with owner
// data, estimates star spikes and emits a signal per spiking repo.
func (g *GitHub) Collect(ctx context.Context) ([]model.Signal, error) {
	repos, err := g.searchTrending(ctx)
	if err != nil {
		return nil, err
	}
	g.logger.Info("github search done", "candidates", len(repos))

	if g.assets != nil {
		repos = g.filterUnchanged(ctx, repos)
	}
	if len(repos) > g.maxRepos {
		repos = repos[:g.maxRepos]
	}

	var spiking []repoMetrics
	for _, item := range repos {
		var repo githubRepo
		if err := json.Unmarshal(item, &repo); err != nil {
			g.logger.Warn("github repo not decoded", "error", err)
			continue
		}
		m, err := g.enrich(ctx, repo, item)
		if err != nil {
			g.logger.Warn("github enrichment failed", "repo", repo.FullName, "error", err)
			continue
		}
		if m.relevant() && m.recentStars >= githubMinRecentStars && m.growthRate >= githubMinGrowthRate {
			spiking = append(spiking, m)
		}
	}
	sort.Slice(spiking, func(i, j int) bool { return spiking[i].recentStars > spiking[j].recentStars })
	g.logger.Info("github spikes found", "spiking", len(spiking))

	signals := make([]model.Signal, 0, len(spiking))
	for _, m := range spiking {
		signals = append(signals, g.signal(m))
	}
	return signals, nil
}

func (g *GitHub) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+g.token)
	h.Set("Accept", "application/vnd.github+json")
	h.Set("X-GitHub-Api-Version", "2022-11-28")
	return h
}

func (g *GitHub) searchTrending(ctx context.Context) ([]json.RawMessage, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -g.lookbackDays).Format("2006-01-02")
	query := fmt.Sprintf("stars:>%d pushed:>%s topic:ai OR topic:ml OR topic:llm OR topic:developer-tools OR topic:infrastructure",
		githubMinStars, cutoff)

	var items []json.RawMessage
	for page := 1; page <= githubMaxSearchPages; page++ {
		params := url.Values{
			"q":        {query},
			"sort":     {"stars"},
			"order":    {"desc"},
			"per_page": {strconv.Itoa(githubPerPage)},
			"page":     {strconv.Itoa(page)},
		}
		var resp githubSearchResponse
		err := g.client.GetJSON(ctx, g.baseURL+"/search/repositories?"+params.Encode(), g.header(), &resp)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("collect: github search: %w", err)
			}
			// Keep what earlier pages returned.
			g.logger.Warn("github search page failed", "page", page, "error", err)
			break
		}
		items = append(items, resp.Items...)
		if len(resp.Items) < githubPerPage || len(items) >= g.maxRepos {
			break
		}
	}
	return items, nil
}

// filterUnchanged drops repos whose snapshot did not move by the star
// threshold since the last run. Snapshot failures are logged and leave the
// batch as is.
func (g *GitHub) filterUnchanged(ctx context.Context, items []json.RawMessage) []json.RawMessage {
	byName := make(map[string]json.RawMessage, len(items))
	payloads := make(map[string]map[string]any, len(items))
	for _, item := range items {
		var payload map[string]any
		if err := json.Unmarshal(item, &payload); err != nil {
			continue
		}
		name, _ := payload["full_name"].(string)
		if name == "" {
			continue
		}
		byName[name] = item
		payloads[name] = payload
	}

	delta, err := ComputeDelta(ctx, g.assets, model.AssetGitHubRepo, payloads, StarChange(g.starThreshold))
	if err != nil {
		g.logger.Warn("github change detection unavailable", "error", err)
		return items
	}
	g.logger.Info("github delta computed",
		"new", len(delta.New), "changed", len(delta.Changed), "unchanged", len(delta.Unchanged))

	kept := make([]json.RawMessage, 0, len(delta.New)+len(delta.Changed))
	for _, id := range delta.New {
		kept = append(kept, byName[id])
	}
	for _, id := range delta.Changed {
		kept = append(kept, byName[id])
	}
	return kept
}

func (g *GitHub) ownerDetails(ctx context.Context, login string) (githubOwner, error) {
	if owner, ok := g.ownerCache[login]; ok {
		return owner, nil
	}
	var owner githubOwner
	err := g.client.GetJSON(ctx, g.baseURL+"/orgs/"+url.PathEscape(login), g.header(), &owner)
	switch {
	case err == nil:
		owner.Type = "Organization"
	case isNotFound(err):
		owner = githubOwner{}
		if err := g.client.GetJSON(ctx, g.baseURL+"/users/"+url.PathEscape(login), g.header(), &owner); err != nil {
			return githubOwner{}, fmt.Errorf("collect: github user %s: %w", login, err)
		}
		owner.Type = "User"
	default:
		return githubOwner{}, fmt.Errorf("collect: github org %s: %w", login, err)
	}
	g.ownerCache[login] = owner
	return owner, nil
}

func (g *GitHub) enrich(ctx context.Context, repo githubRepo, raw json.RawMessage) (repoMetrics, error) {
	owner, err := g.ownerDetails(ctx, repo.Owner.Login)
	if err != nil {
		return repoMetrics{}, err
	}
	now := time.Now().UTC()
	m := repoMetrics{
		repo:    repo,
		raw:     raw,
		owner:   owner,
		ageDays: int(now.Sub(repo.CreatedAt).Hours() / 24),
	}

	// Estimate recent stars from average velocity. A recently pushed repo
	// is assumed to be accelerating; a stale one gets no recency credit.
	ageDays := max(m.ageDays, 1)
	avgPerDay := float64(repo.Stars) / float64(ageDays)
	daysSincePush := int(now.Sub(repo.PushedAt).Hours() / 24)
	if daysSincePush < g.lookbackDays {
		m.recentStars = min(int(avgPerDay*float64(g.lookbackDays)*1.5), repo.Stars)
		m.growthRate = float64(m.recentStars) / float64(max(repo.Stars, 1))
		m.velocity = float64(m.recentStars) / float64(g.lookbackDays)
	}
	return m, nil
}

func (g *GitHub) signal(m repoMetrics) model.Signal {
	confidence := 0.5
	switch {
	case m.recentStars > 100:
		confidence += 0.2
	case m.recentStars > 50:
		confidence += 0.1
	}
	switch {
	case m.growthRate > 0.5:
		confidence += 0.15
	case m.growthRate > 0.25:
		confidence += 0.1
	}
	if m.orgOwned() {
		confidence += 0.1
	}
	if m.owner.Blog != "" || m.owner.Company != "" {
		confidence += 0.05
	}
	// Never fully confident from a single source.
	confidence = math.Min(confidence, 0.95)

	org := m.repo.org()
	inputs := canonical.Inputs{
		Website:     firstNonEmpty(m.owner.Blog, m.repo.Homepage),
		GitHubRepo:  m.repo.FullName,
		CompanyName: firstNonEmpty(m.owner.Company, org),
	}
	if m.orgOwned() {
		inputs.GitHubOrg = org
	}
	candidates := canonical.Candidates(inputs)
	key := ""
	if len(candidates) > 0 {
		key = candidates[0]
	}

	idSum := sha256.Sum256([]byte(m.repo.FullName))
	respSum := sha256.Sum256(m.raw)

	return model.Signal{
		SignalID:           "github_spike_" + hex.EncodeToString(idSum[:])[:12],
		SignalType:         "github_spike",
		SourceAPI:          "github",
		SourceID:           m.repo.FullName,
		SourceURL:          m.repo.HTMLURL,
		SourceResponseHash: hex.EncodeToString(respSum[:]),
		CanonicalKey:       key,
		KeyCandidates:      candidates,
		Confidence:         confidence,
		ContentHash:        model.ContentHash("github", m.repo.FullName),
		DetectedAt:         time.Now().UTC(),
		RawData: map[string]any{
			"repo_full_name":          m.repo.FullName,
			"github_org":              org,
			"github_repo":             m.repo.FullName,
			model.RawKeyCanonicalKey:  key,
			model.RawKeyKeyCandidates: candidates,
			"stars":                   m.repo.Stars,
			"recent_stars":            m.recentStars,
			"growth_rate":             m.growthRate,
			"velocity_stars_per_day":  m.velocity,
			"forks":                   m.repo.Forks,
			"watchers":                m.repo.Watchers,
			"open_issues":             m.repo.OpenIssues,
			"description":             m.repo.Description,
			"language":                m.repo.Language,
			"topics":                  m.repo.Topics,
			"created_at":              m.repo.CreatedAt.Format(time.RFC3339),
			"updated_at":              m.repo.UpdatedAt.Format(time.RFC3339),
			"pushed_at":               m.repo.PushedAt.Format(time.RFC3339),
			"age_days":                m.ageDays,
			"owner_type":              m.owner.Type,
			"owner_company":           m.owner.Company,
			"owner_bio":               m.owner.Bio,
			"owner_website":           m.owner.Blog,
			"owner_email":             m.owner.Email,
			"html_url":                m.repo.HTMLURL,
			"homepage":                m.repo.Homepage,
			model.RawKeyWhyNow:        g.whyNow(m),
			"thesis_fit":              thesisFit(m),
		},
	}
}

func (g *GitHub) whyNow(m repoMetrics) string {
	var parts []string
	switch {
	case m.recentStars > 100:
		parts = append(parts, fmt.Sprintf("Rapid adoption: +%d stars in %d days", m.recentStars, g.lookbackDays))
	case m.recentStars > 50:
		parts = append(parts, fmt.Sprintf("Growing traction: +%d stars recently", m.recentStars))
	}
	if m.growthRate > 0.5 {
		parts = append(parts, fmt.Sprintf("%d%% growth rate", int(m.growthRate*100)))
	}
	if m.ageDays < 90 {
		parts = append(parts, fmt.Sprintf("New project (%d days old)", m.ageDays))
	}
	if m.orgOwned() && m.owner.Company != "" {
		parts = append(parts, "Backed by "+m.owner.Company)
	}
	if len(parts) == 0 {
		return "Recent developer interest"
	}
	return strings.Join(parts, "; ")
}

// thesisFit buckets a repo into a coarse thesis category from its topics
// and description.
func thesisFit(m repoMetrics) string {
	topics := make(map[string]struct{}, len(m.repo.Topics))
	for _, t := range m.repo.Topics {
		topics[strings.ToLower(t)] = struct{}{}
	}
	desc := strings.ToLower(m.repo.Description)

	aiTopics := []string{"ai", "llm", "ml", "machine-learning", "embeddings", "vector-database"}
	for _, t := range aiTopics {
		if _, ok := topics[t]; ok {
			return "AI Infrastructure"
		}
	}
	for _, k := range []string{"llm", "language model", "embeddings"} {
		if strings.Contains(desc, k) {
			return "AI Infrastructure"
		}
	}

	devTopics := []string{"developer-tools", "api", "sdk", "cli", "framework", "devops"}
	for _, t := range devTopics {
		if _, ok := topics[t]; ok {
			return "Developer Tools"
		}
	}
	for _, k := range []string{"developer", "api", "sdk"} {
		if strings.Contains(desc, k) {
			return "Developer Tools"
		}
	}
	return "Other"
}

func isNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
