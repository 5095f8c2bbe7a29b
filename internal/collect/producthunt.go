package collect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/hakken/internal/model"
)

const (
	defaultPHLookbackDays = 7
	defaultPHMinVotes     = 10
	phPageSize            = 50
	phMaxPages            = 5
)

const phPostsQuery = `query GetPosts($first: Int!, $after: String, $postedAfter: DateTime) {
  posts(first: $first, after: $after, postedAfter: $postedAfter, order: VOTES) {
    edges {
      cursor
      node {
        id
        name
        tagline
        description
        url
        website
        votesCount
        commentsCount
        createdAt
        topics { edges { node { name } } }
        makers { id name headline }
        thumbnail { url }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

// ProductHuntOptions tune the Product Hunt adapter.
type ProductHuntOptions struct {
	BaseURL      string
	LookbackDays int
	MinVotes     int
	Policy       RetryPolicy
}

// ProductHunt collects recent launches via the Product Hunt GraphQL API.
// Without a token it collects nothing; launches are still public but the
// API is not.
type ProductHunt struct {
	client       *Client
	logger       *slog.Logger
	assets       AssetStore
	token        string
	baseURL      string
	lookbackDays int
	minVotes     int
}

// NewProductHunt builds the Product Hunt adapter.
func NewProductHunt(env Env, opts ProductHuntOptions) *ProductHunt {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.producthunt.com/v2/api/graphql"
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = defaultPHLookbackDays
	}
	if opts.MinVotes <= 0 {
		opts.MinVotes = defaultPHMinVotes
	}
	logger := env.logger()
	return &ProductHunt{
		client:       NewClient("product_hunt", env.Limiter, logger, env.clientOptions(opts.Policy)),
		logger:       logger,
		assets:       env.Assets,
		token:        env.Config.ProductHuntToken,
		baseURL:      opts.BaseURL,
		lookbackDays: opts.LookbackDays,
		minVotes:     opts.MinVotes,
	}
}

func (p *ProductHunt) Name() string    { return "product_hunt" }
func (p *ProductHunt) APIName() string { return "product_hunt" }

// RetryPolicy reports the policy the adapter's client runs under.
func (p *ProductHunt) RetryPolicy() RetryPolicy { return p.client.policy }

// RequestCount reports upstream requests made so far.
func (p *ProductHunt) RequestCount() int { return p.client.RequestCount() }

type phResponse struct {
	Data struct {
		Posts struct {
			Edges []struct {
				Node phNode `json:"node"`
			} `json:"edges"`
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
		} `json:"posts"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type phNode struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Tagline       string `json:"tagline"`
	Description   string `json:"description"`
	URL           string `json:"url"`
	Website       string `json:"website"`
	VotesCount    int    `json:"votesCount"`
	CommentsCount int    `json:"commentsCount"`
	CreatedAt     string `json:"createdAt"`
	Topics        struct {
		Edges []struct {
			Node struct {
				Name string `json:"name"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"topics"`
	Makers []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Headline string `json:"headline"`
	} `json:"makers"`
	Thumbnail struct {
		URL string `json:"url"`
	} `json:"thumbnail"`
}

// phLaunch is a parsed launch.
type phLaunch struct {
	node       phNode
	topics     []string
	launchedAt time.Time
}

// Collect fetches recent launches ordered by votes. With the asset store
// enabled, launches whose snapshot did not change are skipped so daily
// runs only re-emit moving products.
func (p *ProductHunt) Collect(ctx context.Context) ([]model.Signal, error) {
	if p.token == "" {
		p.logger.Warn("product hunt token not configured, collecting nothing")
		return nil, nil
	}

	launches, err := p.fetchLaunches(ctx)
	if err != nil {
		return nil, err
	}
	p.logger.Info("product hunt launches fetched", "launches", len(launches))

	signals := make([]model.Signal, 0, len(launches))
	for _, launch := range launches {
		if p.assets != nil {
			_, isNew, changes, err := p.assets.SaveAsset(ctx, model.AssetProductHunt, launch.node.ID, launch.payload())
			if err != nil {
				p.logger.Warn("product hunt snapshot not saved", "product_id", launch.node.ID, "error", err)
			} else if !isNew && len(changes) == 0 {
				continue
			}
		}
		signals = append(signals, p.signal(launch))
	}
	return signals, nil
}

func (p *ProductHunt) fetchLaunches(ctx context.Context) ([]phLaunch, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.token)
	postedAfter := time.Now().UTC().AddDate(0, 0, -p.lookbackDays).Format(time.RFC3339)

	var launches []phLaunch
	cursor := ""
	for page := 0; page < phMaxPages; page++ {
		var after any
		if cursor != "" {
			after = cursor
		}
		body := map[string]any{
			"query": phPostsQuery,
			"variables": map[string]any{
				"first":       phPageSize,
				"after":       after,
				"postedAfter": postedAfter,
			},
		}

		var resp phResponse
		if err := p.client.PostJSON(ctx, p.baseURL, header, body, &resp); err != nil {
			if page == 0 {
				return nil, fmt.Errorf("collect: product hunt query: %w", err)
			}
			p.logger.Warn("product hunt page failed", "page", page, "error", err)
			break
		}
		if len(resp.Errors) > 0 {
			msgs := make([]string, 0, len(resp.Errors))
			for _, e := range resp.Errors {
				msgs = append(msgs, e.Message)
			}
			if page == 0 {
				return nil, fmt.Errorf("collect: product hunt graphql: %s", strings.Join(msgs, "; "))
			}
			p.logger.Warn("product hunt graphql errors", "page", page, "errors", strings.Join(msgs, "; "))
			break
		}

		edges := resp.Data.Posts.Edges
		if len(edges) == 0 {
			break
		}
		for _, edge := range edges {
			if edge.Node.VotesCount < p.minVotes {
				continue
			}
			launches = append(launches, parsePHNode(edge.Node))
		}

		if !resp.Data.Posts.PageInfo.HasNextPage {
			break
		}
		cursor = resp.Data.Posts.PageInfo.EndCursor
	}
	return launches, nil
}

func parsePHNode(node phNode) phLaunch {
	topics := make([]string, 0, len(node.Topics.Edges))
	for _, te := range node.Topics.Edges {
		if te.Node.Name != "" {
			topics = append(topics, te.Node.Name)
		}
	}
	launchedAt := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, node.CreatedAt); err == nil {
		launchedAt = t.UTC()
	}
	return phLaunch{node: node, topics: topics, launchedAt: launchedAt}
}

// payload is the snapshot stored for change detection. Vote and comment
// counts are the fields that move between runs.
func (l phLaunch) payload() map[string]any {
	return map[string]any{
		"id":             l.node.ID,
		"name":           l.node.Name,
		"tagline":        l.node.Tagline,
		"website":        l.node.Website,
		"votes_count":    l.node.VotesCount,
		"comments_count": l.node.CommentsCount,
		"created_at":     l.node.CreatedAt,
		"topics":         l.topics,
	}
}

func (l phLaunch) domain() string {
	if l.node.Website == "" {
		return ""
	}
	u, err := url.Parse(l.node.Website)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func (p *ProductHunt) signal(launch phLaunch) model.Signal {
	confidence := 0.5
	switch {
	case launch.node.VotesCount >= 500:
		confidence += 0.15
	case launch.node.VotesCount >= 200:
		confidence += 0.1
	case launch.node.VotesCount >= 50:
		confidence += 0.05
	}
	switch {
	case launch.node.CommentsCount >= 50:
		confidence += 0.1
	case launch.node.CommentsCount >= 20:
		confidence += 0.05
	}
	if time.Since(launch.launchedAt).Hours()/24 <= 7 {
		confidence += 0.05
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	domain := launch.domain()
	key := "product_hunt:" + launch.node.ID
	if domain != "" {
		key = "domain:" + domain
	}

	makers := make([]map[string]string, 0, len(launch.node.Makers))
	for i, maker := range launch.node.Makers {
		if i == 3 {
			break
		}
		makers = append(makers, map[string]string{
			"id":       maker.ID,
			"name":     maker.Name,
			"headline": maker.Headline,
		})
	}
	topics := launch.topics
	if len(topics) > 5 {
		topics = topics[:5]
	}

	idSum := sha256.Sum256([]byte("ph_" + launch.node.ID))
	respSum := sha256.Sum256([]byte(launch.node.ID + ":" + strconv.Itoa(launch.node.VotesCount)))

	return model.Signal{
		SignalID:           "product_hunt_launch_" + hex.EncodeToString(idSum[:])[:12],
		SignalType:         "product_hunt_launch",
		SourceAPI:          "product_hunt",
		SourceID:           launch.node.ID,
		SourceURL:          launch.node.URL,
		SourceResponseHash: hex.EncodeToString(respSum[:])[:16],
		CanonicalKey:       key,
		CompanyName:        strPtr(launch.node.Name),
		Confidence:         confidence,
		ContentHash:        model.ContentHash("product_hunt", launch.node.ID),
		DetectedAt:         launch.launchedAt,
		RawData: map[string]any{
			model.RawKeyCanonicalKey: key,
			model.RawKeyCompanyName:  launch.node.Name,
			"company_domain":         domain,
			"product_hunt_id":        launch.node.ID,
			"tagline":                launch.node.Tagline,
			"description":            truncate(launch.node.Description, 500),
			"votes_count":            launch.node.VotesCount,
			"comments_count":         launch.node.CommentsCount,
			"topics":                 topics,
			"makers":                 makers,
			"website":                launch.node.Website,
		},
	}
}
