package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/hakken/internal/canonical"
)

func (s *Server) registerTools() {
	// get_company_signals — the raw evidence behind a lead.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_company_signals",
			mcplib.WithDescription(`Get every stored signal for a company by canonical key.

WHEN TO USE: To inspect the evidence behind a lead before trusting a
routing decision, or to see which sources have reported on a company.

Signals come back newest first with their type, source, confidence and
processing status. Raw payloads are omitted; use the source URL to go
deeper.

EXAMPLE: canonical_key="domain:acme.ai" returns the hiring posts, filings
and repo activity collected for acme.ai.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("canonical_key",
				mcplib.Description("Lead identity key (e.g. domain:acme.ai). A discovery id like disc_domain_acme.ai also works."),
				mcplib.Required(),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum signals to return"),
				mcplib.Min(1),
				mcplib.Max(200),
				mcplib.DefaultNumber(50),
			),
		),
		s.handleCompanySignals,
	)

	// get_routing_decision — what would the verification gate do?
	s.mcpServer.AddTool(
		mcplib.NewTool("get_routing_decision",
			mcplib.WithDescription(`Run a lead's signals through the verification gate and return the routing decision.

WHEN TO USE: To understand why a lead was (or wasn't) pushed to the CRM.
The response carries the full confidence breakdown: per-signal
contributions, multi-source and convergence factors, founder and velocity
boosts, and the final decision with its reason.

This is an evaluation only — nothing is queued or written.

EXAMPLE: canonical_key="domain:acme.ai" might return decision="auto_push"
with confidence 0.82 across 3 sources.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("canonical_key",
				mcplib.Description("Lead identity key (e.g. domain:acme.ai). A discovery id also works."),
				mcplib.Required(),
			),
		),
		s.handleRoutingDecision,
	)

	// build_canonical_key — identity resolution without side effects.
	s.mcpServer.AddTool(
		mcplib.NewTool("build_canonical_key",
			mcplib.WithDescription(`Build canonical key candidates from company identifiers.

WHEN TO USE: To derive the identity key the engine files a company under,
before querying signals or checking suppression. Stronger identifiers win:
domain beats a Companies House number beats a GitHub org beats a bare
name.

Pass whatever identifiers you have; at least one is needed. The name and
region only produce the weak name_loc fallback, which never merges
automatically.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("domain",
				mcplib.Description("Company domain or website URL"),
			),
			mcplib.WithString("companies_house_number",
				mcplib.Description("UK Companies House number"),
			),
			mcplib.WithString("crunchbase_id",
				mcplib.Description("Crunchbase organization ID"),
			),
			mcplib.WithString("github_org",
				mcplib.Description("GitHub organization name"),
			),
			mcplib.WithString("github_repo",
				mcplib.Description("GitHub repository (org/repo or URL)"),
			),
			mcplib.WithString("company_name",
				mcplib.Description("Company name (weak fallback)"),
			),
			mcplib.WithString("region",
				mcplib.Description("Company region, sharpens the name fallback"),
			),
		),
		s.handleBuildCanonicalKey,
	)
}

func (s *Server) handleCompanySignals(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	key := resolveKeyArg(request.GetString("canonical_key", ""))
	if key == "" {
		return errorResult("canonical_key is required"), nil
	}
	limit := request.GetInt("limit", 50)

	signals, err := s.deps.Store.GetSignalsForCompany(ctx, key)
	if err != nil {
		return errorResult(fmt.Sprintf("load signals: %v", err)), nil
	}

	total := len(signals)
	if len(signals) > limit {
		signals = signals[:limit]
	}
	compact := make([]map[string]any, 0, len(signals))
	for _, sig := range signals {
		compact = append(compact, compactSignal(sig))
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"canonical_key": key,
		"total":         total,
		"signals":       compact,
	}, "", "  ")

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleRoutingDecision(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	key := resolveKeyArg(request.GetString("canonical_key", ""))
	if key == "" {
		return errorResult("canonical_key is required"), nil
	}
	if s.deps.Pusher == nil {
		return errorResult("routing is not configured"), nil
	}

	vr, _, err := s.deps.Pusher.PushLead(ctx, key, true)
	if err != nil {
		return errorResult(fmt.Sprintf("evaluate lead: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(vr, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleBuildCanonicalKey(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	in := canonical.Inputs{
		Website:              request.GetString("domain", ""),
		CompaniesHouseNumber: request.GetString("companies_house_number", ""),
		CrunchbaseID:         request.GetString("crunchbase_id", ""),
		GitHubOrg:            request.GetString("github_org", ""),
		GitHubRepo:           request.GetString("github_repo", ""),
		CompanyName:          request.GetString("company_name", ""),
		Region:               request.GetString("region", ""),
	}

	candidates := canonical.Candidates(in)
	if len(candidates) == 0 {
		return errorResult("no usable identifier provided"), nil
	}

	primary := candidates[0]
	resultData, _ := json.MarshalIndent(map[string]any{
		"primary_key":    primary,
		"key_type":       canonical.KindOf(primary),
		"has_strong_key": canonical.IsStrong(primary),
		"candidates":     candidates,
		"discovery_id":   canonical.DiscoveryID(primary),
	}, "", "  ")

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

// resolveKeyArg accepts either a canonical key or a discovery id and
// returns the canonical key, or "" when neither parses.
func resolveKeyArg(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.Contains(v, ":") {
		return v
	}
	return canonical.FromDiscoveryID(v)
}
