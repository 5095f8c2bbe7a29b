package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/hakken/internal/canonical"
	"github.com/ashita-ai/hakken/internal/collect"
	"github.com/ashita-ai/hakken/internal/model"
)

func (s *Server) registerPrompts() {
	// run-collector — start one collector, dry by default.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("run-collector",
			mcplib.WithPromptDescription("Run a signal collector to find new prospects"),
			mcplib.WithArgument("collector",
				mcplib.ArgumentDescription("Collector to run. Options: "+strings.Join(s.allowed, ", ")),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("dry_run",
				mcplib.ArgumentDescription("If true, don't persist results (default: true)"),
			),
		),
		s.handleRunCollectorPrompt,
	)

	// check-suppression — is this company already in the CRM?
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("check-suppression",
			mcplib.WithPromptDescription("Check if a company is in the suppression list (already in CRM)"),
			mcplib.WithArgument("domain",
				mcplib.ArgumentDescription("Company domain (e.g. acme.ai)"),
			),
			mcplib.WithArgument("canonical_key",
				mcplib.ArgumentDescription("Canonical key (e.g. domain:acme.ai)"),
			),
			mcplib.WithArgument("company_name",
				mcplib.ArgumentDescription("Company name (fallback if no domain)"),
			),
		),
		s.handleCheckSuppressionPrompt,
	)

	// push-to-notion — evaluate one lead and queue it for CRM delivery.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("push-to-notion",
			mcplib.WithPromptDescription("Evaluate a qualified prospect and queue it for the Notion CRM"),
			mcplib.WithArgument("discovery_id",
				mcplib.ArgumentDescription("Prospect discovery id (e.g. disc_domain_acme.ai); a raw canonical key also works"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("dry_run",
				mcplib.ArgumentDescription("If true, evaluate but don't queue (default: true)"),
			),
		),
		s.handlePushToNotionPrompt,
	)

	// sync-suppression-cache — refresh the local cache from the CRM.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("sync-suppression-cache",
			mcplib.WithPromptDescription("Refresh the local suppression cache from Notion"),
		),
		s.handleSyncSuppressionPrompt,
	)

	// validate-notion-schema — does the CRM still match what we write?
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("validate-notion-schema",
			mcplib.WithPromptDescription("Validate the Notion database schema matches the expected structure"),
			mcplib.WithArgument("force_refresh",
				mcplib.ArgumentDescription("If true, bypass the schema cache and fetch fresh (default: false)"),
			),
		),
		s.handleValidateSchemaPrompt,
	)
}

func (s *Server) handleRunCollectorPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	name := strings.ToLower(strings.TrimSpace(request.Params.Arguments["collector"]))
	if name == "" {
		return nil, fmt.Errorf("collector argument is required")
	}
	if !s.allowSet[name] {
		return nil, fmt.Errorf("unknown collector %q, allowed: %s", name, strings.Join(s.allowed, ", "))
	}
	dryRun := parseBool(request.Params.Arguments["dry_run"], true)

	adapter, err := s.deps.Registry.Build(name, s.deps.Env)
	if err != nil {
		return nil, fmt.Errorf("build collector: %w", err)
	}

	s.logger.Info("collector run requested over mcp", "collector", name, "dry_run", dryRun)
	result := s.deps.Runner.Run(ctx, adapter, collect.RunOptions{DryRun: dryRun})

	message := fmt.Sprintf("Collector %q completed", name)
	if result.Status == model.CollectorError {
		message = fmt.Sprintf("Collector %q failed", name)
	}
	return promptResult(message, result)
}

func (s *Server) handleCheckSuppressionPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	args := request.Params.Arguments
	domain := strings.TrimSpace(args["domain"])
	key := strings.TrimSpace(args["canonical_key"])
	name := strings.TrimSpace(args["company_name"])
	if domain == "" && key == "" && name == "" {
		return nil, fmt.Errorf("at least one of domain, canonical_key or company_name is required")
	}
	if s.deps.CRM == nil {
		return nil, fmt.Errorf("CRM is not configured")
	}

	index, err := s.deps.CRM.SuppressionIndex(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("suppression check: %w", err)
	}

	// Probe every identity the arguments support, strongest first.
	var lookups []string
	if key != "" {
		lookups = append(lookups, "canonical:"+strings.ToLower(key))
	}
	if d := canonical.NormalizeDomain(domain); d != "" {
		lookups = append(lookups, "canonical:domain:"+d, "website:"+d)
	}
	if name != "" {
		if k := canonical.Build(canonical.Inputs{CompanyName: name}); k != "" {
			lookups = append(lookups, "canonical:"+k)
		}
	}

	data := map[string]any{
		"is_suppressed": false,
		"query": map[string]string{
			"domain":        domain,
			"canonical_key": key,
			"company_name":  name,
		},
	}
	for _, lookup := range lookups {
		ref, ok := index[lookup]
		if !ok {
			continue
		}
		matchType, _, _ := strings.Cut(lookup, ":")
		data["is_suppressed"] = true
		data["matched_on"] = lookup
		data["match_type"] = matchType
		data["existing_status"] = ref.Status
		data["existing_page_id"] = ref.PageID
		break
	}
	return promptResult("Suppression check complete", data)
}

func (s *Server) handlePushToNotionPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	id := strings.TrimSpace(request.Params.Arguments["discovery_id"])
	if id == "" {
		return nil, fmt.Errorf("discovery_id argument is required")
	}
	dryRun := parseBool(request.Params.Arguments["dry_run"], true)

	key := id
	if !strings.Contains(id, ":") {
		key = canonical.FromDiscoveryID(id)
		if key == "" {
			return nil, fmt.Errorf("discovery id %q does not map to a canonical key", id)
		}
	}
	if s.deps.Pusher == nil {
		return nil, fmt.Errorf("CRM push is not configured")
	}

	vr, entry, err := s.deps.Pusher.PushLead(ctx, key, dryRun)
	if err != nil {
		return nil, fmt.Errorf("push lead: %w", err)
	}

	wouldPush := vr.Decision == model.DecisionAutoPush || vr.Decision == model.DecisionNeedsReview
	data := map[string]any{
		"discovery_id":     canonical.DiscoveryID(key),
		"canonical_key":    key,
		"decision":         vr.Decision,
		"confidence_score": vr.ConfidenceScore,
		"reason":           vr.Reason,
		"dry_run":          dryRun,
		"queued":           entry != nil,
	}

	var message string
	switch {
	case dryRun && wouldPush:
		message = "Dry run - the gate would push this prospect"
	case dryRun:
		message = "Dry run - the gate would not push this prospect"
	case entry != nil:
		data["outbox_entry_id"] = entry.ID
		message = "Prospect queued for CRM delivery"
	default:
		message = "Verification gate declined the push"
	}
	return promptResult(message, data)
}

func (s *Server) handleSyncSuppressionPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	if s.deps.Syncer == nil {
		return nil, fmt.Errorf("CRM is not configured")
	}

	s.logger.Info("suppression sync requested over mcp")
	stats, err := s.deps.Syncer.Sync(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("suppression sync: %w", err)
	}
	return promptResult("Suppression cache synced", stats)
}

func (s *Server) handleValidateSchemaPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	if s.deps.CRM == nil {
		return nil, fmt.Errorf("CRM is not configured")
	}
	force := parseBool(request.Params.Arguments["force_refresh"], false)

	report, err := s.deps.CRM.ValidateSchema(ctx, force)
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}
	if report.Valid {
		return promptResult("Schema validation PASSED", report)
	}
	return promptResult("Schema validation FAILED: "+report.Summary(), report)
}

// promptResult packages an operation outcome as a user message with the
// data embedded as a JSON block.
func promptResult(message string, data any) (*mcplib.GetPromptResult, error) {
	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &mcplib.GetPromptResult{
		Description: message,
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: message + "\n\n```json\n" + string(body) + "\n```",
				},
			},
		},
	}, nil
}

// parseBool reads the truthy strings prompt arguments arrive as. Empty
// takes the default.
func parseBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	}
	return false
}
