package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakken/internal/collect"
	"github.com/ashita-ai/hakken/internal/model"
	"github.com/ashita-ai/hakken/internal/notion"
)

// ---------- run-collector ----------

func TestRunCollectorPrompt(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t, nil)

	result, err := s.handleRunCollectorPrompt(ctx, promptRequest("run-collector", map[string]string{
		"collector": "github",
	}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, `Collector "github" completed`, result.Description)

	text := promptText(t, result)
	assert.Contains(t, text, "```json")
	assert.Contains(t, text, `"status": "dry_run"`, "dry run should be the default")
	assert.Contains(t, text, `"signals_collected": 2`)
	assert.Contains(t, text, `"signals_stored": 2`)
}

func TestRunCollectorPrompt_Live(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t, nil)

	// Collector names are case-insensitive.
	result, err := s.handleRunCollectorPrompt(ctx, promptRequest("run-collector", map[string]string{
		"collector": "GitHub",
		"dry_run":   "false",
	}))
	require.NoError(t, err)
	assert.Contains(t, promptText(t, result), `"status": "success"`)
}

func TestRunCollectorPrompt_MissingCollector(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t, nil)

	_, err := s.handleRunCollectorPrompt(ctx, promptRequest("run-collector", map[string]string{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collector argument is required")
}

func TestRunCollectorPrompt_Unknown(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t, nil)

	_, err := s.handleRunCollectorPrompt(ctx, promptRequest("run-collector", map[string]string{
		"collector": "producthunt",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown collector "producthunt"`)
	assert.Contains(t, err.Error(), "github", "the error should list the allowed collectors")
}

func TestRunCollectorPrompt_AllowList(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t, func(d *Deps) {
		d.Registry.Register("hackernews", func(env collect.Env) (collect.Adapter, error) {
			return stubAdapter{name: "hackernews"}, nil
		})
		d.Allowed = []string{"github"}
	})

	_, err := s.handleRunCollectorPrompt(ctx, promptRequest("run-collector", map[string]string{
		"collector": "hackernews",
	}))
	require.Error(t, err, "a registered collector outside the allow-list must be rejected")
	assert.Contains(t, err.Error(), "unknown collector")
}

func TestRunCollectorPrompt_CollectFailure(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t, func(d *Deps) {
		d.Registry.Register("github", func(env collect.Env) (collect.Adapter, error) {
			return stubAdapter{name: "github", err: errors.New("rate limited")}, nil
		})
	})

	result, err := s.handleRunCollectorPrompt(ctx, promptRequest("run-collector", map[string]string{
		"collector": "github",
	}))
	require.NoError(t, err, "a failed run is still a result, not a protocol error")
	assert.Equal(t, `Collector "github" failed`, result.Description)
	assert.Contains(t, promptText(t, result), "rate limited")
}

// ---------- check-suppression ----------

func TestCheckSuppressionPrompt_DomainHit(t *testing.T) {
	ctx := context.Background()
	s, fx := newTestServer(t, nil)
	fx.crm.index["canonical:domain:acme.ai"] = notion.PageRef{
		PageID:       "page-1",
		Status:       "Active",
		CanonicalKey: "domain:acme.ai",
	}

	result, err := s.handleCheckSuppressionPrompt(ctx, promptRequest("check-suppression", map[string]string{
		"domain": "https://www.acme.ai",
	}))
	require.NoError(t, err)
	assert.Equal(t, "Suppression check complete", result.Description)

	text := promptText(t, result)
	assert.Contains(t, text, `"is_suppressed": true`)
	assert.Contains(t, text, `"matched_on": "canonical:domain:acme.ai"`)
	assert.Contains(t, text, `"match_type": "canonical"`)
	assert.Contains(t, text, `"existing_status": "Active"`)
	assert.Contains(t, text, `"existing_page_id": "page-1"`)
}

func TestCheckSuppressionPrompt_WebsiteHit(t *testing.T) {
	ctx := context.Background()
	s, fx := newTestServer(t, nil)
	fx.crm.index["website:acme.ai"] = notion.PageRef{PageID: "page-2", Status: "Source"}

	result, err := s.handleCheckSuppressionPrompt(ctx, promptRequest("check-suppression", map[string]string{
		"domain": "acme.ai",
	}))
	require.NoError(t, err)

	text := promptText(t, result)
	assert.Contains(t, text, `"is_suppressed": true`)
	assert.Contains(t, text, `"match_type": "website"`)
}

func TestCheckSuppressionPrompt_CanonicalKey(t *testing.T) {
	ctx := context.Background()
	s, fx := newTestServer(t, nil)
	fx.crm.index["canonical:domain:acme.ai"] = notion.PageRef{PageID: "page-1", Status: "Active"}

	// Keys are matched case-insensitively.
	result, err := s.handleCheckSuppressionPrompt(ctx, promptRequest("check-suppression", map[string]string{
		"canonical_key": "Domain:Acme.AI",
	}))
	require.NoError(t, err)
	assert.Contains(t, promptText(t, result), `"is_suppressed": true`)
}

func TestCheckSuppressionPrompt_CompanyName(t *testing.T) {
	ctx := context.Background()
	s, fx := newTestServer(t, nil)
	fx.crm.index["canonical:name_loc:stealth-co"] = notion.PageRef{PageID: "page-3", Status: "Tracking"}

	result, err := s.handleCheckSuppressionPrompt(ctx, promptRequest("check-suppression", map[string]string{
		"company_name": "Stealth Co",
	}))
	require.NoError(t, err)
	assert.Contains(t, promptText(t, result), `"is_suppressed": true`)
}

func TestCheckSuppressionPrompt_Miss(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t, nil)

	result, err := s.handleCheckSuppressionPrompt(ctx, promptRequest("check-suppression", map[string]string{
		"domain": "unknown.io",
	}))
	require.NoError(t, err)

	text := promptText(t, result)
	assert.Contains(t, text, `"is_suppressed": false`)
	assert.NotContains(t, text, "matched_on")
}

func TestCheckSuppressionPrompt_NoArgs(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t, nil)

	_, err := s.handleCheckSuppressionPrompt(ctx, promptRequest("check-suppression", map[string]string{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one of")
}

func TestCheckSuppressionPrompt_NoCRM(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t, func(d *Deps) {
		d.CRM = nil
	})

	_, err := s.handleCheckSuppressionPrompt(ctx, promptRequest("check-suppression", map[string]string{
		"domain": "acme.ai",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRM is not configured")
}

func TestCheckSuppressionPrompt_IndexError(t *testing.T) {
	ctx := context.Background()
	s, fx := newTestServer(t, nil)
	fx.crm.indexErr = errors.New("notion unreachable")

	_, err := s.handleCheckSuppressionPrompt(ctx, promptRequest("check-suppression", map[string]string{
		"domain": "acme.ai",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suppression check")
}

// ---------- push-to-notion ----------

func TestPushToNotionPrompt_DryRun(t *testing.T) {
	ctx := context.Background()
	s, fx := newTestServer(t, nil)
	fx.pusher.vr = model.VerificationResult{
		CanonicalKey:    "domain:acme.ai",
		Decision:        model.DecisionAutoPush,
		ConfidenceScore: 0.82,
	}

	result, err := s.handlePushToNotionPrompt(ctx, promptRequest("push-to-notion", map[string]string{
		"discovery_id": "disc_domain_acme.ai",
	}))
	require.NoError(t, err)
	assert.Equal(t, "Dry run - the gate would push this prospect", result.Description)

	require.Len(t, fx.pusher.calls, 1)
	assert.Equal(t, "domain:acme.ai", fx.pusher.calls[0].key)
	assert.True(t, fx.pusher.calls[0].dryRun, "dry run should be the default")

	text := promptText(t, result)
	assert.Contains(t, text, `"queued": false`)
	assert.Contains(t, text, `"discovery_id": "disc_domain_acme.ai"`)
	assert.Contains(t, text, `"decision": "auto_push"`)
}

func TestPushToNotionPrompt_DryRunDeclined(t *testing.T) {
	ctx := context.Background()
	s, fx := newTestServer(t, nil)
	fx.pusher.vr = model.VerificationResult{
		CanonicalKey: "domain:acme.ai",
		Decision:     model.DecisionHold,
		Reason:       "only one source",
	}

	result, err := s.handlePushToNotionPrompt(ctx, promptRequest("push-to-notion", map[string]string{
		"discovery_id": "disc_domain_acme.ai",
	}))
	require.NoError(t, err)
	assert.Equal(t, "Dry run - the gate would not push this prospect", result.Description)
}

func TestPushToNotionPrompt_Live(t *testing.T) {
	ctx := context.Background()
	s, fx := newTestServer(t, nil)
	entryID := uuid.New()
	fx.pusher.vr = model.VerificationResult{
		CanonicalKey: "domain:acme.ai",
		Decision:     model.DecisionAutoPush,
	}
	fx.pusher.entry = &model.OutboxEntry{ID: entryID, CanonicalKey: "domain:acme.ai"}

	result, err := s.handlePushToNotionPrompt(ctx, promptRequest("push-to-notion", map[string]string{
		"discovery_id": "disc_domain_acme.ai",
		"dry_run":      "false",
	}))
	require.NoError(t, err)
	assert.Equal(t, "Prospect queued for CRM delivery", result.Description)

	require.Len(t, fx.pusher.calls, 1)
	assert.False(t, fx.pusher.calls[0].dryRun)

	text := promptText(t, result)
	assert.Contains(t, text, `"queued": true`)
	assert.Contains(t, text, entryID.String())
}

func TestPushToNotionPrompt_LiveDeclined(t *testing.T) {
	ctx := context.Background()
	s, fx := newTestServer(t, nil)
	fx.pusher.vr = model.VerificationResult{
		CanonicalKey: "domain:acme.ai",
		Decision:     model.DecisionHold,
	}

	result, err := s.handlePushToNotionPrompt(ctx, promptRequest("push-to-notion", map[string]string{
		"discovery_id": "disc_domain_acme.ai",
		"dry_run":      "false",
	}))
	require.NoError(t, err)
	assert.Equal(t, "Verification gate declined the push", result.Description)
	assert.Contains(t, promptText(t, result), `"queued": false`)
}

func TestPushToNotionPrompt_CanonicalKey(t *testing.T) {
	ctx := context.Background()
	s, fx := newTestServer(t, nil)
	fx.pusher.vr = model.VerificationResult{Decision: model.DecisionNeedsReview}

	_, err := s.handlePushToNotionPrompt(ctx, promptRequest("push-to-notion", map[string]string{
		"discovery_id": "domain:acme.ai",
	}))
	require.NoError(t, err, "a raw canonical key should be accepted as-is")
	require.Len(t, fx.pusher.calls, 1)
	assert.Equal(t, "domain:acme.ai", fx.pusher.calls[0].key)
}

func TestPushToNotionPrompt_BadID(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t, nil)

	_, err := s.handlePushToNotionPrompt(ctx, promptRequest("push-to-notion", map[string]string{
		"discovery_id": "disc_bogus",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not map to a canonical key")
}

func TestPushToNotionPrompt_MissingID(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t, nil)

	_, err := s.handlePushToNotionPrompt(ctx, promptRequest("push-to-notion", map[string]string{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery_id argument is required")
}

func TestPushToNotionPrompt_PushError(t *testing.T) {
	ctx := context.Background()
	s, fx := newTestServer(t, nil)
	fx.pusher.err = errors.New(`no signals recorded for "domain:acme.ai"`)

	_, err := s.handlePushToNotionPrompt(ctx, promptRequest("push-to-notion", map[string]string{
		"discovery_id": "disc_domain_acme.ai",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push lead")
}

// ---------- sync-suppression-cache ----------

func TestSyncSuppressionPrompt(t *testing.T) {
	ctx := context.Background()
	s, fx := newTestServer(t, nil)
	fx.syncer.stats = notion.SyncStats{
		PagesFetched: 3,
		Processed:    120,
		Synced:       118,
	}

	result, err := s.handleSyncSuppressionPrompt(ctx, promptRequest("sync-suppression-cache", nil))
	require.NoError(t, err)
	assert.Equal(t, "Suppression cache synced", result.Description)
	assert.Contains(t, promptText(t, result), `"entries_synced": 118`)
	assert.Equal(t, []bool{false}, fx.syncer.dryRuns, "the prompt always syncs for real")
}

func TestSyncSuppressionPrompt_NoSyncer(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t, func(d *Deps) {
		d.Syncer = nil
	})

	_, err := s.handleSyncSuppressionPrompt(ctx, promptRequest("sync-suppression-cache", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRM is not configured")
}

func TestSyncSuppressionPrompt_SyncError(t *testing.T) {
	ctx := context.Background()
	s, fx := newTestServer(t, nil)
	fx.syncer.err = errors.New("notion unreachable")

	_, err := s.handleSyncSuppressionPrompt(ctx, promptRequest("sync-suppression-cache", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suppression sync")
}

// ---------- validate-notion-schema ----------

func TestValidateSchemaPrompt_Valid(t *testing.T) {
	ctx := context.Background()
	s, fx := newTestServer(t, nil)
	fx.crm.report = notion.SchemaReport{Valid: true}

	result, err := s.handleValidateSchemaPrompt(ctx, promptRequest("validate-notion-schema", nil))
	require.NoError(t, err)
	assert.Equal(t, "Schema validation PASSED", result.Description)
	assert.Equal(t, []bool{false}, fx.crm.schemaForced, "the cache should be used by default")
}

func TestValidateSchemaPrompt_Invalid(t *testing.T) {
	ctx := context.Background()
	s, fx := newTestServer(t, nil)
	fx.crm.report = notion.SchemaReport{
		Valid:             false,
		MissingProperties: []string{"Discovery ID"},
	}

	result, err := s.handleValidateSchemaPrompt(ctx, promptRequest("validate-notion-schema", nil))
	require.NoError(t, err)
	assert.Contains(t, result.Description, "Schema validation FAILED")
	assert.Contains(t, result.Description, `missing required property "Discovery ID"`)
}

func TestValidateSchemaPrompt_ForceRefresh(t *testing.T) {
	ctx := context.Background()
	s, fx := newTestServer(t, nil)
	fx.crm.report = notion.SchemaReport{Valid: true}

	_, err := s.handleValidateSchemaPrompt(ctx, promptRequest("validate-notion-schema", map[string]string{
		"force_refresh": "true",
	}))
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, fx.crm.schemaForced)
}

func TestValidateSchemaPrompt_NoCRM(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t, func(d *Deps) {
		d.CRM = nil
	})

	_, err := s.handleValidateSchemaPrompt(ctx, promptRequest("validate-notion-schema", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRM is not configured")
}

func TestParseBool(t *testing.T) {
	assert.True(t, parseBool("true", false))
	assert.True(t, parseBool("1", false))
	assert.True(t, parseBool("YES", false))
	assert.False(t, parseBool("no", true))
	assert.False(t, parseBool("false", true))
	assert.True(t, parseBool("", true), "empty should fall back to the default")
	assert.False(t, parseBool("", false))
}
