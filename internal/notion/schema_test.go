package notion_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakken/internal/notion"
)

func optionNamesOf(cfg map[string]any) []string {
	sel, ok := cfg["select"].(map[string]any)
	if !ok {
		return nil
	}
	items, ok := sel["options"].([]any)
	if !ok {
		return nil
	}
	var names []string
	for _, item := range items {
		names = append(names, item.(map[string]any)["name"].(string))
	}
	return names
}

func TestValidateSchemaValid(t *testing.T) {
	f := newFakeCRM(t)
	c := f.client()

	report, err := c.ValidateSchema(context.Background(), false)
	require.NoError(t, err)

	assert.True(t, report.Valid)
	assert.Empty(t, report.MissingProperties)
	assert.Empty(t, report.MissingStatusOptions)
	assert.Empty(t, report.MissingStageOptions)
	assert.Empty(t, report.WrongTypes)
	assert.Empty(t, report.Summary())
}

func TestValidateSchemaReportsProblems(t *testing.T) {
	f := newFakeCRM(t)
	f.removeProperty("Discovery ID")
	f.removeSelectOption("Status", "Dilligence")
	f.setPropertyType("Website", "rich_text")
	c := f.client()

	report, err := c.ValidateSchema(context.Background(), false)
	require.NoError(t, err)

	assert.False(t, report.Valid)
	assert.Equal(t, []string{"Discovery ID"}, report.MissingProperties)
	assert.Equal(t, []string{"Dilligence"}, report.MissingStatusOptions)
	assert.Equal(t, map[string]string{"Website": "url"}, report.WrongTypes)

	summary := report.Summary()
	assert.Contains(t, summary, `missing required property "Discovery ID"`)
	assert.Contains(t, summary, `Status select missing option "Dilligence"`)
	assert.Contains(t, summary, `property "Website" has the wrong type, want url`)
}

func TestRepairSchemaPlansAndExecutes(t *testing.T) {
	f := newFakeCRM(t)
	f.removeProperty("Canonical Key")
	f.removeProperty("Why Now")
	f.removeSelectOption("Status", "Dilligence")
	c := f.client()

	plan, err := c.RepairSchema(context.Background(), false)
	require.NoError(t, err)

	require.Equal(t, []notion.RepairOp{
		{Kind: notion.RepairCreateProperty, Property: "Canonical Key", PropType: "rich_text"},
		{Kind: notion.RepairCreateProperty, Property: "Why Now", PropType: "rich_text"},
		{Kind: notion.RepairAddSelectOption, Property: "Status", PropType: "select", Option: "Dilligence"},
	}, plan.Operations)
	assert.Empty(t, plan.CannotAutoFix)

	require.Len(t, f.dbPatches, 3)
	assert.Equal(t, map[string]any{"type": "rich_text", "rich_text": map[string]any{}},
		f.dbPatches[0]["Canonical Key"])
	assert.Equal(t, map[string]any{"type": "rich_text", "rich_text": map[string]any{}},
		f.dbPatches[1]["Why Now"])

	// The option patch resends the full list with the restored option last.
	names := optionNamesOf(f.dbPatches[2]["Status"])
	assert.Equal(t, []string{
		"Source", "Initial Meeting / Call", "Tracking", "Committed",
		"Funded", "Passed", "Lost", "Dilligence",
	}, names)
}

func TestRepairSchemaDryRun(t *testing.T) {
	f := newFakeCRM(t)
	f.removeProperty("Why Now")
	f.removeSelectOption("Investment Stage", "Series D")
	c := f.client()

	plan, err := c.RepairSchema(context.Background(), true)
	require.NoError(t, err)

	assert.Len(t, plan.Operations, 2)
	assert.Empty(t, f.dbPatches, "dry run must not write")
}

func TestRepairSchemaNothingToDo(t *testing.T) {
	f := newFakeCRM(t)
	c := f.client()

	plan, err := c.RepairSchema(context.Background(), false)
	require.NoError(t, err)

	assert.Empty(t, plan.Operations)
	assert.Empty(t, f.dbPatches)
}

func TestRepairSchemaWrongTypeFails(t *testing.T) {
	f := newFakeCRM(t)
	f.setPropertyType("Confidence Score", "rich_text")
	c := f.client()

	plan, err := c.RepairSchema(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unfixable")
	require.Len(t, plan.CannotAutoFix, 1)
	assert.Contains(t, plan.CannotAutoFix[0], "Confidence Score")
	assert.Empty(t, f.dbPatches)
}
