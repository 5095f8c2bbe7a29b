package notion

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/ashita-ai/hakken/internal/model"
)

// requiredProperties are the schema entries the pipeline cannot run
// without, mapped to their expected Notion type.
var requiredProperties = map[string]string{
	propCompanyName:  "title",
	propStatus:       "select",
	propStage:        "select",
	propDiscoveryID:  "rich_text",
	propCanonicalKey: "rich_text",
	propConfidence:   "number",
}

// optionalProperties are written when present but tolerated when missing.
var optionalProperties = map[string]string{
	propWebsite:        "url",
	propSignalTypes:    "multi_select",
	propWhyNow:         "rich_text",
	propSector:         "select",
	propProposedSector: "rich_text",
	propTaxonomyStatus: "select",
	propWatchlists:     "multi_select",
}

// expectedStatuses and expectedStages are the select options the pipeline
// writes; validation flags any the CRM has dropped.
var expectedStatuses = []string{
	model.StatusSource,
	model.StatusInitialMeeting,
	model.StatusDiligence,
	model.StatusTracking,
	model.StatusCommitted,
	model.StatusFunded,
	model.StatusPassed,
	model.StatusLost,
}

var expectedStages = []string{
	model.StagePreSeed,
	model.StageSeed,
	model.StageSeedPlus,
	model.StageSeriesA,
	model.StageSeriesB,
	model.StageSeriesC,
	model.StageSeriesD,
}

// SchemaReport is the outcome of validating the deal database schema
// against what the connector writes.
type SchemaReport struct {
	Valid                bool              `json:"valid"`
	MissingProperties    []string          `json:"missing_properties,omitempty"`
	MissingOptional      []string          `json:"missing_optional_properties,omitempty"`
	MissingStatusOptions []string          `json:"missing_status_options,omitempty"`
	MissingStageOptions  []string          `json:"missing_stage_options,omitempty"`
	WrongTypes           map[string]string `json:"wrong_property_types,omitempty"`
}

// Summary renders every problem on one comma-separated line. Empty when the
// schema is valid.
func (r SchemaReport) Summary() string {
	var problems []string
	for _, p := range r.MissingProperties {
		problems = append(problems, fmt.Sprintf("missing required property %q (%s)", p, propertyTypeFor(p)))
	}
	for _, p := range slices.Sorted(maps.Keys(r.WrongTypes)) {
		problems = append(problems, fmt.Sprintf("property %q has the wrong type, want %s", p, r.WrongTypes[p]))
	}
	for _, o := range r.MissingStatusOptions {
		problems = append(problems, fmt.Sprintf("Status select missing option %q", o))
	}
	for _, o := range r.MissingStageOptions {
		problems = append(problems, fmt.Sprintf("Investment Stage select missing option %q", o))
	}
	for _, p := range r.MissingOptional {
		problems = append(problems, fmt.Sprintf("missing optional property %q", p))
	}
	return strings.Join(problems, ", ")
}

// ValidateSchema checks that every property the connector writes exists
// with the right type and that the Status and Investment Stage selects
// still carry the options the pipeline sets.
func (c *Client) ValidateSchema(ctx context.Context, force bool) (SchemaReport, error) {
	db, err := c.databaseSchema(ctx, force)
	if err != nil {
		return SchemaReport{}, err
	}

	report := SchemaReport{WrongTypes: map[string]string{}}
	for name, want := range requiredProperties {
		pc, ok := db.Properties[name]
		if !ok {
			report.MissingProperties = append(report.MissingProperties, name)
			continue
		}
		if pc.Type != want {
			report.WrongTypes[name] = want
		}
	}
	for name, want := range optionalProperties {
		pc, ok := db.Properties[name]
		if !ok {
			report.MissingOptional = append(report.MissingOptional, name)
			continue
		}
		if pc.Type != want {
			report.WrongTypes[name] = want
		}
	}
	slices.Sort(report.MissingProperties)
	slices.Sort(report.MissingOptional)

	// Option checks only apply when the select exists and has options at
	// all; a missing property is already reported above.
	if opts := db.Properties[propStatus].optionNames(); len(opts) > 0 {
		report.MissingStatusOptions = missingOptions(expectedStatuses, opts)
	}
	if opts := db.Properties[propStage].optionNames(); len(opts) > 0 {
		report.MissingStageOptions = missingOptions(expectedStages, opts)
	}

	report.Valid = len(report.MissingProperties) == 0 &&
		len(report.WrongTypes) == 0 &&
		len(report.MissingStatusOptions) == 0 &&
		len(report.MissingStageOptions) == 0

	if !report.Valid {
		c.logger.Error("schema validation failed", "problems", report.Summary())
	} else if len(report.MissingOptional) > 0 {
		c.logger.Warn("schema valid, optional properties missing", "properties", report.MissingOptional)
	}
	return report, nil
}

// EnsureSchema runs validation as a preflight. With strict set, a drifted
// schema is an error; otherwise it is only logged so reads can proceed.
func (c *Client) EnsureSchema(ctx context.Context, strict bool) error {
	report, err := c.ValidateSchema(ctx, false)
	if err != nil {
		return err
	}
	if report.Valid || !strict {
		return nil
	}
	return fmt.Errorf("notion: schema preflight failed: %s", report.Summary())
}

// Repair operation kinds.
const (
	RepairCreateProperty  = "create_property"
	RepairAddSelectOption = "add_select_option"
)

// RepairOp is one schema fix: creating a property or adding a select option.
type RepairOp struct {
	Kind     string `json:"kind"`
	Property string `json:"property"`
	PropType string `json:"property_type,omitempty"`
	Option   string `json:"option,omitempty"`
}

// RepairPlan lists the operations needed to bring the schema back in line,
// plus anything that can only be fixed by hand.
type RepairPlan struct {
	Operations    []RepairOp `json:"operations"`
	CannotAutoFix []string   `json:"cannot_auto_fix,omitempty"`
}

// RepairSchema plans and, unless dryRun is set, executes schema repairs:
// missing properties are created and missing select options added. Wrong
// property types cannot be fixed without data loss, so they abort with an
// error before anything is changed.
func (c *Client) RepairSchema(ctx context.Context, dryRun bool) (RepairPlan, error) {
	report, err := c.ValidateSchema(ctx, true)
	if err != nil {
		return RepairPlan{}, err
	}

	var plan RepairPlan
	for _, name := range slices.Sorted(maps.Keys(report.WrongTypes)) {
		plan.CannotAutoFix = append(plan.CannotAutoFix, fmt.Sprintf(
			"property %q has the wrong type, want %s; delete it and recreate it by hand",
			name, report.WrongTypes[name]))
	}
	if len(plan.CannotAutoFix) > 0 {
		return plan, fmt.Errorf("notion: schema has unfixable issues: %s", strings.Join(plan.CannotAutoFix, "; "))
	}

	for _, name := range report.MissingProperties {
		plan.Operations = append(plan.Operations, RepairOp{
			Kind:     RepairCreateProperty,
			Property: name,
			PropType: propertyTypeFor(name),
		})
	}
	for _, name := range report.MissingOptional {
		plan.Operations = append(plan.Operations, RepairOp{
			Kind:     RepairCreateProperty,
			Property: name,
			PropType: propertyTypeFor(name),
		})
	}
	for _, option := range report.MissingStatusOptions {
		plan.Operations = append(plan.Operations, RepairOp{
			Kind:     RepairAddSelectOption,
			Property: propStatus,
			PropType: "select",
			Option:   option,
		})
	}
	for _, option := range report.MissingStageOptions {
		plan.Operations = append(plan.Operations, RepairOp{
			Kind:     RepairAddSelectOption,
			Property: propStage,
			PropType: "select",
			Option:   option,
		})
	}

	if dryRun || len(plan.Operations) == 0 {
		return plan, nil
	}

	for _, op := range plan.Operations {
		if err := c.executeRepair(ctx, op); err != nil {
			return plan, err
		}
	}
	c.schema.Delete(schemaCacheKey)
	c.logger.Info("schema repair completed", "operations", len(plan.Operations))
	return plan, nil
}

func (c *Client) executeRepair(ctx context.Context, op RepairOp) error {
	switch op.Kind {
	case RepairCreateProperty:
		return c.createProperty(ctx, op.Property, op.PropType)
	case RepairAddSelectOption:
		return c.addSelectOption(ctx, op.Property, op.Option)
	default:
		return fmt.Errorf("notion: unknown repair operation %q", op.Kind)
	}
}

func (c *Client) createProperty(ctx context.Context, name, propType string) error {
	config, err := propertyConfigOf(propType)
	if err != nil {
		return err
	}
	err = c.transport.Patch(ctx, "/databases/"+c.databaseID, updateDatabaseRequest{
		Properties: map[string]propertyConfig{name: config},
	}, nil)
	if err != nil {
		return err
	}
	c.logger.Info("schema property created", "property", name, "type", propType)
	return nil
}

// addSelectOption appends one option to a select property. Idempotent: an
// option that already exists is left alone.
func (c *Client) addSelectOption(ctx context.Context, name, option string) error {
	db, err := c.databaseSchema(ctx, true)
	if err != nil {
		return err
	}
	pc, ok := db.Properties[name]
	if !ok {
		return fmt.Errorf("notion: property %q does not exist", name)
	}
	if pc.Type != "select" || pc.Select == nil {
		return fmt.Errorf("notion: property %q is not a select", name)
	}
	if pc.optionNames()[option] {
		return nil
	}

	options := append(slices.Clone(pc.Select.Options), selectValue{Name: option})
	err = c.transport.Patch(ctx, "/databases/"+c.databaseID, updateDatabaseRequest{
		Properties: map[string]propertyConfig{name: {Select: &selectConfig{Options: options}}},
	}, nil)
	if err != nil {
		return err
	}
	c.logger.Info("schema option added", "property", name, "option", option)
	return nil
}

// propertyTypeFor looks up the expected Notion type for a property,
// defaulting to rich_text for anything unknown.
func propertyTypeFor(name string) string {
	if t, ok := requiredProperties[name]; ok {
		return t
	}
	if t, ok := optionalProperties[name]; ok {
		return t
	}
	return "rich_text"
}

// propertyConfigOf builds the creation payload for a property type. Title
// properties cannot be created after the fact, every database already has
// exactly one.
func propertyConfigOf(propType string) (propertyConfig, error) {
	switch propType {
	case "rich_text":
		return propertyConfig{Type: propType, RichText: &struct{}{}}, nil
	case "number":
		return propertyConfig{Type: propType, Number: &struct{}{}}, nil
	case "url":
		return propertyConfig{Type: propType, URL: &struct{}{}}, nil
	case "select":
		return propertyConfig{Type: propType, Select: &selectConfig{Options: []selectValue{}}}, nil
	case "multi_select":
		return propertyConfig{Type: propType, MultiSelect: &selectConfig{Options: []selectValue{}}}, nil
	default:
		return propertyConfig{}, fmt.Errorf("notion: cannot create a %q property", propType)
	}
}

func missingOptions(expected []string, have map[string]bool) []string {
	var missing []string
	for _, want := range expected {
		if !have[want] {
			missing = append(missing, want)
		}
	}
	slices.Sort(missing)
	return missing
}
