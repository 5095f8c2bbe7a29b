// Package notion pushes qualified leads into the Notion CRM and mirrors CRM
// state back into the pipeline.
//
// The CRM is the analysts' workspace. The pipeline writes only the fields it
// owns (Discovery ID, Canonical Key, Confidence Score, Signal Types, Why Now,
// taxonomy triage) and never moves a deal's status or renames a company once
// analysts have taken over. All HTTP access goes through Transport, which
// paces requests against the shared "notion" budget, retries transient
// failures and honors Retry-After on 429s.
package notion

import "strings"

// page is a Notion page object trimmed to the fields the client reads.
type page struct {
	ID         string              `json:"id"`
	Properties map[string]property `json:"properties"`
}

// property is one page property value. Only the variant matching the
// property's type is populated; the same shape serves reads and writes.
type property struct {
	Type        string        `json:"type,omitempty"`
	Title       []richText    `json:"title,omitempty"`
	RichText    []richText    `json:"rich_text,omitempty"`
	Select      *selectValue  `json:"select,omitempty"`
	MultiSelect []selectValue `json:"multi_select,omitempty"`
	Number      *float64      `json:"number,omitempty"`
	URL         *string       `json:"url,omitempty"`
}

type richText struct {
	PlainText string       `json:"plain_text,omitempty"`
	Text      *textContent `json:"text,omitempty"`
}

type textContent struct {
	Content string `json:"content"`
}

type selectValue struct {
	Name string `json:"name"`
}

// text joins every rich text segment. Notion fills plain_text on reads;
// text.content is the fallback for payloads we built ourselves.
func (p property) text() string {
	return joinSegments(p.RichText)
}

// title joins the title segments.
func (p property) title() string {
	return joinSegments(p.Title)
}

func (p property) selectName() string {
	if p.Select == nil {
		return ""
	}
	return p.Select.Name
}

func (p property) url() string {
	if p.URL == nil {
		return ""
	}
	return *p.URL
}

func (p property) number() float64 {
	if p.Number == nil {
		return 0
	}
	return *p.Number
}

func joinSegments(segments []richText) string {
	var b strings.Builder
	for _, seg := range segments {
		if seg.PlainText != "" {
			b.WriteString(seg.PlainText)
			continue
		}
		if seg.Text != nil {
			b.WriteString(seg.Text.Content)
		}
	}
	return strings.TrimSpace(b.String())
}

func titleOf(s string) property {
	return property{Title: []richText{{Text: &textContent{Content: s}}}}
}

func richTextOf(s string) property {
	return property{RichText: []richText{{Text: &textContent{Content: s}}}}
}

func selectOf(name string) property {
	return property{Select: &selectValue{Name: name}}
}

func multiSelectOf(names []string) property {
	values := make([]selectValue, 0, len(names))
	for _, n := range names {
		values = append(values, selectValue{Name: n})
	}
	return property{MultiSelect: values}
}

func numberOf(v float64) property {
	return property{Number: &v}
}

func urlOf(s string) property {
	return property{URL: &s}
}

// database is a Notion database object: its schema, keyed by property name.
type database struct {
	ID         string                    `json:"id"`
	Properties map[string]propertyConfig `json:"properties"`
}

// propertyConfig describes one database property. It doubles as the payload
// shape for creating properties during schema repair.
type propertyConfig struct {
	Type        string        `json:"type,omitempty"`
	RichText    *struct{}     `json:"rich_text,omitempty"`
	Number      *struct{}     `json:"number,omitempty"`
	URL         *struct{}     `json:"url,omitempty"`
	Select      *selectConfig `json:"select,omitempty"`
	MultiSelect *selectConfig `json:"multi_select,omitempty"`
}

type selectConfig struct {
	Options []selectValue `json:"options"`
}

// optionNames returns the option set of a select or multi_select property.
func (pc propertyConfig) optionNames() map[string]bool {
	var options []selectValue
	switch {
	case pc.Select != nil:
		options = pc.Select.Options
	case pc.MultiSelect != nil:
		options = pc.MultiSelect.Options
	}
	names := make(map[string]bool, len(options))
	for _, o := range options {
		if o.Name != "" {
			names[o.Name] = true
		}
	}
	return names
}

type queryRequest struct {
	Filter      *filter `json:"filter,omitempty"`
	PageSize    int     `json:"page_size,omitempty"`
	StartCursor string  `json:"start_cursor,omitempty"`
}

// filter is the subset of Notion's query filter grammar the client uses:
// property conditions plus and/or compounds.
type filter struct {
	Or       []filter      `json:"or,omitempty"`
	And      []filter      `json:"and,omitempty"`
	Property string        `json:"property,omitempty"`
	RichText *textFilter   `json:"rich_text,omitempty"`
	URL      *textFilter   `json:"url,omitempty"`
	Select   *selectFilter `json:"select,omitempty"`
}

type textFilter struct {
	Equals   string `json:"equals,omitempty"`
	Contains string `json:"contains,omitempty"`
}

type selectFilter struct {
	Equals string `json:"equals,omitempty"`
}

func propertyEquals(prop, value string) filter {
	return filter{Property: prop, RichText: &textFilter{Equals: value}}
}

func selectEquals(prop, value string) filter {
	return filter{Property: prop, Select: &selectFilter{Equals: value}}
}

type queryResponse struct {
	Results    []page  `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}

type createPageRequest struct {
	Parent     pageParent          `json:"parent"`
	Properties map[string]property `json:"properties"`
}

type pageParent struct {
	DatabaseID string `json:"database_id"`
}

type updatePageRequest struct {
	Properties map[string]property `json:"properties"`
}

type updateDatabaseRequest struct {
	Properties map[string]propertyConfig `json:"properties"`
}
