// Package notify posts operator alerts to Slack through an incoming
// webhook. An unconfigured notifier swallows every call, so callers never
// guard on configuration; delivery is best effort and reported as a bool,
// never as an error.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashita-ai/hakken/internal/model"
)

// maxAlertIssues caps how many anomaly bullets a health alert carries.
const maxAlertIssues = 5

// Options tune the notifier. Zero values fall back to the defaults.
type Options struct {
	// Channel overrides the webhook's default channel.
	Channel   string
	Username  string
	IconEmoji string

	// HighConfidenceThreshold is the score a prospect must clear before
	// an alert fires.
	HighConfidenceThreshold float64

	// Per-alert toggles.
	ProspectAlerts bool
	HealthAlerts   bool
	DailySummaries bool

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
	Timeout    time.Duration
}

// DefaultOptions returns the production settings: every alert on, prospect
// alerts from 0.7 up.
func DefaultOptions() Options {
	return Options{
		Username:                "hakken",
		IconEmoji:               ":mag:",
		HighConfidenceThreshold: 0.7,
		ProspectAlerts:          true,
		HealthAlerts:            true,
		DailySummaries:          true,
		Timeout:                 30 * time.Second,
	}
}

// Summary is the day's pipeline roll-up for the end-of-day post.
type Summary struct {
	SignalsCollected int
	ProspectsPushed  int
	HighConfidence   int
	CollectorsOK     int
	CollectorsFailed int
	HealthStatus     string
}

// Notifier posts Block Kit messages to one Slack webhook. Safe for
// concurrent use.
type Notifier struct {
	webhookURL string
	opts       Options
	client     *http.Client
	logger     *slog.Logger
}

// New builds a notifier. An empty webhook URL yields a disabled notifier
// whose methods all report false.
func New(webhookURL string, opts Options, logger *slog.Logger) *Notifier {
	defaults := DefaultOptions()
	if opts.Username == "" {
		opts.Username = defaults.Username
	}
	if opts.IconEmoji == "" {
		opts.IconEmoji = defaults.IconEmoji
	}
	if opts.HighConfidenceThreshold <= 0 {
		opts.HighConfidenceThreshold = defaults.HighConfidenceThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		webhookURL: webhookURL,
		opts:       opts,
		client:     client,
		logger:     logger,
	}
}

// Configured reports whether a webhook URL is set.
func (n *Notifier) Configured() bool {
	return n.webhookURL != ""
}

// Prospect announces a high-confidence lead. Returns false when prospect
// alerts are off, the score is under the threshold, or delivery failed.
func (n *Notifier) Prospect(ctx context.Context, p model.ProspectPayload, sources int, pageURL string) bool {
	if !n.opts.ProspectAlerts {
		return false
	}
	if p.ConfidenceScore < n.opts.HighConfidenceThreshold {
		n.logger.Debug("prospect under alert threshold",
			"company", p.CompanyName, "confidence", p.ConfidenceScore)
		return false
	}

	pct := fmt.Sprintf("%.0f%%", p.ConfidenceScore*100)
	emoji := ":eyes:"
	switch {
	case p.ConfidenceScore >= 0.85:
		emoji = ":star2:"
	case p.ConfidenceScore >= 0.7:
		emoji = ":star:"
	}

	blocks := []block{
		headerBlock(emoji + " New High-Confidence Signal"),
		fieldsBlock(
			"*Company:*\n"+p.CompanyName,
			"*Confidence:*\n"+pct,
			"*Signals:*\n"+strings.Join(p.SignalTypes, ", "),
			fmt.Sprintf("*Sources:*\n%d", sources),
		),
	}
	if p.WhyNow != "" {
		blocks = append(blocks, sectionBlock("*Why Now:*\n"+p.WhyNow))
	}
	if pageURL != "" {
		blocks = append(blocks, block{
			Type: "actions",
			Elements: []any{button{
				Type:     "button",
				Text:     textObject{Type: "plain_text", Text: "View in Notion", Emoji: true},
				URL:      pageURL,
				ActionID: "view_notion",
			}},
		})
	}
	blocks = append(blocks, contextBlock(
		time.Now().UTC().Format("Detected at 2006-01-02 15:04 UTC")))

	return n.send(ctx, message{
		Text:   fmt.Sprintf("New high-confidence signal: %s (%s)", p.CompanyName, pct),
		Blocks: blocks,
	})
}

// HealthAlert announces a degraded or critical signal-health scan.
func (n *Notifier) HealthAlert(ctx context.Context, status string, anomalies []string, total, stale, suspicious int) bool {
	if !n.opts.HealthAlerts || status == "HEALTHY" {
		return false
	}

	emoji := ":warning:"
	if status == "CRITICAL" {
		emoji = ":rotating_light:"
	}

	blocks := []block{
		headerBlock(emoji + " Signal Health Alert: " + status),
		fieldsBlock(
			fmt.Sprintf("*Total Signals:*\n%d", total),
			fmt.Sprintf("*Stale Signals:*\n%d", stale),
			fmt.Sprintf("*Suspicious:*\n%d", suspicious),
			fmt.Sprintf("*Anomalies:*\n%d", len(anomalies)),
		),
	}
	if len(anomalies) > 0 {
		var b strings.Builder
		b.WriteString("*Detected Issues:*")
		for i, a := range anomalies {
			if i == maxAlertIssues {
				fmt.Fprintf(&b, "\n... and %d more", len(anomalies)-maxAlertIssues)
				break
			}
			b.WriteString("\n• " + a)
		}
		blocks = append(blocks, sectionBlock(b.String()))
	}
	blocks = append(blocks, contextBlock("Run `hakken health` for details"))

	return n.send(ctx, message{
		Text:   fmt.Sprintf("Signal health %s: %d anomalies detected", status, len(anomalies)),
		Blocks: blocks,
	})
}

// DailySummary posts the end-of-day pipeline roll-up.
func (n *Notifier) DailySummary(ctx context.Context, s Summary) bool {
	if !n.opts.DailySummaries {
		return false
	}

	emoji := ":warning:"
	switch {
	case s.HealthStatus == "HEALTHY" && s.CollectorsFailed == 0:
		emoji = ":white_check_mark:"
	case s.HealthStatus == "CRITICAL" || s.CollectorsFailed > 2:
		emoji = ":x:"
	}

	blocks := []block{
		headerBlock(emoji + " Daily Pipeline Summary"),
		fieldsBlock(
			fmt.Sprintf("*Signals Collected:*\n%d", s.SignalsCollected),
			fmt.Sprintf("*Prospects Pushed:*\n%d", s.ProspectsPushed),
			fmt.Sprintf("*High-Confidence:*\n%d", s.HighConfidence),
		),
		fieldsBlock(
			fmt.Sprintf("*Collectors OK:*\n%d", s.CollectorsOK),
			fmt.Sprintf("*Collectors Failed:*\n%d", s.CollectorsFailed),
			"*Health:*\n"+s.HealthStatus,
		),
		contextBlock(time.Now().UTC().Format("Pipeline completed at 2006-01-02 15:04 UTC")),
	}

	return n.send(ctx, message{
		Text: fmt.Sprintf("Daily summary: %d collected, %d pushed, %d high-confidence",
			s.SignalsCollected, s.ProspectsPushed, s.HighConfidence),
		Blocks: blocks,
	})
}

// Text posts a plain one-line message.
func (n *Notifier) Text(ctx context.Context, text string) bool {
	return n.send(ctx, message{Text: ":information_source: " + text})
}

func (n *Notifier) send(ctx context.Context, msg message) bool {
	if !n.Configured() {
		n.logger.Debug("slack webhook not configured, skipping notification")
		return false
	}
	msg.Channel = n.opts.Channel
	msg.Username = n.opts.Username
	msg.IconEmoji = n.opts.IconEmoji

	payload, err := json.Marshal(msg)
	if err != nil {
		n.logger.Error("slack message not marshalled", "error", err)
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		n.logger.Error("slack request not built", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Error("slack notification error", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		n.logger.Warn("slack notification failed", "status", resp.StatusCode)
		return false
	}
	return true
}

// Slack Block Kit envelope.
type message struct {
	Channel   string  `json:"channel,omitempty"`
	Username  string  `json:"username,omitempty"`
	IconEmoji string  `json:"icon_emoji,omitempty"`
	Text      string  `json:"text"`
	Blocks    []block `json:"blocks,omitempty"`
}

type block struct {
	Type     string       `json:"type"`
	Text     *textObject  `json:"text,omitempty"`
	Fields   []textObject `json:"fields,omitempty"`
	Elements []any        `json:"elements,omitempty"`
}

type textObject struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type button struct {
	Type     string     `json:"type"`
	Text     textObject `json:"text"`
	URL      string     `json:"url"`
	ActionID string     `json:"action_id,omitempty"`
}

func headerBlock(text string) block {
	return block{Type: "header", Text: &textObject{Type: "plain_text", Text: text, Emoji: true}}
}

func sectionBlock(text string) block {
	return block{Type: "section", Text: &textObject{Type: "mrkdwn", Text: text}}
}

func fieldsBlock(fields ...string) block {
	objs := make([]textObject, 0, len(fields))
	for _, f := range fields {
		objs = append(objs, textObject{Type: "mrkdwn", Text: f})
	}
	return block{Type: "section", Fields: objs}
}

func contextBlock(text string) block {
	return block{Type: "context", Elements: []any{textObject{Type: "mrkdwn", Text: text}}}
}
