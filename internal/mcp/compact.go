package mcp

import (
	"fmt"
	"time"

	"github.com/ashita-ai/hakken/internal/model"
)

const (
	maxCompactText = 200
	staleNoteDays  = 30
)

// compactSignal returns a minimal representation of a signal for MCP
// responses. Drops bulk and bookkeeping (raw payload, response hashes,
// seen timestamps) that agents don't act on; keeps identity, evidence and
// processing state.
func compactSignal(s model.Signal) map[string]any {
	m := map[string]any{
		"id":            s.ID,
		"signal_type":   s.SignalType,
		"source_api":    s.SourceAPI,
		"confidence":    s.Confidence,
		"canonical_key": s.CanonicalKey,
		"detected_at":   s.DetectedAt,
	}
	if s.CompanyName != nil && *s.CompanyName != "" {
		m["company_name"] = *s.CompanyName
	}
	if s.SourceURL != "" {
		m["source_url"] = s.SourceURL
	}
	if s.Status != "" {
		m["status"] = s.Status
	}
	if s.ErrorMessage != nil && *s.ErrorMessage != "" {
		m["error"] = truncate(*s.ErrorMessage, maxCompactText)
	}
	if why, ok := s.RawData[model.RawKeyWhyNow].(string); ok && why != "" {
		m["why_now"] = truncate(why, maxCompactText)
	}
	if desc, ok := s.RawData["description"].(string); ok && desc != "" {
		m["description"] = truncate(desc, maxCompactText)
	}

	if note := signalContextNote(s); note != "" {
		m["context_note"] = note
	}
	return m
}

// signalContextNote produces a human-readable caveat for a signal. Rules
// run in priority order; first match wins. Returns "" when nothing stands
// out.
func signalContextNote(s model.Signal) string {
	switch s.Status {
	case model.ProcessingRejected:
		return "rejected by the verification gate"
	case model.ProcessingPushed:
		return "already delivered to the CRM"
	}
	if age := int(time.Since(s.DetectedAt).Hours() / 24); age > staleNoteDays {
		return fmt.Sprintf("stale: detected %d days ago", age)
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
