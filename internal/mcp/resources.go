package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const recentRunLimit = 10

func (s *Server) registerResources() {
	// hakken://runs/recent — the last pipeline runs with their stats.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"hakken://runs/recent",
			"Recent Pipeline Runs",
			mcplib.WithResourceDescription("The most recent pipeline runs with collection and routing stats"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentRuns,
	)

	// hakken://health/report — the current signal health scan.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"hakken://health/report",
			"Signal Health Report",
			mcplib.WithResourceDescription("Current signal health: volumes, freshness, anomalies per source"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleHealthReport,
	)
}

func (s *Server) handleRecentRuns(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	runs, err := s.deps.Store.GetPipelineRuns(ctx, recentRunLimit)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent runs: %w", err)
	}

	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal runs: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "hakken://runs/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleHealthReport(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Health == nil {
		return nil, fmt.Errorf("mcp: health monitor not configured")
	}

	report, err := s.deps.Health.Report(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: health report: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal health report: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "hakken://health/report",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
