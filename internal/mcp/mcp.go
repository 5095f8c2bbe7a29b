// Package mcp exposes the discovery engine over the Model Context
// Protocol.
//
// Prompts are operator slash commands: run a collector, probe the
// suppression list, push a prospect, refresh the suppression cache,
// validate the CRM schema. Tools give agents structured access to a
// lead's evidence, its routing decision, and the canonical key builder.
// Resources surface recent pipeline runs and the latest health report.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/hakken/internal/collect"
	"github.com/ashita-ai/hakken/internal/model"
	"github.com/ashita-ai/hakken/internal/notion"
	"github.com/ashita-ai/hakken/internal/pipeline"
)

// Store is the slice of storage the MCP surface reads.
type Store interface {
	GetSignalsForCompany(ctx context.Context, canonicalKey string) ([]model.Signal, error)
	GetPipelineRuns(ctx context.Context, limit int) ([]model.PipelineRun, error)
}

// Pusher evaluates a lead and optionally queues it for CRM delivery.
// *pipeline.Pipeline satisfies it.
type Pusher interface {
	PushLead(ctx context.Context, canonicalKey string, dryRun bool) (model.VerificationResult, *model.OutboxEntry, error)
}

// Runner executes one collector adapter.
type Runner interface {
	Run(ctx context.Context, a collect.Adapter, opts collect.RunOptions) model.CollectorResult
}

// CRM is the slice of the Notion client the MCP prompts touch.
type CRM interface {
	SuppressionIndex(ctx context.Context, force bool) (map[string]notion.PageRef, error)
	ValidateSchema(ctx context.Context, force bool) (notion.SchemaReport, error)
}

// Syncer refreshes the local suppression cache from the CRM.
type Syncer interface {
	Sync(ctx context.Context, dryRun bool) (notion.SyncStats, error)
}

// HealthReporter scans stored signals for quality problems.
// *pipeline.Monitor satisfies it.
type HealthReporter interface {
	Report(ctx context.Context, lookback time.Duration) (pipeline.HealthReport, error)
}

// Deps wires the MCP server into the rest of the engine.
type Deps struct {
	// Required dependencies.
	Store    Store
	Pusher   Pusher
	Registry *collect.Registry
	Runner   Runner
	Env      collect.Env

	// Optional dependencies. A nil CRM or Syncer makes the CRM prompts
	// report that the CRM is not configured; a nil Health disables the
	// health resource.
	CRM    CRM
	Syncer Syncer
	Health HealthReporter

	// Allowed restricts which collectors run-collector may start.
	// Empty means every registered collector.
	Allowed []string

	Version string
	Logger  *slog.Logger
}

// Server wraps the MCP server with the discovery engine's services.
type Server struct {
	mcpServer *mcpserver.MCPServer
	deps      Deps
	allowed   []string // sorted allow-list for run-collector
	allowSet  map[string]bool
	logger    *slog.Logger
}

// New creates and configures an MCP server with all prompts, tools and
// resources registered.
func New(d Deps) *Server {
	allowed := slices.Clone(d.Allowed)
	if len(allowed) == 0 && d.Registry != nil {
		allowed = d.Registry.Names()
	}
	slices.Sort(allowed)

	version := d.Version
	if version == "" {
		version = "dev"
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		deps:     d,
		allowed:  allowed,
		allowSet: make(map[string]bool, len(allowed)),
		logger:   logger,
	}
	for _, name := range allowed {
		s.allowSet[name] = true
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"hakken",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithResourceCapabilities(false, true),
	)

	s.registerPrompts()
	s.registerTools()
	s.registerResources()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio serves the protocol over stdin/stdout until ctx is cancelled
// or the client disconnects. Nothing else may write to stdout while the
// server runs.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("mcp server listening on stdio", "collectors", s.allowed)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp: stdio server: %w", err)
	}
	return nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
