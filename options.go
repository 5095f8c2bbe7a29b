package hakken

import (
	"io/fs"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	databaseURL     string
	logger          *slog.Logger
	version         string
	llmBackend      LLMBackend
	crmConnector    CRMConnector
	sourceAdapters  []SourceAdapter
	extraMigrations []fs.FS
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and MCP metadata.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithLLMBackend replaces the auto-detected classifier backend (Gemini/noop).
// Only the last call wins. The classification cache still applies — the
// backend is only consulted on cache misses.
func WithLLMBackend(b LLMBackend) Option {
	return func(o *resolvedOptions) { o.llmBackend = b }
}

// WithCRMConnector replaces the built-in Notion client as the outbox
// delivery target. Only the last call wins. Suppression sync and
// watchlists are disabled with a custom connector.
func WithCRMConnector(c CRMConnector) Option {
	return func(o *resolvedOptions) { o.crmConnector = c }
}

// WithSourceAdapter registers an external signal source alongside the
// built-in collectors. May be given multiple times; a name collision with
// a built-in collector replaces the built-in.
func WithSourceAdapter(sa SourceAdapter) Option {
	return func(o *resolvedOptions) { o.sourceAdapters = append(o.sourceAdapters, sa) }
}

// WithExtraMigrations adds an additional SQL migration filesystem to run
// after the embedded migrations. Multiple filesystems may be registered;
// they are applied in registration order. Files run lexicographically, so
// keep the embedded numbering scheme.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
