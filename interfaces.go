package hakken

import (
	"context"
)

// LLMBackend classifies description changes for the pivot gate.
// When provided via WithLLMBackend, replaces the auto-detected Gemini/noop
// backend. Uses plain strings (not internal reply types) so external
// consumers never import internal packages. App.New() wraps it in an
// adapter for internal use.
type LLMBackend interface {
	Classify(ctx context.Context, prompt string) (LLMReply, error)
}

// CRMConnector delivers prospects to a system of record.
// When provided via WithCRMConnector, replaces the built-in Notion client
// as the outbox delivery target. Push must be idempotent for the same
// DiscoveryID — the outbox retries on error and may deliver twice.
// Suppression sync and watchlists stay disabled with a custom connector;
// they are Notion-schema specific.
type CRMConnector interface {
	Push(ctx context.Context, p Prospect) (PushResult, error)
}

// SourceAdapter is an external signal source registered via
// WithSourceAdapter. It joins the built-in collectors: Discover runs it,
// rate limiting and dedup apply, and its signals flow through the same
// scoring path.
//
// Name is the registry key (lowercase, e.g. "crunchbase"); APIName is the
// rate-limit budget key, usually the same. Collect should return every
// currently observable signal — the engine dedups against prior runs.
type SourceAdapter interface {
	Name() string
	APIName() string
	Collect(ctx context.Context) ([]Signal, error)
}
