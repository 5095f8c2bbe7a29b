// Package llm abstracts the language-model backend behind the change
// classifier.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by backends that cannot serve requests, e.g.
// when no API key is configured. Callers degrade to a needs-review verdict
// rather than failing the pipeline.
var ErrUnavailable = errors.New("llm: backend unavailable")

// Reply is one model response.
type Reply struct {
	Text         string // raw response text, expected to be JSON
	Model        string
	InputTokens  int
	OutputTokens int
}

// Backend generates a completion for a classification prompt.
// Implementations must be safe for concurrent use.
type Backend interface {
	Classify(ctx context.Context, prompt string) (Reply, error)
}

// Noop is the backend used when no LLM is configured. Every call reports
// ErrUnavailable.
type Noop struct{}

// Classify always fails with ErrUnavailable.
func (Noop) Classify(context.Context, string) (Reply, error) {
	return Reply{}, ErrUnavailable
}
