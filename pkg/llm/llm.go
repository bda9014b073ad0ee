// Package llm provides the completion client the memory engine uses for
// extraction, relation classification, re-ranking, and core block rewriting.
//
// Every call site treats the model as an unreliable enrichment dependency:
// a failed or malformed completion degrades the operation (skip, classify as
// different, fall back to concatenation) instead of failing it.
package llm

import "context"

// CompletionRequest is a single synchronous completion call.
type CompletionRequest struct {
	// System is the system prompt. May be empty.
	System string

	// Prompt is the user-turn prompt.
	Prompt string

	// JSON indicates the caller expects a JSON payload back. Callers must
	// decode the result with DecodeJSON, which tolerates code-fence
	// wrapping and surfaces malformed output as ErrMalformedJSON.
	JSON bool
}

// Completer is the interface for LLM completion providers.
type Completer interface {
	// Complete sends the prompt pair and returns the completion text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// Close releases any resources held by the client.
	Close() error
}
