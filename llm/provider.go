// Package llm provides LLM provider abstractions.
//
// Each provider implementation hides:
// - API client initialization and authentication
// - Request/response format conversion
// - Provider-specific tool-call encoding
package llm

import (
	"context"
)

// Provider defines the abstract interface for LLM providers.
// Implementations are stateless; conversation state lives in Session.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the current model being used.
	Model() string

	// Complete sends one request. The model may answer with text, tool
	// calls, or both.
	Complete(ctx context.Context, req Request) (Response, error)
}
