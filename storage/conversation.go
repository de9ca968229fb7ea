// Package storage persists chat sessions so a conversation with the agent
// can be resumed later.
//
// Information Hiding:
// - Backend schema and encoding of tool calls hidden
// - Message order within a session preserved by every backend

package storage

import (
	"context"

	"github.com/richinex/loom/llm"
)

// ConversationStorage keeps the committed history of llm.Session values by
// session id. A message round-trips with its role, text, the tool calls an
// assistant requested, and the call id a tool result answers, so a restored
// session can continue a tool exchange the model started earlier.
type ConversationStorage interface {
	// Save replaces the stored history of sessionID.
	Save(ctx context.Context, sessionID string, history []llm.ChatMessage) error

	// Load returns the history in the order it was saved. An unknown
	// session yields an empty history and no error.
	Load(ctx context.Context, sessionID string) ([]llm.ChatMessage, error)

	// Delete removes the session and its messages. Deleting an unknown
	// session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// ListSessions returns every stored session id, most recently saved
	// first.
	ListSessions(ctx context.Context) ([]string, error)

	// Exists reports whether sessionID has been saved.
	Exists(ctx context.Context, sessionID string) (bool, error)
}
