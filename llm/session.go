// Session - stateful chat over a stateless Provider.

package llm

import (
	"context"
	"errors"
	"sync"

	ljson "github.com/richinex/loom/internal/json"
)

// ErrEmptyReply is returned when the model answered with neither text nor
// tool calls. The exchange is not committed to history, so the same send can
// be retried.
var ErrEmptyReply = errors.New("model returned an empty reply")

// Reply is what one send produced.
type Reply struct {
	Text      string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// ToolResult answers one ToolCall.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
}

// Session holds the conversation with one model. History only grows on a
// successful, non-empty exchange.
type Session struct {
	provider Provider
	system   string
	tools    []ToolDefinition

	mu      sync.Mutex
	history []ChatMessage
	usage   TokenUsage
}

// NewSession creates a session with a system prompt and the tools the model
// may call.
func NewSession(provider Provider, system string, tools []ToolDefinition) *Session {
	return &Session{provider: provider, system: system, tools: tools}
}

// Provider returns the underlying provider.
func (s *Session) Provider() Provider {
	return s.provider
}

// unansweredResult is sent for tool calls left open when a turn ended early.
const unansweredResult = `{"success":false,"error":{"code":"USER_CANCELLED","message":"call was not executed before the turn ended"}}`

// Send adds a user message and asks the model for a reply. Tool calls from
// an earlier reply that never got results are closed first, since providers
// reject a conversation with dangling calls.
func (s *Session) Send(ctx context.Context, text string) (Reply, error) {
	s.mu.Lock()
	outgoing := s.unanswered()
	s.mu.Unlock()
	return s.exchange(ctx, append(outgoing, UserMessage(text)))
}

// unanswered returns placeholder results for the last assistant message's
// calls. Called with mu held.
func (s *Session) unanswered() []ChatMessage {
	if len(s.history) == 0 {
		return nil
	}
	last := s.history[len(s.history)-1]
	if last.Role != RoleAssistant {
		return nil
	}
	out := make([]ChatMessage, 0, len(last.ToolCalls))
	for _, tc := range last.ToolCalls {
		out = append(out, ToolMessage(tc.ID, tc.Name, unansweredResult))
	}
	return out
}

// SendToolResults answers the previous reply's tool calls in one batch.
func (s *Session) SendToolResults(ctx context.Context, results []ToolResult) (Reply, error) {
	msgs := make([]ChatMessage, len(results))
	for i, r := range results {
		msgs[i] = ToolMessage(r.CallID, r.Name, r.Content)
	}
	return s.exchange(ctx, msgs)
}

func (s *Session) exchange(ctx context.Context, outgoing []ChatMessage) (Reply, error) {
	s.mu.Lock()
	messages := make([]ChatMessage, 0, len(s.history)+len(outgoing))
	messages = append(messages, s.history...)
	messages = append(messages, outgoing...)
	s.mu.Unlock()

	resp, err := s.provider.Complete(ctx, Request{System: s.system, Messages: messages, Tools: s.tools})
	if err != nil {
		return Reply{}, err
	}
	if resp.Empty() {
		return Reply{Usage: resp.Usage}, ErrEmptyReply
	}

	calls := make([]ToolCall, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		tc.Arguments = ljson.NormalizeArguments(string(tc.Arguments))
		calls[i] = tc
	}

	s.mu.Lock()
	s.history = append(s.history, outgoing...)
	s.history = append(s.history, AssistantMessage(resp.Content, calls...))
	s.usage.Add(resp.Usage)
	s.mu.Unlock()

	return Reply{Text: resp.Content, ToolCalls: calls, Usage: resp.Usage}, nil
}

// History returns a copy of the committed conversation.
func (s *Session) History() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatMessage(nil), s.history...)
}

// Restore replaces the conversation, e.g. with one loaded from storage.
func (s *Session) Restore(history []ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]ChatMessage(nil), history...)
}

// Reset drops the conversation and the usage totals.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.usage = TokenUsage{}
}

// Usage returns token totals across committed exchanges.
func (s *Session) Usage() TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}
