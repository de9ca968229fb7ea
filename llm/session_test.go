package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted replays canned responses and records every request.
type scripted struct {
	responses []Response
	errs      []error
	requests  []Request
}

func (s *scripted) Name() string  { return "scripted" }
func (s *scripted) Model() string { return "test" }

func (s *scripted) Complete(_ context.Context, req Request) (Response, error) {
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return Response{}, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return Response{}, nil
}

func TestSessionCommitsOnReply(t *testing.T) {
	p := &scripted{responses: []Response{
		{ToolCalls: []ToolCall{{ID: "c1", Name: "read_file", Arguments: json.RawMessage("```json\n{\"path\":\"a\"}\n```")}},
			Usage: &TokenUsage{TotalTokens: 10}},
		{Content: "done", Usage: &TokenUsage{TotalTokens: 5}},
	}}
	s := NewSession(p, "sys", []ToolDefinition{readFileTool()})

	reply, err := s.Send(context.Background(), "read a")
	require.NoError(t, err)
	require.Len(t, reply.ToolCalls, 1)
	assert.JSONEq(t, `{"path":"a"}`, string(reply.ToolCalls[0].Arguments), "fenced arguments are normalized")

	reply, err = s.SendToolResults(context.Background(), []ToolResult{{CallID: "c1", Name: "read_file", Content: "A"}})
	require.NoError(t, err)
	assert.Equal(t, "done", reply.Text)

	h := s.History()
	require.Len(t, h, 4)
	assert.Equal(t, RoleUser, h[0].Role)
	assert.Equal(t, RoleAssistant, h[1].Role)
	assert.Equal(t, ToolMessage("c1", "read_file", "A"), h[2])
	assert.Equal(t, AssistantMessage("done"), h[3])

	assert.Equal(t, "sys", p.requests[1].System)
	assert.Len(t, p.requests[1].Messages, 3)
	assert.Equal(t, uint32(15), s.Usage().TotalTokens)
}

func TestSessionEmptyReplyNotCommitted(t *testing.T) {
	p := &scripted{responses: []Response{{}, {Content: "hi"}}}
	s := NewSession(p, "", nil)

	_, err := s.Send(context.Background(), "hello")
	require.ErrorIs(t, err, ErrEmptyReply)
	assert.Empty(t, s.History())

	reply, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi", reply.Text)
	assert.Len(t, s.History(), 2)
	assert.Len(t, p.requests[1].Messages, 1, "the retried send does not duplicate the user message")
}

func TestSessionTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	s := NewSession(&scripted{errs: []error{boom}}, "", nil)

	_, err := s.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, s.History())
}

func TestSessionRestoreAndReset(t *testing.T) {
	s := NewSession(&scripted{responses: []Response{{Content: "again"}}}, "", nil)
	saved := []ChatMessage{UserMessage("earlier"), AssistantMessage("reply")}

	s.Restore(saved)
	saved[0].Content = "mutated"
	_, err := s.Send(context.Background(), "next")
	require.NoError(t, err)

	h := s.History()
	require.Len(t, h, 4)
	assert.Equal(t, "earlier", h[0].Content)

	s.Reset()
	assert.Empty(t, s.History())
	assert.Zero(t, s.Usage())
}

func TestSessionClosesDanglingCalls(t *testing.T) {
	p := &scripted{responses: []Response{
		{ToolCalls: []ToolCall{{ID: "c1", Name: "glob", Arguments: json.RawMessage(`{"pattern":"*"}`)}}},
		{Content: "ok"},
	}}
	s := NewSession(p, "", nil)

	_, err := s.Send(context.Background(), "first")
	require.NoError(t, err)
	_, err = s.Send(context.Background(), "second")
	require.NoError(t, err)

	sent := p.requests[1].Messages
	require.Len(t, sent, 4)
	assert.Equal(t, RoleTool, sent[2].Role)
	assert.Equal(t, "c1", sent[2].ToolCallID)
	assert.Contains(t, sent[2].Content, "USER_CANCELLED")
	assert.Equal(t, UserMessage("second"), sent[3])
}
