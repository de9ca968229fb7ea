package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func readFileTool() ToolDefinition {
	return ToolDefinition{
		Name:        "read_file",
		Description: "Read a file",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []string{"path"},
		},
	}
}

func TestParseProviderType(t *testing.T) {
	tests := []struct {
		in      string
		want    ProviderType
		wantErr bool
	}{
		{"openai", ProviderOpenAI, false},
		{"GPT", ProviderOpenAI, false},
		{"claude", ProviderAnthropic, false},
		{"deepseek", ProviderDeepSeek, false},
		{"google", ProviderGemini, false},
		{"llama", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProviderType(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseProviderType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseProviderType(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuilderDefaults(t *testing.T) {
	p, err := ProviderDeepSeek.APIKey("k")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "deepseek" || p.Model() != ModelDeepSeekChat {
		t.Errorf("got %s/%s", p.Name(), p.Model())
	}

	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := ProviderAnthropic.FromEnv(); err == nil || !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Errorf("FromEnv without key: err = %v", err)
	}
}

func TestOpenAIComplete(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "c1", "object": "chat.completion", "model": "m",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant", "content": "",
				"tool_calls": [{"id": "call_1", "type": "function",
					"function": {"name": "read_file", "arguments": "{\"path\":\"a.go\"}"}}]
			}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	p, err := ProviderOpenAI.Model("m").BaseURL(srv.URL + "/v1").APIKey("k")
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Complete(testContext(t), Request{
		System:   "be brief",
		Messages: []ChatMessage{UserMessage("open a.go")},
		Tools:    []ToolDefinition{readFileTool()},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[0].Content != "be brief" {
		t.Errorf("system prompt not sent first: %+v", got.Messages)
	}
	if len(got.Tools) != 1 || got.Tools[0].Function.Name != "read_file" {
		t.Errorf("tools = %+v", got.Tools)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_1" || string(resp.ToolCalls[0].Arguments) != `{"path":"a.go"}` {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestOpenAIErrorNoAPIKeyLeak(t *testing.T) {
	testKey := "sk-test-invalid-key-12345xyz"
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer srv.Close()

	p, _ := ProviderOpenAI.BaseURL(srv.URL).APIKey(testKey)
	_, err := p.Complete(testContext(t), Request{Messages: []ChatMessage{UserMessage("test")}})
	if err == nil {
		t.Fatal("expected error with invalid API key")
	}
	if auth != "Bearer "+testKey {
		t.Errorf("Authorization = %q", auth)
	}
	if strings.Contains(err.Error(), testKey) {
		t.Errorf("OpenAI error message leaked API key: %v", err)
	}
}

func TestAnthropicComplete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude",
			"content": [
				{"type": "text", "text": "Reading it."},
				{"type": "tool_use", "id": "tu_1", "name": "read_file", "input": {"path": "a.go"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("k", "claude", 100, 0, option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	resp, err := p.Complete(testContext(t), Request{
		System:   "be brief",
		Messages: []ChatMessage{UserMessage("open a.go")},
		Tools:    []ToolDefinition{readFileTool()},
	})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Content != "Reading it." {
		t.Errorf("content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "tu_1" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	var args map[string]string
	if err := json.Unmarshal(resp.ToolCalls[0].Arguments, &args); err != nil || args["path"] != "a.go" {
		t.Errorf("arguments = %s", resp.ToolCalls[0].Arguments)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if _, ok := body["system"]; !ok {
		t.Errorf("system prompt missing from request: %v", body)
	}
}

func toolTurnHistory() []ChatMessage {
	return []ChatMessage{
		UserMessage("look at both"),
		AssistantMessage("", ToolCall{ID: "c1", Name: "read_file", Arguments: json.RawMessage(`{"path":"a"}`)},
			ToolCall{ID: "c2", Name: "read_file", Arguments: json.RawMessage(`{"path":"b"}`)}),
		ToolMessage("c1", "read_file", "A"),
		ToolMessage("c2", "read_file", "B"),
		AssistantMessage("done"),
	}
}

func TestAnthropicGroupsToolResults(t *testing.T) {
	msgs := convertToAnthropicMessages(toolTurnHistory())
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4 (user, assistant, tool results, assistant)", len(msgs))
	}
	if n := len(msgs[2].Content); n != 2 {
		t.Errorf("tool result turn has %d blocks, want 2", n)
	}
	if n := len(msgs[1].Content); n != 2 {
		t.Errorf("assistant turn has %d blocks, want 2 tool uses", n)
	}
}

func TestGeminiGroupsToolResults(t *testing.T) {
	contents := convertToGeminiMessages(toolTurnHistory())
	if len(contents) != 4 {
		t.Fatalf("got %d contents, want 4", len(contents))
	}
	results := contents[2]
	if results.Role != genai.RoleUser || len(results.Parts) != 2 {
		t.Fatalf("tool results = %+v", results)
	}
	fr := results.Parts[0].FunctionResponse
	if fr == nil || fr.Name != "read_file" || fr.ID != "c1" || fr.Response["result"] != "A" {
		t.Errorf("function response = %+v", fr)
	}
}

func TestGeminiSynthesizesCallIDs(t *testing.T) {
	resp := parseGeminiResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
			{Text: "ok"},
			{FunctionCall: &genai.FunctionCall{Name: "glob", Args: map[string]any{"pattern": "*.go"}}},
		}}}},
	})
	if resp.Content != "ok" || len(resp.ToolCalls) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.ToolCalls[0].ID != "call_glob_1" {
		t.Errorf("id = %q", resp.ToolCalls[0].ID)
	}
}

func TestGeminiSchema(t *testing.T) {
	schema := convertToGeminiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{"type": "integer"},
			"paths": map[string]any{"type": "array"},
		},
		"required": []any{"limit"},
	})
	if schema.Properties["limit"].Type != genai.TypeInteger {
		t.Errorf("limit type = %v", schema.Properties["limit"].Type)
	}
	if schema.Properties["paths"].Items == nil {
		t.Error("array without items must get a default")
	}
	if len(schema.Required) != 1 || schema.Required[0] != "limit" {
		t.Errorf("required = %v", schema.Required)
	}
}
