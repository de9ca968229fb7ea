package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// isolate points HOME at an empty directory and clears every variable
// Load reads, so the developer's own setup cannot leak in.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{
		"LLM_PROVIDER", "LLM_MAX_TOKENS", "LLM_TEMPERATURE", "AGENT_MAX_ITERATIONS",
		"TOOL_TIMEOUT_MS", "CONTEXT_BUDGET", "CONTEXT_TOKENIZER", "LOG_LEVEL",
		"LOG_FILE", "OTEL_EXPORTER_OTLP_ENDPOINT", "LOOM_DB_PATH", "LOOM_SHELL",
		"OPENAI_MODEL", "ANTHROPIC_MODEL", "DEEPSEEK_MODEL", "GEMINI_MODEL",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	s, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.LLM.Provider != "openai" {
		t.Errorf("expected provider 'openai', got %q", s.LLM.Provider)
	}
	if s.LLM.Model != providers["openai"].defaultModel {
		t.Errorf("expected default model, got %q", s.LLM.Model)
	}
	if s.Agent.MaxIterations != 16 {
		t.Errorf("expected 16 iterations, got %d", s.Agent.MaxIterations)
	}
	if !reflect.DeepEqual(s.Agent.WarningThresholds, []int{10, 13, 15}) {
		t.Errorf("unexpected thresholds %v", s.Agent.WarningThresholds)
	}
	if s.Tools.TimeoutMs != 30000 || s.Context.Budget != 8000 || s.Context.Tokenizer != "estimate" {
		t.Errorf("unexpected tool/context defaults: %+v %+v", s.Tools, s.Context)
	}
	if s.Agent.RetryBaseDelay != time.Second {
		t.Errorf("expected 1s retry delay, got %v", s.Agent.RetryBaseDelay)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	isolate(t)
	t.Setenv("LOOM_TEST_DB", "/tmp/from-env.db")
	path := writeConfig(t, `
llm:
  provider: claude
  max_tokens: 2048
agent:
  max_iterations: 20
  warning_thresholds: [5, 10]
  retry_base_delay: 250ms
context:
  budget: 4000
tools:
  confirm_timeout: 90s
storage:
  db_path: ${LOOM_TEST_DB}
`)
	t.Setenv("AGENT_MAX_ITERATIONS", "12")
	t.Setenv("LOOM_SHELL", "/bin/zsh")
	t.Setenv("CONTEXT_TOKENIZER", "cl100k_base")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"provider alias normalized", s.LLM.Provider, "anthropic"},
		{"model from provider default", s.LLM.Model, providers["anthropic"].defaultModel},
		{"max tokens from file", s.LLM.MaxTokens, uint32(2048)},
		{"iterations from env", s.Agent.MaxIterations, 12},
		{"thresholds from file", s.Agent.WarningThresholds, []int{5, 10}},
		{"duration from file", s.Agent.RetryBaseDelay, 250 * time.Millisecond},
		{"budget from file", s.Context.Budget, 4000},
		{"tokenizer from env", s.Context.Tokenizer, "cl100k_base"},
		{"file expands env", s.Storage.DBPath, "/tmp/from-env.db"},
		{"confirm timeout from file", s.Tools.ConfirmTimeout, 90 * time.Second},
		{"shell from env", s.Tools.Shell, "/bin/zsh"},
		{"untouched default", s.Agent.FailureThreshold, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !reflect.DeepEqual(tt.got, tt.want) {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		file    string
		missing bool
		wantErr string
	}{
		{name: "explicit file missing", missing: true, wantErr: "failed to read config file"},
		{name: "bad yaml", file: "llm: [", wantErr: "failed to parse config file"},
		{name: "bad int", env: map[string]string{"CONTEXT_BUDGET": "lots"}, wantErr: "CONTEXT_BUDGET"},
		{name: "bad float", env: map[string]string{"LLM_TEMPERATURE": "warm"}, wantErr: "LLM_TEMPERATURE"},
		{name: "negative timeout", env: map[string]string{"TOOL_TIMEOUT_MS": "-1"}, wantErr: "TOOL_TIMEOUT_MS"},
		{name: "unknown provider", env: map[string]string{"LLM_PROVIDER": "acme"}, wantErr: "unknown provider"},
		{name: "threshold beyond budget", env: map[string]string{"AGENT_MAX_ITERATIONS": "8"}, wantErr: "outside (0, 8)"},
		{name: "zero budget", env: map[string]string{"CONTEXT_BUDGET": "0"}, wantErr: "context.budget"},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "loud"}, wantErr: "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			switch {
			case tt.missing:
				path = filepath.Join(t.TempDir(), "absent.yaml")
			case tt.file != "":
				path = writeConfig(t, tt.file)
			}

			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestUseProvider(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_MODEL", "gemini-custom")

	s := Default()
	if err := s.UseProvider("google", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.LLM.Provider != "gemini" || s.LLM.Model != "gemini-custom" {
		t.Errorf("got %s/%s", s.LLM.Provider, s.LLM.Model)
	}

	if err := s.UseProvider("gpt", "gpt-4o"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.LLM.Provider != "openai" || s.LLM.Model != "gpt-4o" {
		t.Errorf("got %s/%s", s.LLM.Provider, s.LLM.Model)
	}

	if err := s.UseProvider("unknown_provider", ""); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestAPIKeyFor(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("OPENAI_API_KEY", "")

	key, err := APIKeyFor("claude")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "test-key" {
		t.Errorf("expected 'test-key', got %q", key)
	}

	if _, err := APIKeyFor("openai"); err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Errorf("expected missing-key error, got %v", err)
	}
	if _, err := APIKeyFor("unknown"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestSupportedProvidersMatchTable(t *testing.T) {
	for _, name := range SupportedProviders() {
		if _, err := getProviderInfo(name); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	if len(SupportedProviders()) != len(providers) {
		t.Errorf("SupportedProviders lists %d, table has %d", len(SupportedProviders()), len(providers))
	}
}
