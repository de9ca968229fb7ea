// Package config provides application settings.
//
// Settings are created via Load() which layers, lowest first:
// - Built-in defaults
// - An optional YAML file (~/.loom/config.yaml unless a path is given)
// - Environment variables, parsed with validation
//
// Provider-specific lookups (model, API key) go through the provider table.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/richinex/loom/internal/logging"
	"github.com/richinex/loom/internal/telemetry"
	"github.com/richinex/loom/llm"
)

// Settings holds all application configuration.
type Settings struct {
	LLM       LLMConfig        `yaml:"llm"`
	Agent     AgentConfig      `yaml:"agent"`
	Tools     ToolsConfig      `yaml:"tools"`
	Context   ContextConfig    `yaml:"context"`
	Storage   StorageConfig    `yaml:"storage"`
	Logging   logging.Config   `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"` // empty selects the provider default
	MaxTokens   uint32  `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	BaseURL     string  `yaml:"base_url"`
}

// AgentConfig holds the turn loop limits.
type AgentConfig struct {
	MaxIterations       int           `yaml:"max_iterations"`
	WarningThresholds   []int         `yaml:"warning_thresholds"`
	ReadRepeatThreshold int           `yaml:"read_repeat_threshold"`
	FailureThreshold    int           `yaml:"failure_threshold"`
	EmptyReplyRetries   int           `yaml:"empty_reply_retries"`
	RetryBaseDelay      time.Duration `yaml:"retry_base_delay"`
}

// ToolsConfig tunes the builtin tools and the executor.
type ToolsConfig struct {
	TimeoutMs       uint64        `yaml:"timeout_ms"`
	MaxFileSize     int64         `yaml:"max_file_size"`
	AllowedCommands []string      `yaml:"allowed_commands"` // empty allows all
	AllowedDomains  []string      `yaml:"allowed_domains"`  // empty allows all
	HTTPTimeout     time.Duration `yaml:"http_timeout"`
	Shell           string        `yaml:"shell"`           // empty selects bash, then /bin/sh
	ConfirmTimeout  time.Duration `yaml:"confirm_timeout"` // chat write approval; zero waits
}

// ContextConfig sizes the context store.
type ContextConfig struct {
	Budget    int    `yaml:"budget"`
	Tokenizer string `yaml:"tokenizer"` // "estimate" or a tiktoken encoding
}

// StorageConfig locates persisted chat sessions.
type StorageConfig struct {
	DBPath string `yaml:"db_path"` // empty keeps sessions in memory
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", llm.ProviderOpenAI.DefaultModel(), llm.ProviderOpenAI.EnvVar()},
	"anthropic": {"ANTHROPIC_MODEL", llm.ProviderAnthropic.DefaultModel(), llm.ProviderAnthropic.EnvVar()},
	"deepseek":  {"DEEPSEEK_MODEL", llm.ProviderDeepSeek.DefaultModel(), llm.ProviderDeepSeek.EnvVar()},
	"gemini":    {"GEMINI_MODEL", llm.ProviderGemini.DefaultModel(), llm.ProviderGemini.EnvVar()},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		LLM: LLMConfig{
			Provider:    "openai",
			MaxTokens:   llm.DefaultMaxTokens,
			Temperature: 0.7,
		},
		Agent: AgentConfig{
			MaxIterations:       16,
			WarningThresholds:   []int{10, 13, 15},
			ReadRepeatThreshold: 3,
			FailureThreshold:    3,
			EmptyReplyRetries:   3,
			RetryBaseDelay:      time.Second,
		},
		Tools: ToolsConfig{
			TimeoutMs:   30000,
			MaxFileSize: 1024 * 1024,
			HTTPTimeout: 30 * time.Second,
		},
		Context: ContextConfig{
			Budget:    8000,
			Tokenizer: "estimate",
		},
		Logging: logging.Config{Level: "info", Format: "text"},
	}
}

// DefaultPath returns ~/.loom/config.yaml, or "" when there is no home
// directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".loom", "config.yaml")
}

// Load builds settings from defaults, the YAML file at path and the
// environment. An empty path reads DefaultPath() if it exists; an explicit
// path must exist.
func Load(path string) (Settings, error) {
	s := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		if err := loadFromFile(&s, path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return Settings{}, err
			}
		}
	}

	if err := loadFromEnv(&s); err != nil {
		return Settings{}, err
	}

	if err := s.UseProvider(s.LLM.Provider, s.LLM.Model); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// loadFromFile merges a YAML file into s. Environment references in the
// file are expanded first.
func loadFromFile(s *Settings, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), s); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadFromEnv applies environment overrides. Malformed numbers are errors.
func loadFromEnv(s *Settings) error {
	var err error
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		s.LLM.Provider = v
	}
	if s.LLM.MaxTokens, err = getEnvUint32("LLM_MAX_TOKENS", s.LLM.MaxTokens); err != nil {
		return err
	}
	if s.LLM.Temperature, err = getEnvFloat64("LLM_TEMPERATURE", s.LLM.Temperature); err != nil {
		return err
	}
	if s.Agent.MaxIterations, err = getEnvInt("AGENT_MAX_ITERATIONS", s.Agent.MaxIterations); err != nil {
		return err
	}
	timeout, err := getEnvInt("TOOL_TIMEOUT_MS", int(s.Tools.TimeoutMs))
	if err != nil {
		return err
	}
	if timeout < 0 {
		return fmt.Errorf("invalid value for TOOL_TIMEOUT_MS: %d", timeout)
	}
	s.Tools.TimeoutMs = uint64(timeout)
	if s.Context.Budget, err = getEnvInt("CONTEXT_BUDGET", s.Context.Budget); err != nil {
		return err
	}
	if v := os.Getenv("CONTEXT_TOKENIZER"); v != "" {
		s.Context.Tokenizer = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		s.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		s.Logging.File = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		s.Telemetry.Endpoint = v
	}
	if v := os.Getenv("LOOM_SHELL"); v != "" {
		s.Tools.Shell = v
	}
	if v := os.Getenv("LOOM_DB_PATH"); v != "" {
		s.Storage.DBPath = v
	}
	return nil
}

// UseProvider switches to provider, normalizing aliases. An empty model
// selects the provider's model from the environment, then its default.
func (s *Settings) UseProvider(provider, model string) error {
	provider = normalizeProvider(provider)
	if _, err := getProviderInfo(provider); err != nil {
		return err
	}
	if model == "" {
		var err error
		if model, err = ModelFor(provider); err != nil {
			return err
		}
	}
	s.LLM.Provider = provider
	s.LLM.Model = model
	return nil
}

// Validate reports every invalid setting.
func (s Settings) Validate() error {
	var errs []error
	if s.LLM.MaxTokens == 0 {
		errs = append(errs, errors.New("llm.max_tokens must be positive"))
	}
	if s.LLM.Temperature < 0 || s.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be within [0, 2], got %v", s.LLM.Temperature))
	}
	if s.Agent.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_iterations must be positive, got %d", s.Agent.MaxIterations))
	}
	for _, th := range s.Agent.WarningThresholds {
		if th <= 0 || th >= s.Agent.MaxIterations {
			errs = append(errs, fmt.Errorf("agent.warning_thresholds: %d is outside (0, %d)", th, s.Agent.MaxIterations))
		}
	}
	if s.Agent.ReadRepeatThreshold <= 0 {
		errs = append(errs, errors.New("agent.read_repeat_threshold must be positive"))
	}
	if s.Agent.FailureThreshold <= 0 {
		errs = append(errs, errors.New("agent.failure_threshold must be positive"))
	}
	if s.Agent.EmptyReplyRetries < 0 {
		errs = append(errs, errors.New("agent.empty_reply_retries cannot be negative"))
	}
	if s.Context.Budget <= 0 {
		errs = append(errs, fmt.Errorf("context.budget must be positive, got %d", s.Context.Budget))
	}
	if _, err := logging.ParseLevel(s.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	return errors.Join(errs...)
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	if val := os.Getenv(info.modelEnv); val != "" {
		return val, nil
	}
	return info.defaultModel, nil
}

// SupportedProviders returns the supported provider names, sorted.
func SupportedProviders() []string {
	return []string{"anthropic", "deepseek", "gemini", "openai"}
}

// Environment variable helpers with proper error handling

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}
