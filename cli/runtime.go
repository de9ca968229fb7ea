// Runtime assembly shared by every command.
//
// Information Hiding:
// - Settings layering, logger and telemetry setup hidden
// - Tool registry composition (builtins plus MCP) hidden
// - Resource teardown order hidden behind Close

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/richinex/loom/agent"
	"github.com/richinex/loom/config"
	"github.com/richinex/loom/contextstore"
	"github.com/richinex/loom/engine"
	"github.com/richinex/loom/internal/logging"
	"github.com/richinex/loom/internal/telemetry"
	"github.com/richinex/loom/llm"
	"github.com/richinex/loom/mcp"
	"github.com/richinex/loom/process"
	"github.com/richinex/loom/tools"
)

// Version is reported to telemetry and MCP peers.
const Version = mcp.Version

// Options holds CLI execution options. Zero values defer to the settings.
type Options struct {
	ConfigPath    string
	Provider      string
	Model         string
	WorkDir       string
	MaxIter       int
	Verbose       bool
	MCPServers    []string
	MCPConfigPath string
}

// Runtime is everything one command needs, wired together.
type Runtime struct {
	Settings   config.Settings
	Logger     *slog.Logger
	ToolCtx    *tools.Context
	Registry   *tools.Registry
	Executor   *tools.Executor
	Supervisor *process.Supervisor
	MCPTools   []string

	mcp      *mcp.Manager
	closers  []func(context.Context) error
	provider llm.Provider
}

// loadSettings applies the command-line overrides on top of config.Load.
func loadSettings(opts Options) (config.Settings, error) {
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Settings{}, err
	}
	if opts.Provider != "" || opts.Model != "" {
		provider := opts.Provider
		if provider == "" {
			provider = settings.LLM.Provider
		}
		if err := settings.UseProvider(provider, opts.Model); err != nil {
			return config.Settings{}, err
		}
	}
	if opts.MaxIter > 0 {
		settings.Agent.MaxIterations = opts.MaxIter
	}
	if opts.Verbose {
		settings.Logging.Level = "debug"
	}
	return settings, settings.Validate()
}

// NewRuntime builds the tool side of the runtime: logging, telemetry, the
// supervisor, and a registry holding the builtins plus any MCP tools.
func NewRuntime(ctx context.Context, opts Options) (*Runtime, error) {
	settings, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}
	return newRuntime(ctx, settings, opts)
}

func newRuntime(ctx context.Context, settings config.Settings, opts Options) (*Runtime, error) {
	logger, logCloser, err := logging.New(settings.Logging)
	if err != nil {
		return nil, err
	}
	r := &Runtime{Settings: settings, Logger: logger}
	r.closers = append(r.closers, func(context.Context) error { return logCloser.Close() })

	shutdown, err := telemetry.Init(ctx, settings.Telemetry, "loom", Version)
	if err != nil {
		r.Close(ctx)
		return nil, err
	}
	r.closers = append(r.closers, shutdown)

	workDir := opts.WorkDir
	if workDir == "" {
		if workDir, err = os.Getwd(); err != nil {
			r.Close(ctx)
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
	}

	r.Supervisor = process.NewSupervisor(workDir).WithShell(settings.Tools.Shell).WithLogger(logger)
	r.closers = append(r.closers, r.Supervisor.Shutdown)

	r.ToolCtx = tools.NewContext(workDir)
	r.ToolCtx.Logger = logger
	r.ToolCtx.Engine = engine.NewRepoMap().WithLogger(logger)

	r.Registry = tools.NewRegistry()
	if err := tools.RegisterBuiltins(r.Registry, r.Supervisor, tools.BuiltinOptions{
		MaxFileSize:     settings.Tools.MaxFileSize,
		AllowedCommands: settings.Tools.AllowedCommands,
		AllowedDomains:  settings.Tools.AllowedDomains,
		HTTPTimeout:     settings.Tools.HTTPTimeout,
	}); err != nil {
		r.Close(ctx)
		return nil, err
	}

	if err := r.connectMCP(ctx, opts); err != nil {
		r.Close(ctx)
		return nil, err
	}

	r.Executor = tools.NewExecutor(r.Registry, tools.ToolConfig{TimeoutMs: settings.Tools.TimeoutMs}).WithLogger(logger)
	return r, nil
}

// connectMCP registers tools from --mcp commands and the --mcp-config file.
func (r *Runtime) connectMCP(ctx context.Context, opts Options) error {
	cfg := &mcp.Config{}
	if opts.MCPConfigPath != "" {
		loaded, err := mcp.LoadConfig(opts.MCPConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load MCP config: %w", err)
		}
		cfg = loaded
	}
	for _, server := range opts.MCPServers {
		if err := cfg.Add(server); err != nil {
			return err
		}
	}
	if len(cfg.MCPServers) == 0 {
		return nil
	}

	manager, err := mcp.Discover(ctx, cfg, r.Logger)
	if err != nil {
		return fmt.Errorf("no MCP server could be reached: %w", err)
	}
	r.mcp = manager
	r.closers = append(r.closers, func(context.Context) error { return manager.Close() })
	r.MCPTools = manager.Register(r.Registry)
	return nil
}

// Provider returns the model provider, creating it on first use.
func (r *Runtime) Provider() (llm.Provider, error) {
	if r.provider != nil {
		return r.provider, nil
	}
	p, err := createProvider(r.Settings.LLM)
	if err != nil {
		return nil, err
	}
	r.provider = p
	return p, nil
}

// Agent builds an orchestrator over a fresh session. The session is returned
// too so callers can persist and restore its history.
func (r *Runtime) Agent(name string) (*agent.Orchestrator, *llm.Session, error) {
	provider, err := r.Provider()
	if err != nil {
		return nil, nil, err
	}

	a := r.Settings.Agent
	cfg, err := agent.NewBuilder(name).
		SystemPrompt(agent.DefaultSystemPrompt+mcpToolsSection(r.MCPTools)).
		MaxIterations(a.MaxIterations).
		WarningThresholds(a.WarningThresholds...).
		ReadRepeatThreshold(a.ReadRepeatThreshold).
		FailureThreshold(a.FailureThreshold).
		Retry(a.EmptyReplyRetries, a.RetryBaseDelay).
		Build()
	if err != nil {
		return nil, nil, err
	}

	tokenizer, err := contextstore.NewTokenizer(r.Settings.Context.Tokenizer)
	if err != nil {
		return nil, nil, fmt.Errorf("context tokenizer: %w", err)
	}
	store := contextstore.New(r.Settings.Context.Budget).WithTokenizer(tokenizer).WithLogger(r.Logger)

	session := llm.NewSession(provider, cfg.SystemPrompt, r.Registry.Declarations())
	orch := agent.NewWithSession(cfg, session, r.Executor).
		WithToolContext(r.ToolCtx).
		WithStore(store).
		WithLogger(r.Logger)
	return orch, session, nil
}

// Close releases resources in reverse order of acquisition.
func (r *Runtime) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// mcpToolsSection lists connected MCP tools for the system prompt.
func mcpToolsSection(toolNames []string) string {
	if len(toolNames) == 0 {
		return ""
	}
	return fmt.Sprintf("\n\nMCP tools from connected servers:\n- %s", strings.Join(toolNames, "\n- "))
}

func createProvider(cfg config.LLMConfig) (llm.Provider, error) {
	providerType, err := llm.ParseProviderType(cfg.Provider)
	if err != nil {
		return nil, err
	}

	apiKey, err := config.APIKeyFor(cfg.Provider)
	if err != nil {
		return nil, err
	}

	builder := providerType.
		Model(cfg.Model).
		MaxTokens(cfg.MaxTokens).
		Temperature(float32(cfg.Temperature))
	if cfg.BaseURL != "" {
		builder = builder.BaseURL(cfg.BaseURL)
	}
	return builder.APIKey(apiKey)
}
