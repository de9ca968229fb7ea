// Package mcp connects the tool system to the Model Context Protocol.
//
// The client side starts external MCP servers over stdio and wraps the tools
// they advertise as tools.Tool values, so the executor supervises them like
// any builtin. The server side exports a tool registry to MCP hosts.
//
// Information Hiding:
// - Process management and JSON-RPC framing delegated to mcp-go
// - Schema translation hidden
// - Client lifecycle shared by all tools of one server

package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/richinex/loom/internal/logging"
	"github.com/richinex/loom/internal/retry"
	"github.com/richinex/loom/tools"
)

// Version is reported to MCP peers.
const Version = "0.1.0"

// Client is an initialized connection to one MCP server.
type Client struct {
	name   string
	client *mcpclient.Client
	server mcplib.Implementation
}

// Connect starts the server described by sc and performs the MCP handshake.
func Connect(ctx context.Context, name string, sc ServerConfig) (*Client, error) {
	c, err := mcpclient.NewStdioMCPClient(sc.Command, sc.Environ(), sc.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to start MCP server %s: %w", name, err)
	}
	return newClient(ctx, name, c)
}

// newClient initializes an already started mcp-go client.
func newClient(ctx context.Context, name string, c *mcpclient.Client) (*Client, error) {
	result, err := c.Initialize(ctx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ProtocolVersion: mcplib.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcplib.Implementation{Name: "loom", Version: Version},
		},
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize MCP server %s: %w", name, err)
	}
	return &Client{name: name, client: c, server: result.ServerInfo}, nil
}

// Name returns the configured server name.
func (c *Client) Name() string {
	return c.name
}

// ServerInfo returns what the server reported during the handshake.
func (c *Client) ServerInfo() mcplib.Implementation {
	return c.server
}

// Tools lists the server's tools, wrapped for the registry.
func (c *Client) Tools(ctx context.Context) ([]tools.Tool, error) {
	result, err := c.client.ListTools(ctx, mcplib.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools of %s: %w", c.name, err)
	}

	out := make([]tools.Tool, len(result.Tools))
	for i, t := range result.Tools {
		out[i] = newRemoteTool(c, t)
	}
	return out, nil
}

// call invokes a remote tool and flattens its content to text.
func (c *Client) call(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	result, err := c.client.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		return "", false, err
	}
	return contentText(result.Content), result.IsError, nil
}

// Close stops the server process.
func (c *Client) Close() error {
	return c.client.Close()
}

// Manager owns the clients of every configured server.
// The caller must call Close() when done to release resources.
type Manager struct {
	clients []*Client
	tools   []tools.Tool
	logger  *slog.Logger
}

// DefaultConnectRetry gives a server that is still starting up two more
// attempts before it is skipped.
func DefaultConnectRetry() retry.Policy {
	return retry.Policy{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Jitter:     true,
	}
}

// DiscoverOption configures Discover.
type DiscoverOption func(*discovery)

type discovery struct {
	policy  retry.Policy
	connect func(ctx context.Context, name string, sc ServerConfig) (*Client, error)
}

// WithRetry sets the policy applied to each server's connect and listing.
func WithRetry(p retry.Policy) DiscoverOption {
	return func(d *discovery) { d.policy = p }
}

// Discover connects to every server in cfg and collects their tools. Each
// server is retried per policy; one that still fails is logged and skipped.
// The error is returned only when no server could be reached.
func Discover(ctx context.Context, cfg *Config, logger *slog.Logger, opts ...DiscoverOption) (*Manager, error) {
	m := &Manager{logger: logging.OrDefault(logger, "mcp")}
	d := discovery{policy: DefaultConnectRetry(), connect: Connect}
	for _, opt := range opts {
		opt(&d)
	}

	var errs []error
	for _, name := range cfg.Names() {
		sc := cfg.MCPServers[name]

		policy := d.policy
		if policy.OnRetry == nil {
			policy.OnRetry = func(err error, attempt int, delay time.Duration) {
				m.logger.Debug("retrying MCP server", "server", name, "attempt", attempt, "delay", delay, "error", err)
			}
		}
		server, err := retry.Do(ctx, policy, func(ctx context.Context) (connected, error) {
			return d.dial(ctx, name, sc)
		})
		if err != nil {
			m.logger.Warn("MCP server unavailable", "server", name, "command", sc.String(), "error", err)
			errs = append(errs, err)
			continue
		}

		m.clients = append(m.clients, server.client)
		m.tools = append(m.tools, server.tools...)
		m.logger.Info("MCP server connected",
			"server", name,
			"implementation", server.client.ServerInfo().Name,
			"tools", len(server.tools))
	}

	if len(m.clients) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return m, nil
}

// connected is a server that completed the handshake and listed its tools.
type connected struct {
	client *Client
	tools  []tools.Tool
}

// dial is one attempt: connect, then list. A failed listing closes the
// client so the next attempt starts a fresh server.
func (d discovery) dial(ctx context.Context, name string, sc ServerConfig) (connected, error) {
	client, err := d.connect(ctx, name, sc)
	if err != nil {
		return connected{}, err
	}
	discovered, err := client.Tools(ctx)
	if err != nil {
		_ = client.Close()
		return connected{}, err
	}
	return connected{client: client, tools: discovered}, nil
}

// Tools returns every discovered tool.
func (m *Manager) Tools() []tools.Tool {
	return m.tools
}

// Register adds the discovered tools to r. Names already taken, usually by
// a builtin, are skipped with a warning. Returns the names registered.
func (m *Manager) Register(r *tools.Registry) []string {
	var names []string
	for _, t := range m.tools {
		name := t.Descriptor().Name
		if err := r.Register(t); err != nil {
			m.logger.Warn("skipping MCP tool", "tool", name, "error", err)
			continue
		}
		names = append(names, name)
	}
	return names
}

// Close closes every client.
func (m *Manager) Close() error {
	var errs []error
	for _, c := range m.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.Name(), err))
		}
	}
	m.clients = nil
	return errors.Join(errs...)
}
