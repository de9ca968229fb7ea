// MCP server - exports a tool registry to MCP hosts.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/richinex/loom/internal/logging"
	"github.com/richinex/loom/tools"
)

// Server serves every tool of a registry through one executor, so calls
// arriving over MCP get the same validation, timeouts and statistics as
// calls made by the agent.
type Server struct {
	mcpServer *mcpserver.MCPServer
	executor  *tools.Executor
	toolCtx   *tools.Context
	logger    *slog.Logger
}

// NewServer creates a server exposing the executor's registry.
func NewServer(executor *tools.Executor, tc *tools.Context, logger *slog.Logger) (*Server, error) {
	s := &Server{
		mcpServer: mcpserver.NewMCPServer("loom", Version, mcpserver.WithToolCapabilities(true)),
		executor:  executor,
		toolCtx:   tc,
		logger:    logging.OrDefault(logger, "mcp-server"),
	}

	for _, d := range executor.Registry().List() {
		tool, err := exportTool(d)
		if err != nil {
			return nil, err
		}
		s.mcpServer.AddTool(tool, s.handler(d.Name))
	}
	return s, nil
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio serves until stdin closes or the process is signalled.
func (s *Server) ServeStdio() error {
	s.logger.Info("serving tools over stdio", "tools", len(s.executor.Registry().Names()))
	return mcpserver.ServeStdio(s.mcpServer)
}

// exportTool translates a descriptor, deriving annotations from its
// capability flags.
func exportTool(d tools.Descriptor) (mcplib.Tool, error) {
	schema, err := json.Marshal(d.Schema())
	if err != nil {
		return mcplib.Tool{}, fmt.Errorf("encode schema of %s: %w", d.Name, err)
	}

	c := d.Capabilities
	mutates := c.WritesFiles || c.ExecutesCommands
	tool := mcplib.NewToolWithRawSchema(d.Name, d.Description, schema)
	tool.Annotations = mcplib.ToolAnnotation{
		ReadOnlyHint:    mcplib.ToBoolPtr(!mutates),
		DestructiveHint: mcplib.ToBoolPtr(mutates),
		IdempotentHint:  mcplib.ToBoolPtr(c.Idempotent),
		OpenWorldHint:   mcplib.ToBoolPtr(c.AccessesNetwork || c.ExecutesCommands),
	}
	return tool, nil
}

func (s *Server) handler(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		args, err := json.Marshal(request.GetArguments())
		if err != nil {
			return mcplib.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		result := s.executor.Execute(ctx, name, args, s.toolCtx)
		s.logger.Debug("tool called over MCP", "tool", name, "success", result.Success, "code", result.Code())
		if !result.Success {
			return mcplib.NewToolResultError(result.String()), nil
		}
		return mcplib.NewToolResultText(result.String()), nil
	}
}
