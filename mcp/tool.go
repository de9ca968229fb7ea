// MCP tool wrapper - makes remote MCP tools usable in the registry.
//
// Information Hiding:
// - Schema parsing hidden
// - Result content flattening hidden
// - Remote failures normalized into tools.Result

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/richinex/loom/tools"
)

// remoteTool wraps one tool advertised by an MCP server.
type remoteTool struct {
	client     *Client
	descriptor tools.Descriptor
}

func newRemoteTool(c *Client, t mcplib.Tool) *remoteTool {
	params := parseParameters(t.InputSchema)
	return &remoteTool{
		client: c,
		descriptor: tools.Descriptor{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
			// Whatever the server does happens outside this process.
			Capabilities: tools.Capabilities{AccessesNetwork: true},
			Validator:    tools.SchemaValidator(params),
		},
	}
}

// Descriptor returns the descriptor translated from the MCP schema.
func (t *remoteTool) Descriptor() tools.Descriptor {
	return t.descriptor
}

// Execute calls the tool on its server.
func (t *remoteTool) Execute(ctx context.Context, params tools.Params, _ *tools.Context) tools.Result {
	args, err := remoteArguments(params)
	if err != nil {
		return tools.Failf(tools.CodeValidation, "arguments must be a JSON object: %v", err)
	}

	text, isError, err := t.client.call(ctx, t.descriptor.Name, args)
	if err != nil {
		if ctx.Err() != nil {
			return tools.Failf(tools.CodeUserCancelled, "MCP call to %s cancelled", t.descriptor.Name)
		}
		return tools.Failf(tools.CodeExecution, "MCP call to %s/%s failed: %v", t.client.Name(), t.descriptor.Name, err)
	}
	if isError {
		return tools.Fail(tools.CodeExecution, text).WithDetails(map[string]any{"server": t.client.Name()})
	}
	return tools.OK(formatResult(text))
}

// remoteArguments recovers the argument object. Remote tools usually get
// RawParams, but one named like a builtin arrives decoded as that
// builtin's variant.
func remoteArguments(params tools.Params) (map[string]any, error) {
	var data []byte
	if raw, ok := params.(tools.RawParams); ok {
		data = raw.Args
	} else {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		data = encoded
	}

	var args map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &args); err != nil {
			return nil, err
		}
	}
	return args, nil
}

// parseParameters extracts tool parameters from the JSON schema.
// Returns parameters in sorted order for deterministic output.
func parseParameters(schema mcplib.ToolInputSchema) []tools.ToolParameter {
	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]tools.ToolParameter, 0, len(names))
	for _, name := range names {
		p := tools.ToolParameter{Name: name, ParamType: "string", Required: required[name]}
		if prop, ok := schema.Properties[name].(map[string]any); ok {
			if typ, ok := prop["type"].(string); ok && typ != "" {
				p.ParamType = typ
			}
			if desc, ok := prop["description"].(string); ok {
				p.Description = desc
			}
			if items, ok := prop["items"].(map[string]any); ok {
				p.Items = items
			}
		}
		params = append(params, p)
	}
	return params
}

// contentText joins the text parts of a result. Other content kinds are
// replaced by a marker so the model knows something was omitted.
func contentText(content []mcplib.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case mcplib.TextContent:
			parts = append(parts, v.Text)
		case *mcplib.TextContent:
			parts = append(parts, v.Text)
		default:
			parts = append(parts, fmt.Sprintf("[%T omitted]", c))
		}
	}
	return strings.Join(parts, "\n")
}

// formatResult decodes JSON text so it nests in the result instead of being
// double-encoded. Anything else is returned as-is.
func formatResult(text string) any {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return text
	}
	return v
}
