package tools

import (
	"context"
)

// CodebaseMapTool asks the native engine for a declaration map of a tree.
type CodebaseMapTool struct{}

// NewCodebaseMapTool creates a get_codebase_map tool.
func NewCodebaseMapTool() *CodebaseMapTool {
	return &CodebaseMapTool{}
}

// Descriptor returns the tool descriptor.
func (t *CodebaseMapTool) Descriptor() Descriptor {
	params := []ToolParameter{
		{Name: "path", ParamType: "string", Description: "Root directory to map (default: working directory)"},
	}
	return Descriptor{
		Name:         "get_codebase_map",
		Description:  "Summarize the functions, types and classes declared in each file of a directory tree",
		Parameters:   params,
		Capabilities: Capabilities{RequiresNativeEngine: true, Idempotent: true, Retryable: true},
		Validator:    SchemaValidator(params),
	}
}

// CodebaseMapData is the payload of a successful map.
type CodebaseMapData struct {
	Root string `json:"root"`
	Map  string `json:"map"`
}

// Execute builds the map.
func (t *CodebaseMapTool) Execute(ctx context.Context, params Params, tc *Context) Result {
	p, bad := paramsAs[CodebaseMapParams](params)
	if bad != nil {
		return *bad
	}
	if tc.Engine == nil {
		return Fail(CodeEngineUnavailable, "code intelligence engine is not available")
	}

	root := tc.Resolve(p.Path)
	if _, err := tc.FS.Stat(root); err != nil {
		return fsFailure(err, p.Path)
	}
	repoMap, err := tc.Engine.CodebaseMap(ctx, root)
	if err != nil {
		return Failf(CodeExecution, "codebase map failed: %v", err)
	}
	return OK(CodebaseMapData{Root: p.Path, Map: repoMap}).Touching(root).WithSnippet("codebase:"+root, repoMap)
}
