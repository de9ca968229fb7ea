// Tagged union of tool parameters.
//
// Information Hiding:
// - Raw JSON never reaches a builtin tool body
// - Each builtin owns exactly one Params variant

package tools

import (
	"encoding/json"
	"fmt"
)

// Params is the decoded parameter set of one tool call. The set of variants
// is closed; tools outside this package receive RawParams.
type Params interface {
	toolName() string
}

type ReadFileParams struct {
	Path   string `json:"path"`
	Offset int    `json:"offset,omitempty"` // first line, 1-based
	Limit  int    `json:"limit,omitempty"`  // max lines
}

type WriteFileParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type EditFileParams struct {
	Path       string `json:"path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

type ListDirectoryParams struct {
	Path   string   `json:"path"`
	Ignore []string `json:"ignore,omitempty"`
}

type GlobParams struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

type SearchCodeParams struct {
	Pattern         string `json:"pattern"`
	Path            string `json:"path,omitempty"`
	Include         string `json:"include,omitempty"`
	CaseInsensitive bool   `json:"case_insensitive,omitempty"`
	MaxResults      int    `json:"max_results,omitempty"`
}

type CodebaseMapParams struct {
	Path string `json:"path,omitempty"`
}

type BashParams struct {
	Command         string `json:"command"`
	TimeoutMs       int    `json:"timeout,omitempty"`
	RunInBackground bool   `json:"run_in_background,omitempty"`
	Description     string `json:"description,omitempty"`
}

type HTTPRequestParams struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"`
	Body   string `json:"body,omitempty"`
}

type BashOutputParams struct {
	BashID string `json:"bash_id"`
}

type KillBashParams struct {
	BashID string `json:"bash_id"`
}

// RawParams carries arguments for tools that decode their own input,
// such as MCP-backed or user-defined tools.
type RawParams struct {
	Tool string
	Args json.RawMessage
}

func (ReadFileParams) toolName() string      { return "read_file" }
func (WriteFileParams) toolName() string     { return "write_file" }
func (EditFileParams) toolName() string      { return "edit_file" }
func (ListDirectoryParams) toolName() string { return "list_directory" }
func (GlobParams) toolName() string          { return "glob" }
func (SearchCodeParams) toolName() string    { return "search_code" }
func (CodebaseMapParams) toolName() string   { return "get_codebase_map" }
func (BashParams) toolName() string          { return "bash" }
func (BashOutputParams) toolName() string    { return "bash_output" }
func (HTTPRequestParams) toolName() string   { return "http_request" }
func (KillBashParams) toolName() string      { return "kill_bash" }
func (p RawParams) toolName() string         { return p.Tool }

var decoders = map[string]func(json.RawMessage) (Params, error){
	"read_file":        decodeAs[ReadFileParams],
	"write_file":       decodeAs[WriteFileParams],
	"edit_file":        decodeAs[EditFileParams],
	"list_directory":   decodeAs[ListDirectoryParams],
	"glob":             decodeAs[GlobParams],
	"search_code":      decodeAs[SearchCodeParams],
	"get_codebase_map": decodeAs[CodebaseMapParams],
	"bash":             decodeAs[BashParams],
	"bash_output":      decodeAs[BashOutputParams],
	"kill_bash":        decodeAs[KillBashParams],
	"http_request":     decodeAs[HTTPRequestParams],
}

// DecodeParams turns raw arguments into the Params variant for tool name.
// Unknown names decode to RawParams.
func DecodeParams(name string, args json.RawMessage) (Params, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	decode, ok := decoders[name]
	if !ok {
		if !json.Valid(args) {
			return nil, fmt.Errorf("arguments for '%s' are not valid JSON", name)
		}
		return RawParams{Tool: name, Args: args}, nil
	}
	return decode(args)
}

func decodeAs[T Params](args json.RawMessage) (Params, error) {
	var p T
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, fmt.Errorf("decode %s arguments: %w", p.toolName(), err)
	}
	return p, nil
}

// paramsAs asserts the variant a builtin expects. A mismatch means the tool
// was registered under a name whose decoder produces another variant.
func paramsAs[T Params](params Params) (T, *Result) {
	p, ok := params.(T)
	if !ok {
		res := Failf(CodeValidation, "unexpected parameter type %T", params)
		return p, &res
	}
	return p, nil
}
