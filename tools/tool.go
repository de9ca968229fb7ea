// Package tools provides the tool system for the agent runtime.
//
// Information Hiding:
// - Tool execution details hidden behind the Tool interface
// - Parameter decoding hidden behind the Params tagged union
// - Every outcome normalized into a Result; no tool fault escapes as a Go error
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ErrorCode classifies a failed tool invocation.
type ErrorCode string

const (
	CodeToolNotFound      ErrorCode = "TOOL_NOT_FOUND"
	CodeValidation        ErrorCode = "VALIDATION_ERROR"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeExecution         ErrorCode = "EXECUTION_ERROR"
	CodeUserCancelled     ErrorCode = "USER_CANCELLED"
	CodeBashNotFound      ErrorCode = "BASH_NOT_FOUND"
	CodeCommandFailed     ErrorCode = "COMMAND_FAILED"
	CodeFileNotFound      ErrorCode = "FILE_NOT_FOUND"
	CodeEngineUnavailable ErrorCode = "ENGINE_UNAVAILABLE"
)

// ToolError is the failure payload of a Result.
type ToolError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Metadata describes how an invocation ran.
type Metadata struct {
	ExecutionTimeMs int64    `json:"executionTimeMs"`
	TouchedPaths    []string `json:"touchedPaths,omitempty"`
}

// Snippet is text a context-producing tool offers to the context store.
type Snippet struct {
	Source  string
	Content string
}

// Result is the uniform outcome of one invocation.
type Result struct {
	Success  bool       `json:"success"`
	Data     any        `json:"data,omitempty"`
	Error    *ToolError `json:"error,omitempty"`
	Metadata Metadata   `json:"metadata"`

	// Snippet is set by tools whose output is worth caching as context.
	Snippet *Snippet `json:"-"`
}

// OK creates a successful result.
func OK(data any) Result {
	return Result{Success: true, Data: data}
}

// Fail creates a failed result.
func Fail(code ErrorCode, message string) Result {
	return Result{Error: &ToolError{Code: code, Message: message}}
}

// Failf creates a failed result with a formatted message.
func Failf(code ErrorCode, format string, args ...any) Result {
	return Fail(code, fmt.Sprintf(format, args...))
}

// WithDetails attaches details to a failed result.
func (r Result) WithDetails(details any) Result {
	if r.Error != nil {
		r.Error.Details = details
	}
	return r
}

// Touching records paths the invocation read or wrote.
func (r Result) Touching(paths ...string) Result {
	r.Metadata.TouchedPaths = append(r.Metadata.TouchedPaths, paths...)
	return r
}

// WithSnippet marks the result as context-producing.
func (r Result) WithSnippet(source, content string) Result {
	r.Snippet = &Snippet{Source: source, Content: content}
	return r
}

// Code returns the error code, or "" on success.
func (r Result) Code() ErrorCode {
	if r.Error == nil {
		return ""
	}
	return r.Error.Code
}

// String renders the result as the JSON sent back to the model.
func (r Result) String() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":{"code":%q,"message":%q}}`, CodeExecution, err.Error())
	}
	return string(data)
}

// Capabilities flags what a tool may do to its environment.
type Capabilities struct {
	WritesFiles          bool `json:"writesFiles"`
	ExecutesCommands     bool `json:"executesCommands"`
	RequiresNativeEngine bool `json:"requiresNativeEngine"`
	AccessesNetwork      bool `json:"accessesNetwork"`
	Idempotent           bool `json:"idempotent"`
	Retryable            bool `json:"retryable"`
}

// ToolParameter defines a parameter schema for a tool.
type ToolParameter struct {
	Name        string         `json:"name"`
	ParamType   string         `json:"param_type"`
	Description string         `json:"description"`
	Required    bool           `json:"required"`
	Items       map[string]any `json:"items,omitempty"`
}

// Validator checks raw arguments and returns every violation found.
type Validator func(args json.RawMessage) []string

// Descriptor describes a callable capability. Immutable once registered.
type Descriptor struct {
	Name         string
	Description  string
	Parameters   []ToolParameter
	Capabilities Capabilities
	Validator    Validator

	// Timeout overrides the executor default for this tool when non-zero.
	Timeout time.Duration
}

// String returns a one-line summary.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s: %s", d.Name, d.Description)
}

// Tool is the interface that all tools must implement.
//
// Execute receives parameters already validated and decoded into the tool's
// Params variant. Cancellation arrives through ctx.
type Tool interface {
	Descriptor() Descriptor
	Execute(ctx context.Context, params Params, tc *Context) Result
}

// TimeoutHinter lets a tool widen its executor deadline per call, e.g. a
// shell command that carries its own timeout argument.
type TimeoutHinter interface {
	CallTimeout(params Params) time.Duration
}

// ToolConfig holds executor configuration.
// The zero value is safe: the timeout defaults to 30 seconds.
type ToolConfig struct {
	TimeoutMs uint64
}

// DefaultTimeout is applied when neither the call nor the tool sets one.
const DefaultTimeout = 30 * time.Second

// Timeout returns the configured timeout, defaulting to 30 seconds.
func (c ToolConfig) Timeout() time.Duration {
	if c.TimeoutMs == 0 {
		return DefaultTimeout
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}
