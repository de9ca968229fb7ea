// Package agent provides the orchestrator: the per-turn loop that drives a
// model session, executes the tools it requests, and condenses the outcome.
//
// Contains the response and diagnostic types returned for each turn.
package agent

import (
	"github.com/richinex/loom/contextstore"
	"github.com/richinex/loom/llm"
	"github.com/richinex/loom/model"
)

// Step is an alias for model.Step for per-iteration records.
type Step = model.Step

// ToolCall is an alias for model.ToolCall for tool call metrics.
type ToolCall = model.ToolCall

// Metadata contains metadata about one turn.
type Metadata struct {
	ExecutionTimeMs uint64
	Iterations      int
	ModelCalls      int // includes retried sends
	ToolCalls       []ToolCall
	TokenUsage      *llm.TokenUsage
	Context         contextstore.Usage
}

// Diagnostics records the advisories raised during a turn. None of them
// change what the loop does.
type Diagnostics struct {
	// ReadCounts counts read-like calls per "tool:target".
	ReadCounts        map[string]int
	GuardrailWarnings int
	Loops             []string
	Failures          int
	Escalated         bool
	Advisories        []string
}

// ResponseType indicates the type of agent response.
type ResponseType int

const (
	ResponseSuccess ResponseType = iota
	ResponseFailure
	// ResponseTimeout means the iteration budget ran out while the model
	// still wanted tools.
	ResponseTimeout
)

func (t ResponseType) String() string {
	switch t {
	case ResponseSuccess:
		return "success"
	case ResponseFailure:
		return "failure"
	case ResponseTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Response represents the outcome of one turn.
type Response struct {
	Type          ResponseType
	Result        string // For Success
	Error         string // For Failure
	PartialResult string // For Timeout: the synthesized summary
	Intent        Intent
	Plan          []string
	Steps         []Step
	Diagnostics   Diagnostics
	Metadata      Metadata
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(result string, steps []Step, meta Metadata) Response {
	return Response{Type: ResponseSuccess, Result: result, Steps: steps, Metadata: meta}
}

// NewFailureResponse creates a failure response.
func NewFailureResponse(err string, steps []Step, meta Metadata) Response {
	return Response{Type: ResponseFailure, Error: err, Steps: steps, Metadata: meta}
}

// NewTimeoutResponse creates a response for an exhausted iteration budget.
func NewTimeoutResponse(summary string, steps []Step, meta Metadata) Response {
	return Response{Type: ResponseTimeout, PartialResult: summary, Steps: steps, Metadata: meta}
}

// ResultText returns whichever text the response carries. It is never
// empty for a completed turn.
func (r Response) ResultText() string {
	switch r.Type {
	case ResponseSuccess:
		return r.Result
	case ResponseFailure:
		return r.Error
	case ResponseTimeout:
		return r.PartialResult
	default:
		return ""
	}
}

// IsSuccess checks if the response was successful.
func (r Response) IsSuccess() bool {
	return r.Type == ResponseSuccess
}
