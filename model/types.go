// Package model provides domain types shared across packages.
package model

// Step is one model round trip within a turn.
type Step struct {
	Iteration int      `json:"iteration"`
	Text      string   `json:"text,omitempty"`
	Tools     []string `json:"tools,omitempty"`
}

// ToolCall contains metrics about a tool invocation.
// Used for tracking and analytics by the agent loop and the chat surface.
type ToolCall struct {
	Name       string `json:"name"`
	Target     string `json:"target,omitempty"`
	InputSize  int    `json:"input_size"`
	OutputSize int    `json:"output_size"`
	DurationMs uint64 `json:"duration_ms"`
	Success    bool   `json:"success"`
	Code       string `json:"code,omitempty"`
}

// CountByName returns how often each tool was called, in first-use order.
func CountByName(calls []ToolCall) (names []string, counts map[string]int) {
	counts = make(map[string]int)
	for _, c := range calls {
		if counts[c.Name] == 0 {
			names = append(names, c.Name)
		}
		counts[c.Name]++
	}
	return names, counts
}
