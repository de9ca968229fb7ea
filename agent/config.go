// Agent configuration types.
//
// Information Hiding:
// - Configuration validation logic hidden
// - Default values hidden

package agent

import (
	"errors"
	"fmt"
	"time"
)

// Defaults for the turn loop.
const (
	DefaultMaxIterations       = 16
	DefaultReadRepeatThreshold = 3
	DefaultFailureThreshold    = 3
	DefaultEmptyReplyRetries   = 3
	DefaultRetryBaseDelay      = time.Second
)

// DefaultWarningThresholds are the iterations at which advisories escalate.
var DefaultWarningThresholds = []int{10, 13, 15}

// DefaultSystemPrompt frames the model as a coding assistant driving tools.
const DefaultSystemPrompt = `You are a coding assistant working inside the user's repository.
Use the tools to inspect and change the code; do not guess file contents.
Prefer search_code and get_codebase_map over reading many files one by one.
Long-running commands can be started with bash run_in_background and polled with bash_output.
When you have the answer, reply with plain text and no tool calls.`

// Config holds agent configuration.
type Config struct {
	// Name identifies the agent in logs.
	Name string

	// SystemPrompt guides the model's behavior.
	SystemPrompt string

	// MaxIterations bounds tool round trips per turn.
	MaxIterations int

	// WarningThresholds are iteration counts that trigger escalating
	// advisories. Each must lie in (0, MaxIterations).
	WarningThresholds []int

	// ReadRepeatThreshold is how many reads of one target raise the
	// guardrail warning.
	ReadRepeatThreshold int

	// FailureThreshold is how many tool failures raise the escalation
	// warning.
	FailureThreshold int

	// EmptyReplyRetries and RetryBaseDelay shape the model-call retry.
	EmptyReplyRetries int
	RetryBaseDelay    time.Duration
}

// DefaultConfig returns the standard loop configuration.
func DefaultConfig() Config {
	return Config{
		Name:                "loom",
		SystemPrompt:        DefaultSystemPrompt,
		MaxIterations:       DefaultMaxIterations,
		WarningThresholds:   append([]int(nil), DefaultWarningThresholds...),
		ReadRepeatThreshold: DefaultReadRepeatThreshold,
		FailureThreshold:    DefaultFailureThreshold,
		EmptyReplyRetries:   DefaultEmptyReplyRetries,
		RetryBaseDelay:      DefaultRetryBaseDelay,
	}
}

// Validate checks the configuration for values the loop cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("max iterations must be positive, got %d", c.MaxIterations))
	}
	for _, t := range c.WarningThresholds {
		if t <= 0 || t >= c.MaxIterations {
			errs = append(errs, fmt.Errorf("warning threshold %d outside (0, %d)", t, c.MaxIterations))
		}
	}
	if c.ReadRepeatThreshold <= 0 {
		errs = append(errs, fmt.Errorf("read repeat threshold must be positive, got %d", c.ReadRepeatThreshold))
	}
	if c.FailureThreshold <= 0 {
		errs = append(errs, fmt.Errorf("failure threshold must be positive, got %d", c.FailureThreshold))
	}
	if c.EmptyReplyRetries < 0 {
		errs = append(errs, fmt.Errorf("empty reply retries must not be negative, got %d", c.EmptyReplyRetries))
	}
	return errors.Join(errs...)
}
