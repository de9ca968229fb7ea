// Agent builder for fluent configuration.
//
// Information Hiding:
// - Builder state management hidden
// - Default value application hidden

package agent

import (
	"time"
)

// Builder provides fluent configuration for creating agent configs.
// Usage: agent.NewBuilder("name") - no stutter.
type Builder struct {
	config Config
}

// NewBuilder creates a builder seeded with DefaultConfig.
func NewBuilder(name string) *Builder {
	config := DefaultConfig()
	config.Name = name
	return &Builder{config: config}
}

// SystemPrompt sets the system prompt.
func (b *Builder) SystemPrompt(prompt string) *Builder {
	b.config.SystemPrompt = prompt
	return b
}

// MaxIterations sets the per-turn iteration budget.
func (b *Builder) MaxIterations(n int) *Builder {
	b.config.MaxIterations = n
	return b
}

// WarningThresholds replaces the advisory thresholds.
func (b *Builder) WarningThresholds(thresholds ...int) *Builder {
	b.config.WarningThresholds = thresholds
	return b
}

// ReadRepeatThreshold sets when repeated reads raise a warning.
func (b *Builder) ReadRepeatThreshold(n int) *Builder {
	b.config.ReadRepeatThreshold = n
	return b
}

// FailureThreshold sets when accumulated failures escalate.
func (b *Builder) FailureThreshold(n int) *Builder {
	b.config.FailureThreshold = n
	return b
}

// Retry sets the empty-reply retry count and first backoff delay.
func (b *Builder) Retry(retries int, baseDelay time.Duration) *Builder {
	b.config.EmptyReplyRetries = retries
	b.config.RetryBaseDelay = baseDelay
	return b
}

// Build validates and returns the configuration.
func (b *Builder) Build() (Config, error) {
	config := b.config
	config.WarningThresholds = append([]int(nil), config.WarningThresholds...)
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultSystemPrompt
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}
