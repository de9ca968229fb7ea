package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordClassifier(t *testing.T) {
	tests := []struct {
		request string
		kind    IntentKind
		scope   Scope
		files   []string
	}{
		{"Why does server.go return 500?", IntentQuestion, ScopeNarrow, []string{"server.go"}},
		{"Fix the failing test in pkg/store_test.go", IntentDebug, ScopeNarrow, []string{"pkg/store_test.go"}},
		{"Rename Foo to Bar across the codebase", IntentEdit, ScopeBroad, nil},
		{"run the tests", IntentCommand, ScopeBroad, nil},
		{"where is the config loaded?", IntentExplore, ScopeBroad, nil},
		{"what does this project do", IntentQuestion, ScopeBroad, nil},
	}
	for _, tt := range tests {
		t.Run(tt.request, func(t *testing.T) {
			got := KeywordClassifier{}.Classify(tt.request)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.scope, got.Scope)
			assert.Equal(t, tt.files, got.Files)
		})
	}
}

func TestTemplatePlannerReturnsCopy(t *testing.T) {
	p := TemplatePlanner{}
	steps := p.Plan("", Intent{Kind: IntentDebug})
	require.NotEmpty(t, steps)
	steps[0] = "changed"
	assert.NotEqual(t, "changed", p.Plan("", Intent{Kind: IntentDebug})[0])
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero iterations", func(c *Config) { c.MaxIterations = 0 }, true},
		{"threshold at max", func(c *Config) { c.WarningThresholds = []int{16} }, true},
		{"threshold zero", func(c *Config) { c.WarningThresholds = []int{0} }, true},
		{"no thresholds", func(c *Config) { c.WarningThresholds = nil }, false},
		{"negative retries", func(c *Config) { c.EmptyReplyRetries = -1 }, true},
		{"zero read threshold", func(c *Config) { c.ReadRepeatThreshold = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			assert.Equal(t, tt.wantErr, err != nil, "err = %v", err)
		})
	}
}

func TestBuilder(t *testing.T) {
	c, err := NewBuilder("test").MaxIterations(8).WarningThresholds(4, 6).Retry(1, 10*time.Millisecond).Build()
	require.NoError(t, err)
	assert.Equal(t, "test", c.Name)
	assert.Equal(t, 8, c.MaxIterations)
	assert.Equal(t, []int{4, 6}, c.WarningThresholds)
	assert.Equal(t, DefaultSystemPrompt, c.SystemPrompt)

	_, err = NewBuilder("bad").MaxIterations(4).Build()
	assert.Error(t, err, "default thresholds exceed a budget of 4")
}
