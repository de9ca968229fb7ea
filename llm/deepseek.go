// DeepSeek speaks the OpenAI Chat Completions protocol at its own base URL.

package llm

import (
	openai "github.com/sashabaranov/go-openai"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// NewDeepSeekProvider creates a DeepSeek provider backed by the OpenAI
// client.
func NewDeepSeekProvider(apiKey, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = deepseekBaseURL

	p := NewOpenAICompatibleProvider("deepseek", config, model, maxTokens, temperature)
	p.legacyMaxTokens = true
	return p
}
