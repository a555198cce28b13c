package llm

import (
	"fmt"
	"strings"
)

// DefaultOllamaURL is Ollama's OpenAI-compatible endpoint
const DefaultOllamaURL = "http://localhost:11434/v1"

// NewProvider creates a new LLM provider based on configuration. An empty
// provider (or "rules") returns nil: the offline evaluators are used.
func NewProvider(config Config) (Provider, error) {
	provider := strings.ToLower(config.Provider)

	switch provider {
	case "openai":
		return NewOpenAIProvider(config)

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "ollama":
		// Ollama serves the OpenAI chat API and ignores the key
		if config.BaseURL == "" {
			config.BaseURL = DefaultOllamaURL
		}
		if config.APIKey == "" {
			config.APIKey = "ollama"
		}
		if config.Model == "" {
			config.Model = "llama3.1"
		}
		p, err := NewOpenAIProvider(config)
		if err != nil {
			return nil, err
		}
		p.name = "ollama"
		return p, nil

	case "", "rules":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, anthropic, ollama, rules)", config.Provider)
	}
}
