package llm

import (
	"context"
	"fmt"
	"strings"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Message is a single turn in a chat-style exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMClient defines the standard interface for any LLM backend
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// NewClient constructs a client for the named provider.
//
// Supported providers: "openai", "ollama". Provider-specific
// configuration comes from the environment (see the constructors).
func NewClient(provider string) (LLMClient, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai":
		return NewOpenAIClient()
	case "ollama":
		return NewOllamaClient()
	default:
		return nil, fmt.Errorf("unknown llm provider: %q (want openai or ollama)", provider)
	}
}
