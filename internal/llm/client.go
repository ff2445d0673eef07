// Package llm provides the language-model client abstraction shared by the
// Generator (artifact synthesis), Evaluator (llm_evaluation test handler),
// and Analyzer (learnings synthesis).
package llm

import (
	"context"
	"fmt"

	"github.com/sral/selfrefine/core"
)

// Usage records prompt/completion token counts for cost accounting.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// Response is a single model completion.
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// ProviderInfo describes which concrete backend is answering requests.
type ProviderInfo struct {
	Name  string
	Model string
}

// Options adjusts a single generation call, overriding the client's
// configured defaults.
type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Client is the AIClient-shaped interface every component depends on.
// Concrete implementations: the OpenAI-compatible HTTP provider and the
// deterministic mock used by tests.
type Client interface {
	GenerateResponse(ctx context.Context, prompt string, opts *Options) (*Response, error)
	GetProviderInfo() ProviderInfo
}

// NewFromConfig builds the configured provider: the mock when
// cfg.LLM.Mock is set, otherwise the OpenAI-compatible HTTP client. With
// mock mode off and no API key configured it returns an error.
func NewFromConfig(cfg *core.Config, logger core.Logger) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm: nil config")
	}
	if cfg.LLM.Mock {
		return NewMockClient(), nil
	}
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("llm: no API key configured and mock mode disabled")
	}
	return NewOpenAIClient(cfg.LLM, logger), nil
}
