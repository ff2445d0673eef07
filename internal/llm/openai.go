package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/resilience"
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAIClient talks to any OpenAI-compatible chat-completions endpoint over
// stdlib net/http. No official SDK is vendored anywhere in the retrieved
// corpus, so this mirrors the base framework's own hand-rolled HTTP client.
type OpenAIClient struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	model       string
	temperature float32
	maxTokens   int
	logger      core.Logger
	retry       *resilience.RetryConfig
}

// NewOpenAIClient builds a client from the LLM section of Config.
func NewOpenAIClient(cfg core.LLMConfig, logger core.Logger) *OpenAIClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retry := resilience.DefaultRetryConfig()
	if cfg.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.RetryAttempts
	}
	if cfg.RetryDelay > 0 {
		retry.InitialDelay = cfg.RetryDelay
	}
	return &OpenAIClient{
		httpClient:  core.InstrumentedHTTPClient(timeout),
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
		retry:       retry,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type chatResponse struct {
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerateResponse issues a chat-completion call, retrying transport
// failures, non-200 responses, and malformed responses under the
// configured backoff.
func (c *OpenAIClient) GenerateResponse(ctx context.Context, prompt string, opts *Options) (*Response, error) {
	if c.apiKey == "" {
		c.logger.Error("openai request rejected", "reason", "api_key_missing")
		return nil, fmt.Errorf("openai: API key not configured")
	}

	ctx, span := core.StartSpan(ctx, "selfrefine/llm", "llm.generate")
	defer span.End()

	model := c.model
	temperature := c.temperature
	maxTokens := c.maxTokens
	if opts != nil {
		if opts.Model != "" {
			model = opts.Model
		}
		if opts.Temperature != 0 {
			temperature = opts.Temperature
		}
		if opts.MaxTokens != 0 {
			maxTokens = opts.MaxTokens
		}
	}

	body := chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		core.RecordSpanError(ctx, err)
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	start := time.Now()
	var parsed chatResponse
	err = resilience.Retry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("openai: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("openai request failed", "error", err.Error(), "phase", "transport")
			return fmt.Errorf("openai: request failed: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("openai: read response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			c.logger.Warn("openai request error", "status", resp.StatusCode, "body", string(raw))
			return fmt.Errorf("openai: status %d: %s", resp.StatusCode, string(raw))
		}

		var decoded chatResponse
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("openai: decode response: %w", err)
		}
		if decoded.Error != nil {
			return fmt.Errorf("openai: api error: %s", decoded.Error.Message)
		}
		if len(decoded.Choices) == 0 {
			return fmt.Errorf("openai: empty choices in response")
		}
		parsed = decoded
		return nil
	})
	if err != nil {
		core.RecordSpanError(ctx, err)
		return nil, err
	}

	c.logger.Debug("openai request completed", "model", parsed.Model, "duration_ms", time.Since(start).Milliseconds())

	return &Response{
		Content: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}

// GetProviderInfo reports which provider/model this client talks to.
func (c *OpenAIClient) GetProviderInfo() ProviderInfo {
	return ProviderInfo{Name: "openai", Model: c.model}
}
