package llm

import (
	"context"
	"sync"
)

// MockClient is a deterministic, configurable Client used throughout the
// test suite so orchestrator/analyzer/evaluator behavior can be exercised
// without a real model endpoint, following the base framework's own
// mock AI provider.
type MockClient struct {
	mu            sync.Mutex
	Responses     []string
	ResponseIndex int
	CallCount     int
	LastPrompt    string
	Err           error
}

// NewMockClient returns a mock whose queue holds a single "Mock response";
// once that is consumed, calls fail until SetResponses refills the queue.
func NewMockClient() *MockClient {
	return &MockClient{Responses: []string{"Mock response"}}
}

// SetResponses replaces the queue of canned responses returned in order.
func (c *MockClient) SetResponses(responses ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Responses = responses
	c.ResponseIndex = 0
}

// SetError forces the next call to fail with err.
func (c *MockClient) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Err = err
}

// GenerateResponse returns the next queued response, or an error if one was
// set via SetError or the queue is exhausted.
func (c *MockClient) GenerateResponse(ctx context.Context, prompt string, opts *Options) (*Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.CallCount++
	c.LastPrompt = prompt

	if c.Err != nil {
		err := c.Err
		c.Err = nil
		return nil, err
	}

	if c.ResponseIndex >= len(c.Responses) {
		return nil, errNoMoreResponses
	}
	content := c.Responses[c.ResponseIndex]
	c.ResponseIndex++

	return &Response{
		Content: content,
		Model:   "mock-model",
		Usage: Usage{
			PromptTokens:     int64(len(prompt) / 4),
			CompletionTokens: int64(len(content) / 4),
		},
	}, nil
}

// GetProviderInfo reports the mock provider's identity.
func (c *MockClient) GetProviderInfo() ProviderInfo {
	return ProviderInfo{Name: "mock", Model: "mock-model"}
}

var errNoMoreResponses = mockErr("mock: no more queued responses")

type mockErr string

func (e mockErr) Error() string { return string(e) }
