// Package llm provides completion providers used by the assignment reasoner.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Request is a single-turn completion request.
type Request struct {
	System    string `json:"system,omitempty"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// Response is the provider's completion.
type Response struct {
	Text         string `json:"text"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
}

// Provider is the interface for completion providers.
type Provider interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Config holds configuration for provider construction.
type Config struct {
	Provider  string      `json:"provider"` // anthropic, openai, google
	Model     string      `json:"model"`
	APIKey    string      `json:"api_key"`
	BaseURL   string      `json:"base_url"` // Custom API endpoint, where the SDK supports one
	MaxTokens int         `json:"max_tokens"`
	Retry     RetryConfig `json:"retry"`
}

// RetryConfig holds retry settings for provider calls.
type RetryConfig struct {
	MaxRetries  int           `json:"max_retries"`  // Max retry attempts (default 5)
	MaxBackoff  time.Duration `json:"max_backoff"`  // Max backoff duration (default 60s)
	InitBackoff time.Duration `json:"init_backoff"` // Initial backoff (default 1s)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api key is required")
	}
	if c.MaxTokens == 0 {
		return fmt.Errorf("max_tokens is required")
	}
	return nil
}

// --- Mock Provider for Testing ---

// MockProvider is a mock completion provider for testing.
type MockProvider struct {
	response     string
	inputTokens  int
	outputTokens int
	lastRequest  *Request
	err          error
	callCount    int

	// CompleteFunc can be overridden for custom behavior
	CompleteFunc func(ctx context.Context, req Request) (*Response, error)
}

// NewMockProvider creates a new mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// SetResponse sets the response text.
func (p *MockProvider) SetResponse(text string) {
	p.response = text
}

// SetTokenCounts sets the token counts.
func (p *MockProvider) SetTokenCounts(input, output int) {
	p.inputTokens = input
	p.outputTokens = output
}

// SetError sets an error to return.
func (p *MockProvider) SetError(err error) {
	p.err = err
}

// LastRequest returns the last request.
func (p *MockProvider) LastRequest() *Request {
	return p.lastRequest
}

// CallCount returns the number of Complete calls made.
func (p *MockProvider) CallCount() int {
	return p.callCount
}

// Reset resets the call count.
func (p *MockProvider) Reset() {
	p.callCount = 0
}

// Complete implements the Provider interface.
func (p *MockProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	p.callCount++
	p.lastRequest = &req

	if p.CompleteFunc != nil {
		return p.CompleteFunc(ctx, req)
	}

	if p.err != nil {
		return nil, p.err
	}

	return &Response{
		Text:         p.response,
		InputTokens:  p.inputTokens,
		OutputTokens: p.outputTokens,
		Model:        "mock",
	}, nil
}
