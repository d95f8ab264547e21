package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockResponse scripts one response from the mock client.
type MockResponse struct {
	Content      string
	FinishReason string // Defaults to "stop"
	Err          error  // Returned instead of a successful result
}

// MockClient is a ModelClient for testing. Responses can be scripted per
// call; once the script is exhausted the last entry repeats.
type MockClient struct {
	// Configurable behavior
	Latency      time.Duration
	ShouldFail   bool
	FailFirst    int    // Fail the first N requests, then succeed
	ResponseText string // Used when Script is empty
	Tokens       int    // Max input tokens reported (default 100000)
	RPS          float64

	mu      sync.Mutex
	script  []MockResponse
	lastReq *ChatRequest

	requestCount atomic.Int64
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		ResponseText: "mock response",
		Tokens:       100000,
		RPS:          60,
	}
}

// Enqueue appends scripted responses, consumed in order by Chat.
func (c *MockClient) Enqueue(resps ...MockResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, resps...)
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// MaxInputTokens returns the configured context-window limit.
func (c *MockClient) MaxInputTokens() int {
	if c.Tokens <= 0 {
		return 100000
	}
	return c.Tokens
}

// RequestsPerSecond returns the RPS limit.
func (c *MockClient) RequestsPerSecond() float64 {
	return c.RPS
}

// Chat sends a mock chat request.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	count := c.requestCount.Add(1)
	c.mu.Lock()
	c.lastReq = req
	c.mu.Unlock()

	result := &ChatResult{
		RequestID: fmt.Sprintf("mock-%d", count),
		Provider:  MockClientName,
		ModelUsed: req.Model,
		Attempts:  1,
	}

	fail := c.ShouldFail || (c.FailFirst > 0 && int(count) <= c.FailFirst)

	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			result.Success = false
			result.ErrorType = "context_cancelled"
			result.ErrorMessage = ctx.Err().Error()
			result.FinishReason = FinishReasonError
			return result, ctx.Err()
		}
	}

	if fail {
		result.Success = false
		result.ErrorType = "mock_failure"
		result.ErrorMessage = "mock client configured to fail"
		result.FinishReason = FinishReasonError
		result.ExecutionTime = time.Since(start)
		return result, fmt.Errorf("mock client configured to fail")
	}

	content := c.ResponseText
	finish := FinishReasonStop

	c.mu.Lock()
	if len(c.script) > 0 {
		next := c.script[0]
		if len(c.script) > 1 {
			c.script = c.script[1:]
		}
		c.mu.Unlock()

		if next.Err != nil {
			result.Success = false
			result.ErrorType = "mock_failure"
			result.ErrorMessage = next.Err.Error()
			result.FinishReason = FinishReasonError
			result.ExecutionTime = time.Since(start)
			return result, next.Err
		}
		content = next.Content
		if next.FinishReason != "" {
			finish = next.FinishReason
		}
	} else {
		c.mu.Unlock()
	}

	result.Success = true
	result.Content = content
	result.FinishReason = finish
	result.ExecutionTime = time.Since(start)

	promptTokens := 0
	for _, m := range req.Messages {
		promptTokens += len(m.Content) / 4
	}
	result.Usage = TokenUsage{
		PromptTokens:     promptTokens,
		CompletionTokens: len(content) / 4,
		TotalTokens:      promptTokens + len(content)/4,
	}
	result.CostUSD = 0.001

	return result, nil
}

// RequestCount returns the number of requests made.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// LastRequest returns the most recent request passed to Chat, or nil if
// no request has been made.
func (c *MockClient) LastRequest() *ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReq
}

// Reset resets the request counter and clears the script.
func (c *MockClient) Reset() {
	c.requestCount.Store(0)
	c.mu.Lock()
	c.script = nil
	c.lastReq = nil
	c.mu.Unlock()
}

// Verify interface
var _ ModelClient = (*MockClient)(nil)
