package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	GatewayName    = "gateway"
	GatewayBaseURL = "https://openrouter.ai/api/v1"

	gatewayDefaultModel          = "anthropic/claude-sonnet-4"
	gatewayDefaultRPS            = 50.0
	gatewayDefaultMaxInputTokens = 180000
)

// GatewayConfig holds configuration for the unified model gateway client.
type GatewayConfig struct {
	APIKey         string
	BaseURL        string
	DefaultModel   string
	MaxInputTokens int
	Timeout        time.Duration
	// Rate limiting
	RPS        float64       // Requests per second (default: 50)
	MaxRetries int           // Max retry attempts (default: 3)
	RetryDelay time.Duration // Base delay between retries (default: 1s)
}

// GatewayClient implements ModelClient against an OpenAI-compatible
// chat-completions gateway (OpenRouter or any self-hosted equivalent).
type GatewayClient struct {
	apiKey         string
	baseURL        string
	defaultModel   string
	maxInputTokens int
	client         *http.Client
	// Rate limiting
	rps        float64
	maxRetries int
	retryDelay time.Duration
}

// NewGatewayClient creates a new gateway client.
func NewGatewayClient(cfg GatewayConfig) *GatewayClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = GatewayBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = gatewayDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RPS == 0 {
		cfg.RPS = gatewayDefaultRPS
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxInputTokens == 0 {
		cfg.MaxInputTokens = gatewayDefaultMaxInputTokens
	}

	return &GatewayClient{
		apiKey:         cfg.APIKey,
		baseURL:        cfg.BaseURL,
		defaultModel:   cfg.DefaultModel,
		maxInputTokens: cfg.MaxInputTokens,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		rps:        cfg.RPS,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// Name returns the client identifier.
func (c *GatewayClient) Name() string {
	return GatewayName
}

// MaxInputTokens returns the context-window admission limit.
func (c *GatewayClient) MaxInputTokens() int {
	return c.maxInputTokens
}

// RequestsPerSecond returns the RPS limit for rate limiting.
func (c *GatewayClient) RequestsPerSecond() float64 {
	return c.rps
}

// Chat sends a chat completion request.
func (c *GatewayClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	gwReq := gatewayRequest{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages:    make([]gatewayMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		gwReq.Messages = append(gwReq.Messages, gatewayMessage{Role: m.Role, Content: m.Content})
	}

	result := &ChatResult{
		RequestID: requestID,
		Provider:  GatewayName,
		Attempts:  1,
	}

	gwResp, err := c.doRequest(ctx, "/chat/completions", &gwReq)
	if err != nil {
		result.Success = false
		result.ErrorType = "http_error"
		result.ErrorMessage = err.Error()
		result.FinishReason = FinishReasonError
		result.ExecutionTime = time.Since(start)
		return result, err
	}

	if len(gwResp.Choices) == 0 {
		result.Success = false
		result.ErrorType = "empty_response"
		result.ErrorMessage = "no choices in response"
		result.FinishReason = FinishReasonError
		result.ExecutionTime = time.Since(start)
		return result, fmt.Errorf("no choices in response")
	}

	choice := gwResp.Choices[0]
	result.Success = true
	result.Content = choice.Message.Content
	result.FinishReason = choice.FinishReason
	if result.FinishReason == "" {
		result.FinishReason = FinishReasonStop
	}
	result.ModelUsed = gwResp.Model
	result.Usage = TokenUsage{
		PromptTokens:     gwResp.Usage.PromptTokens,
		CompletionTokens: gwResp.Usage.CompletionTokens,
		TotalTokens:      gwResp.Usage.TotalTokens,
	}
	result.CostUSD = gwResp.Usage.Cost
	result.ExecutionTime = time.Since(start)

	return result, nil
}

// doRequest makes an HTTP request to the gateway with retry on transient
// status codes.
func (c *GatewayClient) doRequest(ctx context.Context, path string, gwReq *gatewayRequest) (*gatewayResponse, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bodyBytes, err := json.Marshal(gwReq)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("X-Title", "Dialectic")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			c.sleepWithBackoff(ctx, attempt)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			c.sleepWithBackoff(ctx, attempt)
			continue
		}

		if c.shouldRetry(resp.StatusCode) {
			lastErr = fmt.Errorf("gateway error (status %d): %s", resp.StatusCode, string(respBody))
			c.sleepWithBackoff(ctx, attempt)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("gateway error (status %d): %s", resp.StatusCode, string(respBody))
		}

		var gwResp gatewayResponse
		if err := json.Unmarshal(respBody, &gwResp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}

		return &gwResp, nil
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// shouldRetry returns true for status codes that should be retried.
func (c *GatewayClient) shouldRetry(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return true
	default:
		return statusCode >= 500
	}
}

// sleepWithBackoff sleeps with exponential backoff, respecting context
// cancellation.
func (c *GatewayClient) sleepWithBackoff(ctx context.Context, attempt int) {
	delay := c.retryDelay * time.Duration(1<<attempt)
	if delay > 10*time.Second {
		delay = 10 * time.Second
	}

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// Gateway API types

type gatewayRequest struct {
	Model       string           `json:"model"`
	Messages    []gatewayMessage `json:"messages"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

type gatewayMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type gatewayResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int     `json:"prompt_tokens"`
		CompletionTokens int     `json:"completion_tokens"`
		TotalTokens      int     `json:"total_tokens"`
		Cost             float64 `json:"cost"`
	} `json:"usage"`
}

// Verify interface
var _ ModelClient = (*GatewayClient)(nil)
