package providers

import (
	"context"
	"time"
)

// Finish reasons reported by model providers. Length means the model ran out
// of completion budget and the output is truncated.
const (
	FinishReasonStop          = "stop"
	FinishReasonLength        = "length"
	FinishReasonContentFilter = "content_filter"
	FinishReasonError         = "error"
)

// ModelClient is the interface all model providers implement.
type ModelClient interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// Name returns the client identifier (e.g., "gateway").
	Name() string

	// MaxInputTokens returns the configured context-window admission limit
	// for this provider's default model. Zero means unknown.
	MaxInputTokens() int

	// RequestsPerSecond returns the RPS limit for rate limiting.
	RequestsPerSecond() float64
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ChatRequest is a request to a model provider.
type ChatRequest struct {
	Messages []Message `json:"messages"`

	// Model selection (uses the client default if empty)
	Model string `json:"model,omitempty"`

	// Generation parameters
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Timeout     time.Duration

	// Request tracking
	RequestID string `json:"-"`
}

// TokenUsage reports prompt/completion token counts for one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResult is the complete response from a model call.
type ChatResult struct {
	// Response content
	Content string `json:"content"`

	// FinishReason is one of the FinishReason* constants. Continuation
	// handling keys off FinishReasonLength.
	FinishReason string `json:"finish_reason"`

	Usage TokenUsage `json:"usage"`

	// Cost and timing
	CostUSD       float64       `json:"cost_usd"`
	ExecutionTime time.Duration `json:"execution_time"`

	// Provider info
	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`

	// Request tracking
	RequestID string `json:"request_id"`
	Attempts  int    `json:"attempts"`

	// Success/error
	Success      bool   `json:"success"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Truncated reports whether the model stopped because it ran out of
// completion budget.
func (r *ChatResult) Truncated() bool {
	return r.FinishReason == FinishReasonLength
}
