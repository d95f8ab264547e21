package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIName = "openai"

	openaiDefaultModel          = "gpt-4o"
	openaiDefaultRPS            = 30.0
	openaiDefaultMaxInputTokens = 120000
)

// OpenAIConfig holds configuration for the OpenAI chat client.
type OpenAIConfig struct {
	APIKey         string
	Model          string
	BaseURL        string // Optional (tests, proxies)
	MaxInputTokens int
	Timeout        time.Duration
	RPS            float64
	MaxRetries     int
	HTTPClient     *http.Client // Optional (tests)
}

// OpenAIClient implements ModelClient using the official OpenAI SDK.
type OpenAIClient struct {
	apiKey         string
	model          string
	maxInputTokens int
	rps            float64
	client         openai.Client
}

// NewOpenAIClient creates a new OpenAI chat client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = openaiDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RPS == 0 {
		cfg.RPS = openaiDefaultRPS
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxInputTokens == 0 {
		cfg.MaxInputTokens = openaiDefaultMaxInputTokens
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		apiKey:         cfg.APIKey,
		model:          cfg.Model,
		maxInputTokens: cfg.MaxInputTokens,
		rps:            cfg.RPS,
		client:         openai.NewClient(opts...),
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// MaxInputTokens returns the context-window admission limit.
func (c *OpenAIClient) MaxInputTokens() int {
	return c.maxInputTokens
}

// RequestsPerSecond returns the configured rate limit.
func (c *OpenAIClient) RequestsPerSecond() float64 {
	return c.rps
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	result := &ChatResult{
		RequestID: requestID,
		Provider:  OpenAIName,
		Attempts:  1,
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		result.Success = false
		result.ErrorType = "api_error"
		result.ErrorMessage = err.Error()
		result.FinishReason = FinishReasonError
		result.ExecutionTime = time.Since(start)
		return result, err
	}

	if len(resp.Choices) == 0 {
		result.Success = false
		result.ErrorType = "empty_response"
		result.ErrorMessage = "no choices in response"
		result.FinishReason = FinishReasonError
		result.ExecutionTime = time.Since(start)
		return result, fmt.Errorf("no choices in response")
	}

	choice := resp.Choices[0]
	result.Success = true
	result.Content = choice.Message.Content
	result.FinishReason = string(choice.FinishReason)
	if result.FinishReason == "" {
		result.FinishReason = FinishReasonStop
	}
	result.ModelUsed = resp.Model
	result.Usage = TokenUsage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	result.ExecutionTime = time.Since(start)

	return result, nil
}

// Verify interface
var _ ModelClient = (*OpenAIClient)(nil)
