// Package metrics provides cost and usage tracking for model calls.
package metrics

import (
	"encoding/json"
	"time"
)

// Metric is a single append-only record of a model invocation, with
// full attribution back to the job and session that triggered it.
type Metric struct {
	ID string `json:"id,omitempty"`

	// Attribution (for filtering/aggregation)
	JobID           string `json:"job_id,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
	StageSlug       string `json:"stage_slug,omitempty"`
	IterationNumber int    `json:"iteration_number,omitempty"`
	StepKey         string `json:"step_key,omitempty"`

	// Provider info
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Output reference
	ContributionID string `json:"contribution_id,omitempty"`

	// Cost and tokens
	CostUSD          float64 `json:"cost_usd,omitempty"`
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens,omitempty"`

	// Timing
	ExecutionSeconds float64 `json:"execution_seconds,omitempty"`

	// Status
	Success   bool   `json:"success"`
	ErrorType string `json:"error_type,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Row flattens the metric into the sink's row shape. A Metric is plain
// data, so the JSON round trip cannot fail in practice.
func (m Metric) Row() map[string]any {
	raw, err := json.Marshal(m)
	if err != nil {
		return map[string]any{"id": m.ID}
	}
	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil {
		return map[string]any{"id": m.ID}
	}
	return row
}
