package store

import (
	"encoding/json"
	"time"
)

// Table names in the backing datastore.
const (
	TableJobs          = "generation_jobs"
	TableContributions = "contributions"
	TableSessions      = "sessions"
	TableProjects      = "projects"
	TableStages        = "stages"
	TableMetrics       = "model_call_metrics"
)

// JobRow is one row of the generation job table. Payload is a discriminated
// union keyed by JobType; the engine package owns its decoding.
type JobRow struct {
	ID                string  `json:"id,omitempty"`
	UserID            string  `json:"user_id"`
	SessionID         string  `json:"session_id"`
	StageSlug         string  `json:"stage_slug"`
	IterationNumber   int     `json:"iteration_number"`
	JobType           string  `json:"job_type"`
	Status            string  `json:"status"`
	ParentJobID       *string `json:"parent_job_id,omitempty"`
	PrerequisiteJobID *string `json:"prerequisite_job_id,omitempty"`

	Payload      json.RawMessage `json:"payload"`
	Results      json.RawMessage `json:"results,omitempty"`
	ErrorDetails json.RawMessage `json:"error_details,omitempty"`

	AttemptCount int `json:"attempt_count"`
	MaxRetries   int `json:"max_retries"`

	CreatedAt   time.Time  `json:"created_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ContributionRow is a persisted model output artifact. A non-nil
// TargetContributionID links a continuation chain; DocumentRelationships
// carries the lineage tag (source_group).
type ContributionRow struct {
	ID              string `json:"id,omitempty"`
	UserID          string `json:"user_id"`
	SessionID       string `json:"session_id"`
	StageSlug       string `json:"stage_slug"`
	IterationNumber int    `json:"iteration_number"`

	ModelID   string `json:"model_id"`
	ModelName string `json:"model_name,omitempty"`

	FileName      string `json:"file_name,omitempty"`
	StorageBucket string `json:"storage_bucket"`
	StoragePath   string `json:"storage_path"`
	MimeType      string `json:"mime_type,omitempty"`
	SizeBytes     int64  `json:"size_bytes,omitempty"`

	TargetContributionID  *string         `json:"target_contribution_id,omitempty"`
	DocumentRelationships json.RawMessage `json:"document_relationships,omitempty"`

	TokensUsedInput  int `json:"tokens_used_input,omitempty"`
	TokensUsedOutput int `json:"tokens_used_output,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// SessionRow is one generation session.
type SessionRow struct {
	ID               string   `json:"id"`
	ProjectID        string   `json:"project_id"`
	UserID           string   `json:"user_id"`
	CurrentStageSlug string   `json:"current_stage_slug"`
	IterationNumber  int      `json:"iteration_number"`
	SelectedModelIDs []string `json:"selected_model_ids"`
	Status           string   `json:"status,omitempty"`
}

// ProjectRow is the project a session belongs to.
type ProjectRow struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	InitialPrompt string `json:"initial_user_prompt,omitempty"`
	WalletID      string `json:"wallet_id"`
}

// StageRow is a stage's declarative recipe: processing strategy plus the
// ordered recipe steps the planner expands.
type StageRow struct {
	Slug               string          `json:"slug"`
	DisplayName        string          `json:"display_name,omitempty"`
	ProcessingStrategy json.RawMessage `json:"processing_strategy,omitempty"`
	RecipeSteps        json.RawMessage `json:"recipe_steps,omitempty"`
	DefaultPromptID    string          `json:"default_prompt_template_id,omitempty"`
}
