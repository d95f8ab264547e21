// Package notify projects job lifecycle transitions into user-facing events.
package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// EventType identifies a lifecycle event pushed to a user channel.
type EventType string

const (
	// Contribution lifecycle (generic, any job type).
	EventGenerationStarted  EventType = "contribution_generation_started"
	EventGenerationRetrying EventType = "contribution_generation_retrying"
	EventGenerationFailed   EventType = "contribution_generation_failed"
	EventGenerationComplete EventType = "contribution_generation_complete"

	// Per-contribution events emitted by the executor.
	EventContributionStarted  EventType = "dialectic_contribution_started"
	EventContributionReceived EventType = "dialectic_contribution_received"

	// Planner fan-out events. These carry no model or document fields.
	EventPlannerStarted   EventType = "planner_started"
	EventPlannerCompleted EventType = "planner_completed"

	// Execute stage progress. Model is required, document when applicable.
	EventExecuteStarted        EventType = "execute_started"
	EventExecuteChunkCompleted EventType = "execute_chunk_completed"
	EventExecuteCompleted      EventType = "execute_completed"

	// Render stage progress. Model and document are both required.
	EventRenderStarted        EventType = "render_started"
	EventRenderChunkCompleted EventType = "render_chunk_completed"
	EventRenderCompleted      EventType = "render_completed"

	// Terminal failure.
	EventJobFailed EventType = "job_failed"
)

// EventError carries failure details on job_failed events.
type EventError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is a single lifecycle notification. SessionID, StageSlug,
// IterationNumber, JobID and StepKey form the base envelope present on
// every event; the remaining fields are set per event type.
type Event struct {
	Type            EventType   `json:"type"`
	SessionID       string      `json:"sessionId"`
	StageSlug       string      `json:"stageSlug"`
	IterationNumber int         `json:"iterationNumber"`
	JobID           string      `json:"job_id"`
	StepKey         string      `json:"step_key,omitempty"`
	ModelID         string      `json:"modelId,omitempty"`
	DocumentKey     string      `json:"document_key,omitempty"`
	IsContinuing    bool        `json:"is_continuing,omitempty"`
	Succeeded       []string    `json:"succeeded,omitempty"`
	Failed          []string    `json:"failed,omitempty"`
	Error           *EventError `json:"error,omitempty"`
}

// Validate checks that the event carries the fields its type requires
// and none of the fields its type forbids.
func (e Event) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("event missing type")
	}
	if e.SessionID == "" {
		return fmt.Errorf("%s: missing sessionId", e.Type)
	}
	if e.JobID == "" {
		return fmt.Errorf("%s: missing job_id", e.Type)
	}

	switch e.Type {
	case EventPlannerStarted, EventPlannerCompleted:
		if e.ModelID != "" || e.DocumentKey != "" {
			return fmt.Errorf("%s: must not carry modelId or document_key", e.Type)
		}
	case EventExecuteStarted, EventExecuteChunkCompleted, EventExecuteCompleted,
		EventContributionStarted, EventContributionReceived:
		if e.ModelID == "" {
			return fmt.Errorf("%s: missing modelId", e.Type)
		}
	case EventRenderStarted, EventRenderChunkCompleted, EventRenderCompleted:
		if e.ModelID == "" {
			return fmt.Errorf("%s: missing modelId", e.Type)
		}
		if e.DocumentKey == "" {
			return fmt.Errorf("%s: missing document_key", e.Type)
		}
	case EventJobFailed:
		if e.Error == nil {
			return fmt.Errorf("%s: missing error details", e.Type)
		}
	}
	return nil
}

// Notifier pushes lifecycle events to a per-user channel.
type Notifier interface {
	Push(ctx context.Context, userID string, event Event) error
}

// LogFailure logs a failed push. Notification delivery is best-effort;
// callers never fail a job because an event could not be sent.
func LogFailure(logger *slog.Logger, err error, event Event) {
	if err == nil {
		return
	}
	logger.Warn("notification push failed",
		"event_type", event.Type,
		"job_id", event.JobID,
		"error", err)
}
