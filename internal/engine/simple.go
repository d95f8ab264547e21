package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrel-ai/dialectic/internal/notify"
	"github.com/kestrel-ai/dialectic/internal/providers"
	"github.com/kestrel-ai/dialectic/internal/store"
)

// ProcessSimple runs a PLAN job whose stage declares no processing
// strategy: the job is leaf work itself, one model call per selected
// model against the session's seed prompt, with no fan-out. Partial
// failures are reported distinctly in the completion notification.
func (e *Executor) ProcessSimple(ctx context.Context, job *store.JobRow, payload *PlanPayload, stage *store.StageRow) error {
	base := notify.Event{
		SessionID:       job.SessionID,
		StageSlug:       job.StageSlug,
		IterationNumber: job.IterationNumber,
		JobID:           job.ID,
		StepKey:         payload.StepKey,
	}

	if job.AttemptCount == 0 {
		started := base
		started.Type = notify.EventGenerationStarted
		e.deps.push(ctx, job.UserID, started)
	}

	session, err := e.deps.Store.GetSession(ctx, job.SessionID)
	if err != nil {
		return e.handleFailure(ctx, job, payload.StepKey, "", "", fmt.Errorf("session %s: %w", job.SessionID, err))
	}
	project, err := e.deps.Store.GetProject(ctx, session.ProjectID)
	if err != nil {
		return e.handleFailure(ctx, job, payload.StepKey, "", "", fmt.Errorf("project %s: %w", session.ProjectID, err))
	}
	if project.InitialPrompt == "" {
		return e.handleFailure(ctx, job, payload.StepKey, "", "",
			fmt.Errorf("project %s has no initial prompt for simple stage %s", project.ID, stage.Slug))
	}

	var succeeded, failed []string
	var lastErr error
	for _, modelID := range payload.SelectedModelIDs {
		saved, _, callErr := e.callModelAndSave(ctx, job, callSpec{
			ModelID: modelID,
			Messages: []providers.Message{
				{Role: "user", Content: project.InitialPrompt},
			},
			FileName:    fmt.Sprintf("%s_%s.md", payload.StepKey, modelID),
			SourceGroup: payload.StepKey,
			StepKey:     payload.StepKey,
		})
		if callErr != nil {
			e.deps.log().Warn("simple stage model call failed",
				"job_id", job.ID, "model_id", modelID, "error", callErr)
			failed = append(failed, modelID)
			lastErr = callErr
			continue
		}
		succeeded = append(succeeded, saved.ID)
	}

	// Every model failing is an attempt failure for the whole job; any
	// success completes it with the failed set reported alongside.
	if len(succeeded) == 0 && lastErr != nil {
		return e.handleFailure(ctx, job, payload.StepKey, "", "", lastErr)
	}

	e.deps.finalizeJob(ctx, job.ID, map[string]any{
		"status": StatusCompleted,
		"results": mustJSON(map[string]any{
			"succeeded": succeeded,
			"failed":    failed,
		}),
		"completed_at": e.deps.Clock().Format(time.RFC3339),
	})

	complete := base
	complete.Type = notify.EventGenerationComplete
	complete.Succeeded = succeeded
	complete.Failed = failed
	e.deps.push(ctx, job.UserID, complete)
	return nil
}
