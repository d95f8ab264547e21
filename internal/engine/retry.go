package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kestrel-ai/dialectic/internal/notify"
	"github.com/kestrel-ai/dialectic/internal/store"
)

// RetryJob requeues a failed job for another attempt. It sets the row
// to retrying with the incremented attempt count and the accumulated
// failure history, and emits a "retrying" notification. It never
// re-invokes the model itself: the worker picks the row up again and
// re-dispatches it exactly as a fresh job.
func RetryJob(ctx context.Context, deps *Deps, job *store.JobRow, stepKey string, nextAttempt int, failedAttempts []FailedAttempt) error {
	details := ErrorDetails{
		Message:        "attempt failed, retrying",
		FailedAttempts: failedAttempts,
	}
	if err := deps.Store.UpdateJob(ctx, job.ID, map[string]any{
		"status":        StatusRetrying,
		"attempt_count": nextAttempt,
		"error_details": mustJSON(details),
	}); err != nil {
		return err
	}

	deps.push(ctx, job.UserID, notify.Event{
		Type:            notify.EventGenerationRetrying,
		SessionID:       job.SessionID,
		StageSlug:       job.StageSlug,
		IterationNumber: job.IterationNumber,
		JobID:           job.ID,
		StepKey:         stepKey,
	})
	return nil
}

// priorFailedAttempts decodes the failure history carried on the job
// row from earlier attempts. Malformed history is dropped rather than
// blocking the retry loop.
func priorFailedAttempts(job *store.JobRow) []FailedAttempt {
	if len(job.ErrorDetails) == 0 {
		return nil
	}
	var details ErrorDetails
	if err := json.Unmarshal(job.ErrorDetails, &details); err != nil {
		return nil
	}
	return details.FailedAttempts
}

// exhaustJob marks a job retry_loop_failed with its full failure
// history and emits the terminal failure notifications. attempt_count
// lands at max_retries+1: every allowed attempt was spent.
func exhaustJob(ctx context.Context, deps *Deps, job *store.JobRow, stepKey, modelID, documentKey string, failedAttempts []FailedAttempt) {
	summary := ModelProcessingResult{
		ModelID:  modelID,
		Attempts: job.MaxRetries + 1,
		Success:  false,
	}
	if n := len(failedAttempts); n > 0 {
		summary.Error = failedAttempts[n-1].Error
	}
	details := ErrorDetails{
		Code:           "retry_loop_failed",
		Message:        summary.Error,
		FailedAttempts: failedAttempts,
	}

	deps.finalizeJob(ctx, job.ID, map[string]any{
		"status":        StatusRetryLoopFailed,
		"attempt_count": job.MaxRetries + 1,
		"error_details": mustJSON(details),
		"results":       mustJSON(summary),
		"completed_at":  deps.Clock().Format(time.RFC3339),
	})

	deps.push(ctx, job.UserID, notify.Event{
		Type:            notify.EventGenerationFailed,
		SessionID:       job.SessionID,
		StageSlug:       job.StageSlug,
		IterationNumber: job.IterationNumber,
		JobID:           job.ID,
		StepKey:         stepKey,
	})
	deps.push(ctx, job.UserID, notify.Event{
		Type:            notify.EventJobFailed,
		SessionID:       job.SessionID,
		StageSlug:       job.StageSlug,
		IterationNumber: job.IterationNumber,
		JobID:           job.ID,
		StepKey:         stepKey,
		ModelID:         modelID,
		DocumentKey:     documentKey,
		Error:           &notify.EventError{Code: "retry_loop_failed", Message: summary.Error},
	})
}
