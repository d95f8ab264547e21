package engine

import (
	"context"
	"fmt"

	"github.com/kestrel-ai/dialectic/internal/providers"
	"github.com/kestrel-ai/dialectic/internal/store"
)

// ContinueJob enqueues the follow-up EXECUTE job that resumes a
// truncated response from its saved partial artifact. It is a pure
// decision plus insert: the job that triggered it is never mutated, and
// it runs only after that job has been finalized.
func ContinueJob(ctx context.Context, deps *Deps, job *store.JobRow, payload *ExecutePayload, result *providers.ChatResult, saved *store.ContributionRow) (bool, error) {
	if !payload.ContinueUntilComplete || !result.Truncated() {
		return false, nil
	}

	next := &ExecutePayload{
		PayloadMeta:          payload.PayloadMeta,
		ModelID:              payload.ModelID,
		StepKey:              payload.StepKey,
		DocumentKey:          payload.DocumentKey,
		FileName:             payload.FileName,
		SourceDocumentIDs:    payload.SourceDocumentIDs,
		RenderedPrompt:       payload.RenderedPrompt,
		PromptTemplateID:     payload.PromptTemplateID,
		TargetContributionID: saved.ID,
		ContinuationCount:    payload.ContinuationCount + 1,
	}
	raw, err := MarshalPayload(next)
	if err != nil {
		return false, err
	}

	// With a debounce window configured the row parks as
	// pending_continuation until an external dedup step promotes it.
	status := StatusPending
	if deps.ContinuationDebounce > 0 {
		status = StatusPendingContinuation
	}

	row := store.JobRow{
		UserID:          job.UserID,
		SessionID:       job.SessionID,
		StageSlug:       job.StageSlug,
		IterationNumber: job.IterationNumber,
		JobType:         JobTypeExecute,
		Status:          status,
		ParentJobID:     job.ParentJobID,
		Payload:         raw,
		MaxRetries:      job.MaxRetries,
	}
	if _, err := deps.Store.InsertJobs(ctx, []store.JobRow{row}); err != nil {
		return false, fmt.Errorf("enqueue continuation for job %s: %w", job.ID, err)
	}
	return true, nil
}
