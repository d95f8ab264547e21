package engine

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/kestrel-ai/dialectic/internal/metrics"
	"github.com/kestrel-ai/dialectic/internal/notify"
	"github.com/kestrel-ai/dialectic/internal/providers"
	"github.com/kestrel-ai/dialectic/internal/store"
)

// Executor performs exactly one model invocation for one job, end to
// end: prompt assembly, the call, artifact persistence, and the
// continuation/retry decision.
type Executor struct {
	deps *Deps
}

// NewExecutor creates an executor over the shared dependency set.
func NewExecutor(deps *Deps) *Executor {
	return &Executor{deps: deps}
}

// callSpec describes one model invocation for callModelAndSave.
type callSpec struct {
	ModelID  string
	Messages []providers.Message

	// FileName names the artifact; empty derives from the job id.
	FileName string

	// PreviousContent is prepended to the model output before saving,
	// forming the continuation chain's cumulative document.
	PreviousContent      string
	TargetContributionID string

	// SourceGroup is the lineage tag stamped on the saved contribution.
	SourceGroup string
	StepKey     string
}

// callModelAndSave is the shared primitive behind the executor and the
// combiner: invoke the model, persist content to object storage, insert
// the contribution row, and record the call metric. The saved document
// is PreviousContent + new output.
func (e *Executor) callModelAndSave(ctx context.Context, job *store.JobRow, spec callSpec) (*store.ContributionRow, *providers.ChatResult, error) {
	client, err := e.deps.Models.Get(spec.ModelID)
	if err != nil {
		return nil, nil, fmt.Errorf("model %s not available: %w", spec.ModelID, err)
	}

	promptTokens := 0
	for _, m := range spec.Messages {
		promptTokens += EstimateTokens(m.Content)
	}
	if limit := client.MaxInputTokens(); limit > 0 && promptTokens+promptEnvelopeTokens > limit {
		return nil, nil, fmt.Errorf("%w: estimated %d tokens against limit %d for model %s",
			ErrContextWindow, promptTokens+promptEnvelopeTokens, limit, spec.ModelID)
	}

	start := e.deps.Clock()
	result, err := client.Chat(ctx, &providers.ChatRequest{
		Messages:  spec.Messages,
		RequestID: job.ID,
	})
	if err != nil {
		e.recordError(job, spec, client.Name(), err, e.deps.Clock().Sub(start))
		return nil, nil, fmt.Errorf("model call failed for %s: %w", spec.ModelID, err)
	}
	if result.Content == "" {
		e.recordError(job, spec, client.Name(), fmt.Errorf("empty content"), e.deps.Clock().Sub(start))
		return nil, result, fmt.Errorf("model %s returned empty content", spec.ModelID)
	}

	fileName := spec.FileName
	if fileName == "" {
		fileName = job.ID + ".md"
	}
	content := spec.PreviousContent + result.Content
	storagePath := path.Join(job.SessionID, job.StageSlug,
		fmt.Sprintf("iter_%d", job.IterationNumber), fileName)

	if err := e.deps.Storage.Upload(ctx, e.deps.Bucket, storagePath, []byte(content), "text/markdown"); err != nil {
		return nil, result, fmt.Errorf("upload artifact for job %s: %w", job.ID, err)
	}

	row := store.ContributionRow{
		UserID:           job.UserID,
		SessionID:        job.SessionID,
		StageSlug:        job.StageSlug,
		IterationNumber:  job.IterationNumber,
		ModelID:          spec.ModelID,
		ModelName:        result.ModelUsed,
		FileName:         fileName,
		StorageBucket:    e.deps.Bucket,
		StoragePath:      storagePath,
		MimeType:         "text/markdown",
		SizeBytes:        int64(len(content)),
		TokensUsedInput:  result.Usage.PromptTokens,
		TokensUsedOutput: result.Usage.CompletionTokens,
	}
	if spec.TargetContributionID != "" {
		target := spec.TargetContributionID
		row.TargetContributionID = &target
	}
	if spec.SourceGroup != "" {
		row.DocumentRelationships = mustJSON(DocumentRelationships{SourceGroup: spec.SourceGroup})
	}

	saved, err := e.deps.Store.InsertContribution(ctx, row)
	if err != nil {
		return nil, result, fmt.Errorf("persist contribution for job %s: %w", job.ID, err)
	}

	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordModelCall(metrics.RecordOpts{
			JobID:           job.ID,
			SessionID:       job.SessionID,
			StageSlug:       job.StageSlug,
			IterationNumber: job.IterationNumber,
			StepKey:         spec.StepKey,
			ContributionID:  saved.ID,
		}, result)
	}
	return saved, result, nil
}

func (e *Executor) recordError(job *store.JobRow, spec callSpec, provider string, err error, elapsed time.Duration) {
	if e.deps.Metrics == nil {
		return
	}
	e.deps.Metrics.RecordError(metrics.RecordOpts{
		JobID:           job.ID,
		SessionID:       job.SessionID,
		StageSlug:       job.StageSlug,
		IterationNumber: job.IterationNumber,
		StepKey:         spec.StepKey,
	}, provider, spec.ModelID, errorType(err), elapsed)
}

func errorType(err error) string {
	if err == nil {
		return ""
	}
	return "model_call_failed"
}

// Process runs one EXECUTE job. The failure path accumulates a
// FailedAttempt and either requeues through the retry manager or
// exhausts into retry_loop_failed.
func (e *Executor) Process(ctx context.Context, job *store.JobRow, payload *ExecutePayload) error {
	base := notify.Event{
		SessionID:       job.SessionID,
		StageSlug:       job.StageSlug,
		IterationNumber: job.IterationNumber,
		JobID:           job.ID,
		StepKey:         payload.StepKey,
		ModelID:         payload.ModelID,
		DocumentKey:     payload.DocumentKey,
	}

	// "started" fires once per job lineage: first attempt of the first
	// link in a continuation chain.
	if job.AttemptCount == 0 && payload.ContinuationCount == 0 {
		started := base
		started.Type = notify.EventContributionStarted
		e.deps.push(ctx, job.UserID, started)

		execStarted := base
		execStarted.Type = notify.EventExecuteStarted
		e.deps.push(ctx, job.UserID, execStarted)
	}

	saved, result, err := e.run(ctx, job, payload)
	if err != nil {
		return e.handleFailure(ctx, job, payload.StepKey, payload.ModelID, payload.DocumentKey, err)
	}

	// The job's task — one model call — is done; finalize before any
	// continuation work so completion is never contingent on the next
	// insert succeeding.
	summary := ModelProcessingResult{
		ModelID:        payload.ModelID,
		ContributionID: saved.ID,
		Attempts:       job.AttemptCount + 1,
		Success:        true,
	}
	e.deps.finalizeJob(ctx, job.ID, map[string]any{
		"status":       StatusCompleted,
		"results":      mustJSON(summary),
		"completed_at": e.deps.Clock().Format(time.RFC3339),
	})

	enqueued, contErr := ContinueJob(ctx, e.deps, job, payload, result, saved)
	if contErr != nil {
		e.deps.log().Error("continuation enqueue failed",
			"job_id", job.ID, "contribution_id", saved.ID, "error", contErr)
	}

	received := base
	received.Type = notify.EventContributionReceived
	received.IsContinuing = enqueued
	e.deps.push(ctx, job.UserID, received)

	completed := base
	completed.Type = notify.EventExecuteCompleted
	e.deps.push(ctx, job.UserID, completed)
	return nil
}

// run performs steps 1–5 of the execute path: prompt assembly, the
// model call, and artifact persistence.
func (e *Executor) run(ctx context.Context, job *store.JobRow, payload *ExecutePayload) (*store.ContributionRow, *providers.ChatResult, error) {
	var messages []providers.Message
	previousContent := ""
	sourceGroup := payload.DocumentKey
	if sourceGroup == "" {
		sourceGroup = payload.StepKey
	}

	if payload.TargetContributionID != "" {
		// Continuation: resume verbatim from the saved partial content.
		target, err := e.deps.Store.GetContribution(ctx, payload.TargetContributionID)
		if err != nil {
			return nil, nil, fmt.Errorf("continuation target %s: %w", payload.TargetContributionID, err)
		}
		data, err := e.deps.Storage.Download(ctx, target.StorageBucket, target.StoragePath)
		if err != nil {
			return nil, nil, fmt.Errorf("download continuation seed %s: %w", payload.TargetContributionID, err)
		}
		previousContent = string(data)

		instruction, err := e.deps.Prompts.Render("execute.continuation", nil)
		if err != nil {
			return nil, nil, err
		}
		// The original task prompt is replayed as the user turn. Template-
		// seeded jobs carry no rendered prompt, so it is re-rendered from
		// the same template and sources.
		seedPrompt := payload.RenderedPrompt
		if seedPrompt == "" {
			seedPrompt, err = e.renderSeedPrompt(ctx, payload)
			if err != nil {
				return nil, nil, err
			}
		}
		messages = []providers.Message{
			{Role: "system", Content: instruction},
			{Role: "user", Content: seedPrompt},
			{Role: "assistant", Content: previousContent},
		}
	} else {
		prompt := payload.RenderedPrompt
		if prompt == "" {
			rendered, err := e.renderSeedPrompt(ctx, payload)
			if err != nil {
				return nil, nil, err
			}
			prompt = rendered
		}
		messages = []providers.Message{
			{Role: "user", Content: prompt},
		}
	}

	return e.callModelAndSave(ctx, job, callSpec{
		ModelID:              payload.ModelID,
		Messages:             messages,
		FileName:             payload.FileName,
		PreviousContent:      previousContent,
		TargetContributionID: payload.TargetContributionID,
		SourceGroup:          sourceGroup,
		StepKey:              payload.StepKey,
	})
}

// renderSeedPrompt builds the first-attempt prompt from the payload's
// template and the content of its source documents.
func (e *Executor) renderSeedPrompt(ctx context.Context, payload *ExecutePayload) (string, error) {
	var combined string
	for i, id := range payload.SourceDocumentIDs {
		doc, err := e.deps.Store.GetContribution(ctx, id)
		if err != nil {
			return "", fmt.Errorf("source document %s: %w", id, err)
		}
		data, err := e.deps.Storage.Download(ctx, doc.StorageBucket, doc.StoragePath)
		if err != nil {
			return "", fmt.Errorf("download source document %s: %w", id, err)
		}
		if i > 0 {
			combined += documentSeparator
		}
		combined += string(data)
	}

	return e.deps.Prompts.Render(payload.PromptTemplateID, map[string]any{
		"Documents":     combined,
		"DocumentCount": len(payload.SourceDocumentIDs),
	})
}

// documentSeparator delimits concatenated source documents in a prompt.
const documentSeparator = "\n\n---\n\n"

// handleFailure routes an attempt failure into retry or exhaustion.
// Context-window violations skip the retry loop entirely: retrying
// cannot change the input size.
func (e *Executor) handleFailure(ctx context.Context, job *store.JobRow, stepKey, modelID, documentKey string, cause error) error {
	attempts := append(priorFailedAttempts(job), FailedAttempt{
		ModelID:       modelID,
		APIIdentifier: modelID,
		Error:         cause.Error(),
	})

	if isContextWindowError(cause) {
		details := ErrorDetails{Code: "context_window", Message: cause.Error(), FailedAttempts: attempts}
		e.deps.finalizeJob(ctx, job.ID, map[string]any{
			"status":        StatusFailed,
			"error_details": mustJSON(details),
			"completed_at":  e.deps.Clock().Format(time.RFC3339),
		})
		e.deps.push(ctx, job.UserID, notify.Event{
			Type:            notify.EventJobFailed,
			SessionID:       job.SessionID,
			StageSlug:       job.StageSlug,
			IterationNumber: job.IterationNumber,
			JobID:           job.ID,
			StepKey:         stepKey,
			ModelID:         modelID,
			DocumentKey:     documentKey,
			Error:           &notify.EventError{Code: "context_window", Message: cause.Error()},
		})
		return cause
	}

	if job.AttemptCount < job.MaxRetries {
		return RetryJob(ctx, e.deps, job, stepKey, job.AttemptCount+1, attempts)
	}
	exhaustJob(ctx, e.deps, job, stepKey, modelID, documentKey, attempts)
	return nil
}
