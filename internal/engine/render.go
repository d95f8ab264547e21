package engine

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/kestrel-ai/dialectic/internal/notify"
	"github.com/kestrel-ai/dialectic/internal/providers"
	"github.com/kestrel-ai/dialectic/internal/store"
)

// Renderer assembles a final document from prior contributions. With a
// prompt template declared the assembly runs through the model; without
// one the sources are stitched together directly.
type Renderer struct {
	deps     *Deps
	executor *Executor
}

// NewRenderer creates a renderer over the shared dependency set.
func NewRenderer(deps *Deps) *Renderer {
	return &Renderer{deps: deps, executor: NewExecutor(deps)}
}

// Process runs one RENDER job.
func (r *Renderer) Process(ctx context.Context, job *store.JobRow, payload *RenderPayload) error {
	base := notify.Event{
		SessionID:       job.SessionID,
		StageSlug:       job.StageSlug,
		IterationNumber: job.IterationNumber,
		JobID:           job.ID,
		StepKey:         payload.StepKey,
		ModelID:         payload.ModelID,
		DocumentKey:     payload.DocumentKey,
	}

	if job.AttemptCount == 0 {
		started := base
		started.Type = notify.EventRenderStarted
		r.deps.push(ctx, job.UserID, started)
	}

	sources, err := r.collectSources(ctx, job, payload)
	if err != nil {
		return r.executor.handleFailure(ctx, job, payload.StepKey, payload.ModelID, payload.DocumentKey, err)
	}
	if len(sources) == 0 {
		err := fmt.Errorf("render job %s has no source contributions", job.ID)
		return r.executor.handleFailure(ctx, job, payload.StepKey, payload.ModelID, payload.DocumentKey, err)
	}

	saved, err := r.assemble(ctx, job, payload, sources)
	if err != nil {
		return r.executor.handleFailure(ctx, job, payload.StepKey, payload.ModelID, payload.DocumentKey, err)
	}

	summary := ModelProcessingResult{
		ModelID:        payload.ModelID,
		ContributionID: saved.ID,
		Attempts:       job.AttemptCount + 1,
		Success:        true,
	}
	r.deps.finalizeJob(ctx, job.ID, map[string]any{
		"status":       StatusCompleted,
		"results":      mustJSON(summary),
		"completed_at": r.deps.Clock().Format(time.RFC3339),
	})

	chunk := base
	chunk.Type = notify.EventRenderChunkCompleted
	r.deps.push(ctx, job.UserID, chunk)

	completed := base
	completed.Type = notify.EventRenderCompleted
	r.deps.push(ctx, job.UserID, completed)
	return nil
}

// collectSources downloads the referenced contributions, or every
// contribution of the current stage slice when none are named.
func (r *Renderer) collectSources(ctx context.Context, job *store.JobRow, payload *RenderPayload) ([]string, error) {
	ids := payload.SourceContributionIDs
	if len(ids) == 0 {
		rows, err := r.deps.Store.ListContributions(ctx, job.SessionID, job.StageSlug, job.IterationNumber)
		if err != nil {
			return nil, fmt.Errorf("contributions for render job %s: %w", job.ID, err)
		}
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
	}

	var contents []string
	for _, id := range ids {
		doc, err := r.deps.Store.GetContribution(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("render source %s: %w", id, err)
		}
		data, err := r.deps.Storage.Download(ctx, doc.StorageBucket, doc.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("download render source %s: %w", id, err)
		}
		contents = append(contents, string(data))
	}
	return contents, nil
}

// assemble produces and persists the final document.
func (r *Renderer) assemble(ctx context.Context, job *store.JobRow, payload *RenderPayload, sources []string) (*store.ContributionRow, error) {
	combined := strings.Join(sources, documentSeparator)

	if payload.PromptTemplateID != "" {
		prompt, err := r.deps.Prompts.Render(payload.PromptTemplateID, map[string]any{
			"Documents":     combined,
			"DocumentCount": len(sources),
		})
		if err != nil {
			return nil, err
		}
		saved, _, err := r.executor.callModelAndSave(ctx, job, callSpec{
			ModelID: payload.ModelID,
			Messages: []providers.Message{
				{Role: "user", Content: prompt},
			},
			FileName:    payload.DocumentKey,
			SourceGroup: payload.DocumentKey,
			StepKey:     payload.StepKey,
		})
		return saved, err
	}

	// No template: direct stitch, no model call.
	storagePath := path.Join(job.SessionID, job.StageSlug,
		fmt.Sprintf("iter_%d", job.IterationNumber), payload.DocumentKey)
	if err := r.deps.Storage.Upload(ctx, r.deps.Bucket, storagePath, []byte(combined), "text/markdown"); err != nil {
		return nil, fmt.Errorf("upload rendered document for job %s: %w", job.ID, err)
	}

	row := store.ContributionRow{
		UserID:          job.UserID,
		SessionID:       job.SessionID,
		StageSlug:       job.StageSlug,
		IterationNumber: job.IterationNumber,
		ModelID:         payload.ModelID,
		FileName:        payload.DocumentKey,
		StorageBucket:   r.deps.Bucket,
		StoragePath:     storagePath,
		MimeType:        "text/markdown",
		SizeBytes:       int64(len(combined)),
		DocumentRelationships: mustJSON(DocumentRelationships{
			SourceGroup: payload.DocumentKey,
		}),
	}
	saved, err := r.deps.Store.InsertContribution(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("persist rendered document for job %s: %w", job.ID, err)
	}
	return saved, nil
}
