package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kestrel-ai/dialectic/internal/notify"
	"github.com/kestrel-ai/dialectic/internal/providers"
	"github.com/kestrel-ai/dialectic/internal/store"
)

// Combiner merges multiple oversized source documents into one
// synthetic input artifact when a model's context window cannot hold
// them individually referenced. Model invocation and persistence run
// through the executor's shared primitive; combining was the last
// resort, so a context-window violation here is terminal.
type Combiner struct {
	deps     *Deps
	executor *Executor
}

// NewCombiner creates a combiner sharing the executor's call primitive.
func NewCombiner(deps *Deps, executor *Executor) *Combiner {
	return &Combiner{deps: deps, executor: executor}
}

// Process runs one COMBINE job.
func (c *Combiner) Process(ctx context.Context, job *store.JobRow, payload *CombinePayload) error {
	prompt, err := c.assemblePrompt(ctx, payload)
	if err != nil {
		return c.executor.handleFailure(ctx, job, payload.StepKey, payload.ModelID, "", err)
	}

	fileName := fmt.Sprintf("%s_combined.md", payload.StepKey)
	if payload.StepKey == "" {
		fileName = job.ID + "_combined.md"
	}

	saved, _, err := c.executor.callModelAndSave(ctx, job, callSpec{
		ModelID: payload.ModelID,
		Messages: []providers.Message{
			{Role: "user", Content: prompt},
		},
		FileName:    fileName,
		SourceGroup: combinedSourceGroup(payload),
		StepKey:     payload.StepKey,
	})
	if err != nil {
		return c.executor.handleFailure(ctx, job, payload.StepKey, payload.ModelID, "", err)
	}

	summary := ModelProcessingResult{
		ModelID:        payload.ModelID,
		ContributionID: saved.ID,
		Attempts:       job.AttemptCount + 1,
		Success:        true,
	}
	c.deps.finalizeJob(ctx, job.ID, map[string]any{
		"status":       StatusCompleted,
		"results":      mustJSON(summary),
		"completed_at": c.deps.Clock().Format(time.RFC3339),
	})

	c.deps.push(ctx, job.UserID, notify.Event{
		Type:            notify.EventExecuteChunkCompleted,
		SessionID:       job.SessionID,
		StageSlug:       job.StageSlug,
		IterationNumber: job.IterationNumber,
		JobID:           job.ID,
		StepKey:         payload.StepKey,
		ModelID:         payload.ModelID,
		DocumentKey:     saved.FileName,
	})
	return nil
}

// assemblePrompt fetches every referenced document, verifies the set is
// complete and downloadable, concatenates with separators, and renders
// the named template.
func (c *Combiner) assemblePrompt(ctx context.Context, payload *CombinePayload) (string, error) {
	var contents []string
	for _, id := range payload.Inputs.DocumentIDs {
		doc, err := c.deps.Store.GetContribution(ctx, id)
		if err != nil {
			return "", fmt.Errorf("combine input %s: %w", id, err)
		}
		if doc.StoragePath == "" {
			return "", fmt.Errorf("combine input %s has no storage path", id)
		}
		data, err := c.deps.Storage.Download(ctx, doc.StorageBucket, doc.StoragePath)
		if err != nil {
			return "", fmt.Errorf("download combine input %s: %w", id, err)
		}
		contents = append(contents, string(data))
	}
	if len(contents) != len(payload.Inputs.DocumentIDs) {
		return "", fmt.Errorf("resolved %d of %d combine inputs", len(contents), len(payload.Inputs.DocumentIDs))
	}

	return c.deps.Prompts.Render(payload.PromptTemplateName, map[string]any{
		"Documents":     strings.Join(contents, documentSeparator),
		"DocumentCount": len(contents),
	})
}

// combinedSourceGroup derives the lineage tag for the synthetic
// artifact so downstream planning can trace it.
func combinedSourceGroup(payload *CombinePayload) string {
	if payload.StepKey != "" {
		return payload.StepKey + "_combined"
	}
	return "combined"
}
