package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kestrel-ai/dialectic/internal/notify"
	"github.com/kestrel-ai/dialectic/internal/store"
)

// RecipeStep is one step of a stage's declarative recipe. The planner
// expands exactly one step per PLAN job; other steps arrive as separate
// PLAN jobs, so the DAG is built incrementally rather than eagerly.
type RecipeStep struct {
	Key                 string   `json:"key"`
	InputsRequired      []string `json:"inputs_required"`
	GranularityStrategy string   `json:"granularity_strategy"`
	PromptTemplateID    string   `json:"prompt_template_id"`
	OutputType          string   `json:"output_type,omitempty"` // execute (default) or render

	// Granularity is the deprecated pre-recipe field. Steps still
	// carrying it are rejected outright.
	Granularity string `json:"granularity,omitempty"`
}

func (s RecipeStep) validate() error {
	if s.Granularity != "" {
		return fmt.Errorf("recipe step %s uses deprecated granularity field", s.Key)
	}
	if len(s.InputsRequired) == 0 {
		return fmt.Errorf("recipe step %s declares no inputs_required", s.Key)
	}
	if s.GranularityStrategy == "" {
		return fmt.Errorf("recipe step %s missing granularity_strategy", s.Key)
	}
	if s.PromptTemplateID == "" {
		return fmt.Errorf("recipe step %s missing prompt_template_id", s.Key)
	}
	return nil
}

// Granularity strategy names.
const (
	GranularityPerSourceDocument = "per_source_document"
	GranularityPerModel          = "per_model"
)

// Planner expands one PLAN job into EXECUTE/RENDER children for the
// current recipe step, with context-window admission control.
type Planner struct {
	deps *Deps
}

// NewPlanner creates a planner over the shared dependency set.
func NewPlanner(deps *Deps) *Planner {
	return &Planner{deps: deps}
}

// Process plans one step. Errors propagate to the dispatcher, which
// fails the parent job without retry: planning failures are
// configuration problems, not transient faults.
func (p *Planner) Process(ctx context.Context, job *store.JobRow, payload *PlanPayload, stage *store.StageRow) error {
	logger := p.deps.log().With("job_id", job.ID, "stage", job.StageSlug, "step", payload.StepKey)

	p.deps.push(ctx, job.UserID, notify.Event{
		Type:            notify.EventPlannerStarted,
		SessionID:       job.SessionID,
		StageSlug:       job.StageSlug,
		IterationNumber: job.IterationNumber,
		JobID:           job.ID,
		StepKey:         payload.StepKey,
	})

	step, err := findStep(stage, payload.StepKey)
	if err != nil {
		return err
	}
	if err := step.validate(); err != nil {
		return err
	}

	docs, err := p.resolveSourceDocuments(ctx, job, payload, step, logger)
	if err != nil {
		return err
	}

	docs, err = p.applyPrerequisiteOutput(ctx, job, docs, logger)
	if err != nil {
		return err
	}

	// Empty source set is a valid outcome: zero children, parent done.
	if len(docs) == 0 {
		p.finishParent(ctx, job, payload, nil)
		return nil
	}

	// Admission control: if the combined inputs cannot fit the
	// narrowest selected model's window, detour through a COMBINE
	// prerequisite instead of emitting children.
	limit, err := p.smallestWindow(payload.SelectedModelIDs)
	if err != nil {
		return err
	}
	if !FitsContextWindow(docs, limit) {
		return p.insertCombineDetour(ctx, job, payload, step, docs)
	}

	candidates, err := p.expand(job, payload, step, docs)
	if err != nil {
		return err
	}

	children := p.validateChildren(job, payload, candidates, logger)
	if len(children) == 0 {
		p.finishParent(ctx, job, payload, nil)
		return nil
	}

	inserted, err := p.deps.Store.InsertJobs(ctx, children)
	if err != nil {
		return fmt.Errorf("insert %d child jobs for %s: %w", len(children), job.ID, err)
	}

	ids := make([]string, len(inserted))
	for i, row := range inserted {
		ids[i] = row.ID
	}
	p.deps.finalizeJob(ctx, job.ID, map[string]any{
		"status":  StatusWaitingForChildren,
		"results": mustJSON(map[string]any{"child_job_ids": ids}),
	})

	p.deps.push(ctx, job.UserID, notify.Event{
		Type:            notify.EventPlannerCompleted,
		SessionID:       job.SessionID,
		StageSlug:       job.StageSlug,
		IterationNumber: job.IterationNumber,
		JobID:           job.ID,
		StepKey:         payload.StepKey,
	})
	return nil
}

func findStep(stage *store.StageRow, key string) (RecipeStep, error) {
	if len(stage.RecipeSteps) == 0 {
		return RecipeStep{}, fmt.Errorf("stage %s declares no recipe steps", stage.Slug)
	}
	var steps []RecipeStep
	if err := json.Unmarshal(stage.RecipeSteps, &steps); err != nil {
		return RecipeStep{}, fmt.Errorf("stage %s has malformed recipe steps: %w", stage.Slug, err)
	}
	for _, s := range steps {
		if s.Key == key {
			return s, nil
		}
	}
	return RecipeStep{}, fmt.Errorf("stage %s has no recipe step %q", stage.Slug, key)
}

// resolveSourceDocuments gathers candidate inputs from prior-stage
// contributions, applies the lineage filter, and drops documents whose
// identifier is already in the completed set.
func (p *Planner) resolveSourceDocuments(ctx context.Context, job *store.JobRow, payload *PlanPayload, step RecipeStep, logger *slog.Logger) ([]SourceDocument, error) {
	var docs []SourceDocument
	for _, input := range step.InputsRequired {
		rows, err := p.deps.Store.ListContributions(ctx, job.SessionID, input, job.IterationNumber)
		if err != nil {
			return nil, fmt.Errorf("contributions for stage %s session %s: %w", input, job.SessionID, err)
		}
		if len(rows) == 0 && job.IterationNumber > 0 {
			rows, err = p.deps.Store.ListContributions(ctx, job.SessionID, input, job.IterationNumber-1)
			if err != nil {
				return nil, fmt.Errorf("contributions for stage %s session %s: %w", input, job.SessionID, err)
			}
		}
		for _, row := range rows {
			docs = append(docs, sourceDocFromContribution(row))
		}
	}

	docs = p.filterByLineage(payload, docs, logger)

	if len(payload.CompletedSourceDocumentIDs) > 0 {
		completed := make(map[string]bool, len(payload.CompletedSourceDocumentIDs))
		for _, id := range payload.CompletedSourceDocumentIDs {
			completed[id] = true
		}
		var remaining []SourceDocument
		for _, doc := range docs {
			// Selective re-planning: every document must resolve an
			// identifier or the call fails hard. A silent skip here
			// would re-run work that already succeeded.
			id, err := SourceDocumentIdentifier(doc)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMissingSourceGroup, err)
			}
			if id != nil && completed[*id] {
				continue
			}
			remaining = append(remaining, doc)
		}
		docs = remaining
	}

	// Documents without a file_name cannot be keyed into child work;
	// they are skipped, never fatal.
	var named []SourceDocument
	for _, doc := range docs {
		if doc.FileName == "" {
			logger.Warn("skipping source document without file_name", "contribution_id", doc.ID)
			continue
		}
		named = append(named, doc)
	}
	return named, nil
}

// filterByLineage narrows candidates to the parent's source_group,
// picking the most-recently-updated match. An empty match set falls
// back to the unfiltered candidates: over-filtering would silently drop
// valid work.
func (p *Planner) filterByLineage(payload *PlanPayload, docs []SourceDocument, logger *slog.Logger) []SourceDocument {
	if payload.DocumentRelationships == nil || payload.DocumentRelationships.SourceGroup == "" {
		return docs
	}
	group := payload.DocumentRelationships.SourceGroup

	var matches []SourceDocument
	for _, doc := range docs {
		if doc.Relationships != nil && doc.Relationships.SourceGroup == group {
			matches = append(matches, doc)
		}
	}
	if len(matches) == 0 {
		logger.Warn("no source documents match lineage, using unfiltered set", "source_group", group)
		return docs
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].UpdatedAtUnix > matches[j].UpdatedAtUnix
	})
	return matches[:1]
}

// smallestWindow returns the tightest max-input-token limit across the
// selected models; admission must pass for every model that will run.
func (p *Planner) smallestWindow(modelIDs []string) (int, error) {
	limit := 0
	for _, id := range modelIDs {
		client, err := p.deps.Models.Get(id)
		if err != nil {
			return 0, fmt.Errorf("model %s not available: %w", id, err)
		}
		if w := client.MaxInputTokens(); w > 0 && (limit == 0 || w < limit) {
			limit = w
		}
	}
	return limit, nil
}

// applyPrerequisiteOutput substitutes a completed COMBINE prerequisite's
// artifact for the documents it consumed. Without the substitution a
// re-planned job resolves the same oversized set, fails admission again,
// and parks on a fresh prerequisite without ever converging.
func (p *Planner) applyPrerequisiteOutput(ctx context.Context, job *store.JobRow, docs []SourceDocument, logger *slog.Logger) ([]SourceDocument, error) {
	if job.PrerequisiteJobID == nil {
		return docs, nil
	}
	prereq, err := p.deps.Store.GetJob(ctx, *job.PrerequisiteJobID)
	if err != nil {
		return nil, fmt.Errorf("load prerequisite %s: %w", *job.PrerequisiteJobID, err)
	}
	if prereq.JobType != JobTypeCombine || prereq.Status != StatusCompleted {
		return docs, nil
	}

	parsed, err := ParsePayload(prereq.JobType, prereq.Payload)
	if err != nil {
		return nil, fmt.Errorf("prerequisite %s payload: %w", prereq.ID, err)
	}
	combinePayload := parsed.(*CombinePayload)

	var summary ModelProcessingResult
	if err := json.Unmarshal(prereq.Results, &summary); err != nil || summary.ContributionID == "" {
		return nil, fmt.Errorf("prerequisite %s completed without a contribution reference", prereq.ID)
	}
	combined, err := p.deps.Store.GetContribution(ctx, summary.ContributionID)
	if err != nil {
		return nil, fmt.Errorf("load combined contribution %s: %w", summary.ContributionID, err)
	}

	consumed := make(map[string]bool, len(combinePayload.Inputs.DocumentIDs))
	for _, id := range combinePayload.Inputs.DocumentIDs {
		consumed[id] = true
	}
	var out []SourceDocument
	for _, doc := range docs {
		if consumed[doc.ID] || doc.ID == combined.ID {
			continue
		}
		out = append(out, doc)
	}
	out = append(out, sourceDocFromContribution(*combined))

	logger.Info("substituted combine prerequisite output",
		"combined_contribution_id", combined.ID,
		"replaced_documents", len(consumed),
		"remaining_documents", len(out))
	return out, nil
}

// insertCombineDetour inserts one COMBINE prerequisite and parks the
// parent on it. Re-planning happens after the prerequisite completes;
// no children are emitted now.
func (p *Planner) insertCombineDetour(ctx context.Context, job *store.JobRow, payload *PlanPayload, step RecipeStep, docs []SourceDocument) error {
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}

	combine := &CombinePayload{
		PayloadMeta:        payload.PayloadMeta,
		ModelID:            payload.SelectedModelIDs[0],
		StepKey:            payload.StepKey,
		Inputs:             CombineInputs{DocumentIDs: ids},
		PromptTemplateName: "combine.source_documents",
	}
	raw, err := MarshalPayload(combine)
	if err != nil {
		return err
	}

	inserted, err := p.deps.Store.InsertJobs(ctx, []store.JobRow{{
		UserID:          job.UserID,
		SessionID:       job.SessionID,
		StageSlug:       job.StageSlug,
		IterationNumber: job.IterationNumber,
		JobType:         JobTypeCombine,
		Status:          StatusPending,
		ParentJobID:     &job.ID,
		Payload:         raw,
		MaxRetries:      job.MaxRetries,
	}})
	if err != nil {
		return fmt.Errorf("insert combine prerequisite for %s: %w", job.ID, err)
	}

	p.deps.finalizeJob(ctx, job.ID, map[string]any{
		"status":              StatusWaitingForPrerequisite,
		"prerequisite_job_id": inserted[0].ID,
	})
	p.deps.log().Info("inputs exceed context window, inserted combine prerequisite",
		"job_id", job.ID, "combine_job_id", inserted[0].ID, "documents", len(docs))
	return nil
}

// expand applies the step's granularity strategy to produce candidate
// child payloads.
func (p *Planner) expand(job *store.JobRow, payload *PlanPayload, step RecipeStep, docs []SourceDocument) ([]Payload, error) {
	switch step.GranularityStrategy {
	case GranularityPerSourceDocument:
		var out []Payload
		for _, doc := range docs {
			for _, modelID := range payload.SelectedModelIDs {
				out = append(out, p.childPayload(payload, step, doc, modelID, []string{doc.ID}))
			}
		}
		return out, nil
	case GranularityPerModel:
		ids := make([]string, len(docs))
		for i, doc := range docs {
			ids[i] = doc.ID
		}
		var out []Payload
		for _, modelID := range payload.SelectedModelIDs {
			out = append(out, p.childPayload(payload, step, docs[0], modelID, ids))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("recipe step %s: unknown granularity strategy %q", step.Key, step.GranularityStrategy)
	}
}

func (p *Planner) childPayload(payload *PlanPayload, step RecipeStep, doc SourceDocument, modelID string, sourceIDs []string) Payload {
	if step.OutputType == JobTypeRender {
		return &RenderPayload{
			PayloadMeta:           payload.PayloadMeta,
			ModelID:               modelID,
			StepKey:               step.Key,
			DocumentKey:           doc.FileName,
			SourceContributionIDs: sourceIDs,
			PromptTemplateID:      step.PromptTemplateID,
		}
	}
	return &ExecutePayload{
		PayloadMeta:       payload.PayloadMeta,
		ModelID:           modelID,
		StepKey:           step.Key,
		DocumentKey:       doc.FileName,
		FileName:          fmt.Sprintf("%s_%s_%s", step.Key, modelID, doc.FileName),
		SourceDocumentIDs: sourceIDs,
		PromptTemplateID:  step.PromptTemplateID,
	}
}

// validateChildren checks every candidate against the authoritative
// parent context and drops mismatches with a warning. The surviving
// payloads become pending job rows owned by the parent.
func (p *Planner) validateChildren(job *store.JobRow, payload *PlanPayload, candidates []Payload, logger *slog.Logger) []store.JobRow {
	parentMeta := payload.PayloadMeta
	var rows []store.JobRow
	for _, candidate := range candidates {
		if !candidate.Meta().Matches(parentMeta) {
			logger.Warn("dropping child payload with mismatched context",
				"child_type", candidate.Type(),
				"child_session", candidate.Meta().SessionID,
				"parent_session", parentMeta.SessionID)
			continue
		}
		if err := candidate.Validate(); err != nil {
			logger.Warn("dropping invalid child payload", "error", err)
			continue
		}
		raw, err := MarshalPayload(candidate)
		if err != nil {
			logger.Warn("dropping unmarshalable child payload", "error", err)
			continue
		}
		rows = append(rows, store.JobRow{
			UserID:          job.UserID,
			SessionID:       job.SessionID,
			StageSlug:       job.StageSlug,
			IterationNumber: job.IterationNumber,
			JobType:         candidate.Type(),
			Status:          StatusPending,
			ParentJobID:     &job.ID,
			Payload:         raw,
			MaxRetries:      job.MaxRetries,
		})
	}
	return rows
}

// finishParent completes a PLAN job that produced no children.
func (p *Planner) finishParent(ctx context.Context, job *store.JobRow, payload *PlanPayload, childIDs []string) {
	p.deps.finalizeJob(ctx, job.ID, map[string]any{
		"status":       StatusCompleted,
		"results":      mustJSON(map[string]any{"child_job_ids": childIDs}),
		"completed_at": p.deps.Clock().Format(time.RFC3339),
	})
	p.deps.push(ctx, job.UserID, notify.Event{
		Type:            notify.EventPlannerCompleted,
		SessionID:       job.SessionID,
		StageSlug:       job.StageSlug,
		IterationNumber: job.IterationNumber,
		JobID:           job.ID,
		StepKey:         payload.StepKey,
	})
}
