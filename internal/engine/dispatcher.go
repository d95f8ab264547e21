package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kestrel-ai/dialectic/internal/notify"
	"github.com/kestrel-ai/dialectic/internal/store"
)

// processingStrategy is the stage-level declaration the dispatcher
// routes on.
type processingStrategy struct {
	Type string `json:"type"`
}

// StrategyTaskIsolation routes PLAN jobs through the planner fan-out.
const StrategyTaskIsolation = "task_isolation"

// Dispatcher routes one claimed job row to the correct processor. All
// persistence happens in the delegates; routing itself has no side
// effects beyond failure marking for configuration errors.
type Dispatcher struct {
	deps     *Deps
	planner  *Planner
	executor *Executor
	renderer *Renderer
	combiner *Combiner
}

// NewDispatcher wires the processors around a shared dependency set.
func NewDispatcher(deps *Deps) *Dispatcher {
	executor := NewExecutor(deps)
	return &Dispatcher{
		deps:     deps,
		planner:  NewPlanner(deps),
		executor: executor,
		renderer: NewRenderer(deps),
		combiner: NewCombiner(deps, executor),
	}
}

// Dispatch processes one job row end to end. The caller has already
// claimed the row (status = processing).
func (d *Dispatcher) Dispatch(ctx context.Context, job *store.JobRow) error {
	payload, err := ParsePayload(job.JobType, job.Payload)
	if err != nil {
		// Malformed payload is a configuration error: fail immediately.
		d.failJob(ctx, job, nil, "invalid_payload", err)
		return err
	}

	switch job.JobType {
	case JobTypeExecute:
		return d.executor.Process(ctx, job, payload.(*ExecutePayload))
	case JobTypeRender:
		return d.renderer.Process(ctx, job, payload.(*RenderPayload))
	case JobTypeCombine:
		return d.combiner.Process(ctx, job, payload.(*CombinePayload))
	case JobTypePlan:
		return d.dispatchPlan(ctx, job, payload.(*PlanPayload))
	default:
		err := fmt.Errorf("unknown job type: %q", job.JobType)
		d.failJob(ctx, job, payload, "unknown_job_type", err)
		return err
	}
}

// dispatchPlan reads the stage's processing-strategy declaration and
// routes to the simple path or the planner fan-out.
func (d *Dispatcher) dispatchPlan(ctx context.Context, job *store.JobRow, payload *PlanPayload) error {
	stage, err := d.deps.Store.GetStage(ctx, job.StageSlug)
	if err != nil {
		err = fmt.Errorf("stage %s not found for job %s: %w", job.StageSlug, job.ID, err)
		d.failJob(ctx, job, payload, "stage_not_found", err)
		return err
	}

	strategy, err := decodeStrategy(stage.ProcessingStrategy)
	if err != nil {
		d.failJob(ctx, job, payload, "unknown_strategy", err)
		return err
	}

	switch strategy {
	case "":
		// No strategy declared: the job is leaf work itself.
		return d.executor.ProcessSimple(ctx, job, payload, stage)
	case StrategyTaskIsolation:
		if err := d.planner.Process(ctx, job, payload, stage); err != nil {
			// Planner failures are planning configuration errors, not
			// transient faults; the parent job fails without retry.
			d.failJob(ctx, job, payload, "planning_failed", err)
			return err
		}
		return nil
	default:
		err := fmt.Errorf("%w: %q on stage %s", ErrUnknownStrategy, strategy, stage.Slug)
		d.failJob(ctx, job, payload, "unknown_strategy", err)
		return err
	}
}

func decodeStrategy(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s processingStrategy
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: malformed declaration: %v", ErrUnknownStrategy, err)
	}
	return s.Type, nil
}

// failJob marks a job failed with descriptive error details and emits
// the terminal failure notification. Used for configuration and
// planning errors that must not enter the retry loop.
func (d *Dispatcher) failJob(ctx context.Context, job *store.JobRow, payload Payload, code string, cause error) {
	details := ErrorDetails{Code: code, Message: cause.Error()}
	d.deps.finalizeJob(ctx, job.ID, map[string]any{
		"status":        StatusFailed,
		"error_details": mustJSON(details),
		"completed_at":  d.deps.Clock().Format(time.RFC3339),
	})

	event := notify.Event{
		Type:            notify.EventJobFailed,
		SessionID:       job.SessionID,
		StageSlug:       job.StageSlug,
		IterationNumber: job.IterationNumber,
		JobID:           job.ID,
		Error:           &notify.EventError{Code: code, Message: cause.Error()},
	}
	// PLAN failures omit model/document attribution; EXECUTE and RENDER
	// failures include whatever the payload carries.
	switch p := payload.(type) {
	case *ExecutePayload:
		event.ModelID = p.ModelID
		event.DocumentKey = p.DocumentKey
	case *RenderPayload:
		event.ModelID = p.ModelID
		event.DocumentKey = p.DocumentKey
	}
	d.push(ctx, job, event)
}

func (d *Dispatcher) push(ctx context.Context, job *store.JobRow, event notify.Event) {
	d.deps.push(ctx, job.UserID, event)
}
