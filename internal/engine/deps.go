package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/kestrel-ai/dialectic/internal/metrics"
	"github.com/kestrel-ai/dialectic/internal/notify"
	"github.com/kestrel-ai/dialectic/internal/prompts"
	"github.com/kestrel-ai/dialectic/internal/providers"
	"github.com/kestrel-ai/dialectic/internal/storage"
	"github.com/kestrel-ai/dialectic/internal/store"
)

// Sentinel errors for the engine's failure taxonomy.
var (
	// ErrUnknownStrategy is a deployment bug: the stage declares a
	// processing strategy no processor implements. Never retried.
	ErrUnknownStrategy = errors.New("unknown processing strategy")

	// ErrContextWindow marks input that cannot fit a model's window.
	// Never retried; either triggers a COMBINE detour (planner) or
	// terminates the job (combiner, executor).
	ErrContextWindow = errors.New("input exceeds model context window")

	// ErrMissingSourceGroup marks a source document without lineage.
	ErrMissingSourceGroup = errors.New("source document missing source_group")
)

// isContextWindowError reports whether err is (or wraps) a
// context-window violation.
func isContextWindowError(err error) bool {
	return errors.Is(err, ErrContextWindow)
}

// Store is the job store surface the engine consumes. *store.Client
// implements it; tests substitute fakes.
type Store interface {
	GetJob(ctx context.Context, id string) (*store.JobRow, error)
	ListChildJobs(ctx context.Context, parentID string) ([]store.JobRow, error)
	InsertJobs(ctx context.Context, rows []store.JobRow) ([]store.JobRow, error)
	UpdateJob(ctx context.Context, id string, fields map[string]any) error

	GetContribution(ctx context.Context, id string) (*store.ContributionRow, error)
	ListContributions(ctx context.Context, sessionID, stageSlug string, iteration int) ([]store.ContributionRow, error)
	InsertContribution(ctx context.Context, row store.ContributionRow) (*store.ContributionRow, error)

	GetSession(ctx context.Context, id string) (*store.SessionRow, error)
	GetProject(ctx context.Context, id string) (*store.ProjectRow, error)
	GetStage(ctx context.Context, slug string) (*store.StageRow, error)
}

var _ Store = (*store.Client)(nil)

// ModelSource resolves a model id to a client. *providers.Registry
// implements it.
type ModelSource interface {
	Get(name string) (providers.ModelClient, error)
}

var _ ModelSource = (*providers.Registry)(nil)

// Deps carries every collaborator a processor needs. The dispatcher
// passes it explicitly; there are no package-level singletons, which is
// what lets the state-machine tests substitute fakes per component.
type Deps struct {
	Store    Store
	Storage  storage.ObjectStore
	Models   ModelSource
	Notifier notify.Notifier
	Prompts  *prompts.Registry
	Metrics  *metrics.Recorder // optional, nil disables recording
	Logger   *slog.Logger

	// Now is the clock; defaults to time.Now via Clock().
	Now func() time.Time

	// Bucket is the object-storage bucket contributions are written to.
	Bucket string

	// ContinuationDebounce, when positive, makes continuation jobs
	// insert as pending_continuation so an external dedup step can
	// promote them; zero inserts them directly runnable.
	ContinuationDebounce time.Duration
}

// Clock returns the injected clock, defaulting to time.Now.
func (d *Deps) Clock() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

func (d *Deps) log() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// push sends a lifecycle event, logging failures without propagating
// them: notification delivery never fails a job.
func (d *Deps) push(ctx context.Context, userID string, event notify.Event) {
	if d.Notifier == nil {
		return
	}
	if err := d.Notifier.Push(ctx, userID, event); err != nil {
		notify.LogFailure(d.log(), err, event)
	}
}

// finalizeJob performs the terminal status write for a job. The write is
// retried; if it still fails the error is logged at CRITICAL level and
// swallowed — already-saved artifacts and already-sent notifications are
// never rolled back, favoring at-least-once delivery of model work over
// strict job-row consistency.
func (d *Deps) finalizeJob(ctx context.Context, jobID string, fields map[string]any) {
	err := retry.Do(
		func() error { return d.Store.UpdateJob(ctx, jobID, fields) },
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		d.log().Error("CRITICAL: final job status write failed; artifacts may be orphaned",
			"job_id", jobID,
			"fields", fields,
			"error", err)
	}
}

// mustJSON marshals v, panicking on failure. Only used for values the
// engine constructs itself.
func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
