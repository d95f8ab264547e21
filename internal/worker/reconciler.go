package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/kestrel-ai/dialectic/internal/engine"
	"github.com/kestrel-ai/dialectic/internal/notify"
	"github.com/kestrel-ai/dialectic/internal/store"
)

// Reconciler resolves the states the engine parks jobs in:
// waiting_for_children completes or fails once every child is terminal,
// waiting_for_prerequisite re-runs once its prerequisite completes, and
// pending_continuation promotes to runnable after the debounce window.
type Reconciler struct {
	source   JobSource
	notifier notify.Notifier
	logger   *slog.Logger

	interval time.Duration
	debounce time.Duration
}

// NewReconciler creates a reconciler. interval defaults to 5s.
func NewReconciler(source JobSource, notifier notify.Notifier, interval, debounce time.Duration, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		source:   source,
		notifier: notifier,
		logger:   logger,
		interval: interval,
		debounce: debounce,
	}
}

// Run reconciles until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("worker reconciler started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("worker reconciler stopped")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass.
func (r *Reconciler) Tick(ctx context.Context) {
	rows, err := r.source.ListJobsByStatus(ctx, []string{
		engine.StatusWaitingForChildren,
		engine.StatusWaitingForPrerequisite,
		engine.StatusPendingContinuation,
	}, 200)
	if err != nil {
		r.logger.Warn("list parked jobs failed", "error", err)
		return
	}

	for i := range rows {
		job := rows[i]
		switch job.Status {
		case engine.StatusWaitingForChildren:
			r.reconcileChildren(ctx, &job)
		case engine.StatusWaitingForPrerequisite:
			r.reconcilePrerequisite(ctx, &job)
		case engine.StatusPendingContinuation:
			r.promoteContinuation(ctx, &job)
		}
	}
}

// reconcileChildren completes a parent once every child reached a
// terminal state. The completion notification reports succeeded and
// failed sets distinctly; a parent with zero successes fails.
func (r *Reconciler) reconcileChildren(ctx context.Context, job *store.JobRow) {
	children, err := r.source.ListChildJobs(ctx, job.ID)
	if err != nil {
		r.logger.Warn("list children failed", "job_id", job.ID, "error", err)
		return
	}
	if len(children) == 0 || !engine.AllTerminal(children) {
		return
	}

	sets := engine.PartitionChildren(children)
	status := engine.StatusCompleted
	if len(sets.Succeeded) == 0 {
		status = engine.StatusFailed
	}

	fields := map[string]any{
		"status": status,
		"results": map[string]any{
			"succeeded_job_ids": sets.Succeeded,
			"failed_job_ids":    sets.Failed,
		},
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.source.UpdateJob(ctx, job.ID, fields); err != nil {
		r.logger.Error("CRITICAL: parent completion write failed", "job_id", job.ID, "error", err)
		return
	}

	event := notify.Event{
		SessionID:       job.SessionID,
		StageSlug:       job.StageSlug,
		IterationNumber: job.IterationNumber,
		JobID:           job.ID,
		Succeeded:       sets.Succeeded,
		Failed:          sets.Failed,
	}
	if status == engine.StatusCompleted {
		event.Type = notify.EventGenerationComplete
	} else {
		event.Type = notify.EventGenerationFailed
	}
	r.push(ctx, job.UserID, event)

	r.logger.Info("parent job reconciled",
		"job_id", job.ID, "status", status,
		"succeeded", len(sets.Succeeded), "failed", len(sets.Failed))
}

// reconcilePrerequisite unblocks a job once its prerequisite is
// terminal: completed re-queues it for planning, failure fails it.
func (r *Reconciler) reconcilePrerequisite(ctx context.Context, job *store.JobRow) {
	if job.PrerequisiteJobID == nil {
		r.logger.Warn("waiting_for_prerequisite job has no prerequisite_job_id", "job_id", job.ID)
		return
	}

	prereq, err := r.source.GetJob(ctx, *job.PrerequisiteJobID)
	if err != nil {
		r.logger.Warn("load prerequisite failed", "job_id", job.ID, "prerequisite_job_id", *job.PrerequisiteJobID, "error", err)
		return
	}

	switch prereq.Status {
	case engine.StatusCompleted:
		if err := r.source.UpdateJob(ctx, job.ID, map[string]any{
			"status": engine.StatusPending,
		}); err != nil {
			r.logger.Warn("requeue after prerequisite failed", "job_id", job.ID, "error", err)
		}
	case engine.StatusFailed, engine.StatusRetryLoopFailed:
		if err := r.source.UpdateJob(ctx, job.ID, map[string]any{
			"status":       engine.StatusFailed,
			"completed_at": time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			r.logger.Error("CRITICAL: prerequisite failure propagation write failed", "job_id", job.ID, "error", err)
			return
		}
		r.push(ctx, job.UserID, notify.Event{
			Type:            notify.EventJobFailed,
			SessionID:       job.SessionID,
			StageSlug:       job.StageSlug,
			IterationNumber: job.IterationNumber,
			JobID:           job.ID,
			Error: &notify.EventError{
				Code:    "prerequisite_failed",
				Message: "prerequisite job " + prereq.ID + " did not complete",
			},
		})
	}
}

// promoteContinuation makes a debounced continuation runnable once the
// window has elapsed.
func (r *Reconciler) promoteContinuation(ctx context.Context, job *store.JobRow) {
	if r.debounce > 0 && time.Since(job.CreatedAt) < r.debounce {
		return
	}
	if err := r.source.UpdateJob(ctx, job.ID, map[string]any{
		"status": engine.StatusPending,
	}); err != nil {
		r.logger.Warn("promote continuation failed", "job_id", job.ID, "error", err)
	}
}

func (r *Reconciler) push(ctx context.Context, userID string, event notify.Event) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Push(ctx, userID, event); err != nil {
		notify.LogFailure(r.logger, err, event)
	}
}
