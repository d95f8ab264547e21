package worker

import (
	"context"
	"testing"
	"time"

	"github.com/kestrel-ai/dialectic/internal/engine"
	"github.com/kestrel-ai/dialectic/internal/notify"
	"github.com/kestrel-ai/dialectic/internal/store"
)

func TestReconcilerCompletesParent(t *testing.T) {
	source := newFakeSource()
	recorder := &notify.Recorder{}
	parent := source.add(store.JobRow{
		UserID: "user-1", SessionID: "sess-1", StageSlug: "thesis", IterationNumber: 1,
		JobType: engine.JobTypePlan, Status: engine.StatusWaitingForChildren,
	})
	ok := source.add(store.JobRow{ParentJobID: &parent.ID, Status: engine.StatusCompleted})
	bad := source.add(store.JobRow{ParentJobID: &parent.ID, Status: engine.StatusRetryLoopFailed})

	rec := NewReconciler(source, recorder, time.Second, 0, nil)
	rec.Tick(context.Background())

	row, _ := source.GetJob(context.Background(), parent.ID)
	if row.Status != engine.StatusCompleted {
		t.Errorf("parent status = %s, want completed with at least one success", row.Status)
	}

	events := recorder.ByType(notify.EventGenerationComplete)
	if len(events) != 1 {
		t.Fatalf("generation_complete events = %d, want 1", len(events))
	}
	if len(events[0].Succeeded) != 1 || events[0].Succeeded[0] != ok.ID {
		t.Errorf("succeeded set = %v, want [%s]", events[0].Succeeded, ok.ID)
	}
	if len(events[0].Failed) != 1 || events[0].Failed[0] != bad.ID {
		t.Errorf("failed set = %v, want [%s]", events[0].Failed, bad.ID)
	}
}

func TestReconcilerFailsParentWithZeroSuccesses(t *testing.T) {
	source := newFakeSource()
	recorder := &notify.Recorder{}
	parent := source.add(store.JobRow{
		UserID: "user-1", SessionID: "sess-1",
		JobType: engine.JobTypePlan, Status: engine.StatusWaitingForChildren,
	})
	source.add(store.JobRow{ParentJobID: &parent.ID, Status: engine.StatusFailed})
	source.add(store.JobRow{ParentJobID: &parent.ID, Status: engine.StatusRetryLoopFailed})

	rec := NewReconciler(source, recorder, time.Second, 0, nil)
	rec.Tick(context.Background())

	row, _ := source.GetJob(context.Background(), parent.ID)
	if row.Status != engine.StatusFailed {
		t.Errorf("parent status = %s, want failed when no child succeeded", row.Status)
	}
	if got := recorder.ByType(notify.EventGenerationFailed); len(got) != 1 {
		t.Errorf("generation_failed events = %d, want 1", len(got))
	}
}

func TestReconcilerWaitsForOpenChildren(t *testing.T) {
	source := newFakeSource()
	parent := source.add(store.JobRow{
		JobType: engine.JobTypePlan, Status: engine.StatusWaitingForChildren,
	})
	source.add(store.JobRow{ParentJobID: &parent.ID, Status: engine.StatusCompleted})
	source.add(store.JobRow{ParentJobID: &parent.ID, Status: engine.StatusProcessing})

	rec := NewReconciler(source, nil, time.Second, 0, nil)
	rec.Tick(context.Background())

	row, _ := source.GetJob(context.Background(), parent.ID)
	if row.Status != engine.StatusWaitingForChildren {
		t.Errorf("parent status = %s, want untouched while a child is open", row.Status)
	}
}

func TestReconcilerIgnoresChildlessParent(t *testing.T) {
	source := newFakeSource()
	parent := source.add(store.JobRow{
		JobType: engine.JobTypePlan, Status: engine.StatusWaitingForChildren,
	})

	rec := NewReconciler(source, nil, time.Second, 0, nil)
	rec.Tick(context.Background())

	row, _ := source.GetJob(context.Background(), parent.ID)
	if row.Status != engine.StatusWaitingForChildren {
		t.Errorf("parent status = %s, want untouched with no children yet", row.Status)
	}
}

func TestReconcilerUnblocksAfterPrerequisite(t *testing.T) {
	source := newFakeSource()
	prereq := source.add(store.JobRow{JobType: engine.JobTypeCombine, Status: engine.StatusCompleted})
	parked := source.add(store.JobRow{
		JobType: engine.JobTypePlan, Status: engine.StatusWaitingForPrerequisite,
		PrerequisiteJobID: &prereq.ID,
	})

	rec := NewReconciler(source, nil, time.Second, 0, nil)
	rec.Tick(context.Background())

	row, _ := source.GetJob(context.Background(), parked.ID)
	if row.Status != engine.StatusPending {
		t.Errorf("parked status = %s, want pending for re-planning", row.Status)
	}
}

func TestReconcilerPropagatesPrerequisiteFailure(t *testing.T) {
	source := newFakeSource()
	recorder := &notify.Recorder{}
	prereq := source.add(store.JobRow{JobType: engine.JobTypeCombine, Status: engine.StatusRetryLoopFailed})
	parked := source.add(store.JobRow{
		UserID: "user-1", SessionID: "sess-1",
		JobType: engine.JobTypePlan, Status: engine.StatusWaitingForPrerequisite,
		PrerequisiteJobID: &prereq.ID,
	})

	rec := NewReconciler(source, recorder, time.Second, 0, nil)
	rec.Tick(context.Background())

	row, _ := source.GetJob(context.Background(), parked.ID)
	if row.Status != engine.StatusFailed {
		t.Errorf("parked status = %s, want failed", row.Status)
	}
	failed := recorder.ByType(notify.EventJobFailed)
	if len(failed) != 1 || failed[0].Error == nil || failed[0].Error.Code != "prerequisite_failed" {
		t.Errorf("job_failed events = %+v", failed)
	}
}

func TestReconcilerWaitsForRunningPrerequisite(t *testing.T) {
	source := newFakeSource()
	prereq := source.add(store.JobRow{JobType: engine.JobTypeCombine, Status: engine.StatusProcessing})
	parked := source.add(store.JobRow{
		JobType: engine.JobTypePlan, Status: engine.StatusWaitingForPrerequisite,
		PrerequisiteJobID: &prereq.ID,
	})

	rec := NewReconciler(source, nil, time.Second, 0, nil)
	rec.Tick(context.Background())

	row, _ := source.GetJob(context.Background(), parked.ID)
	if row.Status != engine.StatusWaitingForPrerequisite {
		t.Errorf("parked status = %s, want untouched while prerequisite runs", row.Status)
	}
}

func TestReconcilerPromotesContinuation(t *testing.T) {
	t.Run("after debounce window", func(t *testing.T) {
		source := newFakeSource()
		job := source.add(store.JobRow{
			JobType: engine.JobTypeExecute, Status: engine.StatusPendingContinuation,
			CreatedAt: time.Now().Add(-time.Minute),
		})

		rec := NewReconciler(source, nil, time.Second, 10*time.Second, nil)
		rec.Tick(context.Background())

		row, _ := source.GetJob(context.Background(), job.ID)
		if row.Status != engine.StatusPending {
			t.Errorf("status = %s, want pending after the window elapsed", row.Status)
		}
	})

	t.Run("inside debounce window", func(t *testing.T) {
		source := newFakeSource()
		job := source.add(store.JobRow{
			JobType: engine.JobTypeExecute, Status: engine.StatusPendingContinuation,
			CreatedAt: time.Now(),
		})

		rec := NewReconciler(source, nil, time.Second, time.Hour, nil)
		rec.Tick(context.Background())

		row, _ := source.GetJob(context.Background(), job.ID)
		if row.Status != engine.StatusPendingContinuation {
			t.Errorf("status = %s, want still parked inside the window", row.Status)
		}
	})

	t.Run("no debounce configured", func(t *testing.T) {
		source := newFakeSource()
		job := source.add(store.JobRow{
			JobType: engine.JobTypeExecute, Status: engine.StatusPendingContinuation,
			CreatedAt: time.Now(),
		})

		rec := NewReconciler(source, nil, time.Second, 0, nil)
		rec.Tick(context.Background())

		row, _ := source.GetJob(context.Background(), job.ID)
		if row.Status != engine.StatusPending {
			t.Errorf("status = %s, want immediate promotion without debounce", row.Status)
		}
	})
}
