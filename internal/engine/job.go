// Package engine is the contribution job orchestration core: it routes
// job rows to processors, fans PLAN jobs out into EXECUTE/RENDER
// children, merges oversized inputs through COMBINE prerequisites,
// continues truncated model outputs, and drives the retry loop.
package engine

import "github.com/kestrel-ai/dialectic/internal/store"

// Job types. Payload is a discriminated union keyed by this value.
const (
	JobTypePlan    = "plan"
	JobTypeExecute = "execute"
	JobTypeRender  = "render"
	JobTypeCombine = "combine"
)

// Job statuses.
const (
	StatusPending                = "pending"
	StatusProcessing             = "processing"
	StatusCompleted              = "completed"
	StatusRetrying               = "retrying"
	StatusWaitingForChildren     = "waiting_for_children"
	StatusWaitingForPrerequisite = "waiting_for_prerequisite"
	StatusPendingContinuation    = "pending_continuation"
	StatusFailed                 = "failed"
	StatusRetryLoopFailed        = "retry_loop_failed"
)

// RunnableStatuses are the statuses a worker may claim for dispatch.
// pending_continuation is deliberately absent: debounced continuations
// are promoted to pending by the reconciler once their window elapses.
var RunnableStatuses = []string{StatusPending, StatusRetrying}

// IsTerminal reports whether status is a terminal job state.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusRetryLoopFailed:
		return true
	}
	return false
}

// FailedAttempt records one failed model invocation. The list accumulates
// across retries and is folded into error_details on final failure.
type FailedAttempt struct {
	ModelID       string `json:"modelId"`
	APIIdentifier string `json:"api_identifier"`
	Error         string `json:"error"`
}

// ErrorDetails is the terminal error_details payload.
type ErrorDetails struct {
	Code           string          `json:"code,omitempty"`
	Message        string          `json:"message"`
	FailedAttempts []FailedAttempt `json:"failed_attempts,omitempty"`
}

// ModelProcessingResult summarizes the outcome of a job's model work,
// stored in results on terminal statuses.
type ModelProcessingResult struct {
	ModelID        string `json:"modelId,omitempty"`
	ContributionID string `json:"contribution_id,omitempty"`
	Attempts       int    `json:"attempts"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
}

// ChildSets partitions a parent's children into succeeded and failed
// sets for the completion notification.
type ChildSets struct {
	Succeeded []string
	Failed    []string
}

// PartitionChildren splits terminal children by outcome. Non-terminal
// children are ignored.
func PartitionChildren(children []store.JobRow) ChildSets {
	var sets ChildSets
	for _, c := range children {
		switch c.Status {
		case StatusCompleted:
			sets.Succeeded = append(sets.Succeeded, c.ID)
		case StatusFailed, StatusRetryLoopFailed:
			sets.Failed = append(sets.Failed, c.ID)
		}
	}
	return sets
}

// AllTerminal reports whether every child has reached a terminal state.
func AllTerminal(children []store.JobRow) bool {
	for _, c := range children {
		if !IsTerminal(c.Status) {
			return false
		}
	}
	return true
}
