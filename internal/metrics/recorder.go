package metrics

import (
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-ai/dialectic/internal/providers"
	"github.com/kestrel-ai/dialectic/internal/store"
)

// Sink is the write channel metrics are recorded through. Satisfied by
// *store.Sink.
type Sink interface {
	Send(op store.WriteOp)
}

// Recorder writes model-call metrics through the async store sink.
// Recording is fire-and-forget: a failed metric write never fails the
// job that produced it.
type Recorder struct {
	sink Sink
}

// NewRecorder creates a metrics recorder backed by the given sink.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink}
}

// RecordOpts provides attribution for a metric recording.
type RecordOpts struct {
	JobID           string
	SessionID       string
	StageSlug       string
	IterationNumber int
	StepKey         string
	ContributionID  string
}

// Record queues a single metric for storage.
func (r *Recorder) Record(m Metric) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	r.sink.Send(store.WriteOp{
		Table: store.TableMetrics,
		Row:   m.Row(),
		RowID: m.ID,
		Op:    store.OpInsert,
	})
}

// RecordModelCall records metrics from a chat result.
func (r *Recorder) RecordModelCall(opts RecordOpts, result *providers.ChatResult) {
	if result == nil {
		return
	}
	r.Record(Metric{
		JobID:           opts.JobID,
		SessionID:       opts.SessionID,
		StageSlug:       opts.StageSlug,
		IterationNumber: opts.IterationNumber,
		StepKey:         opts.StepKey,
		ContributionID:  opts.ContributionID,

		Provider: result.Provider,
		Model:    result.ModelUsed,

		CostUSD:          result.CostUSD,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		TotalTokens:      result.Usage.TotalTokens,
		ExecutionSeconds: result.ExecutionTime.Seconds(),

		Success:   result.Success,
		ErrorType: result.ErrorType,
	})
}

// RecordError records a failed model invocation.
func (r *Recorder) RecordError(opts RecordOpts, provider, model, errorType string, duration time.Duration) {
	r.Record(Metric{
		JobID:           opts.JobID,
		SessionID:       opts.SessionID,
		StageSlug:       opts.StageSlug,
		IterationNumber: opts.IterationNumber,
		StepKey:         opts.StepKey,

		Provider: provider,
		Model:    model,

		ExecutionSeconds: duration.Seconds(),
		Success:          false,
		ErrorType:        errorType,
	})
}
