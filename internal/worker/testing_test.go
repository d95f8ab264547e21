package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kestrel-ai/dialectic/internal/store"
)

// fakeSource is an in-memory JobSource with compare-and-set claim
// semantics matching the real store client.
type fakeSource struct {
	mu     sync.Mutex
	jobs   map[string]*store.JobRow
	nextID int

	updates map[string][]map[string]any

	failList  error
	failClaim error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		jobs:    make(map[string]*store.JobRow),
		updates: make(map[string][]map[string]any),
	}
}

var _ JobSource = (*fakeSource)(nil)

func (f *fakeSource) add(row store.JobRow) *store.JobRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row.ID == "" {
		f.nextID++
		row.ID = fmt.Sprintf("job-%d", f.nextID)
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	stored := row
	f.jobs[stored.ID] = &stored
	return &stored
}

func (f *fakeSource) ListJobsByStatus(_ context.Context, statuses []string, limit int) ([]store.JobRow, error) {
	if f.failList != nil {
		return nil, f.failList
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}
	var out []store.JobRow
	for _, row := range f.jobs {
		if wanted[row.Status] && len(out) < limit {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeSource) ClaimJob(_ context.Context, id string, fromStatuses []string) (bool, error) {
	if f.failClaim != nil {
		return false, f.failClaim
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.jobs[id]
	if !ok {
		return false, nil
	}
	for _, s := range fromStatuses {
		if row.Status == s {
			row.Status = "processing"
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSource) GetJob(_ context.Context, id string) (*store.JobRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", store.ErrNotFound, id)
	}
	out := *row
	return &out, nil
}

func (f *fakeSource) ListChildJobs(_ context.Context, parentID string) ([]store.JobRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.JobRow
	for _, row := range f.jobs {
		if row.ParentJobID != nil && *row.ParentJobID == parentID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeSource) UpdateJob(_ context.Context, id string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %s", store.ErrNotFound, id)
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	f.updates[id] = append(f.updates[id], copied)
	if v, ok := fields["status"].(string); ok {
		row.Status = v
	}
	return nil
}

// fakeDispatcher records every job it receives.
type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []store.JobRow
	err  error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, job *store.JobRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, *job)
	return d.err
}

func (d *fakeDispatcher) dispatched() []store.JobRow {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]store.JobRow, len(d.jobs))
	copy(out, d.jobs)
	return out
}
