package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kestrel-ai/dialectic/internal/notify"
	"github.com/kestrel-ai/dialectic/internal/prompts"
	"github.com/kestrel-ai/dialectic/internal/providers"
	"github.com/kestrel-ai/dialectic/internal/storage"
	"github.com/kestrel-ai/dialectic/internal/store"
)

// fakeStore is an in-memory Store that records every job update so
// tests can assert on status sequences.
type fakeStore struct {
	mu sync.Mutex

	jobs          map[string]*store.JobRow
	contributions map[string]*store.ContributionRow
	sessions      map[string]*store.SessionRow
	projects      map[string]*store.ProjectRow
	stages        map[string]*store.StageRow

	nextID int

	// updates[jobID] is the ordered list of field maps applied.
	updates map[string][]map[string]any

	failInsertJobs error
	failUpdateJob  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:          make(map[string]*store.JobRow),
		contributions: make(map[string]*store.ContributionRow),
		sessions:      make(map[string]*store.SessionRow),
		projects:      make(map[string]*store.ProjectRow),
		stages:        make(map[string]*store.StageRow),
		updates:       make(map[string][]map[string]any),
	}
}

var _ Store = (*fakeStore)(nil)

func (f *fakeStore) genID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeStore) addJob(row store.JobRow) *store.JobRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row.ID == "" {
		row.ID = f.genID("job")
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	stored := row
	f.jobs[stored.ID] = &stored
	return &stored
}

func (f *fakeStore) addContribution(row store.ContributionRow) *store.ContributionRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row.ID == "" {
		row.ID = f.genID("contrib")
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	stored := row
	f.contributions[stored.ID] = &stored
	return &stored
}

func (f *fakeStore) GetJob(_ context.Context, id string) (*store.JobRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", store.ErrNotFound, id)
	}
	out := *row
	return &out, nil
}

func (f *fakeStore) ListChildJobs(_ context.Context, parentID string) ([]store.JobRow, error) {
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

func (f *fakeStore) InsertJobs(_ context.Context, rows []store.JobRow) ([]store.JobRow, error) {
	if f.failInsertJobs != nil {
		return nil, f.failInsertJobs
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.JobRow
	for _, row := range rows {
		if row.ID == "" {
			row.ID = f.genID("job")
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now().UTC()
		}
		stored := row
		f.jobs[stored.ID] = &stored
		out = append(out, stored)
	}
	return out, nil
}

func (f *fakeStore) UpdateJob(_ context.Context, id string, fields map[string]any) error {
	if f.failUpdateJob != nil {
		return f.failUpdateJob
	}
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
	if v, ok := fields["attempt_count"].(int); ok {
		row.AttemptCount = v
	}
	if v, ok := fields["prerequisite_job_id"].(string); ok {
		row.PrerequisiteJobID = &v
	}
	if v, ok := fields["error_details"].(json.RawMessage); ok {
		row.ErrorDetails = v
	}
	if v, ok := fields["results"].(json.RawMessage); ok {
		row.Results = v
	}
	return nil
}

func (f *fakeStore) GetContribution(_ context.Context, id string) (*store.ContributionRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.contributions[id]
	if !ok {
		return nil, fmt.Errorf("%w: contribution %s", store.ErrNotFound, id)
	}
	out := *row
	return &out, nil
}

func (f *fakeStore) ListContributions(_ context.Context, sessionID, stageSlug string, iteration int) ([]store.ContributionRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.ContributionRow
	for _, row := range f.contributions {
		if row.SessionID == sessionID && row.StageSlug == stageSlug && row.IterationNumber == iteration {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertContribution(_ context.Context, row store.ContributionRow) (*store.ContributionRow, error) {
	return f.addContribution(row), nil
}

func (f *fakeStore) GetSession(_ context.Context, id string) (*store.SessionRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", store.ErrNotFound, id)
	}
	out := *row
	return &out, nil
}

func (f *fakeStore) GetProject(_ context.Context, id string) (*store.ProjectRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: project %s", store.ErrNotFound, id)
	}
	out := *row
	return &out, nil
}

func (f *fakeStore) GetStage(_ context.Context, slug string) (*store.StageRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.stages[slug]
	if !ok {
		return nil, fmt.Errorf("%w: stage %s", store.ErrNotFound, slug)
	}
	out := *row
	return &out, nil
}

// statusSequence returns the ordered status values written for a job.
func (f *fakeStore) statusSequence(jobID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, fields := range f.updates[jobID] {
		if v, ok := fields["status"].(string); ok {
			out = append(out, v)
		}
	}
	return out
}

func (f *fakeStore) jobsByType(jobType string) []store.JobRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.JobRow
	for _, row := range f.jobs {
		if row.JobType == jobType {
			out = append(out, *row)
		}
	}
	return out
}

// fakeModels is a ModelSource over named mock clients.
type fakeModels struct {
	clients map[string]*providers.MockClient
}

func newFakeModels(names ...string) *fakeModels {
	f := &fakeModels{clients: make(map[string]*providers.MockClient)}
	for _, name := range names {
		f.clients[name] = providers.NewMockClient()
	}
	return f
}

func (f *fakeModels) Get(name string) (providers.ModelClient, error) {
	c, ok := f.clients[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}
	return c, nil
}

// testEnv bundles the fakes behind a Deps for processor tests.
type testEnv struct {
	store    *fakeStore
	storage  *storage.MemStore
	models   *fakeModels
	recorder *notify.Recorder
	deps     *Deps
}

func newTestEnv(modelNames ...string) *testEnv {
	if len(modelNames) == 0 {
		modelNames = []string{"model-a"}
	}
	env := &testEnv{
		store:    newFakeStore(),
		storage:  storage.NewMemStore(),
		models:   newFakeModels(modelNames...),
		recorder: &notify.Recorder{},
	}
	reg := prompts.NewRegistry()
	reg.Register(prompts.Template{
		Name: "step.default",
		Text: "Work with these {{.DocumentCount}} documents:\n{{.Documents}}",
	})
	env.deps = &Deps{
		Store:    env.store,
		Storage:  env.storage,
		Models:   env.models,
		Notifier: env.recorder,
		Prompts:  reg,
		Bucket:   "test-bucket",
	}
	return env
}

// seedMeta returns a consistent payload meta plus backing session,
// project, and stage rows.
func (env *testEnv) seedMeta(strategy string, steps []RecipeStep) PayloadMeta {
	meta := PayloadMeta{
		ProjectID:       "proj-1",
		SessionID:       "sess-1",
		StageSlug:       "thesis",
		IterationNumber: 1,
		WalletID:        "wallet-1",
	}
	env.store.projects[meta.ProjectID] = &store.ProjectRow{
		ID: meta.ProjectID, UserID: "user-1", InitialPrompt: "Discuss the topic.", WalletID: meta.WalletID,
	}
	env.store.sessions[meta.SessionID] = &store.SessionRow{
		ID: meta.SessionID, ProjectID: meta.ProjectID, UserID: "user-1",
		CurrentStageSlug: meta.StageSlug, IterationNumber: meta.IterationNumber,
	}

	stage := &store.StageRow{Slug: meta.StageSlug}
	if strategy != "" {
		stage.ProcessingStrategy = mustJSON(map[string]string{"type": strategy})
	}
	if steps != nil {
		stage.RecipeSteps = mustJSON(steps)
	}
	env.store.stages[meta.StageSlug] = stage
	return meta
}
