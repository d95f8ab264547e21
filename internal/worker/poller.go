// Package worker owns the trigger loop around the engine: it claims
// runnable job rows, dispatches them with bounded concurrency, and
// reconciles jobs parked on children or prerequisites.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrel-ai/dialectic/internal/engine"
	"github.com/kestrel-ai/dialectic/internal/store"
)

// JobSource is the store surface the worker polls. *store.Client
// implements it.
type JobSource interface {
	ListJobsByStatus(ctx context.Context, statuses []string, limit int) ([]store.JobRow, error)
	ClaimJob(ctx context.Context, id string, fromStatuses []string) (bool, error)
	GetJob(ctx context.Context, id string) (*store.JobRow, error)
	ListChildJobs(ctx context.Context, parentID string) ([]store.JobRow, error)
	UpdateJob(ctx context.Context, id string, fields map[string]any) error
}

var _ JobSource = (*store.Client)(nil)

// Dispatcher processes one claimed job row end to end.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *store.JobRow) error
}

// Config bounds the polling loop.
type Config struct {
	PollInterval time.Duration
	Concurrency  int
	BatchSize    int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	return c
}

// Poller claims runnable jobs and hands them to the dispatcher. Each
// job is processed by exactly one invocation; the compare-and-set claim
// keeps concurrent workers from double-processing a row.
type Poller struct {
	source     JobSource
	dispatcher Dispatcher
	cfg        Config
	logger     *slog.Logger

	wg  sync.WaitGroup
	sem chan struct{}
}

// NewPoller creates a poller.
func NewPoller(source JobSource, dispatcher Dispatcher, cfg Config, logger *slog.Logger) *Poller {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		source:     source,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		sem:        make(chan struct{}, cfg.Concurrency),
	}
}

// Run polls until ctx is canceled, then waits for in-flight jobs.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.logger.Info("worker poller started",
		"poll_interval", p.cfg.PollInterval,
		"concurrency", p.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			p.logger.Info("worker poller stopped")
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick claims and dispatches one batch of runnable jobs.
func (p *Poller) Tick(ctx context.Context) {
	rows, err := p.source.ListJobsByStatus(ctx, engine.RunnableStatuses, p.cfg.BatchSize)
	if err != nil {
		p.logger.Warn("list runnable jobs failed", "error", err)
		return
	}

	for i := range rows {
		row := rows[i]
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer func() { <-p.sem }()
			p.processOne(ctx, row)
		}()
	}
}

func (p *Poller) processOne(ctx context.Context, row store.JobRow) {
	claimed, err := p.source.ClaimJob(ctx, row.ID, engine.RunnableStatuses)
	if err != nil {
		p.logger.Warn("claim failed", "job_id", row.ID, "error", err)
		return
	}
	if !claimed {
		// Another worker got there first.
		return
	}

	// Re-read after the claim so the dispatcher sees the current
	// attempt count and payload.
	job, err := p.source.GetJob(ctx, row.ID)
	if err != nil {
		p.logger.Warn("reload claimed job failed", "job_id", row.ID, "error", err)
		return
	}

	if err := p.dispatcher.Dispatch(ctx, job); err != nil {
		p.logger.Warn("job dispatch ended in error", "job_id", job.ID, "job_type", job.JobType, "error", err)
	}
}
