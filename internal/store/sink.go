package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"
)

// OpType represents the type of write operation.
type OpType string

const (
	OpInsert OpType = "insert"
	OpUpdate OpType = "update"
)

// WriteOp represents a single write operation to be batched.
type WriteOp struct {
	Table  string             // Target table name
	Row    map[string]any     // Row data
	RowID  string             // For updates (empty for inserts)
	Op     OpType             // Operation type
	result chan<- WriteResult // Internal - set by SendSync
}

// WriteResult contains the result of a write operation.
type WriteResult struct {
	RowID string
	Err   error
}

// SinkConfig configures the write sink.
type SinkConfig struct {
	Client        *Client
	BatchSize     int           // Flush after N ops (default: 50)
	FlushInterval time.Duration // Or after duration (default: 2s)
	QueueSize     int           // Buffer size (default: 1000)
	Logger        *slog.Logger
}

// Sink batches fire-and-forget writes to the datastore. Metrics records go
// through here so a slow store never stalls job processing.
type Sink struct {
	client *Client
	logger *slog.Logger

	batchSize     int
	flushInterval time.Duration

	queue   chan WriteOp
	batch   []WriteOp
	batchMu sync.Mutex
	flushCh chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSink creates a new write sink.
func NewSink(cfg SinkConfig) *Sink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Sink{
		client:        cfg.Client,
		logger:        cfg.Logger,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		queue:         make(chan WriteOp, cfg.QueueSize),
		batch:         make([]WriteOp, 0, cfg.BatchSize),
		flushCh:       make(chan struct{}, 1),
	}
}

// Start begins processing write operations.
func (s *Sink) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.runBatcher()
}

// Stop gracefully shuts down the sink, flushing remaining operations.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping sink, flushing remaining operations")
		close(s.queue)
		s.wg.Wait()
		s.cancel()
		s.logger.Info("sink stopped")
	})
}

// Send queues a write operation (fire-and-forget).
func (s *Sink) Send(op WriteOp) {
	op.result = nil

	// Recover handles send on closed channel during shutdown.
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("sink closed, dropping write op", "table", op.Table, "op", op.Op)
		}
	}()

	select {
	case s.queue <- op:
	default:
		select {
		case s.queue <- op:
		case <-s.ctx.Done():
			s.logger.Warn("sink closed, dropping write op", "table", op.Table, "op", op.Op)
		}
	}
}

// SendSync queues a write operation and waits for the result.
func (s *Sink) SendSync(ctx context.Context, op WriteOp) (WriteResult, error) {
	resultCh := make(chan WriteResult, 1)
	op.result = resultCh

	select {
	case s.queue <- op:
	case <-s.ctx.Done():
		return WriteResult{}, ErrSinkClosed
	case <-ctx.Done():
		return WriteResult{}, ctx.Err()
	}

	select {
	case result := <-resultCh:
		return result, result.Err
	case <-s.ctx.Done():
		return WriteResult{}, fmt.Errorf("%w while waiting for result", ErrSinkClosed)
	case <-ctx.Done():
		return WriteResult{}, ctx.Err()
	}
}

// Flush forces an immediate flush of the current batch.
func (s *Sink) Flush() {
	select {
	case s.flushCh <- struct{}{}:
	default:
		// Flush already pending
	}
}

// runBatcher collects operations and flushes on size/time triggers.
func (s *Sink) runBatcher() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case op, ok := <-s.queue:
			if !ok {
				s.flushBatch()
				return
			}
			s.addToBatch(op)

		case <-ticker.C:
			s.flushBatch()

		case <-s.flushCh:
			s.flushBatch()
		}
	}
}

// addToBatch adds an operation to the current batch, flushing if full.
func (s *Sink) addToBatch(op WriteOp) {
	s.batchMu.Lock()
	s.batch = append(s.batch, op)
	shouldFlush := len(s.batch) >= s.batchSize
	s.batchMu.Unlock()

	if shouldFlush {
		s.flushBatch()
	}
}

// flushBatch processes the current batch of operations.
func (s *Sink) flushBatch() {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	ops := s.batch
	s.batch = make([]WriteOp, 0, s.batchSize)
	s.batchMu.Unlock()

	s.logger.Debug("flushing batch", "count", len(ops))

	for _, op := range ops {
		s.processOp(op)
	}
}

// processOp executes one write operation.
func (s *Sink) processOp(op WriteOp) {
	var result WriteResult

	switch op.Op {
	case OpInsert:
		var stored []map[string]any
		err := s.client.insertRows(s.ctx, op.Table, []map[string]any{op.Row}, &stored)
		if err == nil && len(stored) == 1 {
			if id, ok := stored[0]["id"].(string); ok {
				result.RowID = id
			}
		}
		result.Err = err

	case OpUpdate:
		q := url.Values{}
		q.Set("id", "eq."+op.RowID)
		result.RowID = op.RowID
		result.Err = s.client.updateRows(s.ctx, op.Table, q, op.Row, nil)

	default:
		result.Err = fmt.Errorf("unknown sink op: %s", op.Op)
	}

	if result.Err != nil {
		s.logger.Error("sink write failed", "table", op.Table, "op", op.Op, "error", result.Err)
	}

	if op.result != nil {
		op.result <- result
		close(op.result)
	}
}
