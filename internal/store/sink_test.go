package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type captureServer struct {
	mu      sync.Mutex
	inserts []map[string]any
	updates []map[string]any
	srv     *httptest.Server
}

func newCaptureServer(t *testing.T) *captureServer {
	t.Helper()
	cs := &captureServer{}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var rows []map[string]any
			json.NewDecoder(r.Body).Decode(&rows)
			cs.mu.Lock()
			cs.inserts = append(cs.inserts, rows...)
			cs.mu.Unlock()
			for i := range rows {
				rows[i]["id"] = "stored-1"
			}
			json.NewEncoder(w).Encode(rows)
		case http.MethodPatch:
			var fields map[string]any
			json.NewDecoder(r.Body).Decode(&fields)
			cs.mu.Lock()
			cs.updates = append(cs.updates, fields)
			cs.mu.Unlock()
			w.Write([]byte("[]"))
		}
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *captureServer) insertCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.inserts)
}

func newTestSink(t *testing.T, cs *captureServer, batchSize int) *Sink {
	t.Helper()
	sink := NewSink(SinkConfig{
		Client:        NewClient(ClientConfig{URL: cs.srv.URL}),
		BatchSize:     batchSize,
		FlushInterval: 50 * time.Millisecond,
	})
	sink.Start(context.Background())
	return sink
}

func TestSinkFlushesOnInterval(t *testing.T) {
	cs := newCaptureServer(t)
	sink := newTestSink(t, cs, 100)

	sink.Send(WriteOp{
		Table: TableMetrics,
		Op:    OpInsert,
		Row:   map[string]any{"job_id": "job-1"},
	})

	deadline := time.Now().Add(2 * time.Second)
	for cs.insertCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if cs.insertCount() != 1 {
		t.Fatalf("inserts = %d, want 1 after interval flush", cs.insertCount())
	}
	sink.Stop()
}

func TestSinkStopFlushesRemaining(t *testing.T) {
	cs := newCaptureServer(t)
	sink := NewSink(SinkConfig{
		Client:        NewClient(ClientConfig{URL: cs.srv.URL}),
		BatchSize:     100,
		FlushInterval: time.Hour, // only the shutdown flush may fire
	})
	sink.Start(context.Background())

	for i := 0; i < 5; i++ {
		sink.Send(WriteOp{Table: TableMetrics, Op: OpInsert, Row: map[string]any{"n": i}})
	}
	sink.Stop()

	if got := cs.insertCount(); got != 5 {
		t.Errorf("inserts = %d, want all 5 flushed on stop", got)
	}
}

func TestSinkSendSyncReturnsRowID(t *testing.T) {
	cs := newCaptureServer(t)
	sink := newTestSink(t, cs, 1) // every op flushes immediately
	defer sink.Stop()

	result, err := sink.SendSync(context.Background(), WriteOp{
		Table: TableMetrics,
		Op:    OpInsert,
		Row:   map[string]any{"job_id": "job-1"},
	})
	if err != nil {
		t.Fatalf("SendSync: %v", err)
	}
	if result.RowID != "stored-1" {
		t.Errorf("row id = %q, want stored-1", result.RowID)
	}
}

func TestSinkUpdateOp(t *testing.T) {
	cs := newCaptureServer(t)
	sink := newTestSink(t, cs, 1)
	defer sink.Stop()

	if _, err := sink.SendSync(context.Background(), WriteOp{
		Table: TableJobs,
		Op:    OpUpdate,
		RowID: "job-1",
		Row:   map[string]any{"status": "completed"},
	}); err != nil {
		t.Fatalf("SendSync: %v", err)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.updates) != 1 || cs.updates[0]["status"] != "completed" {
		t.Errorf("updates = %+v", cs.updates)
	}
}

func TestSinkDropsAfterStop(t *testing.T) {
	cs := newCaptureServer(t)
	sink := newTestSink(t, cs, 1)
	sink.Stop()

	// Must not panic; the op is dropped with a warning.
	sink.Send(WriteOp{Table: TableMetrics, Op: OpInsert, Row: map[string]any{}})
}
