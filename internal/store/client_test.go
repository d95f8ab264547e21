package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{URL: srv.URL, APIKey: "test-key", Timeout: 5 * time.Second})
}

func TestGetJob(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/rest/v1/generation_jobs" {
				t.Errorf("path = %s", r.URL.Path)
			}
			if got := r.URL.Query().Get("id"); got != "eq.job-1" {
				t.Errorf("id filter = %q", got)
			}
			if got := r.Header.Get("apikey"); got != "test-key" {
				t.Errorf("apikey header = %q", got)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
				t.Errorf("authorization header = %q", got)
			}
			json.NewEncoder(w).Encode([]JobRow{{ID: "job-1", Status: "pending"}})
		})

		row, err := client.GetJob(context.Background(), "job-1")
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if row.ID != "job-1" || row.Status != "pending" {
			t.Errorf("row = %+v", row)
		}
	})

	t.Run("empty result is not found", func(t *testing.T) {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("[]"))
		})
		_, err := client.GetJob(context.Background(), "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("want ErrNotFound, got %v", err)
		}
	})
}

func TestClaimJob(t *testing.T) {
	t.Run("claims runnable row", func(t *testing.T) {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPatch {
				t.Errorf("method = %s, want PATCH", r.Method)
			}
			if got := r.URL.Query().Get("status"); got != "in.(pending,retrying)" {
				t.Errorf("status filter = %q", got)
			}
			var fields map[string]any
			json.NewDecoder(r.Body).Decode(&fields)
			if fields["status"] != "processing" {
				t.Errorf("patched status = %v", fields["status"])
			}
			if _, ok := fields["started_at"]; !ok {
				t.Error("claim must stamp started_at")
			}
			json.NewEncoder(w).Encode([]JobRow{{ID: "job-1", Status: "processing"}})
		})

		claimed, err := client.ClaimJob(context.Background(), "job-1", []string{"pending", "retrying"})
		if err != nil {
			t.Fatalf("ClaimJob: %v", err)
		}
		if !claimed {
			t.Error("want claimed")
		}
	})

	t.Run("lost race returns false", func(t *testing.T) {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			// The CAS filter matched nothing: another worker moved the row.
			w.Write([]byte("[]"))
		})
		claimed, err := client.ClaimJob(context.Background(), "job-1", []string{"pending"})
		if err != nil {
			t.Fatalf("ClaimJob: %v", err)
		}
		if claimed {
			t.Error("want not claimed when the filter matches nothing")
		}
	})
}

func TestInsertJobs(t *testing.T) {
	t.Run("returns stored rows", func(t *testing.T) {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Prefer"); got != "return=representation" {
				t.Errorf("Prefer header = %q", got)
			}
			var rows []JobRow
			json.NewDecoder(r.Body).Decode(&rows)
			for i := range rows {
				rows[i].ID = "assigned-" + rows[i].JobType
			}
			json.NewEncoder(w).Encode(rows)
		})

		stored, err := client.InsertJobs(context.Background(), []JobRow{
			{JobType: "execute"}, {JobType: "render"},
		})
		if err != nil {
			t.Fatalf("InsertJobs: %v", err)
		}
		if len(stored) != 2 || stored[0].ID != "assigned-execute" {
			t.Errorf("stored = %+v", stored)
		}
	})

	t.Run("count mismatch is an error", func(t *testing.T) {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode([]JobRow{{ID: "only-one"}})
		})
		if _, err := client.InsertJobs(context.Background(), []JobRow{{}, {}}); err == nil {
			t.Error("expected error on partial insert")
		}
	})

	t.Run("empty slice is a no-op", func(t *testing.T) {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected for empty insert")
		})
		if _, err := client.InsertJobs(context.Background(), nil); err != nil {
			t.Errorf("InsertJobs(nil): %v", err)
		}
	})
}

func TestListJobsByStatus(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("status"); got != "in.(pending,retrying)" {
			t.Errorf("status filter = %q", got)
		}
		if got := q.Get("order"); got != "created_at.asc" {
			t.Errorf("order = %q, oldest must run first", got)
		}
		if got := q.Get("limit"); got != "25" {
			t.Errorf("limit = %q", got)
		}
		json.NewEncoder(w).Encode([]JobRow{{ID: "a"}, {ID: "b"}})
	})

	rows, err := client.ListJobsByStatus(context.Background(), []string{"pending", "retrying"}, 25)
	if err != nil {
		t.Fatalf("ListJobsByStatus: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("rows = %d, want 2", len(rows))
	}
}

func TestClientRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]JobRow{{ID: "job-1"}})
	})

	row, err := client.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob after retries: %v", err)
	}
	if row.ID != "job-1" {
		t.Errorf("row = %+v", row)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server called %d times, want 3", got)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"constraint violation"}`))
	})

	err := client.UpdateJob(context.Background(), "job-1", map[string]any{"status": "completed"})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1 (4xx is permanent)", got)
	}
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/health" {
				t.Errorf("path = %s", r.URL.Path)
			}
			w.WriteHeader(http.StatusOK)
		})
		if err := client.HealthCheck(context.Background()); err != nil {
			t.Errorf("HealthCheck: %v", err)
		}
	})

	t.Run("unhealthy", func(t *testing.T) {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		if err := client.HealthCheck(context.Background()); err == nil {
			t.Error("expected error for unhealthy store")
		}
	})
}
