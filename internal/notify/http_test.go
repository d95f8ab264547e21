package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestHTTPNotifierPush(t *testing.T) {
	var got struct {
		UserID string `json:"user_id"`
		Event  Event  `json:"event"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notify" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("authorization = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, "secret")
	event := validEvent(EventExecuteCompleted)
	if err := n.Push(context.Background(), "user-1", event); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if got.UserID != "user-1" || got.Event.Type != EventExecuteCompleted {
		t.Errorf("delivered = %+v", got)
	}
}

func TestHTTPNotifierRejectsInvalidEvent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, "")
	err := n.Push(context.Background(), "user-1", Event{Type: EventExecuteStarted})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if calls.Load() != 0 {
		t.Error("invalid event must not reach the wire")
	}
}

func TestHTTPNotifierRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, "")
	if err := n.Push(context.Background(), "user-1", validEvent(EventGenerationComplete)); err != nil {
		t.Fatalf("Push after retry: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server called %d times, want 2", got)
	}
}

func TestHTTPNotifierDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, "")
	if err := n.Push(context.Background(), "user-1", validEvent(EventGenerationComplete)); err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1 (4xx is permanent)", got)
	}
}
