package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestHTTPStoreDownload(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/storage/v1/object/docs/sess/draft.md" {
				t.Errorf("path = %s", r.URL.Path)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer key" {
				t.Errorf("authorization = %q", got)
			}
			w.Write([]byte("document body"))
		}))
		defer srv.Close()

		store := NewHTTPStore(srv.URL, WithAPIKey("key"))
		data, err := store.Download(context.Background(), "docs", "sess/draft.md")
		if err != nil {
			t.Fatalf("Download: %v", err)
		}
		if string(data) != "document body" {
			t.Errorf("data = %q", data)
		}
	})

	t.Run("not found is permanent", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		store := NewHTTPStore(srv.URL)
		_, err := store.Download(context.Background(), "docs", "missing.md")
		if !errors.Is(err, ErrObjectNotFound) {
			t.Errorf("want ErrObjectNotFound, got %v", err)
		}
		if got := calls.Load(); got != 1 {
			t.Errorf("server called %d times, want 1", got)
		}
	})

	t.Run("server errors retry", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte("eventually"))
		}))
		defer srv.Close()

		store := NewHTTPStore(srv.URL)
		data, err := store.Download(context.Background(), "docs", "flaky.md")
		if err != nil {
			t.Fatalf("Download after retries: %v", err)
		}
		if string(data) != "eventually" {
			t.Errorf("data = %q", data)
		}
	})
}

func TestHTTPStoreUpload(t *testing.T) {
	var gotBody []byte
	var gotContentType, gotUpsert string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		gotUpsert = r.Header.Get("x-upsert")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	store := NewHTTPStore(srv.URL)
	if err := store.Upload(context.Background(), "docs", "sess/draft.md", []byte("content"), ""); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if string(gotBody) != "content" {
		t.Errorf("body = %q", gotBody)
	}
	if gotContentType != "text/markdown" {
		t.Errorf("content type = %q, want text/markdown default", gotContentType)
	}
	if gotUpsert != "true" {
		t.Errorf("x-upsert = %q, continuation chains overwrite in place", gotUpsert)
	}
}

func TestMemStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	if _, err := store.Download(ctx, "b", "missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("want ErrObjectNotFound, got %v", err)
	}

	if err := store.Upload(ctx, "b", "p", []byte("v1"), ""); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	data, err := store.Download(ctx, "b", "p")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "v1" {
		t.Errorf("data = %q", data)
	}

	// Overwrite semantics.
	store.Put("b", "p", []byte("v2"))
	data, _ = store.Download(ctx, "b", "p")
	if string(data) != "v2" {
		t.Errorf("data after overwrite = %q", data)
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}

	// Stored bytes are isolated from caller mutation.
	buf := []byte("v3")
	store.Put("b", "q", buf)
	buf[0] = 'X'
	data, _ = store.Download(ctx, "b", "q")
	if string(data) != "v3" {
		t.Errorf("data = %q, want copy-on-write isolation", data)
	}

	store.FailDownload = errors.New("injected")
	if _, err := store.Download(ctx, "b", "p"); err == nil {
		t.Error("expected injected download failure")
	}
	store.FailDownload = nil

	store.FailUpload = errors.New("injected")
	if err := store.Upload(ctx, "b", "r", []byte("x"), ""); err == nil {
		t.Error("expected injected upload failure")
	}
}
