package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

// ErrObjectNotFound is returned when the requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore reads and writes contribution documents in bucket storage.
type ObjectStore interface {
	// Download fetches the object at bucket/path.
	Download(ctx context.Context, bucket, path string) ([]byte, error)
	// Upload writes data to bucket/path, overwriting any existing object.
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error
}

// HTTPStore talks to a bucket storage service over its object REST API.
type HTTPStore struct {
	url        string
	apiKey     string
	httpClient *http.Client
	maxRetries int
}

// HTTPStoreOption configures an HTTPStore.
type HTTPStoreOption func(*HTTPStore)

// WithAPIKey sets the service key sent on every request.
func WithAPIKey(key string) HTTPStoreOption {
	return func(s *HTTPStore) { s.apiKey = key }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) HTTPStoreOption {
	return func(s *HTTPStore) { s.httpClient.Timeout = d }
}

// NewHTTPStore creates an object store client for the given base URL.
func NewHTTPStore(url string, opts ...HTTPStoreOption) *HTTPStore {
	s := &HTTPStore{
		url:        url,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ObjectStore = (*HTTPStore)(nil)

// Download fetches the object at bucket/path.
func (s *HTTPStore) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	var body []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(bucket, path), nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			s.auth(req)

			resp, err := s.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusNotFound:
				return retry.Unrecoverable(fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, path))
			case resp.StatusCode >= 500:
				return fmt.Errorf("download %s/%s: status %d", bucket, path, resp.StatusCode)
			case resp.StatusCode != http.StatusOK:
				return retry.Unrecoverable(fmt.Errorf("download %s/%s: status %d", bucket, path, resp.StatusCode))
			}

			body, err = io.ReadAll(resp.Body)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(s.maxRetries)),
		retry.Delay(250*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Upload writes data to bucket/path, overwriting any existing object.
func (s *HTTPStore) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "text/markdown"
	}
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(bucket, path), bytes.NewReader(data))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			s.auth(req)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("x-upsert", "true")

			resp, err := s.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 {
				return fmt.Errorf("upload %s/%s: status %d", bucket, path, resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
				respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return retry.Unrecoverable(fmt.Errorf("upload %s/%s: status %d: %s", bucket, path, resp.StatusCode, respBody))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(s.maxRetries)),
		retry.Delay(250*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

func (s *HTTPStore) objectURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, bucket, path)
}

func (s *HTTPStore) auth(req *http.Request) {
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}
