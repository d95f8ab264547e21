// Package store is the HTTP client for the relational datastore backing the
// job table, contributions, sessions, and stage recipes. The datastore
// exposes a PostgREST-style JSON API; this package wraps it with typed row
// operations and retry on transient failures.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when a row lookup matches nothing.
	ErrNotFound = errors.New("row not found")

	// ErrSinkClosed is returned when operations are attempted on a closed sink.
	ErrSinkClosed = errors.New("sink closed")
)

// Client is a datastore REST client.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	maxRetries uint
}

// ClientConfig configures a new store client.
type ClientConfig struct {
	URL        string
	APIKey     string
	Timeout    time.Duration // default 30s
	MaxRetries uint          // transient retry attempts (default 3)
}

// NewClient creates a new datastore client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &Client{
		url:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey: cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		maxRetries: cfg.MaxRetries,
	}
}

// HealthCheck checks if the datastore is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.url+"/health", nil)
	if err != nil {
		return err
	}
	c.auth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// transientError marks an error as retryable by the retry wrapper.
type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// do executes one REST call with retry on network errors and 5xx responses.
// out, when non-nil, receives the unmarshalled response body.
func (c *Client) do(ctx context.Context, method, table string, query url.Values, body any, headers map[string]string, out any) error {
	endpoint := c.url + "/rest/v1/" + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	return retry.Do(
		func() error {
			var reader io.Reader
			if payload != nil {
				reader = bytes.NewReader(payload)
			}
			req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
			if err != nil {
				return err
			}
			c.auth(req)
			req.Header.Set("Content-Type", "application/json")
			for k, v := range headers {
				req.Header.Set(k, v)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return transientError{fmt.Errorf("request failed: %w", err)}
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return transientError{fmt.Errorf("failed to read response: %w", err)}
			}

			if resp.StatusCode >= 500 {
				return transientError{fmt.Errorf("store server error (status %d): %s", resp.StatusCode, string(respBody))}
			}
			if resp.StatusCode == http.StatusNotFound {
				return fmt.Errorf("%w: %s", ErrNotFound, table)
			}
			if resp.StatusCode >= 400 {
				return fmt.Errorf("store error (status %d): %s", resp.StatusCode, string(respBody))
			}

			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("failed to unmarshal response: %w (body: %s)", err, string(respBody))
				}
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.maxRetries),
		retry.Delay(250*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var te transientError
			return errors.As(err, &te)
		}),
	)
}

// auth sets the authentication headers on a request.
func (c *Client) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// selectRows fetches rows from a table into out (a pointer to a slice).
func (c *Client) selectRows(ctx context.Context, table string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	if query.Get("select") == "" {
		query.Set("select", "*")
	}
	return c.do(ctx, "GET", table, query, nil, nil, out)
}

// insertRows inserts rows and returns the stored representations in out.
func (c *Client) insertRows(ctx context.Context, table string, rows any, out any) error {
	headers := map[string]string{"Prefer": "return=representation"}
	return c.do(ctx, "POST", table, nil, rows, headers, out)
}

// updateRows patches rows matching the query and returns updated rows in out.
func (c *Client) updateRows(ctx context.Context, table string, query url.Values, fields map[string]any, out any) error {
	headers := map[string]string{"Prefer": "return=representation"}
	return c.do(ctx, "PATCH", table, query, fields, headers, out)
}
