package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

// HTTPNotifier delivers events to a push-notification service that fans
// them out to per-user realtime channels.
type HTTPNotifier struct {
	url        string
	apiKey     string
	httpClient *http.Client
	maxRetries int
}

// NewHTTPNotifier creates a notifier for the given push endpoint.
func NewHTTPNotifier(url, apiKey string) *HTTPNotifier {
	return &HTTPNotifier{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
	}
}

var _ Notifier = (*HTTPNotifier)(nil)

// Push delivers one event to the user's channel. The event is validated
// before sending so malformed projections fail loudly in development.
func (n *HTTPNotifier) Push(ctx context.Context, userID string, event Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	payload, err := json.Marshal(struct {
		UserID string `json:"user_id"`
		Event  Event  `json:"event"`
	}{UserID: userID, Event: event})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url+"/notify", bytes.NewReader(payload))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Content-Type", "application/json")
			if n.apiKey != "" {
				req.Header.Set("Authorization", "Bearer "+n.apiKey)
			}

			resp, err := n.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return fmt.Errorf("push %s: status %d", event.Type, resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return retry.Unrecoverable(fmt.Errorf("push %s: status %d: %s", event.Type, resp.StatusCode, body))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(n.maxRetries)),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}
