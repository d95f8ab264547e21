package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// GetJob returns a job row by id.
func (c *Client) GetJob(ctx context.Context, id string) (*JobRow, error) {
	q := url.Values{}
	q.Set("id", "eq."+id)

	var rows []JobRow
	if err := c.selectRows(ctx, TableJobs, q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	return &rows[0], nil
}

// ListJobsByStatus returns jobs in any of the given statuses, oldest first.
func (c *Client) ListJobsByStatus(ctx context.Context, statuses []string, limit int) ([]JobRow, error) {
	if limit <= 0 {
		limit = 100
	}
	q := url.Values{}
	q.Set("status", "in.("+strings.Join(statuses, ",")+")")
	q.Set("order", "created_at.asc")
	q.Set("limit", fmt.Sprintf("%d", limit))

	var rows []JobRow
	if err := c.selectRows(ctx, TableJobs, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListChildJobs returns all jobs whose parent_job_id is parentID.
func (c *Client) ListChildJobs(ctx context.Context, parentID string) ([]JobRow, error) {
	q := url.Values{}
	q.Set("parent_job_id", "eq."+parentID)

	var rows []JobRow
	if err := c.selectRows(ctx, TableJobs, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// InsertJobs inserts job rows and returns the stored rows (ids assigned).
func (c *Client) InsertJobs(ctx context.Context, rows []JobRow) ([]JobRow, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	var stored []JobRow
	if err := c.insertRows(ctx, TableJobs, rows, &stored); err != nil {
		return nil, fmt.Errorf("failed to insert %d job rows: %w", len(rows), err)
	}
	if len(stored) != len(rows) {
		return stored, fmt.Errorf("inserted %d job rows but expected %d", len(stored), len(rows))
	}
	return stored, nil
}

// UpdateJob patches fields on a job row.
func (c *Client) UpdateJob(ctx context.Context, id string, fields map[string]any) error {
	q := url.Values{}
	q.Set("id", "eq."+id)

	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	return c.updateRows(ctx, TableJobs, q, fields, nil)
}

// ClaimJob transitions a job from one of fromStatuses to "processing" using a
// compare-and-set PATCH. Returns false when another worker claimed it first.
func (c *Client) ClaimJob(ctx context.Context, id string, fromStatuses []string) (bool, error) {
	q := url.Values{}
	q.Set("id", "eq."+id)
	q.Set("status", "in.("+strings.Join(fromStatuses, ",")+")")

	now := time.Now().UTC().Format(time.RFC3339)
	fields := map[string]any{
		"status":     "processing",
		"started_at": now,
		"updated_at": now,
	}

	var updated []JobRow
	if err := c.updateRows(ctx, TableJobs, q, fields, &updated); err != nil {
		return false, err
	}
	return len(updated) == 1, nil
}
