package store

import (
	"context"
	"fmt"
	"net/url"
)

// GetContribution returns a contribution by id.
func (c *Client) GetContribution(ctx context.Context, id string) (*ContributionRow, error) {
	q := url.Values{}
	q.Set("id", "eq."+id)

	var rows []ContributionRow
	if err := c.selectRows(ctx, TableContributions, q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: contribution %s", ErrNotFound, id)
	}
	return &rows[0], nil
}

// ListContributions returns contributions for one (session, stage, iteration),
// most recently updated first.
func (c *Client) ListContributions(ctx context.Context, sessionID, stageSlug string, iteration int) ([]ContributionRow, error) {
	q := url.Values{}
	q.Set("session_id", "eq."+sessionID)
	q.Set("stage_slug", "eq."+stageSlug)
	q.Set("iteration_number", fmt.Sprintf("eq.%d", iteration))
	q.Set("order", "updated_at.desc")

	var rows []ContributionRow
	if err := c.selectRows(ctx, TableContributions, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// InsertContribution inserts one contribution row and returns the stored row.
func (c *Client) InsertContribution(ctx context.Context, row ContributionRow) (*ContributionRow, error) {
	var stored []ContributionRow
	if err := c.insertRows(ctx, TableContributions, []ContributionRow{row}, &stored); err != nil {
		return nil, fmt.Errorf("failed to insert contribution: %w", err)
	}
	if len(stored) != 1 {
		return nil, fmt.Errorf("inserted %d contribution rows but expected 1", len(stored))
	}
	return &stored[0], nil
}

// GetSession returns a session by id.
func (c *Client) GetSession(ctx context.Context, id string) (*SessionRow, error) {
	q := url.Values{}
	q.Set("id", "eq."+id)

	var rows []SessionRow
	if err := c.selectRows(ctx, TableSessions, q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return &rows[0], nil
}

// GetProject returns a project by id.
func (c *Client) GetProject(ctx context.Context, id string) (*ProjectRow, error) {
	q := url.Values{}
	q.Set("id", "eq."+id)

	var rows []ProjectRow
	if err := c.selectRows(ctx, TableProjects, q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, id)
	}
	return &rows[0], nil
}

// GetStage returns a stage recipe by slug.
func (c *Client) GetStage(ctx context.Context, slug string) (*StageRow, error) {
	q := url.Values{}
	q.Set("slug", "eq."+slug)

	var rows []StageRow
	if err := c.selectRows(ctx, TableStages, q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: stage %s", ErrNotFound, slug)
	}
	return &rows[0], nil
}
