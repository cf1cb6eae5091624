package cases

import (
	"context"

	"github.com/wardlabs/ward/internal/pagination"
	"github.com/wardlabs/ward/internal/rules"
)

// Query filters the case list. Results are newest-first by creation time then
// ID; Cursor resumes a previous page.
type Query struct {
	Status     Status
	Priority   rules.Severity
	Checkpoint rules.Checkpoint
	Assignee   string
	Cursor     *pagination.Cursor
	Limit      int
}

// Store persists cases.
type Store interface {
	Create(ctx context.Context, c *Case) error
	Get(ctx context.Context, id string) (*Case, error)
	List(ctx context.Context, q Query) ([]*Case, error)
	Update(ctx context.Context, c *Case) error
}
