package rules

import "context"

// Query filters rule listings.
type Query struct {
	Checkpoint Checkpoint
	Status     Status
	Priority   *int
}

// Store persists rule definitions and performance counters.
//
// Get and List return clones; callers may hold results across concurrent
// edits. Counter increments are atomic per field, never read-modify-write of
// the whole record.
type Store interface {
	Create(ctx context.Context, r *Rule) error
	Get(ctx context.Context, id string) (*Rule, error)
	List(ctx context.Context, q Query) ([]*Rule, error)
	Update(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, id string) error

	// IncrementTriggered adds one to each rule's triggered counter.
	IncrementTriggered(ctx context.Context, ids []string) error
	// RecordOutcome adds one to each rule's truePositives (confirmed fraud)
	// or falsePositives counter once ground truth is known.
	RecordOutcome(ctx context.Context, ids []string, truePositive bool) error
}
