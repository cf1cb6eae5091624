// Package cases implements the manual review queue. A case is opened when a
// decision lands on REVIEW or BLOCK, walked through a small state machine by
// analysts, and its resolution is fed back into rule performance counters.
package cases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wardlabs/ward/internal/engine"
	"github.com/wardlabs/ward/internal/idgen"
	"github.com/wardlabs/ward/internal/logging"
	"github.com/wardlabs/ward/internal/metrics"
	"github.com/wardlabs/ward/internal/rules"
	"github.com/wardlabs/ward/internal/syncutil"
	"github.com/wardlabs/ward/internal/traces"
)

var (
	// ErrCaseNotFound is returned when a case ID is unknown.
	ErrCaseNotFound = errors.New("cases: case not found")
	// ErrInvalidTransition is returned for a state change the machine forbids.
	ErrInvalidTransition = errors.New("cases: invalid status transition")
)

// Status is a case's position in the review lifecycle.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusInReview Status = "IN_REVIEW"
	StatusResolved Status = "RESOLVED"
)

// Resolution is the analyst's verdict on a resolved case.
type Resolution string

const (
	ResolutionConfirmedFraud Resolution = "CONFIRMED_FRAUD"
	ResolutionFalsePositive  Resolution = "FALSE_POSITIVE"
	ResolutionEscalated      Resolution = "ESCALATED"
)

// ValidResolution reports whether r names a known resolution.
func ValidResolution(r Resolution) bool {
	switch r {
	case ResolutionConfirmedFraud, ResolutionFalsePositive, ResolutionEscalated:
		return true
	}
	return false
}

// Note is one analyst annotation on a case.
type Note struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Case is one item in the review queue.
type Case struct {
	ID         string           `json:"id"`
	DecisionID string           `json:"decisionId"`
	Checkpoint rules.Checkpoint `json:"checkpoint"`
	Priority   rules.Severity   `json:"priority"` // highest severity among triggering rules
	Status     Status           `json:"status"`
	Resolution Resolution       `json:"resolution,omitempty"`
	Assignee   string           `json:"assignee,omitempty"`
	RuleIDs    []string         `json:"ruleIds"`
	Notes      []Note           `json:"notes"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
	ResolvedAt *time.Time       `json:"resolvedAt,omitempty"`
}

// Clone returns a deep copy.
func (c *Case) Clone() *Case {
	cp := *c
	cp.RuleIDs = append([]string(nil), c.RuleIDs...)
	cp.Notes = append([]Note(nil), c.Notes...)
	return &cp
}

// PerformanceRecorder feeds case resolutions back into rule counters.
// rules.Store satisfies it.
type PerformanceRecorder interface {
	RecordOutcome(ctx context.Context, ids []string, truePositive bool) error
}

// Service implements case lifecycle logic.
type Service struct {
	store    Store
	recorder PerformanceRecorder
	notifier *Notifier
	// Per-case locks serialize state transitions (e.g. two analysts
	// resolving at once). Sharded by case ID.
	locks *syncutil.ContextShardedMutex
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithNotifier wires a webhook notifier for case lifecycle events.
func WithNotifier(n *Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// NewService creates a new case service.
func NewService(store Store, recorder PerformanceRecorder, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		recorder: recorder,
		locks:    syncutil.NewContextShardedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DecisionRendered opens a case for REVIEW and BLOCK outcomes. It is the
// engine.Emitter hook; APPROVE and dry-run decisions never reach it with an
// actionable outcome.
func (s *Service) DecisionRendered(ctx context.Context, d *engine.Decision) {
	if d.Action != rules.ActionReview && d.Action != rules.ActionBlock {
		return
	}
	if _, err := s.Open(ctx, d); err != nil {
		logging.L(ctx).Error("failed to open review case", "error", err, "decision_id", d.ID)
	}
}

// Open creates an OPEN case from a decision. Priority is the highest severity
// among the rules that triggered it.
func (s *Service) Open(ctx context.Context, d *engine.Decision) (*Case, error) {
	priority := rules.SeverityLow
	ruleIDs := make([]string, 0, len(d.TriggeredRules))
	for _, t := range d.TriggeredRules {
		ruleIDs = append(ruleIDs, t.RuleID)
		if t.Severity.Rank() > priority.Rank() {
			priority = t.Severity
		}
	}

	now := time.Now().UTC()
	c := &Case{
		ID:         idgen.WithPrefix("case_"),
		DecisionID: d.ID,
		Checkpoint: d.Checkpoint,
		Priority:   priority,
		Status:     StatusOpen,
		RuleIDs:    ruleIDs,
		Notes:      []Note{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	metrics.CasesOpenedTotal.WithLabelValues(string(priority)).Inc()
	s.notifier.CaseOpened(c.Clone())
	return c, nil
}

// Get returns one case by ID.
func (s *Service) Get(ctx context.Context, id string) (*Case, error) {
	return s.store.Get(ctx, id)
}

// List returns cases matching the query.
func (s *Service) List(ctx context.Context, q Query) ([]*Case, error) {
	return s.store.List(ctx, q)
}

// Assign moves an OPEN case to IN_REVIEW under the given analyst.
func (s *Service) Assign(ctx context.Context, id, assignee string) (*Case, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusOpen {
		return nil, fmt.Errorf("%w: cannot assign a %s case", ErrInvalidTransition, c.Status)
	}

	c.Status = StatusInReview
	c.Assignee = assignee
	c.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Resolve closes an OPEN or IN_REVIEW case with a verdict and feeds the
// verdict into rule performance counters: CONFIRMED_FRAUD credits a true
// positive, FALSE_POSITIVE a false positive, ESCALATED moves no counters.
func (s *Service) Resolve(ctx context.Context, id string, resolution Resolution, resolver string) (*Case, error) {
	if !ValidResolution(resolution) {
		return nil, fmt.Errorf("unknown resolution %q", resolution)
	}

	ctx, span := traces.StartSpan(ctx, "cases.Resolve", traces.CaseID(id))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusResolved {
		return nil, fmt.Errorf("%w: case already resolved", ErrInvalidTransition)
	}

	now := time.Now().UTC()
	c.Status = StatusResolved
	c.Resolution = resolution
	if resolver != "" {
		c.Assignee = resolver
	}
	c.UpdatedAt = now
	c.ResolvedAt = &now
	if err := s.store.Update(ctx, c); err != nil {
		return nil, err
	}

	metrics.CasesResolvedTotal.WithLabelValues(string(resolution)).Inc()
	s.notifier.CaseResolved(c.Clone())

	if s.recorder != nil && resolution != ResolutionEscalated {
		truePositive := resolution == ResolutionConfirmedFraud
		if err := s.recorder.RecordOutcome(ctx, c.RuleIDs, truePositive); err != nil {
			logging.L(ctx).Error("failed to record rule outcome", "error", err, "case_id", c.ID)
		}
	}
	return c, nil
}

// AddNote appends an annotation. Resolved cases are immutable.
func (s *Service) AddNote(ctx context.Context, id, author, text string) (*Case, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusResolved {
		return nil, fmt.Errorf("%w: cannot annotate a resolved case", ErrInvalidTransition)
	}

	now := time.Now().UTC()
	c.Notes = append(c.Notes, Note{Author: author, Text: text, CreatedAt: now})
	c.UpdatedAt = now
	if err := s.store.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

var _ engine.Emitter = (*Service)(nil)
