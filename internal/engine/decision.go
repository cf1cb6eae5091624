package engine

import (
	"context"
	"errors"
	"time"

	"github.com/wardlabs/ward/internal/rules"
)

// ErrDecisionNotFound is returned when a decision ID is unknown.
var ErrDecisionNotFound = errors.New("engine: decision not found")

// Risk score bands. Fixed and non-overlapping; the critical-severity
// override sits outside the bands and always wins.
const (
	ApproveBand = 30 // score <= 30 -> APPROVE
	ReviewBand  = 60 // 31..60 -> REVIEW, above -> BLOCK
)

// Severity weights for the risk score. Monotonic by construction: a
// triggered rule can only add, never subtract.
const (
	weightLow      = 10
	weightMedium   = 20
	weightHigh     = 35
	weightCritical = 50
	weightModel    = 40 // max model fraud probability contributes up to 40
)

// TriggeredRule identifies one rule that matched during an evaluation.
type TriggeredRule struct {
	RuleID   string         `json:"ruleId"`
	Name     string         `json:"name"`
	Severity rules.Severity `json:"severity"`
	Priority int            `json:"priority"`
	Action   rules.Action   `json:"action"`
}

// Decision is the immutable, audited outcome of one evaluation.
type Decision struct {
	ID             string           `json:"id"`
	Checkpoint     rules.Checkpoint `json:"checkpoint"`
	Action         rules.Action     `json:"action"`
	RiskScore      int              `json:"riskScore"`  // 0-100
	Confidence     float64          `json:"confidence"` // 0.0-1.0
	TriggeredRules []TriggeredRule  `json:"triggeredRules"`
	ShadowRules    []TriggeredRule  `json:"shadowRules,omitempty"` // soak results, never in the action
	Reasons        []string         `json:"reasons"`
	EvidenceGaps   []string         `json:"evidenceGaps,omitempty"`
	RulesEvaluated int              `json:"rulesEvaluated"`
	LatencyUs      int64            `json:"latencyUs"`
	DryRun         bool             `json:"dryRun,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// DecisionQuery filters the decision audit log.
type DecisionQuery struct {
	Checkpoint rules.Checkpoint
	Action     rules.Action
	Limit      int
}

// DecisionStore persists decisions for audit.
type DecisionStore interface {
	Record(ctx context.Context, d *Decision) error
	Get(ctx context.Context, id string) (*Decision, error)
	List(ctx context.Context, q DecisionQuery) ([]*Decision, error)
}

func severityWeight(s rules.Severity) int {
	switch s {
	case rules.SeverityCritical:
		return weightCritical
	case rules.SeverityHigh:
		return weightHigh
	case rules.SeverityMedium:
		return weightMedium
	default:
		return weightLow
	}
}

// actionForScore maps a risk score into the fixed decision bands.
func actionForScore(score int) rules.Action {
	switch {
	case score <= ApproveBand:
		return rules.ActionApprove
	case score <= ReviewBand:
		return rules.ActionReview
	default:
		return rules.ActionBlock
	}
}
