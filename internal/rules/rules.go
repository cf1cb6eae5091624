// Package rules provides the declarative risk rule registry.
//
// A rule binds an ordered list of conditions to a checkpoint and an action.
// Rules are authored through the API, validated before storage, and evaluated
// by the decision engine. The only mutable part of a stored rule is its
// performance counters, which are incremented atomically per field.
package rules

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrRuleNotFound = errors.New("rules: not found")
	ErrNameTaken    = errors.New("rules: name already exists")
)

// Checkpoint is a lifecycle point at which rules may apply.
// An empty checkpoint on a rule means it applies at every checkpoint.
type Checkpoint string

const (
	CheckpointOnboarding  Checkpoint = "onboarding"
	CheckpointATO         Checkpoint = "ato"
	CheckpointPayout      Checkpoint = "payout"
	CheckpointListing     Checkpoint = "listing"
	CheckpointShipping    Checkpoint = "shipping"
	CheckpointTransaction Checkpoint = "transaction"
)

// Type describes what a rule looks for. Descriptive only; it does not
// change evaluation mechanics.
type Type string

const (
	TypeThreshold Type = "THRESHOLD"
	TypeVelocity  Type = "VELOCITY"
	TypeListMatch Type = "LIST_MATCH"
	TypeMLScore   Type = "ML_SCORE"
	TypeComposite Type = "COMPOSITE"
	TypePattern   Type = "PATTERN"
)

// Status controls whether a rule participates in live decisions.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusShadow   Status = "SHADOW" // evaluated, excluded from the action
	StatusTesting  Status = "TESTING"
	StatusInactive Status = "INACTIVE"
)

// Action is what a triggered rule asks the aggregator to do.
type Action string

const (
	ActionApprove        Action = "APPROVE"
	ActionReview         Action = "REVIEW"
	ActionBlock          Action = "BLOCK"
	ActionChallenge      Action = "CHALLENGE"
	ActionFlag           Action = "FLAG"
	ActionAllowWithLimit Action = "ALLOW_WITH_LIMIT"
)

// Severity ranks how bad a triggered rule is. CRITICAL forces a block
// regardless of the aggregate score.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns an ordering for severities (higher = worse).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// ConditionKind selects how a condition's field is resolved.
type ConditionKind string

const (
	KindAttribute ConditionKind = "ATTRIBUTE" // field is an attribute name
	KindMLModel   ConditionKind = "ML_MODEL"  // field is a model identifier
	KindDataset   ConditionKind = "DATASET"   // field is a dataset name
)

// Operator is a comparison applied to the resolved fact.
type Operator string

const (
	OpGT    Operator = "gt"
	OpGTE   Operator = "gte"
	OpLT    Operator = "lt"
	OpLTE   Operator = "lte"
	OpEQ    Operator = "eq"
	OpNEQ   Operator = "neq"
	OpIn    Operator = "in"
	OpNotIn Operator = "not_in"
)

// Condition is a single predicate within a rule.
//
// Value is a typed literal decoded from JSON: float64, string, or bool for
// comparison operators, and a []any set for in/not_in. OrGroup groups
// conditions: conditions sharing a non-zero group are OR'd together and the
// group result is AND'd with the rest. Group zero conditions AND individually.
type Condition struct {
	Kind     ConditionKind `json:"kind"`
	Field    string        `json:"field"`
	Operator Operator      `json:"operator"`
	Value    any           `json:"value"`
	OrGroup  int           `json:"orGroup,omitempty"`
}

// Performance holds per-rule outcome counters fed back from resolved cases.
type Performance struct {
	Triggered      int64 `json:"triggered"`
	TruePositives  int64 `json:"truePositives"`
	FalsePositives int64 `json:"falsePositives"`
}

// Rule is a named, prioritized set of conditions enforced at a checkpoint.
type Rule struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Checkpoint  Checkpoint  `json:"checkpoint,omitempty"` // empty = all checkpoints
	Type        Type        `json:"type"`
	Status      Status      `json:"status"`
	Priority    int         `json:"priority"` // lower = reported first
	Action      Action      `json:"action"`
	Severity    Severity    `json:"severity"`
	Conditions  []Condition `json:"conditions"`
	Performance Performance `json:"performance"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Clone returns a deep copy. Stores hand out clones so an evaluation
// snapshot is never affected by a concurrent rule edit.
func (r *Rule) Clone() *Rule {
	cp := *r
	cp.Conditions = make([]Condition, len(r.Conditions))
	copy(cp.Conditions, r.Conditions)
	return &cp
}

// Validate checks a rule definition at authoring time. Malformed rules are
// rejected before storage; evaluation never sees them.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.Checkpoint != "" && !ValidCheckpoint(r.Checkpoint) {
		return fmt.Errorf("unknown checkpoint %q", r.Checkpoint)
	}
	switch r.Type {
	case TypeThreshold, TypeVelocity, TypeListMatch, TypeMLScore, TypeComposite, TypePattern:
	default:
		return fmt.Errorf("unknown rule type %q", r.Type)
	}
	switch r.Status {
	case StatusActive, StatusShadow, StatusTesting, StatusInactive:
	default:
		return fmt.Errorf("unknown status %q", r.Status)
	}
	switch r.Action {
	case ActionApprove, ActionReview, ActionBlock, ActionChallenge, ActionFlag, ActionAllowWithLimit:
	default:
		return fmt.Errorf("unknown action %q", r.Action)
	}
	if r.Severity.Rank() == 0 {
		return fmt.Errorf("unknown severity %q", r.Severity)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("at least one condition is required")
	}
	for i, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("condition[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks operator/kind/value compatibility for one condition.
func (c Condition) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("field is required")
	}
	switch c.Kind {
	case KindAttribute, KindMLModel, KindDataset:
	default:
		return fmt.Errorf("unknown kind %q", c.Kind)
	}
	switch c.Operator {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ, OpNEQ, OpIn, OpNotIn:
	default:
		return fmt.Errorf("unknown operator %q", c.Operator)
	}

	isSet := c.Operator == OpIn || c.Operator == OpNotIn
	if isSet {
		set, ok := c.Value.([]any)
		if !ok || len(set) == 0 {
			return fmt.Errorf("%s requires a non-empty set value", c.Operator)
		}
	}

	switch c.Kind {
	case KindMLModel:
		// Model scores are numeric; only typed comparisons make sense.
		if isSet {
			return fmt.Errorf("%s is not valid for ML_MODEL conditions", c.Operator)
		}
		if _, ok := toFloat(c.Value); !ok {
			return fmt.Errorf("ML_MODEL conditions require a numeric threshold value")
		}
	case KindDataset:
		// Dataset lookups resolve to a membership boolean.
		if c.Operator != OpEQ && c.Operator != OpNEQ {
			return fmt.Errorf("DATASET conditions support only eq/neq")
		}
		if _, ok := c.Value.(bool); !ok {
			return fmt.Errorf("DATASET conditions require a boolean value")
		}
	case KindAttribute:
		if !isSet {
			switch c.Operator {
			case OpGT, OpGTE, OpLT, OpLTE:
				if _, ok := toFloat(c.Value); !ok {
					return fmt.Errorf("%s requires a numeric value", c.Operator)
				}
			}
		}
	}
	return nil
}

// ValidCheckpoint reports whether cp names a known checkpoint.
func ValidCheckpoint(cp Checkpoint) bool {
	switch cp {
	case CheckpointOnboarding, CheckpointATO, CheckpointPayout,
		CheckpointListing, CheckpointShipping, CheckpointTransaction:
		return true
	}
	return false
}

// toFloat coerces JSON-decoded numeric values to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
