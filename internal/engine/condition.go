package engine

import (
	"github.com/wardlabs/ward/internal/rules"
)

// Evidence kinds recorded on condition results. Both degrade to "did not
// match" — a bad rule definition or an absent fact must never abort the
// overall decision.
const (
	EvidenceMissingFact  = "missing_fact"
	EvidenceTypeMismatch = "type_mismatch"
)

// ConditionResult is the outcome of evaluating one condition, kept as
// evidence for audit and for "why did this trigger" views.
type ConditionResult struct {
	Kind     rules.ConditionKind `json:"kind"`
	Field    string              `json:"field"`
	Operator rules.Operator      `json:"operator"`
	Value    any                 `json:"value"`
	Matched  bool                `json:"matched"`
	Observed any                 `json:"observed,omitempty"`
	Evidence string              `json:"evidence,omitempty"` // missing_fact or type_mismatch
}

// RuleResult is the outcome of evaluating every condition of one rule.
type RuleResult struct {
	RuleID     string            `json:"ruleId"`
	Triggered  bool              `json:"triggered"`
	Conditions []ConditionResult `json:"conditions"`
}

// EvaluateCondition evaluates one condition against a fact set. It is total
// and side-effect-free: missing facts and incompatible types evaluate to
// matched=false with the evidence kind recorded, never an error.
func EvaluateCondition(c rules.Condition, facts *FactSet) ConditionResult {
	result := ConditionResult{
		Kind:     c.Kind,
		Field:    c.Field,
		Operator: c.Operator,
		Value:    c.Value,
	}

	var observed any
	var present bool
	switch c.Kind {
	case rules.KindAttribute:
		observed, present = facts.Attributes[c.Field]
	case rules.KindMLModel:
		var score float64
		score, present = facts.ModelScores[c.Field]
		observed = score
	case rules.KindDataset:
		var member bool
		member, present = facts.Datasets[c.Field]
		observed = member
	}

	if !present {
		result.Evidence = EvidenceMissingFact
		return result
	}

	result.Observed = observed
	matched, evidence := compare(observed, c.Operator, c.Value)
	result.Matched = matched
	result.Evidence = evidence
	return result
}

// EvaluateRule evaluates all conditions of a rule — no short-circuit, so the
// full evidence set is always available. Conditions in OR-group zero AND
// individually; conditions sharing a non-zero group OR together and the group
// result ANDs with the rest.
func EvaluateRule(r *rules.Rule, facts *FactSet) RuleResult {
	result := RuleResult{
		RuleID:     r.ID,
		Conditions: make([]ConditionResult, len(r.Conditions)),
	}

	triggered := true
	orGroups := make(map[int]bool)
	seenGroups := make(map[int]bool)

	for i, c := range r.Conditions {
		cr := EvaluateCondition(c, facts)
		result.Conditions[i] = cr

		if c.OrGroup == 0 {
			if !cr.Matched {
				triggered = false
			}
			continue
		}
		seenGroups[c.OrGroup] = true
		if cr.Matched {
			orGroups[c.OrGroup] = true
		}
	}

	for g := range seenGroups {
		if !orGroups[g] {
			triggered = false
		}
	}

	result.Triggered = triggered
	return result
}

// compare applies an operator to an observed fact and a rule literal.
// Returns (matched, evidence kind).
func compare(observed any, op rules.Operator, value any) (bool, string) {
	switch op {
	case rules.OpIn, rules.OpNotIn:
		set, ok := value.([]any)
		if !ok {
			return false, EvidenceTypeMismatch
		}
		member := false
		for _, v := range set {
			if scalarEqual(observed, v) {
				member = true
				break
			}
		}
		if op == rules.OpIn {
			return member, ""
		}
		return !member, ""

	case rules.OpGT, rules.OpGTE, rules.OpLT, rules.OpLTE:
		a, aok := toFloat(observed)
		b, bok := toFloat(value)
		if !aok || !bok {
			return false, EvidenceTypeMismatch
		}
		switch op {
		case rules.OpGT:
			return a > b, ""
		case rules.OpGTE:
			return a >= b, ""
		case rules.OpLT:
			return a < b, ""
		default:
			return a <= b, ""
		}

	case rules.OpEQ:
		return scalarEqual(observed, value), ""
	case rules.OpNEQ:
		return !scalarEqual(observed, value), ""
	}

	return false, EvidenceTypeMismatch
}

// scalarEqual compares two JSON-decoded scalars, coercing numerics so that
// an int attribute equals a float literal.
func scalarEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}

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
