package engine

import (
	"testing"

	"github.com/wardlabs/ward/internal/rules"
)

func factSet(attrs map[string]any) *FactSet {
	return &FactSet{
		Attributes:  attrs,
		ModelScores: map[string]float64{},
		Datasets:    map[string]bool{},
	}
}

func TestEvaluateConditionNumericOperators(t *testing.T) {
	facts := factSet(map[string]any{"amount": 6000.0})

	tests := []struct {
		op      rules.Operator
		value   any
		matched bool
	}{
		{rules.OpGT, 5000.0, true},
		{rules.OpGT, 6000.0, false},
		{rules.OpGTE, 6000.0, true},
		{rules.OpLT, 5000.0, false},
		{rules.OpLTE, 6000.0, true},
		{rules.OpEQ, 6000.0, true},
		{rules.OpNEQ, 6000.0, false},
	}
	for _, tt := range tests {
		c := rules.Condition{Kind: rules.KindAttribute, Field: "amount", Operator: tt.op, Value: tt.value}
		got := EvaluateCondition(c, facts)
		if got.Matched != tt.matched {
			t.Errorf("amount %s %v: matched = %v, want %v", tt.op, tt.value, got.Matched, tt.matched)
		}
		if got.Evidence != "" {
			t.Errorf("amount %s %v: unexpected evidence %q", tt.op, tt.value, got.Evidence)
		}
	}
}

func TestEvaluateConditionIntFactMatchesFloatLiteral(t *testing.T) {
	facts := factSet(map[string]any{"count": 3})
	c := rules.Condition{Kind: rules.KindAttribute, Field: "count", Operator: rules.OpEQ, Value: 3.0}
	if got := EvaluateCondition(c, facts); !got.Matched {
		t.Error("int fact should equal float literal")
	}
}

func TestEvaluateConditionSetMembership(t *testing.T) {
	facts := factSet(map[string]any{"country": "NG"})

	in := rules.Condition{Kind: rules.KindAttribute, Field: "country", Operator: rules.OpIn, Value: []any{"NG", "RU"}}
	if got := EvaluateCondition(in, facts); !got.Matched {
		t.Error("in: expected match for member")
	}
	notIn := rules.Condition{Kind: rules.KindAttribute, Field: "country", Operator: rules.OpNotIn, Value: []any{"US", "GB"}}
	if got := EvaluateCondition(notIn, facts); !got.Matched {
		t.Error("not_in: expected match for non-member")
	}
}

func TestEvaluateConditionMissingFact(t *testing.T) {
	facts := factSet(map[string]any{})
	c := rules.Condition{Kind: rules.KindAttribute, Field: "amount", Operator: rules.OpGT, Value: 100.0}

	got := EvaluateCondition(c, facts)
	if got.Matched {
		t.Error("missing fact must not match")
	}
	if got.Evidence != EvidenceMissingFact {
		t.Errorf("evidence = %q, want %q", got.Evidence, EvidenceMissingFact)
	}
}

func TestEvaluateConditionTypeMismatch(t *testing.T) {
	facts := factSet(map[string]any{"amount": "a lot"})
	c := rules.Condition{Kind: rules.KindAttribute, Field: "amount", Operator: rules.OpGT, Value: 100.0}

	got := EvaluateCondition(c, facts)
	if got.Matched {
		t.Error("type mismatch must not match")
	}
	if got.Evidence != EvidenceTypeMismatch {
		t.Errorf("evidence = %q, want %q", got.Evidence, EvidenceTypeMismatch)
	}
}

func TestEvaluateConditionModelScore(t *testing.T) {
	facts := &FactSet{
		Attributes:  map[string]any{},
		ModelScores: map[string]float64{"fraud_v2": 0.91},
		Datasets:    map[string]bool{},
	}
	c := rules.Condition{Kind: rules.KindMLModel, Field: "fraud_v2", Operator: rules.OpGT, Value: 0.9}
	if got := EvaluateCondition(c, facts); !got.Matched {
		t.Error("expected model score 0.91 > 0.9 to match")
	}
	absent := rules.Condition{Kind: rules.KindMLModel, Field: "fraud_v9", Operator: rules.OpGT, Value: 0.5}
	if got := EvaluateCondition(absent, facts); got.Evidence != EvidenceMissingFact {
		t.Errorf("absent model: evidence = %q, want missing_fact", got.Evidence)
	}
}

func TestEvaluateConditionDataset(t *testing.T) {
	facts := &FactSet{
		Attributes:  map[string]any{},
		ModelScores: map[string]float64{},
		Datasets:    map[string]bool{"stolen_cards": true},
	}
	c := rules.Condition{Kind: rules.KindDataset, Field: "stolen_cards", Operator: rules.OpEQ, Value: true}
	if got := EvaluateCondition(c, facts); !got.Matched {
		t.Error("expected dataset membership to match")
	}
}

func TestEvaluateRuleAllConditionsMustMatch(t *testing.T) {
	r := &rules.Rule{
		ID: "rule_a",
		Conditions: []rules.Condition{
			{Kind: rules.KindAttribute, Field: "amount", Operator: rules.OpGT, Value: 5000.0},
			{Kind: rules.KindAttribute, Field: "risk_score", Operator: rules.OpGT, Value: 70.0},
		},
	}

	hit := EvaluateRule(r, factSet(map[string]any{"amount": 6000.0, "risk_score": 80.0}))
	if !hit.Triggered {
		t.Error("both conditions match: rule should trigger")
	}
	miss := EvaluateRule(r, factSet(map[string]any{"amount": 6000.0, "risk_score": 10.0}))
	if miss.Triggered {
		t.Error("one condition fails: rule must not trigger")
	}
	if len(miss.Conditions) != 2 {
		t.Fatalf("expected all conditions evaluated, got %d", len(miss.Conditions))
	}
}

func TestEvaluateRuleOrGroup(t *testing.T) {
	r := &rules.Rule{
		ID: "rule_or",
		Conditions: []rules.Condition{
			{Kind: rules.KindAttribute, Field: "amount", Operator: rules.OpGT, Value: 5000.0},
			{Kind: rules.KindAttribute, Field: "country", Operator: rules.OpEQ, Value: "NG", OrGroup: 1},
			{Kind: rules.KindAttribute, Field: "new_device", Operator: rules.OpEQ, Value: true, OrGroup: 1},
		},
	}

	// amount matches, one branch of the OR-group matches.
	got := EvaluateRule(r, factSet(map[string]any{"amount": 9000.0, "country": "US", "new_device": true}))
	if !got.Triggered {
		t.Error("AND + one OR branch: rule should trigger")
	}

	// amount matches, neither OR branch does.
	got = EvaluateRule(r, factSet(map[string]any{"amount": 9000.0, "country": "US", "new_device": false}))
	if got.Triggered {
		t.Error("no OR branch matched: rule must not trigger")
	}

	// OR branch matches but the AND condition does not.
	got = EvaluateRule(r, factSet(map[string]any{"amount": 10.0, "country": "NG", "new_device": false}))
	if got.Triggered {
		t.Error("AND condition failed: rule must not trigger")
	}
}

func TestEvaluateRuleMissingFactDegrades(t *testing.T) {
	r := &rules.Rule{
		ID: "rule_missing",
		Conditions: []rules.Condition{
			{Kind: rules.KindAttribute, Field: "absent", Operator: rules.OpGT, Value: 1.0},
		},
	}
	got := EvaluateRule(r, factSet(map[string]any{}))
	if got.Triggered {
		t.Error("rule over a missing fact must not trigger")
	}
	if got.Conditions[0].Evidence != EvidenceMissingFact {
		t.Errorf("evidence = %q, want missing_fact", got.Conditions[0].Evidence)
	}
}
