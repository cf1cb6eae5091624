package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/wardlabs/ward/internal/rules"
)

func boolPtr(b bool) *bool { return &b }

func seedAmountRule(t *testing.T, store rules.Store, threshold float64, status rules.Status) {
	t.Helper()
	r := &rules.Rule{
		ID:         "rule_amount",
		Name:       "large transaction",
		Checkpoint: rules.CheckpointTransaction,
		Type:       rules.TypeThreshold,
		Status:     status,
		Priority:   10,
		Action:     rules.ActionBlock,
		Severity:   rules.SeverityCritical,
		Conditions: []rules.Condition{
			{Kind: rules.KindAttribute, Field: "amount", Operator: rules.OpGT, Value: threshold},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := store.Create(context.Background(), r); err != nil {
		t.Fatal(err)
	}
}

// seedCorpus adds n records with amounts 100, 200, ... n*100, fraud-labeled
// above the given amount.
func seedCorpus(t *testing.T, corpus CorpusStore, n int, fraudAbove float64) {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		amount := float64(i * 100)
		err := corpus.Add(context.Background(), &Record{
			ID:          fmt.Sprintf("rec_%04d", i),
			Checkpoint:  rules.CheckpointTransaction,
			Attributes:  map[string]any{"amount": amount},
			ModelScores: map[string]float64{},
			Datasets:    map[string]bool{},
			FraudLabel:  boolPtr(amount > fraudAbove),
			OccurredAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestSimulateTighteningNeverReducesBlocks(t *testing.T) {
	ruleStore := rules.NewMemoryStore()
	corpus := NewMemoryCorpusStore()
	seedAmountRule(t, ruleStore, 500, rules.StatusActive)
	seedCorpus(t, corpus, 10, 700)

	e := NewEngine(ruleStore, corpus)
	report, err := e.Simulate(context.Background(), Request{RuleID: "rule_amount", ThresholdDelta: -200})
	if err != nil {
		t.Fatal(err)
	}

	if !report.Complete {
		t.Error("replay should be complete")
	}
	if report.Records != 10 {
		t.Errorf("records = %d, want 10", report.Records)
	}
	// Baseline blocks amounts > 500 (600..1000): 5. Tightened to > 300: 7.
	if report.Baseline.Blocked != 5 {
		t.Errorf("baseline blocked = %d, want 5", report.Baseline.Blocked)
	}
	if report.Simulated.Blocked != 7 {
		t.Errorf("simulated blocked = %d, want 7", report.Simulated.Blocked)
	}
	if report.Simulated.Blocked < report.Baseline.Blocked {
		t.Error("tightening a threshold must never reduce blocks")
	}
	if len(report.NewlyBlocked) != 2 {
		t.Errorf("newlyBlocked = %v, want the two records between thresholds", report.NewlyBlocked)
	}
	if len(report.NoLongerBlocked) != 0 {
		t.Errorf("noLongerBlocked = %v, want none", report.NoLongerBlocked)
	}
}

func TestSimulateLooseningReducesBlocks(t *testing.T) {
	ruleStore := rules.NewMemoryStore()
	corpus := NewMemoryCorpusStore()
	seedAmountRule(t, ruleStore, 500, rules.StatusActive)
	seedCorpus(t, corpus, 10, 700)

	e := NewEngine(ruleStore, corpus)
	report, err := e.Simulate(context.Background(), Request{RuleID: "rule_amount", ThresholdDelta: 300})
	if err != nil {
		t.Fatal(err)
	}

	// Loosened to > 800: blocks 900 and 1000 only.
	if report.Simulated.Blocked != 2 {
		t.Errorf("simulated blocked = %d, want 2", report.Simulated.Blocked)
	}
	if len(report.NoLongerBlocked) != 3 {
		t.Errorf("noLongerBlocked = %v, want three records", report.NoLongerBlocked)
	}
}

func TestSimulateCorpusSmallerThanShardGrid(t *testing.T) {
	ruleStore := rules.NewMemoryStore()
	corpus := NewMemoryCorpusStore()
	seedAmountRule(t, ruleStore, 500, rules.StatusActive)
	// Five records across the default four shards: ceiling division gives the
	// first shards two records each and leaves the last one empty.
	seedCorpus(t, corpus, 5, 700)

	e := NewEngine(ruleStore, corpus)
	report, err := e.Simulate(context.Background(), Request{RuleID: "rule_amount", ThresholdDelta: -300})
	if err != nil {
		t.Fatal(err)
	}

	if !report.Complete {
		t.Error("replay should be complete")
	}
	if report.Records != 5 {
		t.Errorf("records = %d, want 5", report.Records)
	}
	// Amounts run 100..500, so the baseline (> 500) blocks nothing;
	// tightened to > 200 it blocks 300, 400, and 500.
	if report.Baseline.Blocked != 0 {
		t.Errorf("baseline blocked = %d, want 0", report.Baseline.Blocked)
	}
	if report.Simulated.Blocked != 3 {
		t.Errorf("simulated blocked = %d, want 3", report.Simulated.Blocked)
	}
}

func TestSimulateOneRecordManyShards(t *testing.T) {
	ruleStore := rules.NewMemoryStore()
	corpus := NewMemoryCorpusStore()
	seedAmountRule(t, ruleStore, 50, rules.StatusActive)
	seedCorpus(t, corpus, 1, 0)

	e := NewEngine(ruleStore, corpus, WithShards(16))
	report, err := e.Simulate(context.Background(), Request{RuleID: "rule_amount", ThresholdDelta: 0})
	if err != nil {
		t.Fatal(err)
	}
	if !report.Complete || report.Records != 1 {
		t.Errorf("report = complete=%v records=%d, want complete with 1 record", report.Complete, report.Records)
	}
	if report.Baseline.Blocked != 1 {
		t.Errorf("baseline blocked = %d, want 1", report.Baseline.Blocked)
	}
}

func TestSimulateCatchRates(t *testing.T) {
	ruleStore := rules.NewMemoryStore()
	corpus := NewMemoryCorpusStore()
	seedAmountRule(t, ruleStore, 500, rules.StatusActive)
	// Fraud above 500 lines up exactly with the baseline threshold.
	seedCorpus(t, corpus, 10, 500)

	e := NewEngine(ruleStore, corpus)
	report, err := e.Simulate(context.Background(), Request{RuleID: "rule_amount", ThresholdDelta: 0})
	if err != nil {
		t.Fatal(err)
	}

	if report.Labeled != 10 {
		t.Errorf("labeled = %d, want 10", report.Labeled)
	}
	if report.BaselineCatchRate != 1.0 {
		t.Errorf("baseline catch rate = %v, want 1.0", report.BaselineCatchRate)
	}
	if report.BaselineFalsePositiveRate != 0.0 {
		t.Errorf("baseline FPR = %v, want 0.0", report.BaselineFalsePositiveRate)
	}
	if report.DirectionalOnly {
		t.Error("a fully labeled corpus must not be marked directional-only")
	}
}

func TestSimulateUnlabeledCorpusIsDirectionalOnly(t *testing.T) {
	ruleStore := rules.NewMemoryStore()
	corpus := NewMemoryCorpusStore()
	seedAmountRule(t, ruleStore, 500, rules.StatusActive)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		err := corpus.Add(context.Background(), &Record{
			ID:         fmt.Sprintf("rec_%04d", i),
			Checkpoint: rules.CheckpointTransaction,
			Attributes: map[string]any{"amount": float64(i * 100)},
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	e := NewEngine(ruleStore, corpus)
	report, err := e.Simulate(context.Background(), Request{RuleID: "rule_amount", ThresholdDelta: -300})
	if err != nil {
		t.Fatal(err)
	}

	if report.Labeled != 0 {
		t.Errorf("labeled = %d, want 0", report.Labeled)
	}
	if !report.DirectionalOnly {
		t.Error("a corpus without fraud labels must be marked directional-only")
	}
	// The action tallies still carry the directional signal.
	if report.Simulated.Blocked <= report.Baseline.Blocked {
		t.Errorf("tightening should raise blocks: baseline %d, simulated %d",
			report.Baseline.Blocked, report.Simulated.Blocked)
	}
	if report.BaselineCatchRate != 0 || report.SimulatedCatchRate != 0 {
		t.Error("catch rates must stay zero without labels")
	}
}

func TestSimulateDeterministicBytes(t *testing.T) {
	ruleStore := rules.NewMemoryStore()
	corpus := NewMemoryCorpusStore()
	seedAmountRule(t, ruleStore, 500, rules.StatusActive)
	seedCorpus(t, corpus, 50, 600)

	e := NewEngine(ruleStore, corpus, WithShards(7))
	first, err := e.Simulate(context.Background(), Request{RuleID: "rule_amount", ThresholdDelta: -150})
	if err != nil {
		t.Fatal(err)
	}
	want, err := json.Marshal(first)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		again, err := e.Simulate(context.Background(), Request{RuleID: "rule_amount", ThresholdDelta: -150})
		if err != nil {
			t.Fatal(err)
		}
		got, err := json.Marshal(again)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != string(want) {
			t.Fatalf("run %d produced different bytes:\n%s\nvs\n%s", i, got, want)
		}
	}
}

func TestSimulateShadowRulePromotion(t *testing.T) {
	ruleStore := rules.NewMemoryStore()
	corpus := NewMemoryCorpusStore()
	seedAmountRule(t, ruleStore, 500, rules.StatusShadow)
	seedCorpus(t, corpus, 10, 700)

	e := NewEngine(ruleStore, corpus)
	report, err := e.Simulate(context.Background(), Request{RuleID: "rule_amount", ThresholdDelta: 0})
	if err != nil {
		t.Fatal(err)
	}

	// The shadow rule blocks nothing today; the modified set shows its effect.
	if report.Baseline.Blocked != 0 {
		t.Errorf("baseline blocked = %d, want 0 (rule is shadow)", report.Baseline.Blocked)
	}
	if report.Simulated.Blocked != 5 {
		t.Errorf("simulated blocked = %d, want 5", report.Simulated.Blocked)
	}
}

func TestSimulateCancelledIsIncomplete(t *testing.T) {
	ruleStore := rules.NewMemoryStore()
	corpus := NewMemoryCorpusStore()
	seedAmountRule(t, ruleStore, 500, rules.StatusActive)
	seedCorpus(t, corpus, 100, 700)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEngine(ruleStore, corpus)
	report, err := e.Simulate(ctx, Request{RuleID: "rule_amount", ThresholdDelta: 0})
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("err = %v, want ErrIncomplete", err)
	}
	if report == nil || report.Complete {
		t.Error("cancelled replay must be marked incomplete")
	}
}

func TestSimulateUnknownRule(t *testing.T) {
	e := NewEngine(rules.NewMemoryStore(), NewMemoryCorpusStore())
	if _, err := e.Simulate(context.Background(), Request{RuleID: "rule_missing"}); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("err = %v, want ErrRuleNotFound", err)
	}
}

func TestSimulateDateRangeFiltersCorpus(t *testing.T) {
	ruleStore := rules.NewMemoryStore()
	corpus := NewMemoryCorpusStore()
	seedAmountRule(t, ruleStore, 500, rules.StatusActive)
	seedCorpus(t, corpus, 10, 700)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := NewEngine(ruleStore, corpus)
	report, err := e.Simulate(context.Background(), Request{
		RuleID: "rule_amount",
		From:   base.Add(3 * time.Minute),
		To:     base.Add(6 * time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Records != 4 {
		t.Errorf("records = %d, want 4 in the window", report.Records)
	}
}
