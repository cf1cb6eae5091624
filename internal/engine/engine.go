package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wardlabs/ward/internal/idgen"
	"github.com/wardlabs/ward/internal/logging"
	"github.com/wardlabs/ward/internal/metrics"
	"github.com/wardlabs/ward/internal/rules"
	"github.com/wardlabs/ward/internal/traces"
)

const defaultWorkers = 8

// Engine evaluates checkpoints: it snapshots the rule set, resolves external
// facts, runs every rule in parallel, and folds the results into one decision.
type Engine struct {
	rules        rules.Store
	decisions    DecisionStore
	datasets     DatasetProvider
	emitter      Emitter
	lookupBudget time.Duration
	workers      int
}

// Emitter observes finalized decisions. The case service hooks in here to
// open review cases for REVIEW and BLOCK outcomes. Dry runs never reach the
// emitter.
type Emitter interface {
	DecisionRendered(ctx context.Context, d *Decision)
}

// Option configures an Engine.
type Option func(*Engine)

// WithDatasetProvider wires an external dataset membership resolver.
func WithDatasetProvider(p DatasetProvider) Option {
	return func(e *Engine) { e.datasets = p }
}

// WithLookupBudget overrides the per-lookup budget for dataset resolution.
func WithLookupBudget(d time.Duration) Option {
	return func(e *Engine) { e.lookupBudget = d }
}

// WithEmitter wires a post-decision observer.
func WithEmitter(em Emitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// WithWorkers sets the rule evaluation parallelism.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// New creates a decision engine over the given stores.
func New(ruleStore rules.Store, decisionStore DecisionStore, opts ...Option) *Engine {
	e := &Engine{
		rules:        ruleStore,
		decisions:    decisionStore,
		lookupBudget: DefaultLookupBudget,
		workers:      defaultWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide renders a decision for one event at a checkpoint.
//
// The flow is: snapshot ACTIVE and SHADOW rules for the checkpoint, resolve
// dataset facts under the lookup budget, evaluate every rule in parallel, then
// aggregate. Only ACTIVE rules contribute to the action and score; SHADOW
// matches are recorded on the decision for soak analysis. When dryRun is set
// the decision is computed but nothing is persisted and no counters move.
func (e *Engine) Decide(ctx context.Context, checkpoint rules.Checkpoint, facts *FactSet, dryRun bool) (*Decision, error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "engine.Decide", traces.CheckpointAttr(string(checkpoint)))
	defer span.End()

	snapshot, err := e.snapshot(ctx, checkpoint)
	if err != nil {
		return nil, fmt.Errorf("rule snapshot: %w", err)
	}

	resolved, gaps := e.resolveFacts(ctx, snapshot, facts)

	results := evaluateAll(ctx, snapshot, resolved, e.workers)

	d := aggregate(checkpoint, snapshot, results, resolved)
	d.ID = idgen.WithPrefix("dec_")
	d.EvidenceGaps = append(d.EvidenceGaps, gaps...)
	d.DryRun = dryRun
	d.CreatedAt = time.Now().UTC()
	d.LatencyUs = time.Since(start).Microseconds()

	span.SetAttributes(traces.DecisionID(d.ID), traces.ActionAttr(string(d.Action)))
	metrics.DecisionDuration.WithLabelValues(string(checkpoint)).Observe(time.Since(start).Seconds())

	if dryRun {
		return d, nil
	}

	metrics.DecisionsTotal.WithLabelValues(string(checkpoint), string(d.Action)).Inc()

	// Counters move exactly once per decision, after aggregation.
	triggeredIDs := make([]string, 0, len(d.TriggeredRules)+len(d.ShadowRules))
	for _, t := range d.TriggeredRules {
		triggeredIDs = append(triggeredIDs, t.RuleID)
	}
	for _, t := range d.ShadowRules {
		triggeredIDs = append(triggeredIDs, t.RuleID)
	}
	if err := e.rules.IncrementTriggered(ctx, triggeredIDs); err != nil {
		logging.L(ctx).Error("failed to increment rule counters", "error", err, "decision_id", d.ID)
	}

	if e.decisions != nil {
		if err := e.decisions.Record(ctx, d); err != nil {
			logging.L(ctx).Error("failed to record decision", "error", err, "decision_id", d.ID)
		}
	}
	if e.emitter != nil {
		e.emitter.DecisionRendered(ctx, d)
	}
	return d, nil
}

// snapshot loads the ACTIVE and SHADOW rules for a checkpoint. The returned
// slice is stable for the whole evaluation: concurrent rule edits never affect
// an in-flight decision.
func (e *Engine) snapshot(ctx context.Context, checkpoint rules.Checkpoint) ([]*rules.Rule, error) {
	active, err := e.rules.List(ctx, rules.Query{Checkpoint: checkpoint, Status: rules.StatusActive})
	if err != nil {
		return nil, err
	}
	shadow, err := e.rules.List(ctx, rules.Query{Checkpoint: checkpoint, Status: rules.StatusShadow})
	if err != nil {
		return nil, err
	}
	return append(active, shadow...), nil
}

// resolveFacts fills in dataset memberships the rules reference but the caller
// did not supply, each lookup bounded by the budget. A timed-out or failed
// lookup is recorded as an evidence gap and the condition later degrades to a
// missing fact.
func (e *Engine) resolveFacts(ctx context.Context, snapshot []*rules.Rule, facts *FactSet) (*FactSet, []string) {
	resolved := facts.clone()
	if e.datasets == nil {
		return resolved, nil
	}

	needed := make(map[string]bool)
	for _, r := range snapshot {
		for _, c := range r.Conditions {
			if c.Kind == rules.KindDataset {
				if _, ok := resolved.Datasets[c.Field]; !ok {
					needed[c.Field] = true
				}
			}
		}
	}
	if len(needed) == 0 {
		return resolved, nil
	}

	key, _ := resolved.Attributes["entityId"].(string)

	var gaps []string
	for name := range needed {
		lctx, cancel := context.WithTimeout(ctx, e.lookupBudget)
		member, err := e.datasets.Lookup(lctx, name, key)
		cancel()
		if err != nil {
			metrics.DependencyTimeoutsTotal.WithLabelValues(name).Inc()
			logging.L(ctx).Warn("dataset lookup degraded", "dataset", name, "error", err)
			gaps = append(gaps, name)
			continue
		}
		resolved.Datasets[name] = member
	}
	sort.Strings(gaps)
	return resolved, gaps
}

// evaluateAll runs every rule through a bounded worker pool. Results land in
// an index-addressed slice so output order never depends on scheduling.
func evaluateAll(ctx context.Context, snapshot []*rules.Rule, facts *FactSet, workers int) []RuleResult {
	results := make([]RuleResult, len(snapshot))
	if len(snapshot) == 0 {
		return results
	}
	if workers > len(snapshot) {
		workers = len(snapshot)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				results[i] = EvaluateRule(snapshot[i], facts)
			}
		}()
	}
	for i := range snapshot {
		select {
		case indexes <- i:
		case <-ctx.Done():
			// Drain: remaining rules still get zero-value (non-triggered)
			// results rather than racing the workers.
			close(indexes)
			wg.Wait()
			for j := range results {
				if results[j].RuleID == "" {
					results[j] = RuleResult{RuleID: snapshot[j].ID}
				}
			}
			return results
		}
	}
	close(indexes)
	wg.Wait()
	return results
}

// aggregate folds rule results into a decision. The score is a monotone sum:
// severity weights of triggered ACTIVE rules plus the max model score scaled
// to its band, capped at 100. A triggered CRITICAL rule forces BLOCK no matter
// the score.
func aggregate(checkpoint rules.Checkpoint, snapshot []*rules.Rule, results []RuleResult, facts *FactSet) *Decision {
	d := &Decision{
		Checkpoint:     checkpoint,
		TriggeredRules: []TriggeredRule{},
		Reasons:        []string{},
		RulesEvaluated: len(snapshot),
	}

	metrics.RuleEvaluationsTotal.Add(float64(len(snapshot)))

	score := 0
	criticalHit := ""
	for i, r := range snapshot {
		for _, cr := range results[i].Conditions {
			if cr.Evidence == EvidenceMissingFact {
				metrics.MissingFactsTotal.Inc()
			}
		}
		if !results[i].Triggered {
			continue
		}
		entry := TriggeredRule{
			RuleID:   r.ID,
			Name:     r.Name,
			Severity: r.Severity,
			Priority: r.Priority,
			Action:   r.Action,
		}
		if r.Status == rules.StatusShadow {
			d.ShadowRules = append(d.ShadowRules, entry)
			continue
		}
		d.TriggeredRules = append(d.TriggeredRules, entry)
		score += severityWeight(r.Severity)
		if r.Severity == rules.SeverityCritical && criticalHit == "" {
			criticalHit = r.Name
		}
	}

	score += int(facts.maxModelScore() * weightModel)
	if score > 100 {
		score = 100
	}
	d.RiskScore = score
	d.Action = actionForScore(score)

	sortTriggered(d.TriggeredRules)
	sortTriggered(d.ShadowRules)

	for _, t := range d.TriggeredRules {
		d.Reasons = append(d.Reasons, fmt.Sprintf("rule %q matched (%s)", t.Name, t.Severity))
	}
	if criticalHit != "" {
		d.Action = rules.ActionBlock
		d.Reasons = append(d.Reasons, fmt.Sprintf("critical rule %q forces block", criticalHit))
	}
	if len(d.TriggeredRules) == 0 {
		d.Reasons = append(d.Reasons, "no rules matched")
	}

	d.Confidence = confidence(d)
	return d
}

// sortTriggered orders rule hits by priority, then severity, then ID, so the
// decision payload is deterministic regardless of evaluation order.
func sortTriggered(hits []TriggeredRule) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Priority != hits[j].Priority {
			return hits[i].Priority < hits[j].Priority
		}
		ri, rj := hits[i].Severity.Rank(), hits[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return hits[i].RuleID < hits[j].RuleID
	})
}

// confidence reflects how far the score sits from the nearest band boundary
// plus how much corroborating evidence triggered.
func confidence(d *Decision) float64 {
	var distance int
	switch d.Action {
	case rules.ActionApprove:
		distance = ApproveBand - d.RiskScore
	case rules.ActionReview:
		if up := ReviewBand - d.RiskScore; up < d.RiskScore-ApproveBand {
			distance = up
		} else {
			distance = d.RiskScore - ApproveBand
		}
	default:
		distance = d.RiskScore - ReviewBand
		if distance > 30 {
			distance = 30
		}
	}
	c := 0.5 + float64(distance)/60.0
	if n := len(d.TriggeredRules); n > 1 {
		c += 0.05 * float64(n-1)
	}
	if c > 1.0 {
		c = 1.0
	}
	if c < 0 {
		c = 0
	}
	return c
}
