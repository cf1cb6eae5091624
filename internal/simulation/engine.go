package simulation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wardlabs/ward/internal/engine"
	"github.com/wardlabs/ward/internal/metrics"
	"github.com/wardlabs/ward/internal/rules"
	"github.com/wardlabs/ward/internal/traces"
)

const defaultShards = 4

// Engine replays the corpus against baseline and modified rule sets.
type Engine struct {
	rules  rules.Store
	corpus CorpusStore
	shards int
}

// Option configures a simulation engine.
type Option func(*Engine)

// WithShards sets replay parallelism.
func WithShards(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.shards = n
		}
	}
}

// NewEngine creates a simulation engine over the given stores.
func NewEngine(ruleStore rules.Store, corpus CorpusStore, opts ...Option) *Engine {
	e := &Engine{rules: ruleStore, corpus: corpus, shards: defaultShards}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request describes one what-if replay.
type Request struct {
	RuleID         string
	ThresholdDelta float64
	From           time.Time
	To             time.Time
}

// Simulate replays the corpus twice: once against the current ACTIVE rules and
// once with the named rule's numeric thresholds shifted by the delta. A rule
// that is not yet ACTIVE (shadow, testing) joins the modified set only, which
// answers "what if we promoted it".
//
// On cancellation the merged tallies of the shards that finished are returned
// with Complete=false alongside ErrIncomplete.
func (e *Engine) Simulate(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "simulation.Simulate", traces.RuleID(req.RuleID))
	defer span.End()

	target, err := e.rules.Get(ctx, req.RuleID)
	if err != nil {
		metrics.SimulationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	baseline, err := e.rules.List(ctx, rules.Query{Status: rules.StatusActive})
	if err != nil {
		metrics.SimulationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	modified := applyDelta(baseline, target, req.ThresholdDelta)

	records, err := e.corpus.List(ctx, CorpusQuery{
		Checkpoint: target.Checkpoint,
		From:       req.From,
		To:         req.To,
	})
	if err != nil {
		metrics.SimulationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	report := e.replay(ctx, records, baseline, modified)
	report.RuleID = req.RuleID
	report.ThresholdDelta = req.ThresholdDelta

	metrics.SimulationDuration.Observe(time.Since(start).Seconds())
	if !report.Complete {
		metrics.SimulationsTotal.WithLabelValues("incomplete").Inc()
		return report, ErrIncomplete
	}
	metrics.SimulationsTotal.WithLabelValues("complete").Inc()
	return report, nil
}

// applyDelta clones the baseline snapshot and shifts the target rule's numeric
// threshold values. An inactive target is appended so the modified set shows
// its effect.
func applyDelta(baseline []*rules.Rule, target *rules.Rule, delta float64) []*rules.Rule {
	modified := make([]*rules.Rule, 0, len(baseline)+1)
	found := false
	for _, r := range baseline {
		if r.ID != target.ID {
			modified = append(modified, r)
			continue
		}
		found = true
		modified = append(modified, shiftThresholds(r, delta))
	}
	if !found {
		modified = append(modified, shiftThresholds(target, delta))
	}
	return modified
}

// shiftThresholds returns a clone with every ordered numeric condition value
// moved by delta. Set and equality conditions are left alone.
func shiftThresholds(r *rules.Rule, delta float64) *rules.Rule {
	cp := r.Clone()
	for i, c := range cp.Conditions {
		switch c.Operator {
		case rules.OpGT, rules.OpGTE, rules.OpLT, rules.OpLTE:
			if v, ok := toFloat(c.Value); ok {
				cp.Conditions[i].Value = v + delta
			}
		}
	}
	return cp
}

type shardResult struct {
	baseline  Outcome
	simulated Outcome

	labeledFraud int
	labeledLegit int
	baseCaught   int
	simCaught    int
	baseFP       int
	simFP        int

	newlyBlocked    []string
	noLongerBlocked []string

	complete bool
}

// replay evaluates every record against both snapshots across shard workers
// and merges shard tallies in shard order.
func (e *Engine) replay(ctx context.Context, records []*Record, baseline, modified []*rules.Rule) *Report {
	report := &Report{
		Records:         len(records),
		NewlyBlocked:    []string{},
		NoLongerBlocked: []string{},
		Complete:        true,
	}
	if len(records) == 0 {
		report.DirectionalOnly = true
		return report
	}

	shards := e.shards
	if shards > len(records) {
		shards = len(records)
	}
	results := make([]shardResult, shards)

	var wg sync.WaitGroup
	per := (len(records) + shards - 1) / shards
	for s := 0; s < shards; s++ {
		lo := s * per
		if lo >= len(records) {
			// Ceiling division can exhaust the corpus before the last
			// shard; an empty shard has nothing to replay.
			results[s] = shardResult{complete: true}
			continue
		}
		hi := lo + per
		if hi > len(records) {
			hi = len(records)
		}
		wg.Add(1)
		go func(s int, chunk []*Record) {
			defer wg.Done()
			results[s] = replayShard(ctx, chunk, baseline, modified)
		}(s, records[lo:hi])
	}
	wg.Wait()

	for _, sr := range results {
		if !sr.complete {
			report.Complete = false
		}
		report.Baseline.Blocked += sr.baseline.Blocked
		report.Baseline.Reviewed += sr.baseline.Reviewed
		report.Baseline.Approved += sr.baseline.Approved
		report.Simulated.Blocked += sr.simulated.Blocked
		report.Simulated.Reviewed += sr.simulated.Reviewed
		report.Simulated.Approved += sr.simulated.Approved
		report.Labeled += sr.labeledFraud + sr.labeledLegit
		report.NewlyBlocked = append(report.NewlyBlocked, sr.newlyBlocked...)
		report.NoLongerBlocked = append(report.NoLongerBlocked, sr.noLongerBlocked...)
	}
	report.DirectionalOnly = report.Labeled == 0

	var fraud, legit, baseCaught, simCaught, baseFP, simFP int
	for _, sr := range results {
		fraud += sr.labeledFraud
		legit += sr.labeledLegit
		baseCaught += sr.baseCaught
		simCaught += sr.simCaught
		baseFP += sr.baseFP
		simFP += sr.simFP
	}
	if fraud > 0 {
		report.BaselineCatchRate = float64(baseCaught) / float64(fraud)
		report.SimulatedCatchRate = float64(simCaught) / float64(fraud)
	}
	if legit > 0 {
		report.BaselineFalsePositiveRate = float64(baseFP) / float64(legit)
		report.SimulatedFalsePositiveRate = float64(simFP) / float64(legit)
	}

	sort.Strings(report.NewlyBlocked)
	sort.Strings(report.NoLongerBlocked)
	if len(report.NewlyBlocked) > maxSampleSize {
		report.NewlyBlocked = report.NewlyBlocked[:maxSampleSize]
	}
	if len(report.NoLongerBlocked) > maxSampleSize {
		report.NoLongerBlocked = report.NoLongerBlocked[:maxSampleSize]
	}
	return report
}

func replayShard(ctx context.Context, chunk []*Record, baseline, modified []*rules.Rule) shardResult {
	sr := shardResult{complete: true}
	for _, rec := range chunk {
		select {
		case <-ctx.Done():
			sr.complete = false
			return sr
		default:
		}

		facts := &engine.FactSet{
			Attributes:  rec.Attributes,
			ModelScores: rec.ModelScores,
			Datasets:    rec.Datasets,
		}
		base := engine.Replay(applicable(baseline, rec.Checkpoint), facts)
		sim := engine.Replay(applicable(modified, rec.Checkpoint), facts)

		tally(&sr.baseline, base.Action)
		tally(&sr.simulated, sim.Action)

		baseBlocked := base.Action == rules.ActionBlock
		simBlocked := sim.Action == rules.ActionBlock
		if simBlocked && !baseBlocked {
			sr.newlyBlocked = append(sr.newlyBlocked, rec.ID)
		}
		if baseBlocked && !simBlocked {
			sr.noLongerBlocked = append(sr.noLongerBlocked, rec.ID)
		}

		if rec.FraudLabel != nil {
			if *rec.FraudLabel {
				sr.labeledFraud++
				if baseBlocked {
					sr.baseCaught++
				}
				if simBlocked {
					sr.simCaught++
				}
			} else {
				sr.labeledLegit++
				if baseBlocked {
					sr.baseFP++
				}
				if simBlocked {
					sr.simFP++
				}
			}
		}
	}
	return sr
}

// applicable filters a snapshot to rules bound to the record's checkpoint or
// to no checkpoint at all.
func applicable(snapshot []*rules.Rule, cp rules.Checkpoint) []*rules.Rule {
	out := make([]*rules.Rule, 0, len(snapshot))
	for _, r := range snapshot {
		if r.Checkpoint == "" || r.Checkpoint == cp {
			out = append(out, r)
		}
	}
	return out
}

func tally(o *Outcome, action rules.Action) {
	switch action {
	case rules.ActionBlock:
		o.Blocked++
	case rules.ActionReview:
		o.Reviewed++
	default:
		o.Approved++
	}
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
