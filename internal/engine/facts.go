// Package engine implements real-time fraud decision evaluation.
//
// A decision is one synchronous call: the engine snapshots the active rule
// set for a checkpoint, evaluates every rule against an immutable fact set in
// parallel, and folds triggered rules plus model scores into a single
// auditable decision. Evaluation is pure — all external lookups are resolved
// before it starts — which is what lets the simulation engine replay history
// through the exact same code path.
package engine

import (
	"context"
	"time"
)

// FactSet is the immutable input to one evaluation: entity attributes,
// upstream model scores, and pre-resolved dataset memberships. The evaluator
// never mutates a fact set and never performs I/O itself.
type FactSet struct {
	Attributes  map[string]any     `json:"attributes"`
	ModelScores map[string]float64 `json:"modelScores"`
	Datasets    map[string]bool    `json:"datasets"`
}

// DatasetProvider resolves membership of an entity in a named dataset
// (blocklists, device fingerprints, mule account lists). Lookups run before
// evaluation under the engine's per-lookup budget; a slow or failed lookup
// degrades to a missing fact, it never blocks the decision.
type DatasetProvider interface {
	Lookup(ctx context.Context, dataset, key string) (bool, error)
}

// clone returns a fact set with the dataset map copied so resolution can add
// entries without touching the caller's (immutable) input.
func (f *FactSet) clone() *FactSet {
	cp := &FactSet{
		Attributes:  f.Attributes,
		ModelScores: f.ModelScores,
		Datasets:    make(map[string]bool, len(f.Datasets)),
	}
	for k, v := range f.Datasets {
		cp.Datasets[k] = v
	}
	return cp
}

// maxModelScore returns the highest supplied model score clamped to [0, 1].
func (f *FactSet) maxModelScore() float64 {
	var max float64
	for _, s := range f.ModelScores {
		if s > max {
			max = s
		}
	}
	if max > 1.0 {
		max = 1.0
	}
	if max < 0 {
		max = 0
	}
	return max
}

// DefaultLookupBudget bounds each dataset lookup during fact resolution.
// The live path targets single-digit milliseconds end to end.
const DefaultLookupBudget = 5 * time.Millisecond
