// Package simulation replays historical traffic against a modified rule set
// to answer "what would this threshold change have done" before promoting it.
//
// Replays are deterministic: the same corpus, rule set, and delta always
// produce a byte-identical report. The report therefore carries no
// timestamps, record samples are sorted, and shard results merge in a fixed
// order.
package simulation

import (
	"context"
	"errors"
	"time"

	"github.com/wardlabs/ward/internal/rules"
)

var (
	// ErrRecordNotFound is returned when a corpus record ID is unknown.
	ErrRecordNotFound = errors.New("simulation: record not found")
	// ErrIncomplete marks a replay cut short by cancellation or timeout.
	ErrIncomplete = errors.New("simulation: replay incomplete")
)

// Record is one historical event in the replay corpus: the fact set exactly
// as the live path saw it, plus the eventual fraud label once known.
type Record struct {
	ID          string             `json:"id"`
	Checkpoint  rules.Checkpoint   `json:"checkpoint"`
	Attributes  map[string]any     `json:"attributes"`
	ModelScores map[string]float64 `json:"modelScores"`
	Datasets    map[string]bool    `json:"datasets"`
	FraudLabel  *bool              `json:"fraudLabel,omitempty"`
	OccurredAt  time.Time          `json:"occurredAt"`
}

// CorpusQuery filters corpus records for a replay.
type CorpusQuery struct {
	Checkpoint rules.Checkpoint
	From       time.Time
	To         time.Time
}

// CorpusStore persists the replay corpus. List must return records in a
// stable order (occurredAt, then ID) so replays are reproducible.
type CorpusStore interface {
	Add(ctx context.Context, r *Record) error
	List(ctx context.Context, q CorpusQuery) ([]*Record, error)
	Count(ctx context.Context) (int64, error)
}

// Outcome tallies decisions by action over one replay pass.
type Outcome struct {
	Blocked  int `json:"blocked"`
	Reviewed int `json:"reviewed"`
	Approved int `json:"approved"`
}

// Report compares a baseline replay against the modified rule set. It
// deliberately contains no timestamps and no unordered collections: two runs
// over the same inputs marshal to identical bytes.
type Report struct {
	RuleID         string  `json:"ruleId"`
	ThresholdDelta float64 `json:"thresholdDelta"`
	Records        int     `json:"records"`
	Labeled        int     `json:"labeled"`

	Baseline  Outcome `json:"baseline"`
	Simulated Outcome `json:"simulated"`

	// Catch rates are over labeled fraud, false positive rates over labeled
	// legitimate traffic. When the window holds no labeled records at all the
	// rates are meaningless and DirectionalOnly is set: the action tallies
	// still show which way the change moves, but nothing here measures
	// accuracy.
	DirectionalOnly            bool    `json:"directionalOnly,omitempty"`
	BaselineCatchRate          float64 `json:"baselineCatchRate"`
	SimulatedCatchRate         float64 `json:"simulatedCatchRate"`
	BaselineFalsePositiveRate  float64 `json:"baselineFalsePositiveRate"`
	SimulatedFalsePositiveRate float64 `json:"simulatedFalsePositiveRate"`

	// Sorted, capped samples of records whose outcome would change.
	NewlyBlocked    []string `json:"newlyBlocked"`
	NoLongerBlocked []string `json:"noLongerBlocked"`

	Complete bool `json:"complete"`
}

// maxSampleSize caps the changed-record samples in a report.
const maxSampleSize = 20
