package engine

import (
	"github.com/wardlabs/ward/internal/rules"
)

// ReplayOutcome is the side-effect-free result of evaluating one fact set
// against a rule snapshot. The simulation engine replays history through this
// path; it applies the same scoring and banding as a live decision but moves
// no counters and writes no audit rows.
type ReplayOutcome struct {
	Action       rules.Action
	RiskScore    int
	TriggeredIDs []string
}

// Replay evaluates a snapshot of ACTIVE rules against one fact set. The fact
// set must be fully resolved; no dataset lookups happen here.
func Replay(snapshot []*rules.Rule, facts *FactSet) ReplayOutcome {
	score := 0
	critical := false
	var triggered []string
	for _, r := range snapshot {
		res := EvaluateRule(r, facts)
		if !res.Triggered {
			continue
		}
		triggered = append(triggered, r.ID)
		score += severityWeight(r.Severity)
		if r.Severity == rules.SeverityCritical {
			critical = true
		}
	}

	score += int(facts.maxModelScore() * weightModel)
	if score > 100 {
		score = 100
	}

	action := actionForScore(score)
	if critical {
		action = rules.ActionBlock
	}
	return ReplayOutcome{Action: action, RiskScore: score, TriggeredIDs: triggered}
}
