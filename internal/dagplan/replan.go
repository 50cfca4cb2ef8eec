package dagplan

import (
	"errors"
	"fmt"

	"github.com/lucasnoah/dagforge/internal/execmodel"
)

// ErrInvalidReplan is returned by ApplyReplan when the decision's changes
// would introduce a cycle into the remaining DAG.
var ErrInvalidReplan = errors.New("dagplan: replan produces an invalid DAG")

// ApplyReplan applies a replan decision to state and returns the updated
// state. For continue/abort it only bumps counters and history. For
// modify_dag/reduce_scope it rebuilds the non-terminal issue set, recomputes
// levels, and resets CurrentLevel to 0.
//
// ApplyReplan is transactional: for modify_dag/reduce_scope it builds the
// candidate state entirely on a copy and only returns it once ComputeLevels
// has succeeded against the candidate graph. On a cycle it returns the
// original state completely unchanged, wrapped in ErrInvalidReplan — this
// is a deliberate strengthening over the naive eager-mutation approach
// (see DESIGN.md, Open Question 1): the reference implementation this was
// generalized from mutates SkippedIssues before validating the new graph,
// leaving partial side effects on a rejected replan, which this
// implementation's required invariant ("cycle rejection leaves state
// unchanged") does not allow.
func ApplyReplan(state execmodel.DAGState, decision execmodel.ReplanDecision) (execmodel.DAGState, error) {
	switch decision.Action {
	case execmodel.ReplanContinue, execmodel.ReplanAbort:
		next := state
		next.ReplanCount++
		next.ReplanHistory = append(append([]execmodel.ReplanDecision(nil), state.ReplanHistory...), decision)
		return next, nil
	case execmodel.ReplanModifyDAG, execmodel.ReplanReduceScope:
		return applyStructuralReplan(state, decision)
	default:
		return state, fmt.Errorf("dagplan: unknown replan action %q", decision.Action)
	}
}

func applyStructuralReplan(state execmodel.DAGState, decision execmodel.ReplanDecision) (execmodel.DAGState, error) {
	// Only issues that actually completed are passed to ComputeLevels as
	// "satisfied" deps — a dependency on a skipped issue that is still in
	// the remaining set stays an edge. Failed issues are not in the
	// remaining set, so ComputeLevels treats a dependency on one as
	// satisfied.
	completedNames := make(map[string]bool, len(state.CompletedIssues))
	for _, r := range state.CompletedIssues {
		completedNames[r.IssueName] = true
	}

	// remaining = all_issues \ (completed ∪ failed). Issues already
	// skipped stay in the remaining working set until this replan
	// decides to skip them too, mirroring the source's semantics where
	// skipped issues can still be referenced by updated_issues and may
	// be revived into a level by a later replan.
	completedOrFailed := make(map[string]bool, len(state.CompletedIssues)+len(state.FailedIssues))
	for name := range completedNames {
		completedOrFailed[name] = true
	}
	for _, r := range state.FailedIssues {
		completedOrFailed[r.IssueName] = true
	}

	removed := toSet(decision.RemovedIssueNames)
	newlySkipped := toSet(decision.SkippedIssueNames)

	var remaining []execmodel.Issue
	for _, iss := range state.AllIssues {
		if completedOrFailed[iss.Name] {
			continue
		}
		if removed[iss.Name] {
			continue
		}
		if newlySkipped[iss.Name] {
			continue
		}
		remaining = append(remaining, iss.Clone())
	}

	// Merge updated_issues over matching remaining entries by name.
	updatedByName := make(map[string]execmodel.Issue, len(decision.UpdatedIssues))
	for _, u := range decision.UpdatedIssues {
		updatedByName[u.Name] = u
	}
	for idx, iss := range remaining {
		if u, ok := updatedByName[iss.Name]; ok {
			merged := u
			if merged.SequenceNumber == 0 {
				merged.SequenceNumber = iss.SequenceNumber
			}
			remaining[idx] = merged
		}
	}

	// Assign sequence numbers to new issues not already present.
	maxSeq := 0
	for _, iss := range state.AllIssues {
		if iss.SequenceNumber > maxSeq {
			maxSeq = iss.SequenceNumber
		}
	}
	existingNames := make(map[string]bool, len(remaining))
	for _, iss := range remaining {
		existingNames[iss.Name] = true
	}
	for _, ni := range decision.NewIssues {
		if existingNames[ni.Name] {
			continue
		}
		added := ni.Clone()
		if added.SequenceNumber == 0 {
			maxSeq++
			added.SequenceNumber = maxSeq
		}
		remaining = append(remaining, added)
		existingNames[added.Name] = true
	}

	levels, err := ComputeLevels(remaining, completedNames)
	if err != nil {
		var cycleErr *CycleError
		if errors.As(err, &cycleErr) {
			return state, fmt.Errorf("%w: %v", ErrInvalidReplan, err)
		}
		return state, err
	}

	// Build the candidate state only now that the graph is known valid.
	next := state
	next.CurrentLevel = 0
	next.ReplanCount = state.ReplanCount + 1
	next.ReplanHistory = append(append([]execmodel.ReplanDecision(nil), state.ReplanHistory...), decision)

	next.SkippedIssues = append(append([]string(nil), state.SkippedIssues...), decision.SkippedIssueNames...)
	next.SkippedIssues = dedupe(next.SkippedIssues)

	terminal := make([]execmodel.Issue, 0, len(state.AllIssues))
	for _, iss := range state.AllIssues {
		if completedOrFailed[iss.Name] || newlySkipped[iss.Name] {
			terminal = append(terminal, iss)
		}
	}
	next.AllIssues = append(terminal, remaining...)
	next.Levels = levels

	return next, nil
}

func toSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0:0]
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
