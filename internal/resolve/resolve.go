// Package resolve collapses colliding decisions so the orchestrator
// never sees two actions aimed at the same file.
package resolve

import (
	"github.com/franz/playlist-sync/internal/decide"
	"github.com/franz/playlist-sync/internal/report"
	"github.com/franz/playlist-sync/internal/util"
)

// Conflict kinds
const (
	KindDuplicateDecision  = "duplicate_decision"
	KindConflictingActions = "conflicting_actions"
)

// Conflict is two or more decisions colliding on one target path
type Conflict struct {
	Kind       string
	Path       string
	Decisions  []decide.Decision
	Resolution string // empty until resolved
}

// actionRank orders actions when decisions mix on one path. Destructive
// actions rank last: a redundant keep is recoverable, lost data is not.
var actionRank = map[string]int{
	decide.ActionDownload:       4,
	decide.ActionUpdateMetadata: 3,
	decide.ActionVerify:         2,
	decide.ActionRemoveFile:     1,
	decide.ActionNoAction:       0,
}

// DetectConflicts groups decisions by target path and reports every path
// claimed more than once. No-action decisions carry no path and are
// exempt. Conflicts come back in first-seen path order.
func DetectConflicts(decisions []decide.Decision) []Conflict {
	groups := make(map[string][]decide.Decision)
	var order []string

	for _, d := range decisions {
		if d.Action == decide.ActionNoAction || d.Path == "" {
			continue
		}
		if _, seen := groups[d.Path]; !seen {
			order = append(order, d.Path)
		}
		groups[d.Path] = append(groups[d.Path], d)
	}

	var conflicts []Conflict
	for _, p := range order {
		group := groups[p]
		if len(group) < 2 {
			continue
		}

		kind := KindDuplicateDecision
		for _, d := range group[1:] {
			if d.Action != group[0].Action {
				kind = KindConflictingActions
				break
			}
		}

		conflicts = append(conflicts, Conflict{
			Kind:      kind,
			Path:      p,
			Decisions: group,
		})
	}

	return conflicts
}

// Resolve picks one decision per conflict: first-seen for duplicates,
// highest action rank for mixed actions. The resolution is recorded on
// the conflict itself; conflicts of an unknown kind come back unresolved
// and must be excluded from execution by the caller.
func Resolve(conflicts []Conflict) ([]decide.Decision, []Conflict) {
	var kept []decide.Decision
	var unresolved []Conflict

	for i := range conflicts {
		c := &conflicts[i]

		switch c.Kind {
		case KindDuplicateDecision:
			kept = append(kept, c.Decisions[0])
			c.Resolution = "kept first"

		case KindConflictingActions:
			winner := c.Decisions[0]
			for _, d := range c.Decisions[1:] {
				if actionRank[d.Action] > actionRank[winner.Action] {
					winner = d
				}
			}
			kept = append(kept, winner)
			c.Resolution = "kept " + winner.Action

		default:
			unresolved = append(unresolved, *c)
		}
	}

	return kept, unresolved
}

// Collapse detects and resolves conflicts in one step. The returned
// decisions preserve input order with conflict losers removed; paths
// whose conflict could not be settled are dropped entirely.
func Collapse(decisions []decide.Decision, logger *report.EventLogger) ([]decide.Decision, []Conflict) {
	conflicts := DetectConflicts(decisions)
	if len(conflicts) == 0 {
		return decisions, nil
	}

	kept, unresolved := Resolve(conflicts)

	winners := make(map[string]decide.Decision, len(kept))
	for _, d := range kept {
		winners[d.Path] = d
	}
	dropped := make(map[string]bool, len(unresolved))
	for _, c := range unresolved {
		dropped[c.Path] = true
	}

	for _, c := range conflicts {
		if logger != nil {
			logger.LogConflict(c.Path, c.Kind, c.Resolution)
		}
		if dropped[c.Path] {
			util.WarnLog("Unresolved conflict on %s (%s): excluded from execution", c.Path, c.Kind)
		} else {
			util.WarnLog("Conflict on %s (%s): %s", c.Path, c.Kind, c.Resolution)
		}
	}

	emitted := make(map[string]bool, len(winners))
	out := make([]decide.Decision, 0, len(decisions))
	for _, d := range decisions {
		if d.Action == decide.ActionNoAction || d.Path == "" {
			out = append(out, d)
			continue
		}
		if dropped[d.Path] {
			continue
		}
		winner, contested := winners[d.Path]
		if !contested {
			out = append(out, d)
			continue
		}
		if d == winner && !emitted[d.Path] {
			emitted[d.Path] = true
			out = append(out, d)
		}
	}

	return out, unresolved
}
