package session

import (
	"sort"
	"time"
)

// SortActions orders actions chronologically. The sort is stable: actions
// with equal timestamps keep their commit order.
func SortActions(actions []Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Timestamp.Before(actions[j].Timestamp.Time)
	})
}

// MergeVoice returns browser and voice actions as one chronological list.
// Voice segments come from an independent clock, so the merged list is
// re-sorted rather than interleaved.
func MergeVoice(actions, voice []Action) []Action {
	merged := make([]Action, 0, len(actions)+len(voice))
	merged = append(merged, actions...)
	merged = append(merged, voice...)
	SortActions(merged)
	return merged
}

// NearestSnapshot returns the id of the interactive action closest in time
// to t, or "" when there is none. Only interactive actions own snapshots.
func NearestSnapshot(actions []Action, t time.Time) string {
	best := ""
	var bestDiff time.Duration
	for _, a := range actions {
		if !a.Type.Interactive() {
			continue
		}
		d := a.Timestamp.Sub(t)
		if d < 0 {
			d = -d
		}
		if best == "" || d < bestDiff {
			best, bestDiff = a.ID, d
		}
	}
	return best
}

// InsertNotes places note actions right after the action they annotate.
// Notes whose anchor is missing go to the front, before any action. Notes
// sharing an anchor keep their order.
func InsertNotes(actions, notes []Action) []Action {
	if len(notes) == 0 {
		return actions
	}
	after := make(map[string][]Action)
	var orphans []Action
	ids := make(map[string]bool, len(actions))
	for _, a := range actions {
		ids[a.ID] = true
	}
	for _, n := range notes {
		p, ok := n.Payload.(*Note)
		if !ok || p.InsertAfterActionID == "" || !ids[p.InsertAfterActionID] {
			orphans = append(orphans, n)
			continue
		}
		after[p.InsertAfterActionID] = append(after[p.InsertAfterActionID], n)
	}

	out := make([]Action, 0, len(actions)+len(notes))
	out = append(out, orphans...)
	for _, a := range actions {
		out = append(out, a)
		out = append(out, after[a.ID]...)
	}
	return out
}
