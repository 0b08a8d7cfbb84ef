package components

import (
	"github.com/alexisbeaulieu97/stagehand/internal/installer"
)

// StageStatus is the display state of one stage.
type StageStatus string

const (
	StagePending StageStatus = "pending"
	StageRunning StageStatus = "running"
	StageDone    StageStatus = "done"
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped"
)

// StageEntry represents a single stage for rendering.
type StageEntry struct {
	Name   string
	Status StageStatus
}

// StageList derives per-stage display states from a run snapshot.
type StageList struct {
	entries []StageEntry
}

// NewStageList maps every known stage onto the snapshot. Stages the snapshot mentions
// but names does not are appended in the order they completed.
func NewStageList(names []string, state installer.State) StageList {
	completed := make(map[string]bool, len(state.StagesCompleted))
	for _, name := range state.StagesCompleted {
		completed[name] = true
	}

	all := append([]string(nil), names...)
	known := make(map[string]bool, len(names))
	for _, name := range names {
		known[name] = true
	}
	for _, name := range state.StagesCompleted {
		if !known[name] {
			all = append(all, name)
			known[name] = true
		}
	}

	entries := make([]StageEntry, 0, len(all))
	for _, name := range all {
		entry := StageEntry{Name: name, Status: StagePending}
		switch {
		case completed[name]:
			entry.Status = StageDone
		case name == state.CurrentStage && state.Status == installer.StatusFailed:
			entry.Status = StageFailed
		case name == state.CurrentStage && !state.Status.Terminal():
			entry.Status = StageRunning
		case state.Status.Terminal():
			entry.Status = StageSkipped
		}
		entries = append(entries, entry)
	}
	return StageList{entries: entries}
}

// Entries returns the ordered stage entries.
func (s StageList) Entries() []StageEntry {
	clone := make([]StageEntry, len(s.entries))
	copy(clone, s.entries)
	return clone
}
