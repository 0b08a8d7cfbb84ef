package registry

import (
	"time"

	"github.com/alexisbeaulieu97/stagehand/internal/installer"
)

// Record is the last known installation of one profile.
type Record struct {
	Profile         string           `json:"profile"`
	Destination     string           `json:"destination"`
	RunID           string           `json:"run_id"`
	Status          installer.Status `json:"status"`
	Attempts        int              `json:"attempts"`
	StagesCompleted int              `json:"stages_completed"`
	TotalStages     int              `json:"total_stages"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     time.Time        `json:"completed_at"`
	Duration        time.Duration    `json:"duration"`
	Error           string           `json:"error,omitempty"`
}

// FromState builds a record from a terminal run snapshot.
func FromState(destination string, st installer.State) Record {
	rec := Record{
		Profile:         st.Profile,
		Destination:     destination,
		RunID:           st.RunID,
		Status:          st.Status,
		Attempts:        max(st.Attempt, 1),
		StagesCompleted: len(st.StagesCompleted),
		TotalStages:     st.TotalStages,
		StartedAt:       st.StartTime,
		CompletedAt:     st.EndTime,
		Duration:        st.Duration(st.EndTime),
	}
	if n := len(st.Errors); n > 0 {
		rec.Error = st.Errors[n-1]
	}
	return rec
}

// File is the JSON layout of the history file.
type File struct {
	Version string   `json:"version"`
	Records []Record `json:"records"`
}
