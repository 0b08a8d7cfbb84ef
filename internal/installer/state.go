package installer

import (
	"time"
)

// Status is the lifecycle position of an installation run.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusChecking    Status = "checking"
	StatusDownloading Status = "downloading"
	StatusInstalling  Status = "installing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusAborted     Status = "aborted"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// TransferProgress mirrors the byte counters of the active download.
type TransferProgress struct {
	Downloaded int64 `json:"downloaded"`
	Total      int64 `json:"total"`
}

// State is the observable progress of one run. Callers only ever see copies.
type State struct {
	RunID           string           `json:"run_id"`
	Attempt         int              `json:"attempt,omitempty"`
	Profile         string           `json:"profile"`
	Status          Status           `json:"status"`
	ProgressPercent float64          `json:"progress_percent"`
	CurrentStage    string           `json:"current_stage"`
	StagesCompleted []string         `json:"stages_completed"`
	TotalStages     int              `json:"total_stages"`
	Errors          []string         `json:"errors"`
	Warnings        []string         `json:"warnings"`
	Paused          bool             `json:"paused"`
	Transfer        TransferProgress `json:"transfer"`
	StartTime       time.Time        `json:"start_time,omitzero"`
	EndTime         time.Time        `json:"end_time,omitzero"`
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.StagesCompleted = append([]string{}, s.StagesCompleted...)
	out.Errors = append([]string{}, s.Errors...)
	out.Warnings = append([]string{}, s.Warnings...)
	return out
}

// Duration reports the elapsed run time, up to now for runs still in progress.
func (s State) Duration(now time.Time) time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	if s.EndTime.IsZero() {
		return now.Sub(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}
