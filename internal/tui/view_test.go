package tui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/stagehand/internal/installer"
)

func TestViewRendersRunningInstallation(t *testing.T) {
	t.Parallel()
	ctrl := newFakeController(installer.State{
		Profile:         "full",
		Status:          installer.StatusDownloading,
		ProgressPercent: 25,
		CurrentStage:    "download",
		StagesCompleted: []string{"preflight"},
		TotalStages:     4,
		Transfer:        installer.TransferProgress{Downloaded: 512, Total: 2048},
		Warnings:        []string{"attempt 1 of 3 failed, retrying"},
	})
	m := NewModel("Suite", []string{"preflight", "download", "extract", "finalize"}, ctrl)

	out := m.View()
	require.Contains(t, out, "Stagehand • Suite (full)")
	require.Contains(t, out, "25.0%")
	require.Contains(t, out, "512 B / 2.0 KiB")
	require.Contains(t, out, "✓ preflight")
	require.Contains(t, out, "extract")
	require.Contains(t, out, "attempt 1 of 3 failed")
	require.Contains(t, out, "p pause/resume")
	require.NotContains(t, out, "Summary")
}

func TestViewShowsPausedBadge(t *testing.T) {
	t.Parallel()
	ctrl := newFakeController(installer.State{Status: installer.StatusInstalling, Paused: true, CurrentStage: "extract"})
	m := NewModel("Suite", []string{"extract"}, ctrl)

	out := m.View()
	require.Contains(t, out, "paused")
	require.Contains(t, out, "⏸ extract")
}

func TestViewRendersFailureSummary(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	ctrl := newFakeController(installer.State{
		Profile:         "full",
		Status:          installer.StatusFailed,
		CurrentStage:    "extract",
		StagesCompleted: []string{"preflight", "download"},
		TotalStages:     4,
		Attempt:         2,
		Errors:          []string{"corrupt archive"},
		StartTime:       start,
		EndTime:         start.Add(3 * time.Second),
	})
	close(ctrl.done)
	m := NewModel("Suite", []string{"preflight", "download", "extract", "finalize"}, ctrl)
	updated, _ := m.Update(tickMsg(time.Now()))

	out := updated.View()
	require.Contains(t, out, "✗ extract")
	require.Contains(t, out, "⊘ finalize")
	require.Contains(t, out, "corrupt archive")
	require.Contains(t, out, "Installation failed after 3s")
	require.Contains(t, out, "Stages: 2/4 completed")
	require.Contains(t, out, "Attempts: 2")
	require.Contains(t, out, "press any key to exit")
}
