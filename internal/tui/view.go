package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/alexisbeaulieu97/stagehand/internal/installer"
	"github.com/alexisbeaulieu97/stagehand/internal/tui/components"
)

const barWidth = 40

// View renders the current state of the model.
func (m Model) View() string {
	st := m.state
	var sections []string

	header := titleStyle.Render(fmt.Sprintf("Stagehand • %s", m.heading()))
	if badge := m.badge(); badge != "" {
		header = lipgloss.JoinHorizontal(lipgloss.Left, header, "  ", badge)
	}
	sections = append(sections, header)

	bar := components.NewProgress(barWidth)
	sections = append(sections, sectionStyle.Render("Progress"), bar.ViewPercent(st.ProgressPercent))
	if st.Status == installer.StatusDownloading || (st.Transfer.Downloaded > 0 && !st.Status.Terminal()) {
		sections = append(sections, bar.ViewBytes(st.Transfer.Downloaded, st.Transfer.Total))
	}

	entries := components.NewStageList(m.stages, st).Entries()
	if len(entries) > 0 {
		sections = append(sections, sectionStyle.Render("Stages"), m.renderStages(entries))
	}

	if len(st.Warnings) > 0 || len(st.Errors) > 0 {
		var lines []string
		for _, w := range st.Warnings {
			lines = append(lines, skippedStyle.Render("! "+w))
		}
		for _, e := range st.Errors {
			lines = append(lines, failureStyle.Render("✗ "+e))
		}
		sections = append(sections, sectionStyle.Render("Messages"), strings.Join(lines, "\n"))
	}

	if summary := components.NewSummary(st).View(); summary != "" {
		sections = append(sections, sectionStyle.Render("Summary"), summaryStyle.Render(summary))
	}

	footer := "p pause/resume • a abort • q quit"
	if m.finished {
		footer = "press any key to exit"
	}
	sections = append(sections, pendingStyle.MarginTop(1).Render(footer))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderStages(entries []components.StageEntry) string {
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, fmt.Sprintf(" %s %s", m.icon(entry.Status), entry.Name))
	}
	return strings.Join(lines, "\n")
}

func (m Model) icon(status components.StageStatus) string {
	switch status {
	case components.StageDone:
		return StatusIcon(status)
	case components.StageRunning:
		if m.state.Paused {
			return runningStyle.Render("⏸")
		}
		return m.spinner.View()
	default:
		return StatusIcon(status)
	}
}

func (m Model) heading() string {
	title := strings.TrimSpace(m.title)
	if title == "" {
		title = "Installation"
	}
	if m.state.Profile != "" {
		title += " (" + m.state.Profile + ")"
	}
	return title
}

func (m Model) badge() string {
	switch {
	case m.state.Status.Terminal():
		return statusBadge(m.state.Status)
	case m.aborting:
		return failureStyle.Render("aborting")
	case m.state.Paused:
		return runningStyle.Render("paused")
	case m.ctrl.PauseRequested():
		return runningStyle.Render("pausing")
	}
	return ""
}

func statusBadge(status installer.Status) string {
	switch status {
	case installer.StatusCompleted:
		return successStyle.Render("completed")
	case installer.StatusAborted:
		return skippedStyle.Render("aborted")
	default:
		return failureStyle.Render(string(status))
	}
}

// StatusIcon returns the glyph representing a stage status.
func StatusIcon(status components.StageStatus) string {
	switch status {
	case components.StageDone:
		return successStyle.Render("✓")
	case components.StageRunning:
		return runningStyle.Render("⏳")
	case components.StageFailed:
		return failureStyle.Render("✗")
	case components.StageSkipped:
		return skippedStyle.Render("⊘")
	default:
		return pendingStyle.Render("…")
	}
}
