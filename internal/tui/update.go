package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles Bubbletea messages and updates model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		// check completion before sampling so the final snapshot is never missed
		finished := m.done()
		m.state = m.ctrl.Snapshot()
		if finished {
			m.finished = true
			return m, tea.Quit
		}
		return m, m.tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.finished {
		return m, tea.Quit
	}
	switch msg.String() {
	case "p", " ":
		if m.ctrl.PauseRequested() {
			m.ctrl.Resume()
		} else {
			m.ctrl.Pause()
		}
	case "a", "q", "ctrl+c":
		// keep polling until the runner reaches a stage boundary
		if !m.aborting {
			m.aborting = true
			m.ctrl.Abort()
		}
	}
	return m, nil
}
