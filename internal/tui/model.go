package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/stagehand/internal/installer"
)

const defaultRefresh = 100 * time.Millisecond

// Controller is the installation the model observes and steers.
type Controller interface {
	Snapshot() installer.State
	Done() <-chan struct{}
	PauseRequested() bool
	Pause()
	Resume()
	Abort()
}

type tickMsg time.Time

// Model contains the Bubbletea state for the installation progress view.
type Model struct {
	title    string
	stages   []string
	ctrl     Controller
	state    installer.State
	spinner  spinner.Model
	refresh  time.Duration
	finished bool
	aborting bool
}

// NewModel constructs a model for a run whose stage names are known up front.
func NewModel(title string, stages []string, ctrl Controller) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = runningStyle

	return Model{
		title:   title,
		stages:  append([]string(nil), stages...),
		ctrl:    ctrl,
		state:   ctrl.Snapshot(),
		spinner: s,
		refresh: defaultRefresh,
	}
}

// Init starts polling and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.tick())
}

// State returns the last snapshot the model rendered.
func (m Model) State() installer.State {
	return m.state
}

// IsFinished reports whether the run reached its final state.
func (m Model) IsFinished() bool {
	return m.finished
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) done() bool {
	select {
	case <-m.ctrl.Done():
		return true
	default:
		return false
	}
}
