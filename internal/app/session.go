package app

import (
	"sync"
	"sync/atomic"

	"github.com/alexisbeaulieu97/stagehand/internal/installer"
)

// Session is one installation request. It may span several runner attempts when
// retryable network errors occur; control calls always reach the live attempt.
type Session struct {
	RunID   string
	Profile string
	Actor   string

	mu      sync.Mutex
	runner  *installer.Runner
	attempt int
	notes   []string
	final   installer.State

	paused    atomic.Bool
	aborted   atomic.Bool
	abortOnce sync.Once
	abortCh   chan struct{}
	done      chan struct{}
}

func newSession(runID, profile, actor string) *Session {
	return &Session{
		RunID:   runID,
		Profile: profile,
		Actor:   actor,
		abortCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Snapshot returns the state of the live attempt, or the final state once done.
func (s *Session) Snapshot() installer.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished() {
		return s.final.Clone()
	}
	if s.runner == nil {
		return s.decorate(installer.State{
			RunID:   s.RunID,
			Profile: s.Profile,
			Status:  installer.StatusIdle,
		})
	}
	return s.decorate(s.runner.Snapshot())
}

// Pause forwards to the live attempt and to any attempt started later.
func (s *Session) Pause() {
	s.paused.Store(true)
	if r := s.current(); r != nil {
		r.Pause()
	}
}

// Resume clears a pause on the live attempt.
func (s *Session) Resume() {
	s.paused.Store(false)
	if r := s.current(); r != nil {
		r.Resume()
	}
}

// Abort stops the live attempt and cancels any pending retry.
func (s *Session) Abort() {
	s.aborted.Store(true)
	s.abortOnce.Do(func() { close(s.abortCh) })
	if r := s.current(); r != nil {
		r.Abort()
	}
}

// PauseRequested reports whether a pause is pending or in effect.
func (s *Session) PauseRequested() bool {
	return s.paused.Load()
}

// Done is closed after the last attempt finishes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session finishes and returns the final state.
func (s *Session) Wait() installer.State {
	<-s.done
	return s.Snapshot()
}

func (s *Session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) current() *installer.Runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runner
}

// attach makes r the live attempt. Control requests issued earlier are replayed onto it.
func (s *Session) attach(r *installer.Runner, attempt int) {
	s.mu.Lock()
	s.runner = r
	s.attempt = attempt
	s.mu.Unlock()

	if s.paused.Load() {
		r.Pause()
	}
	if s.aborted.Load() {
		r.Abort()
	}
}

func (s *Session) note(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, msg)
}

func (s *Session) complete(final installer.State) {
	s.mu.Lock()
	s.final = s.decorate(final)
	s.mu.Unlock()
	close(s.done)
}

// decorate must be called with mu held.
func (s *Session) decorate(state installer.State) installer.State {
	state.Attempt = s.attempt
	if len(s.notes) > 0 {
		state.Warnings = append(append([]string{}, s.notes...), state.Warnings...)
	}
	return state
}
