package installer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexisbeaulieu97/stagehand/internal/config"
	"github.com/alexisbeaulieu97/stagehand/internal/logger"
	stagehanderrors "github.com/alexisbeaulieu97/stagehand/pkg/errors"
)

const defaultPollInterval = 100 * time.Millisecond

// ErrAlreadyStarted is returned when Start is called twice on the same Runner.
var ErrAlreadyStarted = errors.New("installation already started")

// Stage is one ordered unit of installation work.
type Stage struct {
	Name string
	// Phase is the status reported while the stage runs.
	Phase Status
	Run   func(ctx context.Context, rc *RunContext) error
}

// Hooks observe run boundaries. They are registered when the Runner is built.
type Hooks interface {
	OnInstallStart(ctx context.Context, runID string, profile config.Profile)
	OnInstallComplete(ctx context.Context, state State)
}

// StageObserver is implemented by hooks that also want per-stage timings.
type StageObserver interface {
	OnStageFinished(stage string, elapsed time.Duration, err error)
}

// Options configure a Runner.
type Options struct {
	RunID        string
	Stages       []Stage
	StageTimeout time.Duration
	PollInterval time.Duration
	// OnProgress receives a snapshot after each completed stage and once at the end.
	OnProgress func(State)
	Hooks      []Hooks
	Log        *logger.Logger
}

// Runner executes stages in order on a single worker goroutine.
// Pause, Resume and Abort only set flags and may be called from any goroutine.
type Runner struct {
	opts Options
	log  *logger.Logger

	mu    sync.Mutex
	state State

	started atomic.Bool
	paused  atomic.Bool
	aborted atomic.Bool
	wake    chan struct{}
	done    chan struct{}
}

// NewRunner constructs an idle Runner.
func NewRunner(opts Options) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	opts.Stages = append([]Stage(nil), opts.Stages...)
	for i := range opts.Stages {
		if opts.Stages[i].Phase == "" {
			opts.Stages[i].Phase = StatusInstalling
		}
	}
	opts.Hooks = append([]Hooks(nil), opts.Hooks...)

	return &Runner{
		opts: opts,
		log:  opts.Log.WithComponent("installer").WithFields(map[string]any{"run_id": opts.RunID}),
		state: State{
			RunID:           opts.RunID,
			Status:          StatusIdle,
			TotalStages:     len(opts.Stages),
			StagesCompleted: []string{},
			Errors:          []string{},
			Warnings:        []string{},
		},
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Start launches the worker goroutine and returns immediately.
// Cancelling ctx has the same effect as Abort, and also interrupts the running stage.
func (r *Runner) Start(ctx context.Context, profile config.Profile) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	r.mu.Lock()
	r.state.Profile = profile.Name
	r.state.StartTime = time.Now()
	r.mu.Unlock()

	go r.run(ctx, profile.Clone())
	return nil
}

// Pause asks the worker to stop before the next stage. A running stage is never interrupted.
func (r *Runner) Pause() {
	r.paused.Store(true)
}

// Resume clears a pause request.
func (r *Runner) Resume() {
	r.paused.Store(false)
	r.signal()
}

// Abort asks the worker to stop at the next stage boundary.
func (r *Runner) Abort() {
	r.aborted.Store(true)
	r.signal()
}

// PauseRequested reports whether a pause is pending or in effect.
func (r *Runner) PauseRequested() bool {
	return r.paused.Load()
}

// Snapshot returns a deep copy of the current state.
func (r *Runner) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Done is closed once the run reaches a terminal status.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes and returns the final state.
func (r *Runner) Wait() State {
	<-r.done
	return r.Snapshot()
}

func (r *Runner) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) run(ctx context.Context, profile config.Profile) {
	defer close(r.done)

	rc := &RunContext{
		RunID:   r.opts.RunID,
		Profile: profile,
		Log:     r.log,
		runner:  r,
	}

	for _, hook := range r.opts.Hooks {
		r.safeHook("start", func() { hook.OnInstallStart(ctx, r.opts.RunID, profile) })
	}
	r.log.WithFields(map[string]any{"profile": profile.Name, "stages": len(r.opts.Stages)}).Info("installation started")

	total := len(r.opts.Stages)
	for i, stage := range r.opts.Stages {
		if r.stopRequested(ctx) {
			r.finish(ctx, StatusAborted)
			return
		}
		r.waitWhilePaused(ctx)
		if r.stopRequested(ctx) {
			r.finish(ctx, StatusAborted)
			return
		}

		r.update(func(s *State) {
			s.CurrentStage = stage.Name
			s.Status = stage.Phase
		})

		start := time.Now()
		err := r.execute(ctx, stage, rc)
		r.observeStage(stage.Name, time.Since(start), err)

		if err != nil {
			if ctx.Err() != nil {
				r.update(func(s *State) {
					s.Errors = append(s.Errors, fmt.Sprintf("stage '%s' interrupted: %v", stage.Name, ctx.Err()))
				})
				r.finish(ctx, StatusAborted)
				return
			}
			r.update(func(s *State) {
				s.Errors = append(s.Errors, err.Error())
			})
			r.log.WithFields(map[string]any{"stage": stage.Name}).Error(err, "stage failed")
			r.finish(ctx, StatusFailed)
			return
		}

		snapshot := r.update(func(s *State) {
			s.StagesCompleted = append(s.StagesCompleted, stage.Name)
			s.ProgressPercent = float64(i+1) / float64(total) * 100
		})
		r.log.WithFields(map[string]any{"stage": stage.Name, "progress": snapshot.ProgressPercent}).Info("stage completed")
		r.notify(snapshot)
	}

	// abort raised while the final stage ran is still honoured
	if r.stopRequested(ctx) {
		r.finish(ctx, StatusAborted)
		return
	}
	r.finish(ctx, StatusCompleted)
}

func (r *Runner) execute(ctx context.Context, stage Stage, rc *RunContext) (err error) {
	stageCtx := ctx
	if r.opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, r.opts.StageTimeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = stagehanderrors.NewStageFailure(stage.Name, fmt.Errorf("panic: %v", rec))
		}
	}()

	if stage.Run == nil {
		return nil
	}
	if runErr := stage.Run(stageCtx, rc); runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) && ctx.Err() == nil {
			runErr = fmt.Errorf("timeout exceeded after %s: %w", r.opts.StageTimeout, runErr)
		}
		return stagehanderrors.NewStageFailure(stage.Name, runErr)
	}
	return nil
}

func (r *Runner) stopRequested(ctx context.Context) bool {
	return r.aborted.Load() || ctx.Err() != nil
}

func (r *Runner) waitWhilePaused(ctx context.Context) {
	if !r.paused.Load() {
		return
	}
	r.update(func(s *State) { s.Paused = true })
	r.log.Info("installation paused")

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for r.paused.Load() && !r.stopRequested(ctx) {
		select {
		case <-r.wake:
		case <-ticker.C:
		case <-ctx.Done():
		}
	}

	r.update(func(s *State) { s.Paused = false })
	r.log.Info("installation resumed")
}

func (r *Runner) finish(ctx context.Context, status Status) {
	final := r.update(func(s *State) {
		s.Status = status
		s.Paused = false
		s.EndTime = time.Now()
		if status == StatusCompleted {
			s.ProgressPercent = 100
			s.CurrentStage = ""
		}
	})

	fields := map[string]any{"status": string(status), "duration": final.Duration(final.EndTime).String()}
	switch status {
	case StatusCompleted:
		r.log.WithFields(fields).Info("installation completed")
	case StatusAborted:
		r.log.WithFields(fields).Warn("installation aborted")
	default:
		r.log.WithFields(fields).Warn("installation failed")
	}

	r.notify(final)
	for _, hook := range r.opts.Hooks {
		r.safeHook("complete", func() { hook.OnInstallComplete(context.WithoutCancel(ctx), final) })
	}
}

// update mutates the state under lock and returns a snapshot of the result.
func (r *Runner) update(fn func(*State)) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.state)
	return r.state.Clone()
}

func (r *Runner) notify(snapshot State) {
	if r.opts.OnProgress == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error(fmt.Errorf("%v", rec), "progress callback panicked")
		}
	}()
	r.opts.OnProgress(snapshot)
}

func (r *Runner) observeStage(name string, elapsed time.Duration, err error) {
	for _, hook := range r.opts.Hooks {
		if obs, ok := hook.(StageObserver); ok {
			r.safeHook("stage", func() { obs.OnStageFinished(name, elapsed, err) })
		}
	}
}

func (r *Runner) safeHook(kind string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithFields(map[string]any{"hook": kind}).Error(fmt.Errorf("%v", rec), "install hook panicked")
		}
	}()
	fn()
}

// RunContext carries per-run data between stages. Only the worker goroutine touches it.
type RunContext struct {
	RunID   string
	Profile config.Profile
	Log     *logger.Logger

	ArtifactPath string
	StagingDir   string
	Components   []string

	runner *Runner
}

// Warn records a non-fatal issue on the run state.
func (rc *RunContext) Warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	rc.Log.Warn(msg)
	if rc.runner == nil {
		return
	}
	rc.runner.update(func(s *State) { s.Warnings = append(s.Warnings, msg) })
}

// ReportTransfer publishes download counters on the run state.
func (rc *RunContext) ReportTransfer(downloaded, total int64) {
	if rc.runner == nil {
		return
	}
	rc.runner.update(func(s *State) {
		s.Transfer = TransferProgress{Downloaded: downloaded, Total: total}
	})
}
