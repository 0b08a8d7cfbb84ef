package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alexisbeaulieu97/stagehand/internal/audit"
	"github.com/alexisbeaulieu97/stagehand/internal/config"
	"github.com/alexisbeaulieu97/stagehand/internal/dispatch"
	"github.com/alexisbeaulieu97/stagehand/internal/installer"
	"github.com/alexisbeaulieu97/stagehand/internal/logger"
	"github.com/alexisbeaulieu97/stagehand/internal/metrics"
	"github.com/alexisbeaulieu97/stagehand/internal/policy"
	"github.com/alexisbeaulieu97/stagehand/internal/registry"
	"github.com/alexisbeaulieu97/stagehand/internal/transfer"
	stagehanderrors "github.com/alexisbeaulieu97/stagehand/pkg/errors"
)

const defaultRetryDelay = time.Second

var (
	// ErrInstallInProgress is returned when a second installation is requested while one runs.
	ErrInstallInProgress = errors.New("an installation is already in progress")
	// ErrNoActiveInstall is returned by control calls when nothing is running.
	ErrNoActiveInstall = errors.New("no installation in progress")
	// ErrInstallAborted is returned by Install when the run was aborted.
	ErrInstallAborted = errors.New("installation aborted")
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Options wire a Service. Config is required; everything else has a default.
type Options struct {
	Config   *config.Config
	Log      *logger.Logger
	Recorder *logger.Recorder
	// Audit receives and lists events. Defaults to an in-memory store.
	Audit   audit.Store
	Metrics *metrics.Metrics
	// History keeps the last outcome per profile. Nil disables it.
	History *registry.Registry
	Build   BuildInfo

	Transfer *transfer.Client
	Cloner   installer.RepoCloner
	// Stages overrides the bundle pipeline.
	Stages     func() []installer.Stage
	RetryDelay time.Duration
	NewID      func() string
}

// Service owns the engine components for one configuration and coordinates
// installations with the command dispatcher.
type Service struct {
	cfg        *config.Config
	base       *logger.Logger
	log        *logger.Logger
	recorder   *logger.Recorder
	store      audit.Store
	emitter    *audit.Emitter
	metrics    *metrics.Metrics
	history    *registry.Registry
	validator  *policy.Validator
	dispatcher *dispatch.Dispatcher
	build      BuildInfo

	transfer   *transfer.Client
	cloner     installer.RepoCloner
	stages     func() []installer.Stage
	retryDelay time.Duration
	newID      func() string
	started    time.Time

	mu      sync.Mutex
	current *Session
}

// NewService constructs a Service and registers the built-in command handlers.
func NewService(opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	store := opts.Audit
	if store == nil {
		store = audit.NewMemoryStore(0, audit.WithDropLogger(log.WithComponent("audit")))
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New(opts.Config.Metrics)
	}

	s := &Service{
		cfg:        opts.Config,
		base:       log,
		log:        log.WithComponent("app"),
		recorder:   opts.Recorder,
		store:      store,
		metrics:    m,
		history:    opts.History,
		validator:  policy.New(opts.Config.Policy),
		build:      opts.Build,
		transfer:   opts.Transfer,
		cloner:     opts.Cloner,
		stages:     opts.Stages,
		retryDelay: opts.RetryDelay,
		newID:      opts.NewID,
		started:    time.Now(),
	}
	if s.retryDelay <= 0 {
		s.retryDelay = defaultRetryDelay
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.transfer == nil {
		s.transfer = transfer.New(
			transfer.WithChunkSize(opts.Config.Pipeline.ChunkSize),
			transfer.WithLogger(log),
		)
	}

	sink := audit.Multi{store, audit.NewLogSink(log.WithComponent("audit"))}
	s.emitter = audit.NewEmitter(sink, s.log)
	s.dispatcher = dispatch.New(s.validator, sink, log, dispatch.WithRecorder(m))

	if err := s.registerBuiltins(); err != nil {
		return nil, err
	}
	return s, nil
}

// Config returns the configuration the service was built with.
func (s *Service) Config() *config.Config { return s.cfg }

// Logger returns the process logger without a component field.
func (s *Service) Logger() *logger.Logger { return s.base }

// History returns the recorded outcome per profile, most recent first. Empty when history is disabled.
func (s *Service) History() []registry.Record {
	if s.history == nil {
		return nil
	}
	return s.history.List()
}

// StageNames lists the stages an installation walks through, in order.
func (s *Service) StageNames() []string {
	stages := s.buildStages()
	names := make([]string, 0, len(stages))
	for _, st := range stages {
		names = append(names, st.Name)
	}
	return names
}

// Metrics exposes the collectors for HTTP serving.
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// Execute dispatches one operator command.
func (s *Service) Execute(ctx context.Context, raw, actor string) dispatch.Result {
	return s.dispatcher.Execute(ctx, raw, actor)
}

// AuditEvents lists recorded audit events, newest first.
func (s *Service) AuditEvents(ctx context.Context, q audit.Query) ([]audit.Event, error) {
	return s.store.List(ctx, q)
}

// InstallRequest starts an installation for one profile.
type InstallRequest struct {
	Profile string
	Actor   string
	// OnProgress receives snapshots from every attempt.
	OnProgress func(installer.State)
}

// StartInstall launches an installation in the background and returns its session.
// ctx bounds the whole session; cancelling it aborts the run.
func (s *Service) StartInstall(ctx context.Context, req InstallRequest) (*Session, error) {
	profile, ok := s.cfg.Profile(req.Profile)
	if !ok {
		return nil, stagehanderrors.NewValidationError("profile",
			fmt.Sprintf("unknown profile '%s' (available: %s)", req.Profile, strings.Join(s.cfg.ProfileNames(), ", ")), nil)
	}

	s.mu.Lock()
	if s.current != nil && !s.current.finished() {
		s.mu.Unlock()
		return nil, ErrInstallInProgress
	}
	session := newSession(s.newID(), profile.Name, req.Actor)
	s.current = session
	s.mu.Unlock()

	go s.supervise(ctx, session, profile, req.OnProgress)
	return session, nil
}

// Install runs an installation to completion. The returned error is nil only for a completed run.
func (s *Service) Install(ctx context.Context, req InstallRequest) (installer.State, error) {
	session, err := s.StartInstall(ctx, req)
	if err != nil {
		return installer.State{}, err
	}
	final := session.Wait()
	return final, Outcome(final)
}

// Outcome maps a final state onto the error Install reports for it.
func Outcome(final installer.State) error {
	switch final.Status {
	case installer.StatusCompleted:
		return nil
	case installer.StatusAborted:
		return ErrInstallAborted
	default:
		if len(final.Errors) > 0 {
			return fmt.Errorf("installation failed: %s", final.Errors[len(final.Errors)-1])
		}
		return errors.New("installation failed")
	}
}

// Current returns the most recent session, running or not.
func (s *Service) Current() (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current != nil
}

// Pause pauses the running installation at the next stage boundary.
func (s *Service) Pause(ctx context.Context, actor string) error {
	return s.control(ctx, actor, "pause", (*Session).Pause)
}

// Resume resumes a paused installation.
func (s *Service) Resume(ctx context.Context, actor string) error {
	return s.control(ctx, actor, "resume", (*Session).Resume)
}

// Abort stops the running installation at the next stage boundary.
func (s *Service) Abort(ctx context.Context, actor string) error {
	return s.control(ctx, actor, "abort", (*Session).Abort)
}

func (s *Service) control(ctx context.Context, actor, action string, fn func(*Session)) error {
	session, ok := s.Current()
	if !ok || session.finished() {
		return ErrNoActiveInstall
	}
	fn(session)
	s.log.WithFields(map[string]any{"run_id": session.RunID, "control": action, "actor": actor}).Info("installation control requested")
	s.emitter.Emit(ctx, audit.ActionInstallControlled, actor, map[string]any{
		"run_id":  session.RunID,
		"control": action,
	})
	return nil
}

// Close releases the audit store when it holds resources.
func (s *Service) Close() error {
	if session, ok := s.Current(); ok && !session.finished() {
		session.Abort()
		<-session.Done()
	}
	if c, ok := s.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Service) supervise(ctx context.Context, session *Session, profile config.Profile, onProgress func(installer.State)) {
	maxRetries := s.cfg.Pipeline.MaxRetries
	log := s.log.WithFields(map[string]any{"run_id": session.RunID, "profile": profile.Name})

	var final installer.State
	for attempt := 1; ; attempt++ {
		var lastErr error
		runner := installer.NewRunner(installer.Options{
			RunID:        session.RunID,
			Stages:       trackLastError(s.buildStages(), &lastErr),
			StageTimeout: s.cfg.Pipeline.StageTimeout,
			PollInterval: s.cfg.Pipeline.PausePollInterval,
			OnProgress: func(state installer.State) {
				if onProgress == nil {
					return
				}
				session.mu.Lock()
				state = session.decorate(state)
				session.mu.Unlock()
				onProgress(state)
			},
			Hooks: []installer.Hooks{
				&auditHook{emitter: s.emitter, actor: session.Actor, attempt: attempt},
				s.metrics,
			},
			Log: s.base,
		})
		session.attach(runner, attempt)

		if err := runner.Start(ctx, profile); err != nil {
			log.Error(err, "runner failed to start")
			final = runner.Snapshot()
			break
		}
		final = runner.Wait()

		if final.Status != installer.StatusFailed || !retryable(lastErr) || attempt > maxRetries {
			break
		}

		msg := fmt.Sprintf("attempt %d of %d failed, retrying: %v", attempt, maxRetries+1, lastErr)
		log.Warn(msg)
		session.note(msg)
		if !s.backoff(ctx, session, attempt) {
			final.Status = installer.StatusAborted
			break
		}
	}
	s.remember(session, profile, final)
	session.complete(final)
}

func (s *Service) remember(session *Session, profile config.Profile, final installer.State) {
	if s.history == nil {
		return
	}
	session.mu.Lock()
	final = session.decorate(final)
	session.mu.Unlock()
	if err := s.history.Put(registry.FromState(profile.Destination, final)); err != nil {
		s.log.Error(err, "record installation history")
	}
}

// backoff waits before the next attempt and reports false when the session was stopped meanwhile.
func (s *Service) backoff(ctx context.Context, session *Session, attempt int) bool {
	timer := time.NewTimer(s.retryDelay * time.Duration(attempt))
	defer timer.Stop()
	select {
	case <-timer.C:
		return !session.aborted.Load() && ctx.Err() == nil
	case <-session.abortCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Service) buildStages() []installer.Stage {
	if s.stages != nil {
		return s.stages()
	}
	return installer.BundleStages(installer.BundleDeps{
		Config:   s.cfg,
		Transfer: s.transfer,
		Cloner:   s.cloner,
	})
}

// trackLastError records the most recent stage error. Only the worker goroutine writes it
// and the supervisor reads it after Wait.
func trackLastError(stages []installer.Stage, last *error) []installer.Stage {
	out := make([]installer.Stage, len(stages))
	for i, stage := range stages {
		run := stage.Run
		if run != nil {
			stage.Run = func(ctx context.Context, rc *installer.RunContext) error {
				err := run(ctx, rc)
				if err != nil {
					*last = err
				}
				return err
			}
		}
		out[i] = stage
	}
	return out
}

func retryable(err error) bool {
	var netErr *stagehanderrors.NetworkError
	return errors.As(err, &netErr) && netErr.Retryable()
}
