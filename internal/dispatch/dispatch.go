package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alexisbeaulieu97/stagehand/internal/audit"
	"github.com/alexisbeaulieu97/stagehand/internal/logger"
	"github.com/alexisbeaulieu97/stagehand/internal/policy"
	stagehanderrors "github.com/alexisbeaulieu97/stagehand/pkg/errors"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Handler produces the output of one operation.
type Handler func(ctx context.Context) (string, error)

// Result is returned for every Execute call, accepted or not.
type Result struct {
	Status     string `json:"status"`
	Output     string `json:"output"`
	Operation  string `json:"operation,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// CommandRecorder counts dispatched commands by audit action.
type CommandRecorder interface {
	RecordCommand(action string)
}

// Dispatcher gates operator commands through the policy validator and routes
// accepted ones to registered handlers.
type Dispatcher struct {
	validator *policy.Validator
	emitter   *audit.Emitter
	log       *logger.Logger
	recorder  CommandRecorder

	mu       sync.RWMutex
	handlers map[string]Handler
	now      func() time.Time
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder reports every outcome to rec.
func WithRecorder(rec CommandRecorder) Option {
	return func(d *Dispatcher) {
		d.recorder = rec
	}
}

// New constructs a Dispatcher with no handlers.
func New(validator *policy.Validator, sink audit.Sink, log *logger.Logger, opts ...Option) *Dispatcher {
	log = log.WithComponent("dispatch")
	d := &Dispatcher{
		validator: validator,
		emitter:   audit.NewEmitter(sink, log),
		log:       log,
		handlers:  make(map[string]Handler),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register binds a handler to an allow-listed operation name.
func (d *Dispatcher) Register(name string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler for '%s' is nil", name)
	}
	normalized := policy.Normalize(name)
	if !d.validator.Allowed(normalized) {
		return stagehanderrors.NewValidationError("operation", fmt.Sprintf("'%s' is not an allowed command", name), nil)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[normalized]; exists {
		return fmt.Errorf("handler for '%s' already registered", normalized)
	}
	d.handlers[normalized] = handler
	return nil
}

// Registered lists operations that have a handler, sorted.
func (d *Dispatcher) Registered() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute validates raw and runs the matching handler. It records exactly one
// audit event and never panics into the caller.
func (d *Dispatcher) Execute(ctx context.Context, raw, actor string) Result {
	start := d.now()

	verdict := d.validator.Validate(raw)
	if !verdict.Accepted {
		d.log.WithFields(map[string]any{"actor": actor, "reason": verdict.Reason}).Warn("command rejected")
		d.record(ctx, audit.ActionCommandRejected, actor, map[string]any{
			"command": raw,
			"reason":  verdict.Reason,
		})
		return Result{Status: StatusError, Output: verdict.Reason, DurationMs: d.elapsed(start)}
	}

	operation := verdict.Operation
	handler := d.lookup(policy.Normalize(raw), operation)

	output := fmt.Sprintf("Command '%s' is recognized but not implemented yet.", raw)
	var err error
	if handler != nil {
		output, err = d.invoke(ctx, operation, handler)
	}
	duration := d.elapsed(start)

	if err != nil {
		d.log.WithFields(map[string]any{"actor": actor, "operation": operation}).Error(err, "command failed")
		d.record(ctx, audit.ActionCommandError, actor, map[string]any{
			"command":   raw,
			"operation": operation,
			"error":     err.Error(),
		})
		return Result{Status: StatusError, Output: err.Error(), Operation: operation, DurationMs: duration}
	}

	d.log.WithFields(map[string]any{"actor": actor, "operation": operation, "duration_ms": duration}).Info("command executed")
	d.record(ctx, audit.ActionCommandExecuted, actor, map[string]any{
		"command":     raw,
		"operation":   operation,
		"duration_ms": duration,
	})
	return Result{Status: StatusSuccess, Output: output, Operation: operation, DurationMs: duration}
}

// lookup binds a handler only when the command is exactly the operation name.
// Prefix-accepted variants fall through to the not-implemented reply.
func (d *Dispatcher) lookup(normalized, operation string) Handler {
	if normalized != operation {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[operation]
}

func (d *Dispatcher) invoke(ctx context.Context, operation string, handler Handler) (output string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = stagehanderrors.NewHandlerError(operation, fmt.Errorf("panic: %v", rec))
		}
	}()

	output, err = handler(ctx)
	if err != nil {
		var handlerErr *stagehanderrors.HandlerError
		if !errors.As(err, &handlerErr) {
			err = stagehanderrors.NewHandlerError(operation, err)
		}
	}
	return output, err
}

func (d *Dispatcher) record(ctx context.Context, action, actor string, details map[string]any) {
	d.emitter.Emit(ctx, action, actor, details)
	if d.recorder != nil {
		d.recorder.RecordCommand(action)
	}
}

func (d *Dispatcher) elapsed(start time.Time) int64 {
	return d.now().Sub(start).Milliseconds()
}
