package audit

import (
	"context"
	"errors"
	"time"

	"github.com/alexisbeaulieu97/stagehand/internal/logger"
)

// Audit actions emitted by the engine.
const (
	ActionCommandRejected   = "command_rejected"
	ActionCommandExecuted   = "command_executed"
	ActionCommandError      = "command_error"
	ActionInstallStarted    = "install_started"
	ActionInstallCompleted  = "install_completed"
	ActionInstallControlled = "install_controlled"
)

// Event is an append-only audit record.
type Event struct {
	ID        int64          `json:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor"`
	Details   map[string]any `json:"details,omitempty"`
}

// Sink accepts audit events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// Query filters a listing. Empty strings match everything; Limit <= 0 uses DefaultListLimit.
type Query struct {
	Action string
	Actor  string
	Limit  int
}

// DefaultListLimit bounds listings that do not request a limit.
const DefaultListLimit = 50

// Lister reads back recorded events, newest first.
type Lister interface {
	List(ctx context.Context, q Query) ([]Event, error)
}

// Store is a sink that can also be listed.
type Store interface {
	Sink
	Lister
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

// Record implements Sink.
func (m Multi) Record(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emitter stamps and records events on behalf of a component.
// Sink failures are logged and never returned to the caller.
type Emitter struct {
	sink Sink
	log  *logger.Logger
	now  func() time.Time
}

// NewEmitter constructs an Emitter. A nil sink discards events.
func NewEmitter(sink Sink, log *logger.Logger) *Emitter {
	return &Emitter{sink: sink, log: log, now: time.Now}
}

// Emit records one event with a copy of details.
func (e *Emitter) Emit(ctx context.Context, action, actor string, details map[string]any) {
	if e == nil || e.sink == nil {
		return
	}
	event := Event{
		Timestamp: e.now().UTC(),
		Action:    action,
		Actor:     actor,
		Details:   copyDetails(details),
	}
	if err := e.sink.Record(ctx, event); err != nil {
		e.log.WithFields(map[string]any{"action": action, "actor": actor}).Error(err, "audit sink failed")
	}
}

func copyDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
