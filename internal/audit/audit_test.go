package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/stagehand/internal/logger"
)

type failingSink struct{ err error }

func (f failingSink) Record(context.Context, Event) error { return f.err }

func newTestLogger(t *testing.T, buf *bytes.Buffer) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Options{Level: "debug", Writer: buf})
	require.NoError(t, err)
	return log
}

func TestMemoryStoreListsNewestFirstWithFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(0)
	require.NoError(t, store.Record(ctx, Event{Action: ActionCommandExecuted, Actor: "alice"}))
	require.NoError(t, store.Record(ctx, Event{Action: ActionCommandRejected, Actor: "bob"}))
	require.NoError(t, store.Record(ctx, Event{Action: ActionCommandExecuted, Actor: "bob"}))

	all, err := store.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, int64(3), all[0].ID)
	require.Equal(t, int64(1), all[2].ID)

	executed, err := store.List(ctx, Query{Action: ActionCommandExecuted})
	require.NoError(t, err)
	require.Len(t, executed, 2)

	bobExecuted, err := store.List(ctx, Query{Action: ActionCommandExecuted, Actor: "bob"})
	require.NoError(t, err)
	require.Len(t, bobExecuted, 1)
	require.Equal(t, int64(3), bobExecuted[0].ID)

	limited, err := store.List(ctx, Query{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestMemoryStoreDropsOldestBeyondCapacity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(2)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Record(ctx, Event{Action: "a"}))
	}

	events, err := store.List(ctx, Query{})
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())
	require.Equal(t, int64(3), events[0].ID)
	require.Equal(t, int64(2), events[1].ID)
	require.Equal(t, int64(1), store.Dropped())
}

func TestMemoryStoreWarnsOnceWhenDiscarding(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := context.Background()
	store := NewMemoryStore(1, WithDropLogger(newTestLogger(t, &buf)))
	require.NoError(t, store.Record(ctx, Event{Action: "a"}))
	require.Empty(t, buf.String())

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Record(ctx, Event{Action: "a"}))
	}
	require.Equal(t, int64(3), store.Dropped())
	require.Equal(t, 1, strings.Count(buf.String(), "discarding oldest events"))
}

func TestMemoryStoreIsolatesDetails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(0)
	details := map[string]any{"command": "status"}
	require.NoError(t, store.Record(ctx, Event{Action: "a", Details: details}))
	details["command"] = "mutated"

	events, err := store.List(ctx, Query{})
	require.NoError(t, err)
	require.Equal(t, "status", events[0].Details["command"])

	events[0].Details["command"] = "mutated again"
	again, _ := store.List(ctx, Query{})
	require.Equal(t, "status", again[0].Details["command"])
}

func TestEmitterStampsAndSwallowsSinkErrors(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := NewMemoryStore(0)

	emitter := NewEmitter(Multi{store, failingSink{err: errors.New("disk full")}}, newTestLogger(t, buf))
	emitter.now = func() time.Time { return fixed }

	require.NotPanics(t, func() {
		emitter.Emit(context.Background(), ActionCommandExecuted, "ops", map[string]any{"command": "status"})
	})

	events, err := store.List(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, fixed, events[0].Timestamp)
	require.Equal(t, "ops", events[0].Actor)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "audit sink failed", entry["message"])
	require.Equal(t, "disk full", entry["error"])
}

func TestNilEmitterIsNoop(t *testing.T) {
	t.Parallel()

	var emitter *Emitter
	require.NotPanics(t, func() { emitter.Emit(context.Background(), "a", "b", nil) })
	require.NotPanics(t, func() { NewEmitter(nil, nil).Emit(context.Background(), "a", "b", nil) })
}

func TestMultiJoinsErrors(t *testing.T) {
	t.Parallel()

	first := errors.New("first")
	second := errors.New("second")
	err := Multi{failingSink{err: first}, nil, failingSink{err: second}}.Record(context.Background(), Event{})
	require.ErrorIs(t, err, first)
	require.ErrorIs(t, err, second)
}

func TestLogSinkWritesStructuredEntry(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	sink := NewLogSink(newTestLogger(t, buf))
	require.NoError(t, sink.Record(context.Background(), Event{
		Action:  ActionCommandRejected,
		Actor:   "mallory",
		Details: map[string]any{"reason": "Command contains dangerous patterns"},
	}))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "audit event", entry["message"])
	require.Equal(t, ActionCommandRejected, entry["audit_action"])
	require.Equal(t, "mallory", entry["actor"])
	require.True(t, strings.HasPrefix(entry["detail_reason"].(string), "Command contains"))
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	stamp := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	require.NoError(t, store.Record(ctx, Event{
		Timestamp: stamp,
		Action:    ActionCommandExecuted,
		Actor:     "alice",
		Details:   map[string]any{"command": "status", "duration_ms": 12},
	}))
	require.NoError(t, store.Record(ctx, Event{Timestamp: stamp, Action: ActionCommandRejected, Actor: "bob"}))

	events, err := store.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, ActionCommandRejected, events[0].Action)
	require.Equal(t, "alice", events[1].Actor)
	require.Equal(t, stamp, events[1].Timestamp)
	require.Equal(t, "status", events[1].Details["command"])
	require.EqualValues(t, 12, events[1].Details["duration_ms"])

	rejected, err := store.List(ctx, Query{Action: ActionCommandRejected})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	require.Equal(t, "bob", rejected[0].Actor)

	require.NoError(t, store.HealthCheck(ctx))
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "audit.db")

	store, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Record(ctx, Event{Action: ActionInstallStarted, Actor: "system"}))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	events, err := reopened.List(ctx, Query{Actor: "system"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, ActionInstallStarted, events[0].Action)
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := OpenSQLite(context.Background(), "")
	require.Error(t, err)
}
