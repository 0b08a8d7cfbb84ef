package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type logEntry map[string]any

func TestLoggerInfoWithFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log, err := New(Options{Level: "info", HumanReadable: false, Writer: buf})
	require.NoError(t, err)

	log = log.WithFields(map[string]any{"stage": "fetch", "run_id": "abc"})
	log.Info("stage started")

	var entry logEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "stage started", entry["message"])
	require.Equal(t, "fetch", entry["stage"])
	require.Equal(t, "abc", entry["run_id"])
	require.Equal(t, "info", entry["level"])
}

func TestLoggerDebugRespectsLevel(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log, err := New(Options{Level: "info", HumanReadable: false, Writer: buf})
	require.NoError(t, err)

	log.Debug("this should not appear")
	require.Equal(t, "", strings.TrimSpace(buf.String()))
}

func TestLoggerRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Level: "chatty"})
	require.Error(t, err)
}

func TestLoggerErrorIncludesContext(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log, err := New(Options{Level: "debug", HumanReadable: false, Writer: buf})
	require.NoError(t, err)

	log = log.WithComponent("dispatch")
	log.Error(errors.New("boom"), "handler failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry logEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "handler failed", entry["message"])
	require.Equal(t, "dispatch", entry["component"])
	require.Equal(t, "boom", entry["error"])
}

func TestRecorderReceivesJSONWhenHumanReadable(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	rec := NewRecorder(10)
	log, err := New(Options{Level: "info", HumanReadable: true, Writer: buf, Recorder: rec})
	require.NoError(t, err)

	log.WithComponent("installer").Warn("low disk space")

	require.Contains(t, buf.String(), "low disk space")
	entries := rec.Recent(0)
	require.Len(t, entries, 1)
	require.Equal(t, "warn", entries[0].Level)
	require.Equal(t, "low disk space", entries[0].Message)
	require.Equal(t, "installer", entries[0].Component)
}

func TestRecorderKeepsNewestEntries(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(3)
	log, err := New(Options{Writer: &bytes.Buffer{}, Recorder: rec})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		log.Info(fmt.Sprintf("line %d", i))
	}

	entries := rec.Recent(0)
	require.Len(t, entries, 3)
	require.Equal(t, "line 2", entries[0].Message)
	require.Equal(t, "line 4", entries[2].Message)

	last := rec.Recent(1)
	require.Len(t, last, 1)
	require.Equal(t, "line 4", last[0].Message)
}

func TestNilLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var log *Logger
	require.NotPanics(t, func() {
		log.Info("x")
		log.WithComponent("y").Error(errors.New("z"), "w")
	})
	require.NotPanics(t, func() { Nop().Info("discarded") })
}
