package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/stagehand/internal/app"
	"github.com/alexisbeaulieu97/stagehand/internal/audit"
	"github.com/alexisbeaulieu97/stagehand/internal/config"
	"github.com/alexisbeaulieu97/stagehand/internal/dispatch"
	"github.com/alexisbeaulieu97/stagehand/internal/installer"
	"github.com/alexisbeaulieu97/stagehand/internal/logger"
)

type harness struct {
	srv     *httptest.Server
	svc     *app.Service
	release chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Name = "suite"
	cfg.Requirements = config.RequirementsConfig{}
	cfg.Pipeline.WorkDir = filepath.Join(root, "work")
	cfg.Pipeline.PausePollInterval = 5 * time.Millisecond
	cfg.Bundle.URL = "http://bundles.invalid/suite.tar.gz"
	cfg.Profiles = []config.Profile{{Name: "minimal", Components: []string{"core"}, Destination: filepath.Join(root, "dest")}}

	h := &harness{release: make(chan struct{})}
	svc, err := app.NewService(app.Options{
		Config: &cfg,
		Audit:  audit.NewMemoryStore(0),
		Stages: func() []installer.Stage {
			return []installer.Stage{
				{Name: "wait", Phase: installer.StatusChecking, Run: func(ctx context.Context, _ *installer.RunContext) error {
					select {
					case <-h.release:
					case <-ctx.Done():
					}
					return nil
				}},
				{Name: "apply"},
			}
		},
	})
	require.NoError(t, err)
	h.svc = svc

	ctx, cancel := context.WithCancel(context.Background())
	h.srv = httptest.NewServer(New(ctx, svc, logger.Nop()).Handler())
	t.Cleanup(func() {
		cancel()
		h.srv.Close()
		_ = svc.Close()
	})
	return h
}

func (h *harness) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set(ActorHeader, "tester")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out), string(data))
	}
	return resp.StatusCode
}

func TestCommandsEndpoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var result dispatch.Result
	status := h.do(t, http.MethodPost, "/api/v1/commands", `{"command":"version"}`, &result)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, dispatch.StatusSuccess, result.Status)
	require.Contains(t, result.Output, "stagehand dev")

	status = h.do(t, http.MethodPost, "/api/v1/commands", `{"command":"status; rm -rf /"}`, &result)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, dispatch.StatusError, result.Status)

	var events []audit.Event
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/v1/audit?actor=tester&limit=10", "", &events))
	require.Len(t, events, 2)
	require.Equal(t, audit.ActionCommandRejected, events[0].Action)
	require.Equal(t, "tester", events[0].Actor)

	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/v1/audit?action=command_executed", "", &events))
	require.Len(t, events, 1)

	var errResp errorResponse
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/v1/commands", `{"cmd":1}`, &errResp))
	require.Contains(t, errResp.Error, "invalid request body")
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/api/v1/audit?limit=abc", "", &errResp))
}

func TestInstallationLifecycleEndpoints(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var errResp errorResponse
	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/v1/installations/current", "", &errResp))
	require.Equal(t, http.StatusConflict, h.do(t, http.MethodPost, "/api/v1/installations/current/pause", "", &errResp))
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/v1/installations", `{"profile":"nope"}`, &errResp))
	require.Contains(t, errResp.Error, "unknown profile")

	var state installer.State
	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPost, "/api/v1/installations", `{"profile":"minimal"}`, &state))
	require.Equal(t, "minimal", state.Profile)
	require.NotEmpty(t, state.RunID)
	runID := state.RunID

	require.Equal(t, http.StatusConflict, h.do(t, http.MethodPost, "/api/v1/installations", `{"profile":"minimal"}`, &errResp))

	require.Eventually(t, func() bool {
		h.do(t, http.MethodGet, "/api/v1/installations/current", "", &state)
		return state.Status == installer.StatusChecking
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPost, "/api/v1/installations/current/pause", "", &state))
	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/api/v1/installations/current/explode", "", nil))
	close(h.release)

	require.Eventually(t, func() bool {
		h.do(t, http.MethodGet, "/api/v1/installations/current", "", &state)
		return state.Paused
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPost, "/api/v1/installations/current/resume", "", &state))
	require.Eventually(t, func() bool {
		h.do(t, http.MethodGet, "/api/v1/installations/current", "", &state)
		return state.Status == installer.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, runID, state.RunID)
	assert.Equal(t, 100.0, state.ProgressPercent)

	var events []audit.Event
	h.do(t, http.MethodGet, "/api/v1/audit?action=install_controlled", "", &events)
	require.Len(t, events, 2)
	assert.Equal(t, "resume", events[0].Details["control"])
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var body map[string]string
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", "", &body))
	require.Equal(t, "healthy", body["status"])

	h.do(t, http.MethodPost, "/api/v1/commands", `{"command":"help"}`, nil)

	resp, err := http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, bytes.Contains(data, []byte(`stagehand_commands_total{action="command_executed"} 1`)), string(data))
}
