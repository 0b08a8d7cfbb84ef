package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/stagehand/internal/app"
	"github.com/alexisbeaulieu97/stagehand/internal/audit"
	"github.com/alexisbeaulieu97/stagehand/internal/logger"
	stagehanderrors "github.com/alexisbeaulieu97/stagehand/pkg/errors"
)

const (
	// ActorHeader names the operator on command and control requests.
	ActorHeader    = "X-Actor"
	defaultActor   = "api"
	maxRequestBody = 64 << 10
	shutdownGrace  = 10 * time.Second
)

// Server exposes the engine over HTTP/JSON.
type Server struct {
	svc *app.Service
	log *logger.Logger
	// base outlives requests so installations keep running after the POST returns.
	base context.Context
	mux  *http.ServeMux
}

// New builds the handler tree. base bounds installations started over HTTP.
func New(base context.Context, svc *app.Service, log *logger.Logger) *Server {
	s := &Server{
		svc:  svc,
		log:  log.WithComponent("server"),
		base: base,
		mux:  http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /api/v1/installations", s.startInstall)
	s.mux.HandleFunc("GET /api/v1/installations/current", s.currentInstall)
	s.mux.HandleFunc("POST /api/v1/installations/current/{action}", s.controlInstall)
	s.mux.HandleFunc("POST /api/v1/commands", s.executeCommand)
	s.mux.HandleFunc("GET /api/v1/audit", s.listAudit)
	s.mux.HandleFunc("GET /healthz", s.health)
	s.mux.Handle("GET /metrics", svc.Metrics().Handler())
	return s
}

// Handler returns the routed handler wrapped with request logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithFields(map[string]any{"addr": addr}).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		s.log.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

type installRequest struct {
	Profile string `json:"profile"`
}

type commandRequest struct {
	Command string `json:"command"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) startInstall(w http.ResponseWriter, r *http.Request) {
	var req installRequest
	if !s.decode(w, r, &req) {
		return
	}
	session, err := s.svc.StartInstall(s.base, app.InstallRequest{Profile: req.Profile, Actor: actor(r)})
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, session.Snapshot())
}

func (s *Server) currentInstall(w http.ResponseWriter, _ *http.Request) {
	session, ok := s.svc.Current()
	if !ok {
		s.writeError(w, http.StatusNotFound, app.ErrNoActiveInstall)
		return
	}
	s.writeJSON(w, http.StatusOK, session.Snapshot())
}

func (s *Server) controlInstall(w http.ResponseWriter, r *http.Request) {
	var control func(context.Context, string) error
	switch r.PathValue("action") {
	case "pause":
		control = s.svc.Pause
	case "resume":
		control = s.svc.Resume
	case "abort":
		control = s.svc.Abort
	default:
		http.NotFound(w, r)
		return
	}

	if err := control(r.Context(), actor(r)); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	session, _ := s.svc.Current()
	s.writeJSON(w, http.StatusAccepted, session.Snapshot())
}

func (s *Server) executeCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.svc.Execute(r.Context(), req.Command, actor(r)))
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	q := audit.Query{
		Action: r.URL.Query().Get("action"),
		Actor:  r.URL.Query().Get("actor"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		q.Limit = limit
	}

	events, err := s.svc.AuditEvents(r.Context(), q)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.svc.Health(r.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]string{"status": summary})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error(err, "encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var validationErr *stagehanderrors.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrInstallInProgress), errors.Is(err, app.ErrNoActiveInstall):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func actor(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(ActorHeader)); v != "" {
		return v
	}
	return defaultActor
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("http request")
	})
}
