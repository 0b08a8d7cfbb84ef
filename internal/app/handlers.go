package app

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/alexisbeaulieu97/stagehand/internal/audit"
	"github.com/alexisbeaulieu97/stagehand/internal/dispatch"
	"github.com/alexisbeaulieu97/stagehand/internal/installer"
)

const (
	logsShown  = 20
	auditShown = 20
)

var operationHelp = map[string]string{
	"status":   "show the current installation",
	"version":  "show build information",
	"check":    "run system readiness checks",
	"health":   "one-line health summary",
	"info":     "show runtime and configuration details",
	"help":     "list available commands",
	"list":     "list installation profiles",
	"metrics":  "summarise collected metrics",
	"logs":     "show recent log lines",
	"audit":    "show recent audit events",
	"users":    "list operator accounts",
	"sessions": "list operator sessions",
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Casers are stateful and must not be shared.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

func (s *Service) registerBuiltins() error {
	builtins := map[string]dispatch.Handler{
		"status":  s.handleStatus,
		"version": s.handleVersion,
		"check":   s.handleCheck,
		"health":  s.handleHealth,
		"info":    s.handleInfo,
		"help":    s.handleHelp,
		"list":    s.handleList,
		"metrics": s.handleMetrics,
		"logs":    s.handleLogs,
		"audit":   s.handleAudit,
	}
	for name, handler := range builtins {
		// operators may trim the allow-list; skipped names stay unreachable
		if !s.validator.Allowed(name) {
			continue
		}
		if err := s.dispatcher.Register(name, handler); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	return nil
}

func (s *Service) handleStatus(context.Context) (string, error) {
	session, ok := s.Current()
	if !ok {
		return "No installation has been started.", nil
	}
	return FormatState(session.Snapshot()), nil
}

// FormatState renders a state snapshot as indented text.
func FormatState(st installer.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run:      %s\n", st.RunID)
	fmt.Fprintf(&b, "Profile:  %s\n", st.Profile)
	status := string(st.Status)
	if st.Paused {
		status += " (paused)"
	}
	fmt.Fprintf(&b, "Status:   %s\n", status)
	fmt.Fprintf(&b, "Progress: %.1f%% (%d/%d stages)\n", st.ProgressPercent, len(st.StagesCompleted), st.TotalStages)
	if st.CurrentStage != "" {
		fmt.Fprintf(&b, "Stage:    %s\n", st.CurrentStage)
	}
	if st.Attempt > 1 {
		fmt.Fprintf(&b, "Attempt:  %d\n", st.Attempt)
	}
	if st.Transfer.Total > 0 {
		fmt.Fprintf(&b, "Download: %d/%d bytes\n", st.Transfer.Downloaded, st.Transfer.Total)
	}
	if d := st.Duration(time.Now()); d > 0 {
		fmt.Fprintf(&b, "Elapsed:  %s\n", d.Round(time.Millisecond))
	}
	for _, w := range st.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	for _, e := range st.Errors {
		fmt.Fprintf(&b, "error: %s\n", e)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Service) handleVersion(context.Context) (string, error) {
	version := s.build.Version
	if version == "" {
		version = "dev"
	}
	return fmt.Sprintf("stagehand %s (commit %s, built %s, %s)", version,
		orUnknown(s.build.Commit), orUnknown(s.build.Date), runtime.Version()), nil
}

type healthReport struct {
	name   string
	ok     bool
	fatal  bool
	detail string
}

func (s *Service) healthReports(ctx context.Context) []healthReport {
	var reports []healthReport

	auditReport := healthReport{name: "audit_store", ok: true, fatal: true, detail: "in-memory"}
	if hc, ok := s.store.(healthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			auditReport.ok = false
			auditReport.detail = err.Error()
		} else {
			auditReport.detail = s.cfg.Audit.Path
		}
	}
	reports = append(reports, auditReport)

	for _, check := range installer.SystemChecks(s.cfg.Requirements, s.cfg.Pipeline.WorkDir) {
		reports = append(reports, healthReport{name: check.Name, ok: check.Passed, fatal: check.Fatal, detail: check.Message})
	}

	run := healthReport{name: "installation", ok: true, detail: "idle"}
	if session, ok := s.Current(); ok {
		st := session.Snapshot()
		run.detail = string(st.Status)
		run.ok = st.Status != installer.StatusFailed
	}
	return append(reports, run)
}

func (s *Service) handleCheck(ctx context.Context) (string, error) {
	var b strings.Builder
	b.WriteString("System check:\n")
	for _, r := range s.healthReports(ctx) {
		mark := "ok"
		switch {
		case !r.ok && r.fatal:
			mark = "FAIL"
		case !r.ok:
			mark = "warn"
		}
		fmt.Fprintf(&b, "  [%-4s] %s: %s\n", mark, title(strings.ReplaceAll(r.name, "_", " ")), r.detail)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (s *Service) handleHealth(ctx context.Context) (string, error) {
	summary, _ := s.Health(ctx)
	return summary, nil
}

// Health summarises fatal health checks. ok is false when any of them fails.
func (s *Service) Health(ctx context.Context) (summary string, ok bool) {
	var failing []string
	for _, r := range s.healthReports(ctx) {
		if !r.ok && r.fatal {
			failing = append(failing, r.name)
		}
	}
	if len(failing) == 0 {
		return "healthy", true
	}
	return "degraded: " + strings.Join(failing, ", "), false
}

func (s *Service) handleInfo(context.Context) (string, error) {
	lines := []string{
		fmt.Sprintf("Name:       %s", s.cfg.Name),
		fmt.Sprintf("Platform:   %s/%s", title(runtime.GOOS), runtime.GOARCH),
		fmt.Sprintf("Go:         %s", runtime.Version()),
		fmt.Sprintf("CPUs:       %d", runtime.NumCPU()),
		fmt.Sprintf("Goroutines: %d", runtime.NumGoroutine()),
		fmt.Sprintf("Uptime:     %s", time.Since(s.started).Round(time.Second)),
		fmt.Sprintf("Work dir:   %s", s.cfg.Pipeline.WorkDir),
		fmt.Sprintf("Audit:      %s", s.cfg.Audit.Path),
		fmt.Sprintf("Bundle:     %s", s.cfg.Bundle.URL),
		fmt.Sprintf("Profiles:   %d", len(s.cfg.Profiles)),
	}
	return strings.Join(lines, "\n"), nil
}

func (s *Service) handleHelp(context.Context) (string, error) {
	registered := make(map[string]bool)
	for _, name := range s.dispatcher.Registered() {
		registered[name] = true
	}

	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, name := range s.validator.Operations() {
		desc := operationHelp[name]
		if !registered[name] {
			desc = strings.TrimSpace(desc + " (not implemented)")
		}
		fmt.Fprintf(&b, "  %-10s %s\n", name, desc)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (s *Service) handleList(context.Context) (string, error) {
	var b strings.Builder
	b.WriteString("Profiles:\n")
	for _, p := range s.cfg.Profiles {
		fmt.Fprintf(&b, "  %s", p.Name)
		if p.Description != "" {
			fmt.Fprintf(&b, " - %s", p.Description)
		}
		fmt.Fprintf(&b, "\n    components: %s\n    destination: %s\n", strings.Join(p.Components, ", "), p.Destination)
		if len(p.Repositories) > 0 {
			names := make([]string, 0, len(p.Repositories))
			for _, r := range p.Repositories {
				names = append(names, r.Name)
			}
			fmt.Fprintf(&b, "    add-ons: %s\n", strings.Join(names, ", "))
		}
		if s.history != nil {
			if rec, ok := s.history.Get(p.Name); ok {
				fmt.Fprintf(&b, "    last install: %s at %s (run %s)\n", rec.Status, rec.CompletedAt.Format(time.RFC3339), rec.RunID)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (s *Service) handleMetrics(context.Context) (string, error) {
	return s.metrics.Summary()
}

func (s *Service) handleLogs(context.Context) (string, error) {
	entries := s.recorder.Recent(logsShown)
	if len(entries) == 0 {
		return "No log entries recorded.", nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := fmt.Sprintf("%s %-5s", e.Time, strings.ToUpper(e.Level))
		if e.Component != "" {
			line += " [" + e.Component + "]"
		}
		line += " " + e.Message
		if e.Error != "" {
			line += ": " + e.Error
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func (s *Service) handleAudit(ctx context.Context) (string, error) {
	events, err := s.store.List(ctx, audit.Query{Limit: auditShown})
	if err != nil {
		return "", fmt.Errorf("list audit events: %w", err)
	}
	if len(events) == 0 {
		return "No audit events recorded.", nil
	}
	return FormatEvents(events), nil
}

// FormatEvents renders audit events one per line.
func FormatEvents(events []audit.Event) string {
	lines := make([]string, 0, len(events))
	for _, e := range events {
		line := fmt.Sprintf("%s %-18s %s", e.Timestamp.Format(time.RFC3339), e.Action, orUnknown(e.Actor))
		if cmd, ok := e.Details["command"]; ok {
			line += fmt.Sprintf(" command=%q", fmt.Sprint(cmd))
		}
		if run, ok := e.Details["run_id"]; ok {
			line += fmt.Sprintf(" run=%v", run)
		}
		if reason, ok := e.Details["reason"]; ok {
			line += fmt.Sprintf(" reason=%q", fmt.Sprint(reason))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
