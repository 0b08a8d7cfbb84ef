package app

import (
	"context"

	"github.com/alexisbeaulieu97/stagehand/internal/audit"
	"github.com/alexisbeaulieu97/stagehand/internal/config"
	"github.com/alexisbeaulieu97/stagehand/internal/installer"
)

// auditHook records run boundaries as audit events.
type auditHook struct {
	emitter *audit.Emitter
	actor   string
	attempt int
}

func (h *auditHook) OnInstallStart(ctx context.Context, runID string, profile config.Profile) {
	h.emitter.Emit(ctx, audit.ActionInstallStarted, h.actor, map[string]any{
		"run_id":     runID,
		"profile":    profile.Name,
		"components": len(profile.Components),
		"attempt":    h.attempt,
	})
}

func (h *auditHook) OnInstallComplete(ctx context.Context, state installer.State) {
	details := map[string]any{
		"run_id":      state.RunID,
		"profile":     state.Profile,
		"status":      string(state.Status),
		"attempt":     h.attempt,
		"duration_ms": state.Duration(state.EndTime).Milliseconds(),
	}
	if len(state.Errors) > 0 {
		details["error"] = state.Errors[len(state.Errors)-1]
	}
	h.emitter.Emit(ctx, audit.ActionInstallCompleted, h.actor, details)
}
