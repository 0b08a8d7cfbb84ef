package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/stagehand/internal/installer"
)

// Summary renders the closing lines of a run.
type Summary struct {
	state installer.State
}

// NewSummary creates a new Summary component.
func NewSummary(state installer.State) Summary {
	return Summary{state: state}
}

// View renders the summary. It is empty while the run is still going.
func (s Summary) View() string {
	st := s.state
	if !st.Status.Terminal() {
		return ""
	}

	elapsed := st.Duration(st.EndTime).Truncate(10 * time.Millisecond)
	var lines []string
	switch st.Status {
	case installer.StatusCompleted:
		lines = append(lines, fmt.Sprintf("Installed profile %s in %s", st.Profile, elapsed))
	case installer.StatusAborted:
		lines = append(lines, fmt.Sprintf("Installation aborted after %s", elapsed))
	default:
		lines = append(lines, fmt.Sprintf("Installation failed after %s", elapsed))
	}
	lines = append(lines, fmt.Sprintf("Stages: %d/%d completed", len(st.StagesCompleted), st.TotalStages))
	if st.Attempt > 1 {
		lines = append(lines, fmt.Sprintf("Attempts: %d", st.Attempt))
	}
	return strings.Join(lines, "\n")
}
