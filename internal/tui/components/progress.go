package components

import (
	"fmt"
	"math"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// Progress renders a labelled completion bar.
type Progress struct {
	bar progress.Model
}

// NewProgress creates a progress bar of the given width.
func NewProgress(width int) Progress {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = width
	return Progress{bar: bar}
}

// ViewPercent renders overall run completion.
func (p Progress) ViewPercent(percent float64) string {
	ratio := clamp(percent / 100)
	label := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%5.1f%%", ratio*100))
	return lipgloss.JoinHorizontal(lipgloss.Left, label, " ", p.bar.ViewAs(ratio))
}

// ViewBytes renders download progress. An unknown total shows only the byte count.
func (p Progress) ViewBytes(downloaded, total int64) string {
	if total <= 0 {
		return fmt.Sprintf("%s downloaded", FormatBytes(downloaded))
	}
	ratio := clamp(float64(downloaded) / float64(total))
	label := fmt.Sprintf("%s / %s", FormatBytes(downloaded), FormatBytes(total))
	return lipgloss.JoinHorizontal(lipgloss.Left, p.bar.ViewAs(ratio), " ", label)
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func clamp(ratio float64) float64 {
	if math.IsNaN(ratio) {
		return 0
	}
	return math.Max(0, math.Min(1, ratio))
}
