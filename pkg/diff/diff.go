package diff

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	// DefaultMaxLines bounds the rendered diff size.
	DefaultMaxLines = 200
	truncateMarker  = "... (diff truncated) ..."
)

// Lines renders a line-oriented unified diff of two text documents.
// Returns an empty string if the content is identical.
// Output longer than maxLines is cut and ends with a truncation marker; maxLines <= 0 uses DefaultMaxLines.
func Lines(previous, current []byte, previousLabel, currentLabel string, maxLines int) string {
	if bytes.Equal(previous, current) {
		return ""
	}
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}

	dmp := diffmatchpatch.New()
	prevChars, currChars, lineIndex := dmp.DiffLinesToChars(string(previous), string(current))
	diffs := dmp.DiffMain(prevChars, currChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineIndex)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--- %s\n", previousLabel)
	fmt.Fprintf(&buf, "+++ %s\n", currentLabel)
	fmt.Fprintf(&buf, "@@ -1,%d +1,%d @@\n", countLines(previous), countLines(current))

	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range splitLines(d.Text) {
			buf.WriteString(prefix)
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}

	out := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(out) > maxLines {
		return strings.Join(out[:maxLines], "\n") + "\n" + truncateMarker + "\n"
	}
	return buf.String()
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

func countLines(content []byte) int {
	return len(splitLines(string(content)))
}
