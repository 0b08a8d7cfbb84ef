package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLinesIdenticalContent(t *testing.T) {
	t.Parallel()

	content := []byte("name: standard\ncomponents:\n- core\n")
	require.Empty(t, Lines(content, content, "previous", "current", 0))
}

func TestLinesSingleLineChange(t *testing.T) {
	t.Parallel()

	previous := []byte("name: standard\nmode: fast\nowner: ops\n")
	current := []byte("name: standard\nmode: safe\nowner: ops\n")

	result := Lines(previous, current, "stagehand.yaml (previous)", "stagehand.yaml", 0)

	require.Contains(t, result, "--- stagehand.yaml (previous)")
	require.Contains(t, result, "+++ stagehand.yaml")
	require.Contains(t, result, "-mode: fast")
	require.Contains(t, result, "+mode: safe")
	require.Contains(t, result, " name: standard")
	require.Contains(t, result, " owner: ops")
}

func TestLinesAddedToEmpty(t *testing.T) {
	t.Parallel()

	result := Lines(nil, []byte("new content\n"), "a", "b", 0)
	require.Contains(t, result, "+new content")
	require.Contains(t, result, "@@ -1,0 +1,1 @@")
}

func TestLinesTruncates(t *testing.T) {
	t.Parallel()

	var previous, current []string
	for i := 0; i < 500; i++ {
		previous = append(previous, "old")
		current = append(current, "new")
	}

	result := Lines([]byte(strings.Join(previous, "\n")), []byte(strings.Join(current, "\n")), "a", "b", 50)

	require.Contains(t, result, truncateMarker)
	require.LessOrEqual(t, strings.Count(result, "\n"), 51)
}
