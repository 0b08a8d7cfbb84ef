package transfer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseChecksum(t *testing.T) {
	t.Parallel()

	bare, err := ParseChecksum(strings.Repeat("AB", 32))
	require.NoError(t, err)
	require.Equal(t, AlgorithmSHA256, bare.Algorithm)
	require.Equal(t, strings.Repeat("ab", 32), bare.Digest)

	_, err = ParseChecksum("sha512:" + strings.Repeat("0", 128))
	require.NoError(t, err)

	_, err = ParseChecksum("sha256:abc")
	require.Error(t, err)

	_, err = ParseChecksum("md5:" + strings.Repeat("0", 32))
	require.Error(t, err)
}

func TestFileChecksumAlgorithms(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(path, []byte("test"), 0o644))

	sum, err := FileChecksum(path, AlgorithmSHA256)
	require.NoError(t, err)
	require.Equal(t, "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08", sum.Digest)

	blake, err := FileChecksum(path, AlgorithmBLAKE2b256)
	require.NoError(t, err)
	require.Len(t, blake.Digest, 64)

	ok, err := MatchesFile(path, "sha256:"+sum.Digest)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = MatchesFile(path, blake.String())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = MatchesFile(filepath.Join(t.TempDir(), "missing"), sum.String())
	require.NoError(t, err)
	require.False(t, ok)
}
