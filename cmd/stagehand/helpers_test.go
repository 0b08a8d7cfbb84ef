package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func executeCommand(root *cobra.Command, args ...string) error {
	_, err := executeCommandC(root, args...)
	return err
}

func executeCommandC(root *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

type testEnv struct {
	root       string
	configPath string
	dest       string
}

func newTestEnv(t *testing.T, bundleURL string) testEnv {
	t.Helper()
	root := t.TempDir()
	env := testEnv{
		root:       root,
		configPath: filepath.Join(root, "stagehand.yaml"),
		dest:       filepath.Join(root, "opt", "suite"),
	}
	doc := fmt.Sprintf(`version: "1.0"
name: suite
pipeline:
  max_retries: 0
  work_dir: %s
requirements:
  min_disk_space_mb: 0
  optional_commands: []
bundle:
  url: %s
audit:
  path: %s
logging:
  level: debug
  format: json
profiles:
  - name: minimal
    description: core files only
    components: [core]
    destination: %s
`, filepath.Join(root, "work"), bundleURL, filepath.Join(root, "audit.db"), env.dest)
	require.NoError(t, os.WriteFile(env.configPath, []byte(doc), 0o644))
	return env
}

func serveBundle(t *testing.T, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	data := buf.Bytes()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "suite.tar.gz", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/suite.tar.gz"
}
