package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/stagehand/internal/installer"
)

func TestInstallCommandParsesFlags(t *testing.T) {
	original := installCmdRunner
	t.Cleanup(func() { installCmdRunner = original })

	var got installOptions
	var gotConfig string
	installCmdRunner = func(_ *cobra.Command, root *rootFlags, opts installOptions) error {
		got = opts
		gotConfig = root.configPath
		return nil
	}

	require.NoError(t, executeCommand(newRootCmd(), "install", "-c", "suite.yaml", "--profile", "full", "--retries", "5", "--plain"))
	require.Equal(t, "suite.yaml", gotConfig)
	require.Equal(t, "full", got.Profile)
	require.Equal(t, 5, got.Retries)
	require.True(t, got.NonInteractive)

	require.NoError(t, executeCommand(newRootCmd(), "install", "-p", "minimal"))
	require.Equal(t, -1, got.Retries)
}

func TestInstallCommandRequiresProfile(t *testing.T) {
	err := executeCommand(newRootCmd(), "install")
	require.ErrorContains(t, err, "profile")
}

func TestInstallCommandInstallsBundle(t *testing.T) {
	t.Parallel()
	url := serveBundle(t, map[string]string{
		"core/README":   "core component",
		"extras/readme": "not selected",
	})
	env := newTestEnv(t, url)

	out, err := executeCommandC(newRootCmd(), "install", "-c", env.configPath, "--profile", "minimal", "--plain")
	require.NoError(t, err, out)
	require.Contains(t, out, "Status:   completed")
	require.Contains(t, out, "100.0%")
	require.Contains(t, out, installer.StagePrepare+" done")

	readme, err := os.ReadFile(filepath.Join(env.dest, "core", "README"))
	require.NoError(t, err)
	require.Equal(t, "core component", string(readme))
	require.NoDirExists(t, filepath.Join(env.dest, "extras"))

	out, err = executeCommandC(newRootCmd(), "exec", "-c", env.configPath, "--", "list")
	require.NoError(t, err)
	require.Contains(t, out, "last install: completed")
}

func TestInstallCommandReportsUnknownProfile(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, "https://downloads.example.test/suite.tar.gz")

	err := executeCommand(newRootCmd(), "install", "-c", env.configPath, "--profile", "nope", "--plain")
	require.ErrorContains(t, err, "unknown profile 'nope'")
}

func TestProgressLine(t *testing.T) {
	t.Parallel()
	line := progressLine(installer.State{
		Status:          installer.StatusDownloading,
		ProgressPercent: 14.2857,
		StagesCompleted: []string{"prepare"},
		TotalStages:     7,
	})
	require.Equal(t, "[ 14.3%] downloading 1/7 prepare done", line)
}
