package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/stagehand/internal/app"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func buildInfo() app.BuildInfo {
	return app.BuildInfo{Version: version, Commit: commit, Date: date}
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Display build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "Stagehand %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
			return nil
		},
	}

	return cmd
}
