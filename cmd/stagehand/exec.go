package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/stagehand/internal/dispatch"
)

type execOptions struct {
	Command string
	Actor   string
	JSON    bool
}

var execCmdRunner = runExec

func newExecCmd(root *rootFlags) *cobra.Command {
	opts := execOptions{}

	cmd := &cobra.Command{
		Use:   "exec [flags] -- <command>",
		Short: "Run an operator command through the policy validator",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Command = strings.Join(args, " ")
			return execCmdRunner(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", cliActor, "Operator name recorded in the audit trail")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the full result as JSON")

	return cmd
}

func runExec(cmd *cobra.Command, root *rootFlags, opts execOptions) error {
	cfg, err := loadConfig(root.configPath)
	if err != nil {
		return err
	}
	svc, err := openService(cmd.Context(), cfg, root, io.Discard)
	if err != nil {
		return err
	}
	defer svc.Close() //nolint:errcheck

	result := svc.Execute(cmd.Context(), opts.Command, opts.Actor)
	out := cmd.OutOrStdout()
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, result.Output)
	}

	if result.Status != dispatch.StatusSuccess {
		return errors.New("command failed")
	}
	return nil
}
