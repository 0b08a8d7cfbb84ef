package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/stagehand/internal/app"
	"github.com/alexisbeaulieu97/stagehand/internal/audit"
)

type auditOptions struct {
	Query audit.Query
	JSON  bool
}

var auditCmdRunner = runAudit

func newAuditCmd(root *rootFlags) *cobra.Command {
	opts := auditOptions{}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recorded audit events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Query.Limit < 0 {
				return errors.New("--limit must not be negative")
			}
			return auditCmdRunner(cmd, root, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Query.Limit, "limit", "n", 50, "Maximum number of events (0 for all)")
	cmd.Flags().StringVar(&opts.Query.Action, "action", "", "Only show events with this action")
	cmd.Flags().StringVar(&opts.Query.Actor, "actor", "", "Only show events from this actor")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print events as JSON")

	return cmd
}

func runAudit(cmd *cobra.Command, root *rootFlags, opts auditOptions) error {
	cfg, err := loadConfig(root.configPath)
	if err != nil {
		return err
	}
	svc, err := openService(cmd.Context(), cfg, root, io.Discard)
	if err != nil {
		return err
	}
	defer svc.Close() //nolint:errcheck

	events, err := svc.AuditEvents(cmd.Context(), opts.Query)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.JSON {
		if events == nil {
			events = []audit.Event{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "No audit events recorded.")
		return nil
	}
	fmt.Fprintln(out, app.FormatEvents(events))
	return nil
}
