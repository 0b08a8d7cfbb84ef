package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/stagehand/internal/server"
)

type serveOptions struct {
	Listen string
}

var serveCmdRunner = runServe

func newServeCmd(root *rootFlags) *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for installations, commands and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmdRunner(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "Listen address (defaults to server.listen from the config)")

	return cmd
}

func runServe(cmd *cobra.Command, root *rootFlags, opts serveOptions) error {
	cfg, err := loadConfig(root.configPath)
	if err != nil {
		return err
	}
	addr := cfg.Server.Listen
	if opts.Listen != "" {
		addr = opts.Listen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := openService(ctx, cfg, root, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer svc.Close() //nolint:errcheck

	return server.New(ctx, svc, svc.Logger()).ListenAndServe(ctx, addr)
}
