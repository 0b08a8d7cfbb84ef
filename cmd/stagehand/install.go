package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/alexisbeaulieu97/stagehand/internal/app"
	"github.com/alexisbeaulieu97/stagehand/internal/installer"
	"github.com/alexisbeaulieu97/stagehand/internal/tui"
)

const cliActor = "cli"

type installOptions struct {
	Profile        string
	Retries        int
	NonInteractive bool
}

var installCmdRunner = runInstall

func newInstallCmd(root *rootFlags) *cobra.Command {
	opts := installOptions{}
	var plain bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install a profile from the configured bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.NonInteractive = plain || !term.IsTerminal(int(os.Stdout.Fd()))
			return installCmdRunner(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Profile, "profile", "p", "", "Profile to install")
	cmd.Flags().IntVar(&opts.Retries, "retries", -1, "Override the configured retry budget for network failures")
	cmd.Flags().BoolVar(&plain, "plain", false, "Print progress lines instead of the interactive view")
	cmd.MarkFlagRequired("profile") //nolint:errcheck

	return cmd
}

func runInstall(cmd *cobra.Command, root *rootFlags, opts installOptions) error {
	cfg, err := loadConfig(root.configPath)
	if err != nil {
		return err
	}
	if opts.Retries >= 0 {
		cfg.Pipeline.MaxRetries = opts.Retries
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the interactive view owns the terminal, logs stay in the in-memory tail
	logs := cmd.ErrOrStderr()
	if !opts.NonInteractive {
		logs = io.Discard
	}
	svc, err := openService(ctx, cfg, root, logs)
	if err != nil {
		return err
	}
	defer svc.Close() //nolint:errcheck

	out := cmd.OutOrStdout()
	req := app.InstallRequest{Profile: opts.Profile, Actor: cliActor}

	if opts.NonInteractive {
		req.OnProgress = func(st installer.State) {
			fmt.Fprintln(out, progressLine(st))
		}
		final, err := svc.Install(ctx, req)
		if final.RunID != "" {
			fmt.Fprintln(out, app.FormatState(final))
		}
		return err
	}

	session, err := svc.StartInstall(ctx, req)
	if err != nil {
		return err
	}
	ctrl := &sessionController{Session: session, svc: svc, ctx: ctx}
	program := tea.NewProgram(tui.NewModel(cfg.Name, svc.StageNames(), ctrl), tea.WithOutput(out))
	if _, err := program.Run(); err != nil {
		_ = svc.Abort(ctx, cliActor)
		session.Wait()
		return err
	}
	return app.Outcome(session.Wait())
}

func progressLine(st installer.State) string {
	line := fmt.Sprintf("[%5.1f%%] %s %d/%d", st.ProgressPercent, st.Status, len(st.StagesCompleted), st.TotalStages)
	if n := len(st.StagesCompleted); n > 0 && !st.Status.Terminal() {
		line += " " + st.StagesCompleted[n-1] + " done"
	}
	return line
}

// sessionController routes keyboard controls through the service so they are audited.
type sessionController struct {
	*app.Session
	svc *app.Service
	ctx context.Context
}

func (c *sessionController) Pause()  { _ = c.svc.Pause(c.ctx, cliActor) }
func (c *sessionController) Resume() { _ = c.svc.Resume(c.ctx, cliActor) }
func (c *sessionController) Abort()  { _ = c.svc.Abort(c.ctx, cliActor) }
