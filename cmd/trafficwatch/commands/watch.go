package commands

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/trafficwatch/trafficwatch/internal/tui"
)

func newWatchCmd() *cobra.Command {
	var web bool
	var port int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open the live terminal dashboard",
		Long: `Open the live terminal dashboard.

Keys: n/d start normal/ddos traffic, s stop, x neutralize, m toggle
mitigation, b block the selected event's source, q quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("web") {
				cfg.Web.Enabled = web
			}
			if port != 0 {
				cfg.Web.Port = port
			}

			// The terminal belongs to the dashboard; logs go to log_file or nowhere.
			a, err := newApp(cfg, io.Discard)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			ctrl := a.controller()
			p := tui.NewProgram(tui.New(ctrl.Submit), tea.WithContext(ctx))
			ctrl.AddSink(tui.NewSink(p))

			webURL, webDone, err := a.startWeb(ctx, ctrl)
			if err != nil {
				return err
			}
			if webURL != "" {
				a.logger.Info("web dashboard listening", "url", webURL)
			}

			backendDone := make(chan error, 1)
			go func() {
				err := a.runBackend(ctx, ctrl)
				backendDone <- err
				if err != nil {
					p.Quit()
				}
			}()

			_, runErr := p.Run()
			cancel()
			backendErr := <-backendDone
			if webDone != nil {
				if err := <-webDone; err != nil {
					a.logger.Warn("web dashboard shutdown", "error", err)
				}
			}

			if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
				return runErr
			}
			return backendErr
		},
	}

	cmd.Flags().BoolVar(&web, "web", false, "also serve the browser dashboard")
	cmd.Flags().IntVar(&port, "port", 0, "override web dashboard port")
	return cmd
}
