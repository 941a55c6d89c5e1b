package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trafficwatch/trafficwatch/internal/console"
)

func newTailCmd() *cobra.Command {
	var web, noColor bool
	var port int

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print classified events as they arrive",
		Example: `  trafficwatch tail
  trafficwatch tail --no-color > events.log
  trafficwatch tail --web --port 8091`,
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

			a, err := newApp(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			useColor := !noColor && term.IsTerminal(int(os.Stdout.Fd()))
			ctrl := a.controller()
			ctrl.AddSink(console.New(cmd.OutOrStdout(), useColor))

			webURL, webDone, err := a.startWeb(ctx, ctrl)
			if err != nil {
				return err
			}
			if webURL != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Web dashboard: %s\n", webURL)
			}

			err = a.runBackend(ctx, ctrl)
			cancel()
			if webDone != nil {
				if werr := <-webDone; werr != nil {
					a.logger.Warn("web dashboard shutdown", "error", werr)
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&web, "web", false, "also serve the browser dashboard")
	cmd.Flags().IntVar(&port, "port", 0, "override web dashboard port")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	return cmd
}
