package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/trafficwatch/trafficwatch/internal/control"
	"github.com/trafficwatch/trafficwatch/internal/protocol"
)

// oneShotAttempts bounds connection retries for send when the config asks
// for endless reconnects.
const oneShotAttempts = 3

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a single command to the backend",
		Example: `  trafficwatch send start --type ddos
  trafficwatch send stop
  trafficwatch send neutralize
  trafficwatch send mitigation off
  trafficwatch send block 203.0.113.7`,
	}

	cmd.AddCommand(
		newSendStartCmd(),
		newSendStopCmd(),
		newSendNeutralizeCmd(),
		newSendMitigationCmd(),
		newSendBlockCmd(),
	)
	return cmd
}

func newSendStartCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start simulated traffic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, ok := protocol.ParseTrafficKind(kind)
			if !ok {
				return fmt.Errorf("%w: %q (want normal or ddos)", control.ErrUnknownTrafficKind, kind)
			}
			return sendOnce(cmd, fmt.Sprintf("start %s simulation", k), func(ctx context.Context, d *control.Dispatcher) error {
				return d.StartSimulation(ctx, k)
			})
		},
	}

	cmd.Flags().StringVar(&kind, "type", string(protocol.TrafficNormal), "traffic type (normal, ddos)")
	return cmd
}

func newSendStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running simulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendOnce(cmd, "stop simulation", func(ctx context.Context, d *control.Dispatcher) error {
				return d.StopSimulation(ctx)
			})
		},
	}
}

func newSendNeutralizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "neutralize",
		Short: "Neutralize the current attack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendOnce(cmd, "neutralize", func(ctx context.Context, d *control.Dispatcher) error {
				return d.Neutralize(ctx)
			})
		},
	}
}

func newSendMitigationCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "mitigation on|off",
		Short:     "Turn rate-limit mitigation on or off",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled := args[0] == "on"
			return sendOnce(cmd, "mitigation "+args[0], func(ctx context.Context, d *control.Dispatcher) error {
				return d.SetMitigation(ctx, enabled)
			})
		},
	}
}

func newSendBlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block <ip>",
		Short: "Block a source address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ip := args[0]
			if net.ParseIP(ip) == nil {
				return fmt.Errorf("invalid ip address %q", ip)
			}
			return sendOnce(cmd, "block "+ip, func(ctx context.Context, d *control.Dispatcher) error {
				return d.BlockSource(ctx, ip)
			})
		},
	}
}

// sendOnce connects to the backend, runs fn with a fresh dispatcher and
// disconnects. The command is recorded in the audit trail either way.
func sendOnce(cmd *cobra.Command, what string, fn func(context.Context, *control.Dispatcher) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Backend.ReconnectAttempts == 0 {
		cfg.Backend.ReconnectAttempts = oneShotAttempts
	}

	a, err := newApp(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	disconnect, err := a.dial(ctx)
	if err != nil {
		return err
	}
	defer disconnect()

	if err := fn(ctx, a.dispatcher()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("sent"), what)
	return nil
}
