package commands

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/trafficwatch/trafficwatch/internal/audit"
)

func newHistoryCmd() *cobra.Command {
	var command, status, since string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List commands sent to the backend",
		Example: `  trafficwatch history
  trafficwatch history --status failed
  trafficwatch history --command block_ip --since 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelError}))
			store, err := audit.NewStore(cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck // best-effort cleanup

			var sinceTime string
			if since != "" {
				dur, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", since, err)
				}
				sinceTime = time.Now().Add(-dur).UTC().Format(time.RFC3339)
			}

			entries, err := store.Query(audit.QueryOpts{
				Command: command,
				Status:  status,
				Since:   sinceTime,
				Limit:   limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No commands recorded.")
				return nil
			}
			return printHistory(out, entries, time.Now())
		},
	}

	cmd.Flags().StringVar(&command, "command", "", "filter by command (start, stop, neutralize, toggle_rate_limit, block_ip)")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (sent, failed)")
	cmd.Flags().StringVar(&since, "since", "", "show commands since duration (e.g. 1h, 30m)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")
	return cmd
}

func printHistory(w io.Writer, entries []audit.Entry, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "TIME\tCOMMAND\tPAYLOAD\tSTATUS\tERROR\n") //nolint:errcheck // CLI output
	for _, e := range entries {
		when := e.Timestamp
		if ts, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
			when = humanize.RelTime(ts, now, "ago", "from now")
		}
		payload := e.Payload
		if payload == "" {
			payload = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", //nolint:errcheck // CLI output
			when, e.Command, payload, e.Status, e.Error)
	}
	return tw.Flush()
}
