package commands

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "trafficwatch",
		Short: "Live dashboard and control console for a DDoS detection backend",
		Long:  "trafficwatch follows the anomaly scores and classifications a detection backend pushes, and sends simulation, mitigation and blocking commands back to it.",

		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "trafficwatch.yaml", "config file path")

	root.AddCommand(
		newWatchCmd(),
		newTailCmd(),
		newSendCmd(),
		newHistoryCmd(),
		newInitCmd(),
		newVersionCmd(),
	)

	return root
}
