package cli

import (
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded pipeline runs",
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the hand-off slots recorded for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RunsShow(cmd.Context(), args[0])
	},
}

func init() {
	runsCmd.AddCommand(runsShowCmd)
}
