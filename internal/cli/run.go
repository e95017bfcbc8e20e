package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduled price tracker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Execute a single pipeline run immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().RunOnce(cmd.Context())
		return err
	},
}
