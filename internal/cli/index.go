package cli

import (
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the historical price index",
}

var indexCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the index if it does not exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().IndexCreate(cmd.Context())
	},
}

var indexDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the index and all stored observations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().IndexDelete(cmd.Context())
	},
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the index exists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().IndexStatus(cmd.Context())
		return err
	},
}

func init() {
	indexCmd.AddCommand(indexCreateCmd, indexDeleteCmd, indexStatusCmd)
}
