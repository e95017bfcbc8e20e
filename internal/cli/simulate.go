package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"flight-price-alerts/internal/app"
)

var (
	simulateLocation string
	simulatePrice    float64
	simulateAverage  float64
	simulateDryRun   bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Render and send an alert for a synthetic cheap fare",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice <= 0 || simulateAverage <= 0 {
			return errors.New("--price and --average must be greater than zero")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Location: simulateLocation,
			Price:    simulatePrice,
			Average:  simulateAverage,
			DryRun:   simulateDryRun,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateLocation, "location", "TEST", "Destination name")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "Cheapest price found")
	simulateCmd.Flags().Float64Var(&simulateAverage, "average", 0, "Historical average price")
	simulateCmd.Flags().BoolVar(&simulateDryRun, "dry-run", false, "Print the alert instead of sending it")
}
