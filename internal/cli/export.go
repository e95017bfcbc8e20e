package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"flight-price-alerts/internal/app"
	"flight-price-alerts/internal/domain"
)

var (
	exportLocation  string
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored price observations as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseTimeFlag("--from", exportFrom)
		if err != nil {
			return err
		}
		to, err := parseTimeFlag("--to", exportTo)
		if err != nil {
			return err
		}

		return getApp().Export(cmd.Context(), app.ExportOptions{
			Location:  exportLocation,
			From:      from,
			To:        to,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		})
	},
}

// timeFlagLayouts are tried in order; layouts without a zone use the local clock,
// matching how capture timestamps are stored.
var timeFlagLayouts = []string{time.RFC3339, domain.TimestampLayout, "2006-01-02T15:04", time.DateOnly}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range timeFlagLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid %s value %q: want RFC3339 or YYYY-MM-DD[THH:MM]", name, value)
}

func init() {
	exportCmd.Flags().StringVar(&exportLocation, "location", "", "Only export this location (default: all)")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start time, inclusive (RFC3339 or local YYYY-MM-DD[THH:MM])")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End time, exclusive (RFC3339 or local YYYY-MM-DD[THH:MM])")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
