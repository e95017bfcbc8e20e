package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"flight-price-alerts/internal/config"
)

// RunsShow prints every hand-off slot recorded for runID.
func (a *App) RunsShow(ctx context.Context, runID string) error {
	if a.handoffOverride == nil && a.Config.Handoff.Driver == config.DriverMemory {
		a.Logger.Warn().Msg("handoff.driver is memory; slots from other processes are not visible")
	}

	slots, err := a.openHandoff(ctx)
	if err != nil {
		return err
	}
	defer slots.Close()

	entries, err := slots.List(ctx, runID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no hand-off slots recorded for run %s", runID)
	}

	for _, e := range entries {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, e.Value, "", "  "); err != nil {
			pretty.Reset()
			pretty.Write(e.Value)
		}
		fmt.Fprintf(a.Out, "== %s/%s\n%s\n", e.Step, e.Name, pretty.String())
	}
	return nil
}
