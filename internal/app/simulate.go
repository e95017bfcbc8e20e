package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"flight-price-alerts/internal/alerting"
	"flight-price-alerts/internal/domain"
	"flight-price-alerts/internal/evaluator"
)

// SimulateAlert renders a synthetic candidate and sends it through the
// configured channels, bypassing fetch and baseline.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if opts.Location == "" {
		return errors.New("location is required")
	}
	if opts.Price < 0 || opts.Average <= 0 {
		return errors.New("price must be non-negative and average positive")
	}

	candidate := domain.AlertCandidate{
		NormalizedRecord: domain.NormalizedRecord{
			SkyID:         opts.Location,
			Location:      evaluator.NormalizeLocation(opts.Location),
			CheapestPrice: opts.Price,
			Timestamp:     domain.FormatTimestamp(a.now()),
		},
		AveragePrice: opts.Average,
	}
	alert := alerting.NewAlert("simulated-"+uuid.NewString(), a.Config.Alerting.Subject, []domain.AlertCandidate{candidate})

	if opts.DryRun {
		fmt.Fprintf(a.Out, "Subject: %s\n\n%s", alert.Subject, alert.Body)
		return nil
	}

	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}
	notifier, err := alerting.New(a.Config.Alerting, a.base)
	if err != nil {
		return err
	}
	defer notifier.Close()
	if notifier.Len() == 0 {
		return errors.New("no alert channels configured")
	}

	if err := notifier.Notify(ctx, alert); err != nil {
		return err
	}
	a.Logger.Info().Str("run_id", alert.RunID).Str("location", candidate.Location).Msg("simulated alert sent")
	return nil
}
