package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"flight-price-alerts/internal/baseline"
	"flight-price-alerts/internal/domain"
	"flight-price-alerts/internal/evaluator"
	"flight-price-alerts/internal/pipeline"
)

// Show prints the current per-location baselines with their alert thresholds.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	provider := baseline.NewProvider(store, a.Config.Pipeline.MinCount, a.Config.Pipeline.MaxLocations, a.base)
	current, err := provider.Load(ctx)
	if err != nil {
		return err
	}
	if len(current) == 0 {
		fmt.Fprintf(a.Out, "no location has %d or more observations yet\n", a.Config.Pipeline.MinCount)
		return nil
	}

	stats := make([]domain.LocationStatistic, 0, len(current))
	for _, stat := range current {
		stats = append(stats, stat)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Location < stats[j].Location })
	if opts.Limit > 0 && len(stats) > opts.Limit {
		stats = stats[:opts.Limit]
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Location\tAverage\tStd Dev\tAlert Below")
	for _, stat := range stats {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			stat.Location,
			formatPrice(stat.AveragePrice),
			formatPrice(stat.StdDev),
			formatPrice(evaluator.Threshold(stat)),
		)
	}
	return writer.Flush()
}

func formatPrice(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func printRun(out io.Writer, run *pipeline.Run) {
	fmt.Fprintf(out, "run %s: %s\n", run.ID, run.Status)

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Step\tStatus\tAttempts\tDuration\tError")
	for _, s := range run.Steps {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\t%s\n",
			s.Name,
			s.Status,
			s.Attempts,
			s.Duration.Round(time.Millisecond),
			sanitizeInline(s.Error),
		)
	}
	_ = writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
