package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"flight-price-alerts/internal/domain"
	"flight-price-alerts/internal/storage"
)

// observation is a stored record with its parsed capture time.
type observation struct {
	domain.NormalizedRecord
	At time.Time
}

// Export writes stored observations as CSV and/or a PNG price chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.From != nil && opts.To != nil && !opts.From.Before(*opts.To) {
		return errors.New("from must be before to")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	filter := storage.ObservationFilter{Location: opts.Location}
	if opts.From != nil {
		filter.From = *opts.From
	}
	if opts.To != nil {
		filter.To = *opts.To
	}
	page, err := store.ListObservations(ctx, filter)
	if err != nil {
		return err
	}
	if page.Truncated {
		a.Logger.Warn().Str("location", opts.Location).Int("returned", len(page.Records)).
			Msg("export window holds more observations than the store returns; narrow --from/--to")
		fmt.Fprintf(a.Out, "warning: export truncated to the oldest %d observations in the window; narrow --from/--to\n",
			len(page.Records))
	}

	observations := a.toObservations(page.Records)
	if len(observations) == 0 {
		a.Logger.Info().Str("location", opts.Location).Msg("no observations found for export window")
		return nil
	}

	downsampled := downsampleObservations(observations, opts.MaxPoints)
	a.Logger.Info().Int("total", len(observations)).Int("exported", len(downsampled)).Msg("exporting observations")

	if opts.CSVPath != "" {
		if err := writeObservationsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeObservationsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) toObservations(records []domain.NormalizedRecord) []observation {
	out := make([]observation, 0, len(records))
	for _, r := range records {
		at, err := domain.ParseTimestamp(r.Timestamp)
		if err != nil {
			a.Logger.Warn().Err(err).Str("location", r.Location).Msg("skipping observation with unreadable timestamp")
			continue
		}
		out = append(out, observation{NormalizedRecord: r, At: at})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

func downsampleObservations(observations []observation, max int) []observation {
	if max <= 0 || len(observations) <= max {
		return observations
	}
	if max == 1 {
		return observations[len(observations)-1:]
	}

	result := make([]observation, 0, max)
	step := float64(len(observations)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(observations) {
			idx = len(observations) - 1
		}
		result = append(result, observations[idx])
	}
	return result
}

func writeObservationsCSV(path string, observations []observation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"timestamp", "location", "sky_id", "cheapest_price"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, o := range observations {
		record := []string{
			o.Timestamp,
			o.Location,
			o.SkyID,
			strconv.FormatFloat(o.CheapestPrice, 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// maxChartSeries keeps the legend readable when exporting every location.
const maxChartSeries = 12

func writeObservationsPNG(path string, observations []observation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	byLocation := make(map[string][]observation)
	var order []string
	for _, o := range observations {
		if _, ok := byLocation[o.Location]; !ok {
			order = append(order, o.Location)
		}
		byLocation[o.Location] = append(byLocation[o.Location], o)
	}
	sort.SliceStable(order, func(i, j int) bool {
		return len(byLocation[order[i]]) > len(byLocation[order[j]])
	})
	if len(order) > maxChartSeries {
		order = order[:maxChartSeries]
	}

	series := make([]chart.Series, 0, len(order)+1)
	for _, location := range order {
		points := byLocation[location]
		x := make([]time.Time, len(points))
		y := make([]float64, len(points))
		for i, p := range points {
			x[i] = p.At
			y[i] = p.CheapestPrice
		}
		ts := chart.TimeSeries{Name: location, XValues: x, YValues: y}
		series = append(series, ts)
		if len(order) == 1 {
			series = append(series, chart.SMASeries{Name: location + " moving avg", InnerSeries: ts})
		}
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Cheapest price",
			ValueFormatter: priceFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
