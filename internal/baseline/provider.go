// Package baseline turns historical per-location aggregates into the statistics
// used to judge current prices.
package baseline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"flight-price-alerts/internal/domain"
	"flight-price-alerts/internal/logging"
	"flight-price-alerts/internal/storage"
)

const (
	// DefaultMinCount is the sample floor below which a location has no baseline.
	DefaultMinCount = 30
	// DefaultMaxLocations caps distinct locations per aggregation query.
	DefaultMaxLocations = 1000
)

// Provider loads baselines from a statistics reader.
type Provider struct {
	store        storage.StatisticsReader
	minCount     int64
	maxLocations int
	logger       zerolog.Logger
}

// NewProvider constructs a Provider. Non-positive tuning values fall back to defaults.
func NewProvider(store storage.StatisticsReader, minCount, maxLocations int, logger zerolog.Logger) *Provider {
	if minCount <= 0 {
		minCount = DefaultMinCount
	}
	if maxLocations <= 0 {
		maxLocations = DefaultMaxLocations
	}
	return &Provider{
		store:        store,
		minCount:     int64(minCount),
		maxLocations: maxLocations,
		logger:       logging.Component(logger, "baseline"),
	}
}

// Load returns statistics for every location with at least minCount samples.
// An empty result is valid and means no location can alert yet.
func (p *Provider) Load(ctx context.Context) (domain.Baseline, error) {
	aggregates, err := p.store.LocationStatistics(ctx, p.maxLocations)
	if errors.Is(err, storage.ErrNoAggregations) {
		p.logger.Warn().Msg("statistics response carried no aggregations; treating as no baseline")
		return domain.Baseline{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBaselineQuery, err)
	}

	baseline := make(domain.Baseline, len(aggregates))
	for _, agg := range aggregates {
		if agg.Count < p.minCount {
			continue
		}
		baseline[agg.Location] = domain.LocationStatistic{
			Location:     agg.Location,
			AveragePrice: agg.Average,
			StdDev:       agg.StdDev,
		}
	}

	p.logger.Debug().
		Int("aggregated", len(aggregates)).
		Int("eligible", len(baseline)).
		Int64("min_count", p.minCount).
		Msg("baseline loaded")
	return baseline, nil
}
