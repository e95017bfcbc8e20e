package fetcher

import (
	"context"

	"flight-price-alerts/internal/domain"
)

// PriceFetcher retrieves one snapshot of destination prices.
type PriceFetcher interface {
	Fetch(ctx context.Context) ([]domain.RawResult, error)
}
