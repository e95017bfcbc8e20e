package storage

import (
	"time"

	"flight-price-alerts/internal/domain"
)

// LocationAggregate is one bucket of the per-location aggregation.
// StdDev is the population standard deviation of cheapest_price.
type LocationAggregate struct {
	Location string
	Count    int64
	Average  float64
	StdDev   float64
}

// ObservationFilter narrows ListObservations. Results are ordered by timestamp ascending.
type ObservationFilter struct {
	Location string
	// From and To bound the capture time to [From, To). Zero values leave that side open.
	From time.Time
	To   time.Time
	// Limit caps the number of returned rows; zero or anything above the backend cap
	// means the backend cap.
	Limit int
}

// Contains reports whether a capture time falls inside the filter window.
func (f ObservationFilter) Contains(at time.Time) bool {
	if !f.From.IsZero() && at.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !at.Before(f.To) {
		return false
	}
	return true
}

// EffectiveLimit clamps the requested limit to maxRows.
func (f ObservationFilter) EffectiveLimit(maxRows int) int {
	if f.Limit <= 0 || f.Limit > maxRows {
		return maxRows
	}
	return f.Limit
}

// ObservationPage is one ListObservations result.
type ObservationPage struct {
	Records []domain.NormalizedRecord
	// Truncated is set when more observations matched than Records holds.
	Truncated bool
}

// NewObservationPage trims rows fetched with one extra row of lookahead to limit.
func NewObservationPage(rows []domain.NormalizedRecord, limit int) ObservationPage {
	if len(rows) > limit {
		return ObservationPage{Records: rows[:limit], Truncated: true}
	}
	return ObservationPage{Records: rows}
}
