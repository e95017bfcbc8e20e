// Package storage defines the historical price store used to build baselines
// and to keep every observation a run produced.
package storage

import (
	"context"

	"flight-price-alerts/internal/domain"
)

// IndexManager covers index (or table) lifecycle.
type IndexManager interface {
	IndexExists(ctx context.Context) (bool, error)
	// EnsureIndex creates the index with its mapping when missing.
	EnsureIndex(ctx context.Context) error
	DeleteIndex(ctx context.Context) error
}

// RecordIndexer appends observations. Writes are append-only: no dedup, no merge.
type RecordIndexer interface {
	// IndexRecords writes records as one bulk submission and reports failure if any
	// document was rejected.
	IndexRecords(ctx context.Context, records []domain.NormalizedRecord) error
}

// StatisticsReader answers the per-location aggregation query.
type StatisticsReader interface {
	// LocationStatistics returns at most limit locations, busiest first. Backends
	// that can tell an absent aggregation section apart from an empty one return
	// ErrNoAggregations for the former.
	LocationStatistics(ctx context.Context, limit int) ([]LocationAggregate, error)
}

// ObservationReader lists stored observations for inspection and export.
type ObservationReader interface {
	// ListObservations returns the oldest matching observations up to the
	// filter limit or the backend cap, and flags the page as truncated when
	// more matched.
	ListObservations(ctx context.Context, filter ObservationFilter) (ObservationPage, error)
}

// HistoryStore is the full historical store contract.
type HistoryStore interface {
	IndexManager
	RecordIndexer
	StatisticsReader
	ObservationReader
	Close() error
}
