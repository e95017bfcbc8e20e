package domain

import "errors"

var (
	// ErrUpstreamFetch marks a failed call to the price API (transport error, timeout, non-200).
	ErrUpstreamFetch = errors.New("upstream fetch failed")
	// ErrNoData marks a successful fetch that produced no entries.
	ErrNoData = errors.New("no flight data found")
	// ErrIndexing marks a failed bulk write to the historical store.
	ErrIndexing = errors.New("indexing failed")
	// ErrBaselineQuery marks a failed aggregation query against the historical store.
	ErrBaselineQuery = errors.New("baseline query failed")
)
