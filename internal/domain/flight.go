// Package domain holds the records that flow through one price-tracking run.
package domain

import (
	"fmt"
	"time"
)

// TimestampLayout is the capture timestamp format: local clock, microsecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// ParseTimestamp reads a capture timestamp in the local zone. RFC 3339 is accepted
// for records written by other tools.
func ParseTimestamp(value string) (time.Time, error) {
	if t, err := time.ParseInLocation(TimestampLayout, value, time.Local); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t, nil
}

// FormatTimestamp renders t in TimestampLayout on the local clock.
func FormatTimestamp(t time.Time) string {
	return t.In(time.Local).Format(TimestampLayout)
}

// RawResult is one destination entry as returned by the upstream search API.
// Timestamp is not part of the upstream payload; the fetcher stamps it.
type RawResult struct {
	ID        string      `json:"id,omitempty"`
	Type      string      `json:"type,omitempty"`
	SkyID     *string     `json:"skyId"`
	Content   *RawContent `json:"content"`
	Timestamp *string     `json:"timestamp"`
}

// RawContent nests location and quote details.
type RawContent struct {
	Location     *RawLocation     `json:"location"`
	FlightQuotes *RawFlightQuotes `json:"flightQuotes"`
}

// RawLocation describes the destination.
type RawLocation struct {
	ID      string  `json:"id,omitempty"`
	SkyCode string  `json:"skyCode,omitempty"`
	Name    *string `json:"name"`
	Type    string  `json:"type,omitempty"`
}

// RawFlightQuotes carries the cheapest quote and the cheapest direct-only quote.
type RawFlightQuotes struct {
	Cheapest *RawQuote `json:"cheapest"`
	Direct   *RawQuote `json:"direct"`
}

// RawQuote is a single price quote. Price is the display string ("$34").
type RawQuote struct {
	Price    string   `json:"price,omitempty"`
	RawPrice *float64 `json:"rawPrice"`
	Direct   *bool    `json:"direct"`
}

// NormalizedRecord is the flat, validated observation persisted to the historical store.
type NormalizedRecord struct {
	SkyID         string  `json:"sky_id"`
	Location      string  `json:"location"`
	CheapestPrice float64 `json:"cheapest_price"`
	Timestamp     string  `json:"timestamp"`
}

// LocationStatistic is the historical baseline for one location.
type LocationStatistic struct {
	Location     string  `json:"location"`
	AveragePrice float64 `json:"average_price"`
	StdDev       float64 `json:"std_dev"`
}

// Baseline maps a normalized location key to its statistic.
type Baseline map[string]LocationStatistic

// AlertCandidate is a record priced below its location's alert threshold.
type AlertCandidate struct {
	NormalizedRecord
	AveragePrice float64 `json:"average_price"`
}
