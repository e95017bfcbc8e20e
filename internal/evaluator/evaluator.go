// Package evaluator flattens raw search results into records and flags anomalously cheap ones.
package evaluator

import (
	"fmt"
	"math"
	"strings"

	"flight-price-alerts/internal/domain"
)

const (
	stdDevFactor    = 0.5
	averageDiscount = 0.9
)

// Outcome tells whether alert evaluation could run at all.
type Outcome int

const (
	// OutcomeNoBaseline means no historical statistics were available, so nothing can alert yet.
	OutcomeNoBaseline Outcome = iota
	// OutcomeEvaluated means records were compared against a non-empty baseline.
	OutcomeEvaluated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEvaluated:
		return "evaluated"
	default:
		return "no_baseline"
	}
}

// Evaluation is the result of preparing one run's data.
// Records is always populated; Candidates only when Outcome is OutcomeEvaluated.
type Evaluation struct {
	Records    []domain.NormalizedRecord
	Outcome    Outcome
	Candidates []domain.AlertCandidate
}

// HasAlerts reports whether at least one candidate was produced.
func (e Evaluation) HasAlerts() bool {
	return e.Outcome == OutcomeEvaluated && len(e.Candidates) > 0
}

// Prepare normalizes raw results and evaluates them against the baseline.
func Prepare(raw []domain.RawResult, baseline domain.Baseline) (Evaluation, error) {
	records, err := Normalize(raw)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluate(records, baseline), nil
}

// Normalize converts raw results into validated records, preserving input order.
// An empty input is an error; entries with missing fields or a negative price are dropped.
func Normalize(raw []domain.RawResult) ([]domain.NormalizedRecord, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: upstream returned zero results", domain.ErrNoData)
	}

	records := make([]domain.NormalizedRecord, 0, len(raw))
	for _, entry := range raw {
		record, ok := normalizeEntry(entry)
		if !ok {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func normalizeEntry(entry domain.RawResult) (domain.NormalizedRecord, bool) {
	price, ok := CheapestPrice(entry)
	if !ok || price < 0 {
		return domain.NormalizedRecord{}, false
	}
	if entry.SkyID == nil || entry.Timestamp == nil {
		return domain.NormalizedRecord{}, false
	}
	if entry.Content == nil || entry.Content.Location == nil || entry.Content.Location.Name == nil {
		return domain.NormalizedRecord{}, false
	}

	return domain.NormalizedRecord{
		SkyID:         *entry.SkyID,
		Location:      NormalizeLocation(*entry.Content.Location.Name),
		CheapestPrice: price,
		Timestamp:     *entry.Timestamp,
	}, true
}

// CheapestPrice picks the comparable direct-flight price: the cheapest quote when it is
// direct, otherwise the direct-only quote. ok is false when the chosen price is absent.
func CheapestPrice(entry domain.RawResult) (float64, bool) {
	if entry.Content == nil || entry.Content.FlightQuotes == nil {
		return 0, false
	}
	quotes := entry.Content.FlightQuotes

	chosen := quotes.Direct
	if quotes.Cheapest != nil && quotes.Cheapest.Direct != nil && *quotes.Cheapest.Direct {
		chosen = quotes.Cheapest
	}
	if chosen == nil || chosen.RawPrice == nil {
		return 0, false
	}
	return *chosen.RawPrice, true
}

// NormalizeLocation makes a location name usable as an aggregation key.
func NormalizeLocation(name string) string {
	return strings.ReplaceAll(name, " ", "_")
}

// Threshold is the price below which a location's quote counts as a deal:
// half a standard deviation under the mean, or 10% under it, whichever is higher.
func Threshold(stat domain.LocationStatistic) float64 {
	return math.Max(stat.AveragePrice-stdDevFactor*stat.StdDev, stat.AveragePrice*averageDiscount)
}

// IsAnomalous reports whether price falls strictly below the location threshold.
func IsAnomalous(price float64, stat domain.LocationStatistic) bool {
	return price < Threshold(stat)
}

// Evaluate compares records against the baseline. Locations absent from the baseline never alert.
func Evaluate(records []domain.NormalizedRecord, baseline domain.Baseline) Evaluation {
	eval := Evaluation{Records: records, Outcome: OutcomeNoBaseline}
	if len(baseline) == 0 {
		return eval
	}

	eval.Outcome = OutcomeEvaluated
	eval.Candidates = make([]domain.AlertCandidate, 0)
	for _, record := range records {
		stat, ok := baseline[record.Location]
		if !ok {
			continue
		}
		if IsAnomalous(record.CheapestPrice, stat) {
			eval.Candidates = append(eval.Candidates, domain.AlertCandidate{
				NormalizedRecord: record,
				AveragePrice:     stat.AveragePrice,
			})
		}
	}
	return eval
}
