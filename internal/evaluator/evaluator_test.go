package evaluator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flight-price-alerts/internal/domain"
)

const testTimestamp = "2025-03-01T10:30:00.123456"

func ptr[T any](v T) *T {
	return &v
}

func quote(price float64, direct bool) *domain.RawQuote {
	return &domain.RawQuote{RawPrice: ptr(price), Direct: ptr(direct)}
}

func rawEntry(skyID, name string, cheapest, direct *domain.RawQuote) domain.RawResult {
	return domain.RawResult{
		ID:    "location-" + skyID,
		SkyID: ptr(skyID),
		Content: &domain.RawContent{
			Location:     &domain.RawLocation{SkyCode: skyID, Name: ptr(name)},
			FlightQuotes: &domain.RawFlightQuotes{Cheapest: cheapest, Direct: direct},
		},
		Timestamp: ptr(testTimestamp),
	}
}

func TestCheapestPrice_DirectCheapestQuoteWins(t *testing.T) {
	entry := rawEntry("DK", "Denmark", quote(40, true), quote(55, true))

	price, ok := CheapestPrice(entry)
	require.True(t, ok)
	assert.Equal(t, 40.0, price)
}

func TestCheapestPrice_ConnectingCheapestFallsBackToDirectQuote(t *testing.T) {
	entry := rawEntry("BE", "Belgium", quote(30, false), quote(72, true))

	price, ok := CheapestPrice(entry)
	require.True(t, ok)
	assert.Equal(t, 72.0, price)
}

func TestCheapestPrice_MissingDirectQuote(t *testing.T) {
	entry := rawEntry("AL", "Albania", quote(30, false), nil)

	_, ok := CheapestPrice(entry)
	assert.False(t, ok)
}

func TestCheapestPrice_MissingDirectFlagTreatedAsConnecting(t *testing.T) {
	entry := rawEntry("AT", "Austria", &domain.RawQuote{RawPrice: ptr(20.0)}, quote(44, true))

	price, ok := CheapestPrice(entry)
	require.True(t, ok)
	assert.Equal(t, 44.0, price)
}

func TestNormalizeLocation(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"TEST", "TEST"},
		{"United Kingdom", "United_Kingdom"},
		{"Bosnia and Herzegovina", "Bosnia_and_Herzegovina"},
		{"", ""},
	}
	for _, tt := range tests {
		once := NormalizeLocation(tt.in)
		assert.Equal(t, tt.want, once)
		assert.Equal(t, once, NormalizeLocation(once), "normalization must be idempotent")
	}
}

func TestNormalize_EmptyInputFails(t *testing.T) {
	_, err := Normalize(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNoData))

	_, err = Normalize([]domain.RawResult{})
	assert.True(t, errors.Is(err, domain.ErrNoData))
}

func TestNormalize_DropsInvalidEntries(t *testing.T) {
	missingSky := rawEntry("X1", "Nowhere", quote(10, true), quote(10, true))
	missingSky.SkyID = nil

	missingName := rawEntry("X2", "Nowhere", quote(10, true), quote(10, true))
	missingName.Content.Location.Name = nil

	missingTimestamp := rawEntry("X3", "Nowhere", quote(10, true), quote(10, true))
	missingTimestamp.Timestamp = nil

	noQuotes := rawEntry("X4", "Nowhere", nil, nil)
	noQuotes.Content.FlightQuotes = nil

	raw := []domain.RawResult{
		rawEntry("CZ", "Czech Republic", quote(95, true), quote(95, true)),
		rawEntry("NEG", "Negative", quote(-1, true), quote(-1, true)),
		missingSky,
		missingName,
		missingTimestamp,
		noQuotes,
		rawEntry("EG", "Egypt", quote(180, false), quote(260, true)),
	}

	records, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, domain.NormalizedRecord{
		SkyID:         "CZ",
		Location:      "Czech_Republic",
		CheapestPrice: 95,
		Timestamp:     testTimestamp,
	}, records[0])
	assert.Equal(t, "EG", records[1].SkyID)
	assert.Equal(t, 260.0, records[1].CheapestPrice)

	for _, r := range records {
		assert.GreaterOrEqual(t, r.CheapestPrice, 0.0)
	}
}

func TestNormalize_AllEntriesInvalidIsNotAnError(t *testing.T) {
	raw := []domain.RawResult{rawEntry("NEG", "Negative", quote(-5, true), nil)}

	records, err := Normalize(raw)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestThreshold(t *testing.T) {
	tests := []struct {
		name string
		stat domain.LocationStatistic
		want float64
	}{
		{"std dev dominates", domain.LocationStatistic{AveragePrice: 100, StdDev: 10}, 95},
		{"ten percent floor dominates", domain.LocationStatistic{AveragePrice: 100, StdDev: 40}, 90},
		{"zero std dev", domain.LocationStatistic{AveragePrice: 100, StdDev: 0}, 100},
		{"equal bounds", domain.LocationStatistic{AveragePrice: 90, StdDev: 18}, 81},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Threshold(tt.stat), 1e-9)
		})
	}
}

func TestIsAnomalous_StrictlyBelowThreshold(t *testing.T) {
	stat := domain.LocationStatistic{AveragePrice: 100, StdDev: 10}

	assert.True(t, IsAnomalous(94.99, stat))
	assert.False(t, IsAnomalous(95, stat))
	assert.False(t, IsAnomalous(120, stat))
}

func TestEvaluate_NoBaseline(t *testing.T) {
	records := []domain.NormalizedRecord{{SkyID: "TEST", Location: "TEST", CheapestPrice: 34, Timestamp: testTimestamp}}

	for _, baseline := range []domain.Baseline{nil, {}} {
		eval := Evaluate(records, baseline)
		assert.Equal(t, OutcomeNoBaseline, eval.Outcome)
		assert.Equal(t, records, eval.Records)
		assert.Empty(t, eval.Candidates)
		assert.False(t, eval.HasAlerts())
	}
}

func TestEvaluate_FlagsCheapLocationsInRecordOrder(t *testing.T) {
	baseline := domain.Baseline{
		"Denmark":  {Location: "Denmark", AveragePrice: 90, StdDev: 10},
		"Belgium":  {Location: "Belgium", AveragePrice: 100, StdDev: 10},
		"Albania":  {Location: "Albania", AveragePrice: 57, StdDev: 0},
		"Austria":  {Location: "Austria", AveragePrice: 44, StdDev: 0},
		"Bulgaria": {Location: "Bulgaria", AveragePrice: 47, StdDev: 0},
	}
	records := []domain.NormalizedRecord{
		{SkyID: "DK", Location: "Denmark", CheapestPrice: 84, Timestamp: testTimestamp},
		{SkyID: "BE", Location: "Belgium", CheapestPrice: 96, Timestamp: testTimestamp},
		{SkyID: "AL", Location: "Albania", CheapestPrice: 56, Timestamp: testTimestamp},
		{SkyID: "AT", Location: "Austria", CheapestPrice: 44, Timestamp: testTimestamp},
		{SkyID: "XX", Location: "Unknown_Land", CheapestPrice: 1, Timestamp: testTimestamp},
		{SkyID: "BG", Location: "Bulgaria", CheapestPrice: 12, Timestamp: testTimestamp},
	}

	eval := Evaluate(records, baseline)
	require.Equal(t, OutcomeEvaluated, eval.Outcome)
	assert.Len(t, eval.Records, len(records))
	require.True(t, eval.HasAlerts())

	got := make([]string, 0, len(eval.Candidates))
	for _, c := range eval.Candidates {
		got = append(got, c.Location)
		assert.Equal(t, baseline[c.Location].AveragePrice, c.AveragePrice)
	}
	assert.Equal(t, []string{"Denmark", "Albania", "Bulgaria"}, got)
}

func TestEvaluate_CandidateIffBelowThreshold(t *testing.T) {
	stats := []domain.LocationStatistic{
		{Location: "A", AveragePrice: 100, StdDev: 0},
		{Location: "A", AveragePrice: 100, StdDev: 5},
		{Location: "A", AveragePrice: 100, StdDev: 30},
		{Location: "A", AveragePrice: 250, StdDev: 80},
	}
	prices := []float64{0, 50, 89.99, 90, 95, 97.5, 99.99, 100, 150}

	for _, stat := range stats {
		for _, price := range prices {
			records := []domain.NormalizedRecord{{SkyID: "A", Location: "A", CheapestPrice: price, Timestamp: testTimestamp}}
			eval := Evaluate(records, domain.Baseline{"A": stat})

			want := price < Threshold(stat)
			assert.Equal(t, want, eval.HasAlerts(), "price=%v stat=%+v", price, stat)
		}
	}
}

func TestEvaluate_EvaluatedWithoutMatchesHasNoAlerts(t *testing.T) {
	baseline := domain.Baseline{"Other": {Location: "Other", AveragePrice: 10}}
	records := []domain.NormalizedRecord{{SkyID: "TEST", Location: "TEST", CheapestPrice: 1, Timestamp: testTimestamp}}

	eval := Evaluate(records, baseline)
	assert.Equal(t, OutcomeEvaluated, eval.Outcome)
	assert.NotNil(t, eval.Candidates)
	assert.Empty(t, eval.Candidates)
	assert.False(t, eval.HasAlerts())
}

func TestPrepare(t *testing.T) {
	raw := []domain.RawResult{rawEntry("TEST", "TEST", quote(34, true), quote(34, true))}

	eval, err := Prepare(raw, domain.Baseline{"TEST": {Location: "TEST", AveragePrice: 100}})
	require.NoError(t, err)
	require.Len(t, eval.Candidates, 1)
	assert.Equal(t, 34.0, eval.Candidates[0].CheapestPrice)
	assert.Equal(t, 100.0, eval.Candidates[0].AveragePrice)

	_, err = Prepare(nil, nil)
	assert.ErrorIs(t, err, domain.ErrNoData)
}
