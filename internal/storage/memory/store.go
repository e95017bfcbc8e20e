// Package memory is an in-process historical store for tests and dry runs.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"flight-price-alerts/internal/domain"
	"flight-price-alerts/internal/storage"
)

// defaultMaxResults matches the SQL backends' list cap.
const defaultMaxResults = 100000

// Store keeps observations in a slice guarded by a RWMutex.
type Store struct {
	mu         sync.RWMutex
	exists     bool
	records    []domain.NormalizedRecord
	maxResults int
	// failIndex, when set, is returned by IndexRecords.
	failIndex error
}

// NewStore creates an empty store whose index already exists.
func NewStore() *Store {
	return &Store{exists: true, maxResults: defaultMaxResults}
}

// NewMissingIndexStore creates a store whose index has not been created yet,
// as on a fresh deployment.
func NewMissingIndexStore() *Store {
	return &Store{maxResults: defaultMaxResults}
}

// LimitResults sets the ListObservations cap; n <= 0 restores the default.
func (s *Store) LimitResults(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		n = defaultMaxResults
	}
	s.maxResults = n
}

var _ storage.HistoryStore = (*Store)(nil)

// FailIndexing makes subsequent IndexRecords calls fail with err; nil clears it.
func (s *Store) FailIndexing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failIndex = err
}

// IndexExists reports whether the index is present.
func (s *Store) IndexExists(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exists, nil
}

// EnsureIndex marks the index present.
func (s *Store) EnsureIndex(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exists = true
	return nil
}

// DeleteIndex drops every record.
func (s *Store) DeleteIndex(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exists = false
	s.records = nil
	return nil
}

// IndexRecords appends records all-or-nothing.
func (s *Store) IndexRecords(_ context.Context, records []domain.NormalizedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIndex != nil {
		return s.failIndex
	}
	s.exists = true
	s.records = append(s.records, records...)
	return nil
}

// LocationStatistics aggregates count, mean, and population std-dev per location.
// It fails with storage.ErrIndexNotFound until the index exists.
func (s *Store) LocationStatistics(_ context.Context, limit int) ([]storage.LocationAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.exists {
		return nil, storage.ErrIndexNotFound
	}

	// Welford's update keeps the variance stable for large, close prices.
	type acc struct {
		n        int64
		mean, m2 float64
	}
	byLocation := make(map[string]*acc)
	for _, r := range s.records {
		a, ok := byLocation[r.Location]
		if !ok {
			a = &acc{}
			byLocation[r.Location] = a
		}
		a.n++
		delta := r.CheapestPrice - a.mean
		a.mean += delta / float64(a.n)
		a.m2 += delta * (r.CheapestPrice - a.mean)
	}

	out := make([]storage.LocationAggregate, 0, len(byLocation))
	for location, a := range byLocation {
		variance := a.m2 / float64(a.n)
		if variance < 0 {
			variance = 0
		}
		out = append(out, storage.LocationAggregate{
			Location: location,
			Count:    a.n,
			Average:  a.mean,
			StdDev:   math.Sqrt(variance),
		})
	}

	// terms aggregation order: doc count desc, then key asc
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Location < out[j].Location
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListObservations returns matching records ordered by timestamp. When the
// filter has a time window, records whose timestamp cannot be parsed are skipped.
func (s *Store) ListObservations(_ context.Context, filter storage.ObservationFilter) (storage.ObservationPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.exists {
		return storage.ObservationPage{}, storage.ErrIndexNotFound
	}

	windowed := !filter.From.IsZero() || !filter.To.IsZero()
	out := make([]domain.NormalizedRecord, 0)
	for _, r := range s.records {
		if filter.Location != "" && r.Location != filter.Location {
			continue
		}
		if windowed {
			at, err := domain.ParseTimestamp(r.Timestamp)
			if err != nil || !filter.Contains(at) {
				continue
			}
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return storage.NewObservationPage(out, filter.EffectiveLimit(s.maxResults)), nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
