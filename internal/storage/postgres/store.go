package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"flight-price-alerts/internal/domain"
	"flight-price-alerts/internal/storage"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS %[1]s (
        id             BIGSERIAL PRIMARY KEY,
        sky_id         TEXT NOT NULL,
        location       TEXT NOT NULL,
        cheapest_price DOUBLE PRECISION NOT NULL,
        captured_at    TIMESTAMP NOT NULL,
        created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS %[1]s_location_idx ON %[1]s (location, captured_at);`

	tableExistsSQL = `SELECT to_regclass($1) IS NOT NULL;`

	dropTableSQL = `DROP TABLE IF EXISTS %s;`

	locationStatisticsSQL = `SELECT
        location,
        COUNT(*),
        AVG(cheapest_price),
        COALESCE(STDDEV_POP(cheapest_price), 0)
    FROM %s
    GROUP BY location
    ORDER BY COUNT(*) DESC, location
    LIMIT $1;`

	listObservationsSQL = `SELECT sky_id, location, cheapest_price, captured_at
    FROM %s
    WHERE ($1::text = '' OR location = $1)
      AND ($2::timestamp IS NULL OR captured_at >= $2)
      AND ($3::timestamp IS NULL OR captured_at < $3)
    ORDER BY captured_at, id
    LIMIT $4;`

	maxListLimit = 100000
)

var copyColumns = []string{"sky_id", "location", "cheapest_price", "captured_at"}

// Store implements storage.HistoryStore on one PostgreSQL table.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

var _ storage.HistoryStore = (*Store)(nil)

// NewStore wires a pgx pool into a Store writing to table.
func NewStore(pool *pgxpool.Pool, table string) (*Store, error) {
	if err := storage.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	return &Store{pool: pool, table: table}, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, storage.ErrNotConfigured
	}
	return s.pool, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// IndexExists reports whether the table exists.
func (s *Store) IndexExists(ctx context.Context) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	if err := pool.QueryRow(ctx, tableExistsSQL, s.table).Scan(&exists); err != nil {
		return false, fmt.Errorf("check table %s: %w", s.table, err)
	}
	return exists, nil
}

// EnsureIndex creates the table and its location index when missing.
func (s *Store) EnsureIndex(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(createTableSQL, s.table)); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// DeleteIndex drops the table.
func (s *Store) DeleteIndex(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(dropTableSQL, s.table)); err != nil {
		return fmt.Errorf("drop table %s: %w", s.table, err)
	}
	return nil
}

// IndexRecords copies records in a single COPY statement, which commits or fails as a whole.
func (s *Store) IndexRecords(ctx context.Context, records []domain.NormalizedRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		captured, err := domain.ParseTimestamp(r.Timestamp)
		if err != nil {
			return err
		}
		rows = append(rows, []any{r.SkyID, r.Location, r.CheapestPrice, captured})
	}

	n, err := pool.CopyFrom(ctx, pgx.Identifier{s.table}, copyColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy into %s: %w", s.table, err)
	}
	if int(n) != len(records) {
		return fmt.Errorf("copy into %s: wrote %d of %d rows", s.table, n, len(records))
	}
	return nil
}

// LocationStatistics groups by location, busiest first.
func (s *Store) LocationStatistics(ctx context.Context, limit int) ([]storage.LocationAggregate, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, fmt.Sprintf(locationStatisticsSQL, s.table), limit)
	if err != nil {
		return nil, fmt.Errorf("query location statistics: %w", err)
	}
	defer rows.Close()

	out := make([]storage.LocationAggregate, 0)
	for rows.Next() {
		var agg storage.LocationAggregate
		if err := rows.Scan(&agg.Location, &agg.Count, &agg.Average, &agg.StdDev); err != nil {
			return nil, fmt.Errorf("scan location statistics: %w", err)
		}
		out = append(out, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// wallClock converts a window bound to the zone-less wall clock stored in captured_at.
func wallClock(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	local := t.In(time.Local)
	wall := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(),
		local.Second(), local.Nanosecond(), time.UTC)
	return &wall
}

// ListObservations lists observations in the filter window ordered by capture time.
func (s *Store) ListObservations(ctx context.Context, filter storage.ObservationFilter) (storage.ObservationPage, error) {
	pool, err := s.getPool()
	if err != nil {
		return storage.ObservationPage{}, err
	}
	limit := filter.EffectiveLimit(maxListLimit)

	rows, err := pool.Query(ctx, fmt.Sprintf(listObservationsSQL, s.table),
		filter.Location, wallClock(filter.From), wallClock(filter.To), limit+1)
	if err != nil {
		return storage.ObservationPage{}, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	out := make([]domain.NormalizedRecord, 0)
	for rows.Next() {
		var (
			rec      domain.NormalizedRecord
			captured time.Time
		)
		if err := rows.Scan(&rec.SkyID, &rec.Location, &rec.CheapestPrice, &captured); err != nil {
			return storage.ObservationPage{}, fmt.Errorf("scan observation: %w", err)
		}
		// TIMESTAMP columns come back as UTC-tagged wall clock; keep the wall clock.
		rec.Timestamp = captured.Format(domain.TimestampLayout)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return storage.ObservationPage{}, err
	}
	return storage.NewObservationPage(out, limit), nil
}
