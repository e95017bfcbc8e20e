// Package clickhouse stores flight observations in a ClickHouse MergeTree table.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"flight-price-alerts/internal/domain"
	"flight-price-alerts/internal/storage"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS %s (
        sky_id         String,
        location       String,
        cheapest_price Float64,
        captured_at    DateTime64(6)
    ) ENGINE = MergeTree()
    ORDER BY (location, captured_at)`

	tableExistsSQL = `SELECT count() FROM system.tables WHERE database = currentDatabase() AND name = ?`

	locationStatisticsSQL = `SELECT location, count() AS n, avg(cheapest_price), stddevPop(cheapest_price)
    FROM %s
    GROUP BY location
    ORDER BY n DESC, location
    LIMIT ?`

	listObservationsSQL = `SELECT sky_id, location, cheapest_price, captured_at
    FROM %s
    WHERE (? = '' OR location = ?)
      AND (? = 0 OR captured_at >= fromUnixTimestamp64Micro(?))
      AND (? = 0 OR captured_at < fromUnixTimestamp64Micro(?))
    ORDER BY captured_at
    LIMIT ?`

	maxListLimit = 100000
)

// NewConn opens and pings a native-protocol connection.
func NewConn(ctx context.Context, dsn string) (driver.Conn, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return conn, nil
}

// Store implements storage.HistoryStore on a ClickHouse table.
type Store struct {
	conn  driver.Conn
	table string
}

var _ storage.HistoryStore = (*Store)(nil)

// NewStore wraps conn, writing to table.
func NewStore(conn driver.Conn, table string) (*Store, error) {
	if err := storage.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	return &Store{conn: conn, table: table}, nil
}

// Close closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// IndexExists reports whether the table exists in the current database.
func (s *Store) IndexExists(ctx context.Context) (bool, error) {
	var n uint64
	if err := s.conn.QueryRow(ctx, tableExistsSQL, s.table).Scan(&n); err != nil {
		return false, fmt.Errorf("check table %s: %w", s.table, err)
	}
	return n > 0, nil
}

// EnsureIndex creates the table when missing.
func (s *Store) EnsureIndex(ctx context.Context) error {
	if err := s.conn.Exec(ctx, fmt.Sprintf(createTableSQL, s.table)); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// DeleteIndex drops the table.
func (s *Store) DeleteIndex(ctx context.Context) error {
	if err := s.conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", s.table)); err != nil {
		return fmt.Errorf("drop table %s: %w", s.table, err)
	}
	return nil
}

// IndexRecords sends all records as one native batch.
func (s *Store) IndexRecords(ctx context.Context, records []domain.NormalizedRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (sky_id, location, cheapest_price, captured_at)", s.table))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		captured, err := domain.ParseTimestamp(r.Timestamp)
		if err != nil {
			_ = batch.Abort()
			return err
		}
		if err := batch.Append(r.SkyID, r.Location, r.CheapestPrice, captured); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// LocationStatistics groups by location, busiest first.
func (s *Store) LocationStatistics(ctx context.Context, limit int) ([]storage.LocationAggregate, error) {
	rows, err := s.conn.Query(ctx, fmt.Sprintf(locationStatisticsSQL, s.table), uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("query location statistics: %w", err)
	}
	defer rows.Close()

	out := make([]storage.LocationAggregate, 0)
	for rows.Next() {
		var (
			agg   storage.LocationAggregate
			count uint64
		)
		if err := rows.Scan(&agg.Location, &count, &agg.Average, &agg.StdDev); err != nil {
			return nil, fmt.Errorf("scan location statistics: %w", err)
		}
		agg.Count = int64(count)
		out = append(out, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate location statistics: %w", err)
	}
	return out, nil
}

// unixMicro maps an open window bound to 0.
func unixMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

// ListObservations lists observations in the filter window ordered by capture time.
func (s *Store) ListObservations(ctx context.Context, filter storage.ObservationFilter) (storage.ObservationPage, error) {
	limit := filter.EffectiveLimit(maxListLimit)
	from, to := unixMicro(filter.From), unixMicro(filter.To)

	rows, err := s.conn.Query(ctx, fmt.Sprintf(listObservationsSQL, s.table),
		filter.Location, filter.Location, from, from, to, to, uint64(limit+1))
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
		rec.Timestamp = domain.FormatTimestamp(captured)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return storage.ObservationPage{}, fmt.Errorf("iterate observations: %w", err)
	}
	return storage.NewObservationPage(out, limit), nil
}
