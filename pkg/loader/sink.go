// pkg/loader/sink.go
package loader

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/urbanmetrics/trip-ingress/pkg/model"
)

// RowSink is where cleaned trips land. InsertBatch must be transactional:
// either every row in the slice is durable or none is. InsertRow inserts a
// single row in its own transaction and is the fallback path after a batch
// fails for a non-retryable cause.
type RowSink interface {
	InsertBatch(ctx context.Context, rows []model.CleanedTripRecord) error
	InsertRow(ctx context.Context, row model.CleanedTripRecord) error
}

var tripColumns = []string{
	"vendor_id",
	"pickup_datetime", "dropoff_datetime",
	"pickup_lat", "pickup_lon", "dropoff_lat", "dropoff_lon",
	"passenger_count", "trip_distance_km", "trip_duration_seconds",
	"fare_amount", "tip_amount",
	"trip_speed_kmh", "fare_per_km", "tip_pct",
	"hour_of_day", "day_of_week",
}

// SQLSink writes trips into the fact table through sqlx, resolving vendor
// codes to vendor ids as it goes.
type SQLSink struct {
	db     *sqlx.DB
	table  string
	logger *zap.Logger

	mu      sync.Mutex
	vendors map[string]int64 // vendor_code -> vendor_id
}

// NewSQLSink builds a sink over an open connection.
func NewSQLSink(db *sqlx.DB, table string) *SQLSink {
	return &SQLSink{
		db:      db,
		table:   table,
		logger:  zap.L().Named("sql-sink"),
		vendors: make(map[string]int64),
	}
}

// InsertBatch writes all rows in one transaction. Vendor references are
// resolved up front, outside the transaction, so the insert never competes
// with itself for a connection on single-connection sinks.
func (s *SQLSink) InsertBatch(ctx context.Context, rows []model.CleanedTripRecord) error {
	if len(rows) == 0 {
		return nil
	}

	query, args, err := s.buildInsert(ctx, rows)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert batch of %d rows: %w", len(rows), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch of %d rows: %w", len(rows), err)
	}
	return nil
}

// InsertRow writes a single row in its own transaction.
func (s *SQLSink) InsertRow(ctx context.Context, row model.CleanedTripRecord) error {
	query, args, err := s.buildInsert(ctx, []model.CleanedTripRecord{row})
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert row: %w", err)
	}
	return nil
}

func (s *SQLSink) buildInsert(ctx context.Context, rows []model.CleanedTripRecord) (string, []interface{}, error) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(s.table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(tripColumns, ", "))
	sb.WriteString(") VALUES ")

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(tripColumns)), ", ") + ")"

	args := make([]interface{}, 0, len(rows)*len(tripColumns))
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(placeholder)

		vendorID, err := s.vendorID(ctx, row.VendorCode)
		if err != nil {
			return "", nil, err
		}

		args = append(args,
			vendorID,
			row.PickupDatetime.Format(model.DatetimeLayout),
			row.DropoffDatetime.Format(model.DatetimeLayout),
			row.PickupLat, row.PickupLon, row.DropoffLat, row.DropoffLon,
			row.PassengerCount, row.TripDistanceKM, row.TripDurationSeconds,
			row.FareAmount, row.TipAmount,
			row.TripSpeedKMH, row.FarePerKM, row.TipPct,
			row.HourOfDay, row.DayOfWeek,
		)
	}

	return s.db.Rebind(sb.String()), args, nil
}

// vendorID resolves a vendor code to its id, creating the vendor row on
// first sight. Trips with no vendor code get a NULL vendor reference.
func (s *SQLSink) vendorID(ctx context.Context, code string) (interface{}, error) {
	if code == "" {
		return nil, nil
	}

	s.mu.Lock()
	id, ok := s.vendors[code]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	insert := s.db.Rebind(
		"INSERT INTO vendors (vendor_code, vendor_name) VALUES (?, ?) ON CONFLICT (vendor_code) DO NOTHING")
	if _, err := s.db.ExecContext(ctx, insert, code, code); err != nil {
		return nil, fmt.Errorf("failed to upsert vendor %s: %w", code, err)
	}

	query := s.db.Rebind("SELECT vendor_id FROM vendors WHERE vendor_code = ?")
	if err := s.db.GetContext(ctx, &id, query, code); err != nil {
		return nil, fmt.Errorf("failed to resolve vendor %s: %w", code, err)
	}

	s.mu.Lock()
	s.vendors[code] = id
	s.mu.Unlock()

	s.logger.Debug("Registered vendor", zap.String("code", code), zap.Int64("id", id))
	return id, nil
}
