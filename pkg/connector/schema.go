// pkg/connector/schema.go
package connector

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/urbanmetrics/trip-ingress/pkg/config"
)

// EnsureSchema creates the normalized 3-table schema (vendors, zones, and the
// trips fact table) if it does not exist. Foreign keys are SET NULL on delete
// so a trip is never lost when its vendor or zone reference goes away.
func EnsureSchema(ctx context.Context, db *sqlx.DB, driver, table string) error {
	logger := zap.L().Named("schema")

	idType := "BIGSERIAL PRIMARY KEY"
	floatType := "DOUBLE PRECISION"
	if driver == config.DriverSQLite {
		idType = "INTEGER PRIMARY KEY AUTOINCREMENT"
		floatType = "REAL"
	}

	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS vendors (
				vendor_id %s,
				vendor_code TEXT NOT NULL UNIQUE,
				vendor_name TEXT NOT NULL
			)`, idType),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS zones (
				zone_id %s,
				zone_name TEXT NOT NULL,
				borough TEXT,
				centroid_lat %s,
				centroid_lon %s
			)`, idType, floatType, floatType),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id %s,
				vendor_id BIGINT REFERENCES vendors(vendor_id) ON DELETE SET NULL,
				pickup_datetime TEXT NOT NULL,
				dropoff_datetime TEXT NOT NULL,
				pickup_lat %s,
				pickup_lon %s,
				dropoff_lat %s,
				dropoff_lon %s,
				pickup_zone_id BIGINT REFERENCES zones(zone_id) ON DELETE SET NULL,
				dropoff_zone_id BIGINT REFERENCES zones(zone_id) ON DELETE SET NULL,
				passenger_count INTEGER NOT NULL,
				trip_distance_km %s NOT NULL,
				trip_duration_seconds %s NOT NULL,
				fare_amount %s NOT NULL,
				tip_amount %s NOT NULL,
				trip_speed_kmh %s,
				fare_per_km %s,
				tip_pct %s,
				hour_of_day INTEGER NOT NULL,
				day_of_week TEXT NOT NULL
			)`, table, idType,
			floatType, floatType, floatType, floatType,
			floatType, floatType, floatType, floatType,
			floatType, floatType, floatType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_pickup_datetime ON %s (pickup_datetime)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_hour_of_day ON %s (hour_of_day)`, table, table),
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

	logger.Info("Ensured sink schema", zap.String("table", table))
	return nil
}
