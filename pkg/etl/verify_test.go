// pkg/etl/verify_test.go
package etl

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/urbanmetrics/trip-ingress/pkg/config"
	"github.com/urbanmetrics/trip-ingress/pkg/connector"
)

func TestVerifier(t *testing.T) {
	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "trips.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, connector.EnsureSchema(ctx, db, config.DriverSQLite, "trips"))

	insert := `INSERT INTO trips (
		pickup_datetime, dropoff_datetime,
		pickup_lat, pickup_lon, dropoff_lat, dropoff_lon,
		passenger_count, trip_distance_km, trip_duration_seconds,
		fare_amount, tip_amount, hour_of_day, day_of_week
	) VALUES ('2016-01-15 08:30:00', '2016-01-15 08:50:00',
		40.75, -73.98, 40.71, -74.00, 1, 5.0, 1200, 20.0, 3.0, 8, 'Friday')`

	// One pre-existing row; the verifier must only count growth.
	_, err = db.ExecContext(ctx, insert)
	require.NoError(t, err)

	v := NewVerifier(db, "trips")
	require.NoError(t, v.Begin(ctx))

	for i := 0; i < 3; i++ {
		_, err = db.ExecContext(ctx, insert)
		require.NoError(t, err)
	}

	require.Empty(t, v.Check(ctx, 3))

	warning := v.Check(ctx, 5)
	require.Contains(t, warning, "mismatch")
	require.Contains(t, warning, "grew by 3")
}
