// pkg/query/repository.go

// Package query reads aggregates and trip pages back out of the sink. All
// SQL here is portable across the supported drivers: timestamps live as
// "YYYY-MM-DD HH:MM:SS" text so substr() gives day buckets everywhere, and
// spread statistics are finished in Go from raw sums.
package query

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Filter narrows a query to a date window and a distance band. Zero values
// mean unbounded. Dates are inclusive calendar days ("2006-01-02").
type Filter struct {
	StartDate   string
	EndDate     string
	MinDistance float64
	MaxDistance float64
}

func (f Filter) clauses() ([]string, []interface{}) {
	var where []string
	var args []interface{}
	if f.StartDate != "" {
		where = append(where, "pickup_datetime >= ?")
		args = append(args, f.StartDate+" 00:00:00")
	}
	if f.EndDate != "" {
		where = append(where, "pickup_datetime <= ?")
		args = append(args, f.EndDate+" 23:59:59")
	}
	if f.MinDistance > 0 {
		where = append(where, "trip_distance_km >= ?")
		args = append(args, f.MinDistance)
	}
	if f.MaxDistance > 0 {
		where = append(where, "trip_distance_km <= ?")
		args = append(args, f.MaxDistance)
	}
	return where, args
}

// Repository runs read queries against one trips table.
type Repository struct {
	db     *sqlx.DB
	table  string
	logger *zap.Logger
}

// NewRepository builds a repository over an open connection.
func NewRepository(db *sqlx.DB, table string) *Repository {
	return &Repository{
		db:     db,
		table:  table,
		logger: zap.L().Named("query"),
	}
}

// TripCount returns the total number of loaded trips.
func (r *Repository) TripCount(ctx context.Context) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", r.table)
	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("failed to count trips: %w", err)
	}
	return count, nil
}

// Summary is the headline aggregate over the whole table (or a filter).
type Summary struct {
	TotalTrips     int64    `db:"total_trips" json:"total_trips"`
	AvgFare        *float64 `db:"avg_fare" json:"avg_fare"`
	AvgDistanceKM  *float64 `db:"avg_distance_km" json:"avg_distance_km"`
	AvgDurationSec *float64 `db:"avg_duration_seconds" json:"avg_duration_seconds"`
	AvgSpeedKMH    *float64 `db:"avg_speed_kmh" json:"avg_speed_kmh"`
	AvgTipPct      *float64 `db:"avg_tip_pct" json:"avg_tip_pct"`
	TotalRevenue   *float64 `db:"total_revenue" json:"total_revenue"`
}

// Summarize computes the headline aggregates.
func (r *Repository) Summarize(ctx context.Context, f Filter) (*Summary, error) {
	where, args := f.clauses()
	query := fmt.Sprintf(`
		SELECT
			COUNT(*) AS total_trips,
			AVG(fare_amount) AS avg_fare,
			AVG(trip_distance_km) AS avg_distance_km,
			AVG(trip_duration_seconds) AS avg_duration_seconds,
			AVG(trip_speed_kmh) AS avg_speed_kmh,
			AVG(tip_pct) AS avg_tip_pct,
			SUM(fare_amount + tip_amount) AS total_revenue
		FROM %s %s`, r.table, whereSQL(where))

	var s Summary
	if err := r.db.GetContext(ctx, &s, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to summarize trips: %w", err)
	}
	roundPtrs(2, &s.AvgFare, &s.AvgDistanceKM, &s.AvgDurationSec, &s.AvgSpeedKMH, &s.AvgTipPct, &s.TotalRevenue)
	return &s, nil
}

// TimeSeriesPoint is one bucket of the trips-over-time series.
type TimeSeriesPoint struct {
	Period   string   `db:"period" json:"period"`
	Trips    int64    `db:"trips" json:"trips"`
	AvgFare  *float64 `db:"avg_fare" json:"avg_fare"`
	TotalKM  *float64 `db:"total_km" json:"total_km"`
	AvgSpeed *float64 `db:"avg_speed" json:"avg_speed"`
}

// TimeSeries buckets trips by calendar day or by hour of day.
func (r *Repository) TimeSeries(ctx context.Context, f Filter, granularity string) ([]TimeSeriesPoint, error) {
	var bucket string
	switch granularity {
	case "hour":
		bucket = "hour_of_day"
	case "day", "":
		// Timestamps are stored as text; the first 10 bytes are the day.
		bucket = "substr(pickup_datetime, 1, 10)"
	default:
		return nil, fmt.Errorf("unsupported granularity %q", granularity)
	}

	where, args := f.clauses()
	query := fmt.Sprintf(`
		SELECT
			%s AS period,
			COUNT(*) AS trips,
			AVG(fare_amount) AS avg_fare,
			SUM(trip_distance_km) AS total_km,
			AVG(trip_speed_kmh) AS avg_speed
		FROM %s %s
		GROUP BY period
		ORDER BY period`, bucket, r.table, whereSQL(where))

	var points []TimeSeriesPoint
	if err := r.db.SelectContext(ctx, &points, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to build time series: %w", err)
	}
	for i := range points {
		roundPtrs(2, &points[i].AvgFare, &points[i].TotalKM, &points[i].AvgSpeed)
	}
	return points, nil
}

// Hotspot is a pickup cell on a ~100m coordinate grid.
type Hotspot struct {
	Lat     float64  `db:"lat" json:"lat"`
	Lon     float64  `db:"lon" json:"lon"`
	Trips   int64    `db:"trips" json:"trips"`
	AvgFare *float64 `db:"avg_fare" json:"avg_fare"`
}

// Hotspots returns the busiest pickup grid cells, optionally restricted to a
// pickup-hour window (inclusive start, exclusive end; pass -1, -1 for all).
func (r *Repository) Hotspots(ctx context.Context, f Filter, limit, hourFrom, hourTo int) ([]Hotspot, error) {
	if limit <= 0 {
		limit = 20
	}
	where, args := f.clauses()
	if hourFrom >= 0 && hourTo > hourFrom {
		where = append(where, "hour_of_day >= ? AND hour_of_day < ?")
		args = append(args, hourFrom, hourTo)
	}

	query := fmt.Sprintf(`
		SELECT
			ROUND(CAST(pickup_lat AS NUMERIC), 3) AS lat,
			ROUND(CAST(pickup_lon AS NUMERIC), 3) AS lon,
			COUNT(*) AS trips,
			AVG(fare_amount) AS avg_fare
		FROM %s %s
		GROUP BY lat, lon
		ORDER BY trips DESC
		LIMIT %d`, r.table, whereSQL(where), limit)

	var cells []Hotspot
	if err := r.db.SelectContext(ctx, &cells, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to compute hotspots: %w", err)
	}
	for i := range cells {
		roundPtrs(2, &cells[i].AvgFare)
	}
	return cells, nil
}

// FareStats describes the fare distribution for one hour-of-day bucket.
type FareStats struct {
	HourOfDay int      `db:"hour_of_day" json:"hour_of_day"`
	Trips     int64    `db:"trips" json:"trips"`
	AvgFare   *float64 `db:"avg_fare" json:"avg_fare"`
	MinFare   *float64 `db:"min_fare" json:"min_fare"`
	MaxFare   *float64 `db:"max_fare" json:"max_fare"`
	StddevPop *float64 `json:"stddev_fare"`

	SumFare   float64 `db:"sum_fare" json:"-"`
	SumFareSq float64 `db:"sum_fare_sq" json:"-"`
}

// FareStatsByHour computes per-hour fare statistics. The population standard
// deviation is finished in Go from SUM(x) and SUM(x*x) so the same query runs
// on every driver.
func (r *Repository) FareStatsByHour(ctx context.Context, f Filter) ([]FareStats, error) {
	where, args := f.clauses()
	query := fmt.Sprintf(`
		SELECT
			hour_of_day,
			COUNT(*) AS trips,
			AVG(fare_amount) AS avg_fare,
			MIN(fare_amount) AS min_fare,
			MAX(fare_amount) AS max_fare,
			SUM(fare_amount) AS sum_fare,
			SUM(fare_amount * fare_amount) AS sum_fare_sq
		FROM %s %s
		GROUP BY hour_of_day
		ORDER BY hour_of_day`, r.table, whereSQL(where))

	var stats []FareStats
	if err := r.db.SelectContext(ctx, &stats, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to compute fare stats: %w", err)
	}
	for i := range stats {
		s := &stats[i]
		if s.Trips > 0 {
			n := float64(s.Trips)
			variance := s.SumFareSq/n - math.Pow(s.SumFare/n, 2)
			if variance < 0 {
				variance = 0
			}
			sd := round(math.Sqrt(variance), 2)
			s.StddevPop = &sd
		}
		roundPtrs(2, &s.AvgFare, &s.MinFare, &s.MaxFare)
	}
	return stats, nil
}

// Route is a rounded pickup/dropoff cell pair.
type Route struct {
	PickupLat  float64  `db:"pickup_lat" json:"pickup_lat"`
	PickupLon  float64  `db:"pickup_lon" json:"pickup_lon"`
	DropoffLat float64  `db:"dropoff_lat" json:"dropoff_lat"`
	DropoffLon float64  `db:"dropoff_lon" json:"dropoff_lon"`
	Trips      int64    `db:"trips" json:"trips"`
	AvgFare    *float64 `db:"avg_fare" json:"avg_fare"`
	AvgKM      *float64 `db:"avg_km" json:"avg_km"`
}

// TopRoutes returns the most travelled grid-cell pairs.
func (r *Repository) TopRoutes(ctx context.Context, f Filter, limit int) ([]Route, error) {
	if limit <= 0 {
		limit = 10
	}
	where, args := f.clauses()
	query := fmt.Sprintf(`
		SELECT
			ROUND(CAST(pickup_lat AS NUMERIC), 3) AS pickup_lat,
			ROUND(CAST(pickup_lon AS NUMERIC), 3) AS pickup_lon,
			ROUND(CAST(dropoff_lat AS NUMERIC), 3) AS dropoff_lat,
			ROUND(CAST(dropoff_lon AS NUMERIC), 3) AS dropoff_lon,
			COUNT(*) AS trips,
			AVG(fare_amount) AS avg_fare,
			AVG(trip_distance_km) AS avg_km
		FROM %s %s
		GROUP BY pickup_lat, pickup_lon, dropoff_lat, dropoff_lon
		ORDER BY trips DESC
		LIMIT %d`, r.table, whereSQL(where), limit)

	var routes []Route
	if err := r.db.SelectContext(ctx, &routes, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to compute top routes: %w", err)
	}
	for i := range routes {
		roundPtrs(2, &routes[i].AvgFare, &routes[i].AvgKM)
	}
	return routes, nil
}

// Trip is one fact row as served by the API.
type Trip struct {
	ID                  int64    `db:"id" json:"id"`
	PickupDatetime      string   `db:"pickup_datetime" json:"pickup_datetime"`
	DropoffDatetime     string   `db:"dropoff_datetime" json:"dropoff_datetime"`
	PickupLat           float64  `db:"pickup_lat" json:"pickup_lat"`
	PickupLon           float64  `db:"pickup_lon" json:"pickup_lon"`
	DropoffLat          float64  `db:"dropoff_lat" json:"dropoff_lat"`
	DropoffLon          float64  `db:"dropoff_lon" json:"dropoff_lon"`
	PassengerCount      int      `db:"passenger_count" json:"passenger_count"`
	TripDistanceKM      float64  `db:"trip_distance_km" json:"trip_distance_km"`
	TripDurationSeconds float64  `db:"trip_duration_seconds" json:"trip_duration_seconds"`
	FareAmount          float64  `db:"fare_amount" json:"fare_amount"`
	TipAmount           float64  `db:"tip_amount" json:"tip_amount"`
	TripSpeedKMH        *float64 `db:"trip_speed_kmh" json:"trip_speed_kmh"`
	FarePerKM           *float64 `db:"fare_per_km" json:"fare_per_km"`
	TipPct              *float64 `db:"tip_pct" json:"tip_pct"`
	HourOfDay           int      `db:"hour_of_day" json:"hour_of_day"`
	DayOfWeek           string   `db:"day_of_week" json:"day_of_week"`
}

// TripPage is a page of trips plus the total matching count.
type TripPage struct {
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
	Total int64  `json:"total"`
	Rows  []Trip `json:"rows"`
}

// Trips serves a filtered, paginated slice of the fact table.
func (r *Repository) Trips(ctx context.Context, f Filter, page, limit int) (*TripPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	where, args := f.clauses()

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", r.table, whereSQL(where))
	if err := r.db.GetContext(ctx, &total, r.db.Rebind(countQuery), args...); err != nil {
		return nil, fmt.Errorf("failed to count matching trips: %w", err)
	}

	cols := strings.Join([]string{
		"id", "pickup_datetime", "dropoff_datetime",
		"pickup_lat", "pickup_lon", "dropoff_lat", "dropoff_lon",
		"passenger_count", "trip_distance_km", "trip_duration_seconds",
		"fare_amount", "tip_amount",
		"trip_speed_kmh", "fare_per_km", "tip_pct",
		"hour_of_day", "day_of_week",
	}, ", ")
	query := fmt.Sprintf(`
		SELECT %s FROM %s %s
		ORDER BY pickup_datetime, id
		LIMIT %d OFFSET %d`, cols, r.table, whereSQL(where), limit, (page-1)*limit)

	rows := make([]Trip, 0, limit)
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to page trips: %w", err)
	}

	return &TripPage{Page: page, Limit: limit, Total: total, Rows: rows}, nil
}

// Insights bundles the rush-hour picture: the busiest hours plus the morning
// and evening pickup hotspots.
type Insights struct {
	BusiestHours    []TimeSeriesPoint `json:"busiest_hours"`
	MorningHotspots []Hotspot         `json:"morning_hotspots"`
	EveningHotspots []Hotspot         `json:"evening_hotspots"`
}

// RushHourInsights computes the insight bundle. Morning is 07:00-09:59,
// evening is 17:00-19:59.
func (r *Repository) RushHourInsights(ctx context.Context, f Filter) (*Insights, error) {
	hours, err := r.TimeSeries(ctx, f, "hour")
	if err != nil {
		return nil, err
	}
	// Top five hours by volume.
	busiest := make([]TimeSeriesPoint, len(hours))
	copy(busiest, hours)
	sort.Slice(busiest, func(i, j int) bool { return busiest[i].Trips > busiest[j].Trips })
	busiest = lo.Slice(busiest, 0, 5)

	morning, err := r.Hotspots(ctx, f, 10, 7, 10)
	if err != nil {
		return nil, err
	}
	evening, err := r.Hotspots(ctx, f, 10, 17, 20)
	if err != nil {
		return nil, err
	}

	return &Insights{
		BusiestHours:    busiest,
		MorningHotspots: morning,
		EveningHotspots: evening,
	}, nil
}

func whereSQL(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(clauses, " AND ")
}

func round(v float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Round(v*scale) / scale
}

func roundPtrs(places int, ptrs ...**float64) {
	for _, p := range ptrs {
		if *p != nil {
			r := round(**p, places)
			*p = &r
		}
	}
}
