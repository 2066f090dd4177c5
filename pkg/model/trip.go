// pkg/model/trip.go
package model

import "time"

// RawTripRecord is a trip row exactly as it came off the input source.
// Every field is an unparsed string; any of them may be empty or garbage.
type RawTripRecord struct {
	Line            int64 // 1-based data row number in the source, for diagnostics
	VendorCode      string
	PickupDatetime  string
	DropoffDatetime string
	PickupLat       string
	PickupLon       string
	DropoffLat      string
	DropoffLon      string
	PassengerCount  string
	TripDistance    string
	TripDuration    string
	FareAmount      string
	TipAmount       string
}

// CleanedTripRecord is a validated, typed trip ready for load.
// Derived ratio fields are pointers: nil means the denominator was zero,
// never Inf or NaN.
type CleanedTripRecord struct {
	Line                int64 // source row this record came from
	VendorCode          string
	PickupDatetime      time.Time
	DropoffDatetime     time.Time
	PickupLat           float64
	PickupLon           float64
	DropoffLat          float64
	DropoffLon          float64
	PassengerCount      int
	TripDistanceKM      float64
	TripDurationSeconds float64
	FareAmount          float64
	TipAmount           float64

	TripSpeedKMH *float64
	FarePerKM    *float64
	TipPct       *float64
	HourOfDay    int
	DayOfWeek    string
}

// Vendor is a reference entity resolved (or created) during load.
type Vendor struct {
	ID   int64  `db:"vendor_id"`
	Code string `db:"vendor_code"`
	Name string `db:"vendor_name"`
}

// Zone is a pre-seeded reference entity. Trips reference zones by a
// nullable foreign key; a trip is never lost because its zone is unknown.
type Zone struct {
	ID          int64   `db:"zone_id"`
	Name        string  `db:"zone_name"`
	Borough     string  `db:"borough"`
	CentroidLat float64 `db:"centroid_lat"`
	CentroidLon float64 `db:"centroid_lon"`
}

// DatetimeLayout is the canonical timestamp format used in the source data
// and in the sink (the fact table stores timestamps in this shape so the
// same comparisons work on every supported driver).
const DatetimeLayout = "2006-01-02 15:04:05"
