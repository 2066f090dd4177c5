// pkg/validate/validator.go
package validate

import (
	"strconv"
	"strings"
	"time"

	"github.com/urbanmetrics/trip-ingress/pkg/geo"
	"github.com/urbanmetrics/trip-ingress/pkg/model"
)

const milesToKM = 1.60934

// Bounds carries every threshold the rule chain checks. Zero values are not
// meaningful; construct with DefaultBounds and override fields as needed.
type Bounds struct {
	BBox geo.BoundingBox

	EarliestDatetime time.Time
	LatestDatetime   time.Time

	MinPassengers int
	MaxPassengers int

	MinFare float64
	MaxFare float64

	MinDistanceKM      float64
	MaxDistanceKM      float64
	MaxDurationSeconds float64
	MaxSpeedKMH        float64
}

// DefaultBounds returns the NYC service-area thresholds. Zero passengers and
// zero fares are legitimate (voided meters, comped rides); only negative
// values are data errors.
func DefaultBounds() Bounds {
	return Bounds{
		BBox: geo.BoundingBox{
			MinLat: 40.40, MaxLat: 40.95,
			MinLon: -74.35, MaxLon: -73.70,
		},
		EarliestDatetime:   time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		LatestDatetime:     time.Date(2035, 1, 1, 0, 0, 0, 0, time.UTC),
		MinPassengers:      0,
		MaxPassengers:      8,
		MinFare:            0,
		MaxFare:            1000.0,
		MinDistanceKM:      0.05,
		MaxDistanceKM:      200.0,
		MaxDurationSeconds: 86400.0,
		MaxSpeedKMH:        200.0,
	}
}

// Validator applies the fixed rule chain to raw records. It is stateless and
// safe for concurrent use.
type Validator struct {
	bounds            Bounds
	useSourceDistance bool
	distanceUnit      string
}

// Option configures a Validator.
type Option func(*Validator)

// WithBounds overrides the default thresholds.
func WithBounds(b Bounds) Option {
	return func(v *Validator) { v.bounds = b }
}

// WithDistanceUnit sets the unit of the source's trip_distance column,
// "km" or "mi". Distances are always stored in kilometers.
func WithDistanceUnit(unit string) Option {
	return func(v *Validator) { v.distanceUnit = strings.ToLower(unit) }
}

// WithSourceDistance controls whether the source's trip_distance column is
// trusted when present. When false the distance is always recomputed from
// the coordinates.
func WithSourceDistance(use bool) Option {
	return func(v *Validator) { v.useSourceDistance = use }
}

// NewValidator builds a Validator with default bounds, km distances, and
// source distances trusted.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		bounds:            DefaultBounds(),
		useSourceDistance: true,
		distanceUnit:      "km",
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs the rule chain over one raw record. On success it returns
// the typed record and ReasonNone; on failure the record is the zero value
// and the reason names the first rule that fired. The same input always
// yields the same output.
func (v *Validator) Validate(raw model.RawTripRecord) (model.CleanedTripRecord, Reason) {
	var rec model.CleanedTripRecord

	// Rule 1: required fields present and parseable.
	pickup, ok := parseTime(raw.PickupDatetime)
	if !ok {
		return rec, ReasonMissingOrUnparseable
	}
	dropoff, ok := parseTime(raw.DropoffDatetime)
	if !ok {
		return rec, ReasonMissingOrUnparseable
	}
	pickupLat, ok := parseFloat(raw.PickupLat)
	if !ok {
		return rec, ReasonMissingOrUnparseable
	}
	pickupLon, ok := parseFloat(raw.PickupLon)
	if !ok {
		return rec, ReasonMissingOrUnparseable
	}
	dropoffLat, ok := parseFloat(raw.DropoffLat)
	if !ok {
		return rec, ReasonMissingOrUnparseable
	}
	dropoffLon, ok := parseFloat(raw.DropoffLon)
	if !ok {
		return rec, ReasonMissingOrUnparseable
	}
	passengers, ok := parseInt(raw.PassengerCount)
	if !ok {
		return rec, ReasonMissingOrUnparseable
	}
	fare, ok := parseFloat(raw.FareAmount)
	if !ok {
		return rec, ReasonMissingOrUnparseable
	}

	// Tip is optional; absent or unparseable means zero.
	tip, ok := parseFloat(raw.TipAmount)
	if !ok {
		tip = 0
	}

	// Rule 2: temporal sanity. Dropoff equal to pickup is allowed here;
	// zero-duration trips are rule 6's concern. Both timestamps must sit
	// inside the plausible date range.
	if dropoff.Before(pickup) {
		return rec, ReasonInvalidTimeRange
	}
	if pickup.Before(v.bounds.EarliestDatetime) || pickup.After(v.bounds.LatestDatetime) ||
		dropoff.Before(v.bounds.EarliestDatetime) || dropoff.After(v.bounds.LatestDatetime) {
		return rec, ReasonInvalidTimeRange
	}

	// Rule 3: spatial sanity. Both endpoints must sit inside the service area.
	if !v.bounds.BBox.Contains(pickupLat, pickupLon) ||
		!v.bounds.BBox.Contains(dropoffLat, dropoffLon) {
		return rec, ReasonOutOfBounds
	}

	// Rule 4: passenger count.
	if passengers < v.bounds.MinPassengers || passengers > v.bounds.MaxPassengers {
		return rec, ReasonInvalidPassengerCount
	}

	// Rule 5: fare.
	if fare < v.bounds.MinFare || fare > v.bounds.MaxFare || tip < 0 {
		return rec, ReasonInvalidFare
	}

	// Distance in kilometers: the source column if trusted and present,
	// otherwise haversine over the endpoints.
	distanceKM := v.distance(raw, pickupLat, pickupLon, dropoffLat, dropoffLon)

	// Duration in seconds: the source column if present, otherwise the
	// timestamp delta.
	duration, ok := parseFloat(raw.TripDuration)
	if !ok || duration < 0 {
		duration = dropoff.Sub(pickup).Seconds()
	}

	// Rule 6: physical plausibility.
	if reason := v.checkDegenerate(distanceKM, duration); reason != ReasonNone {
		return rec, reason
	}

	rec = model.CleanedTripRecord{
		Line:                raw.Line,
		VendorCode:          raw.VendorCode,
		PickupDatetime:      pickup,
		DropoffDatetime:     dropoff,
		PickupLat:           pickupLat,
		PickupLon:           pickupLon,
		DropoffLat:          dropoffLat,
		DropoffLon:          dropoffLon,
		PassengerCount:      passengers,
		TripDistanceKM:      distanceKM,
		TripDurationSeconds: duration,
		FareAmount:          fare,
		TipAmount:           tip,
	}
	return rec, ReasonNone
}

func (v *Validator) distance(raw model.RawTripRecord, pLat, pLon, dLat, dLon float64) float64 {
	if v.useSourceDistance {
		if d, ok := parseFloat(raw.TripDistance); ok && d >= 0 {
			if v.distanceUnit == "mi" {
				d *= milesToKM
			}
			return d
		}
	}
	return geo.HaversineKM(pLat, pLon, dLat, dLon)
}

func (v *Validator) checkDegenerate(distanceKM, duration float64) Reason {
	switch {
	case distanceKM < 0 || distanceKM > v.bounds.MaxDistanceKM:
		return ReasonDegenerateTrip
	case duration > v.bounds.MaxDurationSeconds:
		return ReasonDegenerateTrip
	case distanceKM > 0 && distanceKM < v.bounds.MinDistanceKM:
		return ReasonDegenerateTrip
	case distanceKM == 0 && duration == 0:
		return ReasonDegenerateTrip
	case duration > 0 && (distanceKM/duration)*3600 > v.bounds.MaxSpeedKMH:
		return ReasonDegenerateTrip
	}
	return ReasonNone
}

var timeLayouts = []string{
	model.DatetimeLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"01/02/2006 15:04:05",
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func parseInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	// Some feeds emit passenger_count as "1.0".
	if i, err := strconv.Atoi(s); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}
