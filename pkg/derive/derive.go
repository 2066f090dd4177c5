// pkg/derive/derive.go

// Package derive computes the analytical columns appended to every cleaned
// trip before load. Ratio features are nil when the denominator is zero;
// Inf and NaN never reach the sink.
package derive

import "github.com/urbanmetrics/trip-ingress/pkg/model"

// Features fills the derived fields of rec in place.
func Features(rec *model.CleanedTripRecord) {
	rec.TripSpeedKMH = safeDiv(rec.TripDistanceKM*3600, rec.TripDurationSeconds)
	rec.FarePerKM = safeDiv(rec.FareAmount, rec.TripDistanceKM)
	rec.TipPct = safeDiv(rec.TipAmount*100, rec.FareAmount)
	rec.HourOfDay = rec.PickupDatetime.Hour()
	rec.DayOfWeek = rec.PickupDatetime.Weekday().String()
}

func safeDiv(num, den float64) *float64 {
	if den == 0 {
		return nil
	}
	v := num / den
	return &v
}
