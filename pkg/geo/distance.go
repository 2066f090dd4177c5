// pkg/geo/distance.go
package geo

import "github.com/golang/geo/s2"

// EarthRadiusKM is Earth's mean radius in kilometers.
const EarthRadiusKM = 6371.0

// HaversineKM returns the great-circle distance between two coordinates
// in kilometers.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusKM
}

// BoundingBox is a lat/lon rectangle used for coordinate sanity checks.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Contains reports whether the coordinate falls inside the box (inclusive).
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}
