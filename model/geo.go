package model

import (
	"fmt"
	"math"
)

// GeoPoint is a WGS84 coordinate in decimal degrees.
type GeoPoint struct {
	Longitude float64
	Latitude  float64
}

// DefaultCenter is the reference location used whenever an address cannot be
// resolved (downtown Kansas City, MO).
var DefaultCenter = GeoPoint{Longitude: -94.5786, Latitude: 39.0997}

// Valid reports whether both coordinates are finite and inside
// longitude [-180,180] and latitude [-90,90].
func (p GeoPoint) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsInf(p.Latitude, 0) {
		return false
	}
	if math.IsNaN(p.Longitude) || math.IsInf(p.Longitude, 0) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}

// Add returns p translated by the given degree deltas.
func (p GeoPoint) Add(latDelta, lonDelta float64) GeoPoint {
	return GeoPoint{
		Longitude: p.Longitude + lonDelta,
		Latitude:  p.Latitude + latDelta,
	}
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Latitude, p.Longitude)
}
