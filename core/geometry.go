package core

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/signalsfoundry/drone-formation-sim/model"
)

const (
	// FeetPerMeter converts metres to feet.
	FeetPerMeter = 3.28084
	// MetersPerDegree is the length of one degree of latitude (and of
	// longitude at the equator) used by every conversion in this package.
	MetersPerDegree = 111320.0
	// MetersPerSecondPerMph converts miles per hour to metres per second.
	MetersPerSecondPerMph = 0.44704
)

// FeetToMeters converts a length in feet to metres.
func FeetToMeters(feet float64) float64 {
	return feet / FeetPerMeter
}

// LatDegrees returns the latitude span, in degrees, of a north-south
// distance in metres.
func LatDegrees(meters float64) float64 {
	return meters / MetersPerDegree
}

// LonDegrees returns the longitude span, in degrees, of an east-west distance
// in metres at the given latitude. The scale grows without bound towards the
// poles; callers get +Inf or very large values there and are expected to
// discard the resulting positions.
func LonDegrees(meters, latitude float64) float64 {
	return meters / (MetersPerDegree * math.Cos(latitude*math.Pi/180.0))
}

// DistanceMeters returns the great-circle distance between two points.
func DistanceMeters(a, b model.GeoPoint) float64 {
	return geo.DistanceHaversine(toOrb(a), toOrb(b))
}

// DistanceFeet is DistanceMeters expressed in feet.
func DistanceFeet(a, b model.GeoPoint) float64 {
	return DistanceMeters(a, b) * FeetPerMeter
}

func toOrb(p model.GeoPoint) orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}
