package core

import (
	"math"

	"github.com/signalsfoundry/drone-formation-sim/model"
)

// RadiusFeet returns the radius of the circle on which cfg.DroneCount drones
// sit cfg.SpacingFeet apart (chord length between neighbours). A formation of
// one drone, or a non-positive count, has radius zero.
func RadiusFeet(cfg model.FormationConfig) float64 {
	cfg = cfg.Normalized()
	if cfg.DroneCount <= 1 {
		return 0
	}
	angleStep := 2 * math.Pi / float64(cfg.DroneCount)
	return cfg.SpacingFeet / (2 * math.Sin(angleStep/2))
}

// FormationPositions lays cfg.DroneCount points evenly on a circle around
// center. Point 0 is due north of the center and the rest follow clockwise.
//
// The longitude scale depends on the center latitude and diverges near the
// poles; positions that end up non-finite or outside the valid coordinate
// range are left out of the result rather than corrected.
func FormationPositions(center model.GeoPoint, cfg model.FormationConfig) []model.GeoPoint {
	drones := NewFormation(center, cfg)
	out := make([]model.GeoPoint, 0, len(drones))
	for _, d := range drones {
		out = append(out, d.Position)
	}
	return out
}

// NewFormation is FormationPositions with each point wrapped in a DroneState.
// Indices are 1-based and follow the angular order; a dropped vertex leaves a
// gap instead of renumbering its neighbours.
func NewFormation(center model.GeoPoint, cfg model.FormationConfig) []model.DroneState {
	cfg = cfg.Normalized()
	if cfg.DroneCount == 1 {
		if !center.Valid() {
			return []model.DroneState{}
		}
		return []model.DroneState{{Index: 1, Position: center}}
	}

	radiusMeters := FeetToMeters(RadiusFeet(cfg))
	radiusLat := LatDegrees(radiusMeters)
	radiusLon := LonDegrees(radiusMeters, center.Latitude)
	angleStep := 2 * math.Pi / float64(cfg.DroneCount)

	drones := make([]model.DroneState, 0, cfg.DroneCount)
	for i := 0; i < cfg.DroneCount; i++ {
		bearing := float64(i) * angleStep
		pos := model.GeoPoint{
			Latitude:  center.Latitude + radiusLat*math.Cos(bearing),
			Longitude: center.Longitude + radiusLon*math.Sin(bearing),
		}
		if !pos.Valid() {
			continue
		}
		drones = append(drones, model.DroneState{Index: i + 1, Position: pos})
	}
	return drones
}
