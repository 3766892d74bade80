// Package mapfeed publishes the swarm to map renderers as GeoJSON, both as a
// snapshot endpoint and as a WebSocket stream.
package mapfeed

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	sim "github.com/signalsfoundry/drone-formation-sim/internal/sim/state"
	"github.com/signalsfoundry/drone-formation-sim/model"
)

// Feature kinds carried in the "kind" property.
const (
	KindReference = "reference"
	KindDrone     = "drone"
)

// FeatureCollection renders the reference point and the drones as GeoJSON
// Point features. Without a center the collection is empty.
func FeatureCollection(center model.GeoPoint, hasCenter bool, drones []model.DroneState) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if !hasCenter {
		return fc
	}

	ref := geojson.NewFeature(toPoint(center))
	ref.Properties["kind"] = KindReference
	fc.Append(ref)

	for _, d := range drones {
		f := geojson.NewFeature(toPoint(d.Position))
		f.ID = d.Index
		f.Properties["kind"] = KindDrone
		f.Properties["index"] = d.Index
		fc.Append(f)
	}
	return fc
}

// FromSnapshot renders a full swarm snapshot, adding the formation and
// motion settings as foreign members of the collection.
func FromSnapshot(snap sim.Snapshot) *geojson.FeatureCollection {
	fc := FeatureCollection(snap.Center, snap.HasCenter, snap.Drones)
	fc.ExtraMembers = geojson.Properties{
		"session":      snap.Session,
		"drone_count":  snap.Formation.DroneCount,
		"spacing_feet": snap.Formation.SpacingFeet,
		"radius_feet":  snap.RadiusFeet,
		"moving":       snap.Motion.Moving,
		"speed_mph":    snap.Motion.SpeedMph,
		"direction":    string(snap.Motion.Direction),
	}
	if snap.Address != "" {
		fc.ExtraMembers["address"] = snap.Address
	}
	return fc
}

func toPoint(p model.GeoPoint) orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}
