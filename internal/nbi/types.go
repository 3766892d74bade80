package nbi

import (
	"fmt"

	sim "github.com/signalsfoundry/drone-formation-sim/internal/sim/state"
	"github.com/signalsfoundry/drone-formation-sim/model"
	"google.golang.org/protobuf/types/known/structpb"
)

// FormationView is the control surface's picture of the swarm, shared by
// server responses and the Go client.
type FormationView struct {
	Center     model.GeoPoint
	HasCenter  bool
	Address    string
	Fallback   bool
	Formation  model.FormationConfig
	RadiusFeet float64
	Motion     model.MotionConfig
	Drones     []model.DroneState
	Session    string
}

// ViewFromSnapshot converts a state snapshot into a FormationView.
func ViewFromSnapshot(snap sim.Snapshot) FormationView {
	return FormationView{
		Center:     snap.Center,
		HasCenter:  snap.HasCenter,
		Address:    snap.Address,
		Fallback:   snap.Fallback,
		Formation:  snap.Formation,
		RadiusFeet: snap.RadiusFeet,
		Motion:     snap.Motion,
		Drones:     snap.Drones,
		Session:    snap.Session,
	}
}

// ToStruct encodes v as a structpb.Struct.
func (v FormationView) ToStruct() (*structpb.Struct, error) {
	drones := make([]interface{}, 0, len(v.Drones))
	for _, d := range v.Drones {
		drones = append(drones, map[string]interface{}{
			"index":     d.Index,
			"latitude":  d.Position.Latitude,
			"longitude": d.Position.Longitude,
		})
	}
	fields := map[string]interface{}{
		"drone_count":  v.Formation.DroneCount,
		"spacing_feet": v.Formation.SpacingFeet,
		"radius_feet":  v.RadiusFeet,
		"moving":       v.Motion.Moving,
		"speed_mph":    v.Motion.SpeedMph,
		"direction":    string(v.Motion.Direction),
		"session":      v.Session,
		"drones":       drones,
	}
	if v.HasCenter {
		fields["center"] = map[string]interface{}{
			"latitude":  v.Center.Latitude,
			"longitude": v.Center.Longitude,
			"address":   v.Address,
			"fallback":  v.Fallback,
		}
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode formation: %w", err)
	}
	return out, nil
}

// FormationViewFromStruct decodes a structpb.Struct produced by ToStruct.
func FormationViewFromStruct(in *structpb.Struct) (FormationView, error) {
	r := newRequest(in)
	var v FormationView
	var err error

	if v.Formation.DroneCount, _, err = r.integer("drone_count"); err != nil {
		return v, err
	}
	if v.Formation.SpacingFeet, _, err = r.number("spacing_feet"); err != nil {
		return v, err
	}
	if v.RadiusFeet, _, err = r.number("radius_feet"); err != nil {
		return v, err
	}
	if v.Motion.SpeedMph, _, err = r.number("speed_mph"); err != nil {
		return v, err
	}
	dir, _, err := r.str("direction")
	if err != nil {
		return v, err
	}
	v.Motion.Direction = model.ParseDirection(dir)
	v.Motion.Moving = in.GetFields()["moving"].GetBoolValue()
	v.Session = in.GetFields()["session"].GetStringValue()

	if c := in.GetFields()["center"].GetStructValue(); c != nil {
		cr := newRequest(c)
		v.HasCenter = true
		if v.Center.Latitude, _, err = cr.number("latitude"); err != nil {
			return v, err
		}
		if v.Center.Longitude, _, err = cr.number("longitude"); err != nil {
			return v, err
		}
		v.Address = c.GetFields()["address"].GetStringValue()
		v.Fallback = c.GetFields()["fallback"].GetBoolValue()
	}

	list := in.GetFields()["drones"].GetListValue()
	v.Drones = make([]model.DroneState, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		dr := newRequest(item.GetStructValue())
		idx, _, err := dr.integer("index")
		if err != nil {
			return v, fmt.Errorf("drone %d: %w", i, err)
		}
		lat, _, err := dr.number("latitude")
		if err != nil {
			return v, fmt.Errorf("drone %d: %w", i, err)
		}
		lon, _, err := dr.number("longitude")
		if err != nil {
			return v, fmt.Errorf("drone %d: %w", i, err)
		}
		v.Drones = append(v.Drones, model.DroneState{
			Index:    idx,
			Position: model.GeoPoint{Latitude: lat, Longitude: lon},
		})
	}
	return v, nil
}
