package model

// FormationConfig drives the circle a swarm is laid out on.
// SpacingFeet is the chord distance between adjacent drones.
type FormationConfig struct {
	DroneCount  int
	SpacingFeet float64
}

// DefaultFormation mirrors the control panel defaults.
var DefaultFormation = FormationConfig{DroneCount: 8, SpacingFeet: 100}

// MaxDroneCount bounds the size of one formation.
const MaxDroneCount = 10000

// Normalized returns cfg with a non-positive drone count treated as one and
// the count capped at MaxDroneCount.
func (cfg FormationConfig) Normalized() FormationConfig {
	switch {
	case cfg.DroneCount < 1:
		cfg.DroneCount = 1
	case cfg.DroneCount > MaxDroneCount:
		cfg.DroneCount = MaxDroneCount
	}
	return cfg
}

// DroneState is one drone of the current formation. Index is 1-based and
// stable for the lifetime of the formation; Position is updated in place on
// every motion tick.
type DroneState struct {
	Index    int
	Position GeoPoint
}

// CloneDrones returns a copy of drones that callers may mutate freely.
func CloneDrones(drones []DroneState) []DroneState {
	if drones == nil {
		return nil
	}
	out := make([]DroneState, len(drones))
	copy(out, drones)
	return out
}
