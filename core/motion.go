package core

import (
	"time"

	"github.com/signalsfoundry/drone-formation-sim/model"
)

// diagonalFactor is applied to both axes for the intercardinal directions.
// It keeps the per-axis rate of a diagonal at 0.707 of a cardinal move; the
// combined ground speed is therefore close to, but not exactly, the
// configured speed.
const diagonalFactor = 0.707

var directionVectors = map[model.Direction][2]float64{
	model.North:     {1, 0},
	model.NorthEast: {diagonalFactor, diagonalFactor},
	model.East:      {0, 1},
	model.SouthEast: {-diagonalFactor, diagonalFactor},
	model.South:     {-1, 0},
	model.SouthWest: {-diagonalFactor, -diagonalFactor},
	model.West:      {0, -1},
	model.NorthWest: {diagonalFactor, -diagonalFactor},
}

// DirectionVector returns the (latFactor, lonFactor) pair for d.
// Unrecognised directions travel north.
func DirectionVector(d model.Direction) (latFactor, lonFactor float64) {
	v, ok := directionVectors[d]
	if !ok {
		v = directionVectors[model.North]
	}
	return v[0], v[1]
}

// DegreesPerMillisecond converts a ground speed to the angular rate applied
// on each axis.
func DegreesPerMillisecond(speedMph float64) float64 {
	metersPerSecond := speedMph * MetersPerSecondPerMph
	degreesPerSecond := metersPerSecond / MetersPerDegree
	return degreesPerSecond / 1000.0
}

// Displacement returns the latitude and longitude deltas covered in elapsed
// time at the configured speed and direction. Negative elapsed time moves
// nothing.
func Displacement(cfg model.MotionConfig, elapsed time.Duration) (latDelta, lonDelta float64) {
	if elapsed <= 0 || cfg.SpeedMph <= 0 {
		return 0, 0
	}
	elapsedMs := float64(elapsed) / float64(time.Millisecond)
	displacement := DegreesPerMillisecond(cfg.SpeedMph) * elapsedMs
	latFactor, lonFactor := DirectionVector(cfg.Direction)
	return displacement * latFactor, displacement * lonFactor
}

// Translate moves every drone by the same delta. Drones whose new position
// is not a valid coordinate are removed; the count of removed drones is
// returned alongside the survivors. The input slice is not modified.
func Translate(drones []model.DroneState, latDelta, lonDelta float64) ([]model.DroneState, int) {
	out := make([]model.DroneState, 0, len(drones))
	dropped := 0
	for _, d := range drones {
		d.Position = d.Position.Add(latDelta, lonDelta)
		if !d.Position.Valid() {
			dropped++
			continue
		}
		out = append(out, d)
	}
	return out, dropped
}

// MotionState is the integrator's run state.
type MotionState int

const (
	// Idle means ticks are ignored.
	Idle MotionState = iota
	// Running means ticks translate the formation.
	Running
)

func (s MotionState) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// MotionIntegrator advances a formation along a compass direction. It is
// driven from outside: a frame loop calls Tick with the frame timestamp, or
// Advance with an explicit elapsed delta. It is not safe for concurrent use;
// callers serialise access.
type MotionIntegrator struct {
	state    MotionState
	cfg      model.MotionConfig
	lastTick time.Time
	hasTick  bool
}

// NewMotionIntegrator returns an idle integrator using cfg's speed and
// direction. cfg.Moving is ignored; call Start to run.
func NewMotionIntegrator(cfg model.MotionConfig) *MotionIntegrator {
	m := &MotionIntegrator{}
	m.SetMotion(cfg.SpeedMph, cfg.Direction)
	return m
}

// State returns Idle or Running.
func (m *MotionIntegrator) State() MotionState {
	return m.state
}

// Config returns the active motion parameters with Moving reflecting State.
func (m *MotionIntegrator) Config() model.MotionConfig {
	cfg := m.cfg
	cfg.Moving = m.state == Running
	return cfg
}

// SetMotion changes speed and direction. While running the change applies
// from the next tick and the last-tick timestamp is kept.
func (m *MotionIntegrator) SetMotion(speedMph float64, dir model.Direction) {
	if speedMph < 0 {
		speedMph = 0
	}
	if !dir.Known() {
		dir = model.North
	}
	m.cfg.SpeedMph = speedMph
	m.cfg.Direction = dir
}

// Start moves Idle to Running and forgets the previous tick so the first
// tick afterwards does not jump. Starting a running integrator is a no-op.
func (m *MotionIntegrator) Start() {
	if m.state == Running {
		return
	}
	m.state = Running
	m.hasTick = false
	m.lastTick = time.Time{}
}

// Stop moves Running to Idle.
func (m *MotionIntegrator) Stop() {
	m.state = Idle
	m.hasTick = false
}

// Tick advances drones by the time since the previous tick. The first tick
// after Start only records now and returns drones unchanged. A timestamp
// earlier than the previous one counts as zero elapsed.
func (m *MotionIntegrator) Tick(now time.Time, drones []model.DroneState) ([]model.DroneState, int) {
	if m.state != Running {
		return drones, 0
	}
	if !m.hasTick {
		m.hasTick = true
		m.lastTick = now
		return drones, 0
	}
	elapsed := now.Sub(m.lastTick)
	if elapsed < 0 {
		elapsed = 0
	} else {
		m.lastTick = now
	}
	return m.Advance(drones, elapsed)
}

// Advance translates drones by the displacement covered in elapsed time.
// It does nothing while idle or for a non-positive elapsed time.
func (m *MotionIntegrator) Advance(drones []model.DroneState, elapsed time.Duration) ([]model.DroneState, int) {
	if m.state != Running || elapsed <= 0 {
		return drones, 0
	}
	latDelta, lonDelta := Displacement(m.cfg, elapsed)
	if latDelta == 0 && lonDelta == 0 {
		return drones, 0
	}
	return Translate(drones, latDelta, lonDelta)
}
