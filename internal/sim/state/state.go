// internal/sim/state/state.go
package state

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/signalsfoundry/drone-formation-sim/core"
	"github.com/signalsfoundry/drone-formation-sim/internal/geocode"
	"github.com/signalsfoundry/drone-formation-sim/internal/logging"
	"github.com/signalsfoundry/drone-formation-sim/kb"
	"github.com/signalsfoundry/drone-formation-sim/model"
	"github.com/signalsfoundry/drone-formation-sim/timectrl"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/signalsfoundry/drone-formation-sim/internal/sim/state"

var (
	// ErrCenterPending indicates no reference point has been set yet, so
	// there is no formation to move or rebuild.
	ErrCenterPending = errors.New("reference point not set")
	// ErrInvalidCenter indicates a non-finite or out-of-range center.
	ErrInvalidCenter = errors.New("invalid center")
	// ErrInvalidFormation indicates an unusable formation config.
	ErrInvalidFormation = errors.New("invalid formation")
	// ErrInvalidMotion indicates an unusable motion config.
	ErrInvalidMotion = errors.New("invalid motion")
)

// SwarmMetricsRecorder receives swarm-level observations.
type SwarmMetricsRecorder interface {
	SetSwarmCounts(drones int, moving bool)
	ObserveFrame(dropped int)
	ObserveFormationBuild(dropped int)
}

// SwarmState coordinates the reference point, the formation held in the
// knowledge base, the motion integrator, and the frame clock.
//
// Lock ordering: ctlMu -> mu -> KB locks. Control operations hold ctlMu for
// their whole duration so clock start/stop never interleave. Frames take only
// mu, which is always released before waiting on the clock.
type SwarmState struct {
	ctlMu sync.Mutex
	mu    sync.Mutex

	swarmKB    *kb.KnowledgeBase
	integrator *core.MotionIntegrator
	resolver   *geocode.Resolver

	// clock is optional; without one frames must be fed through OnFrame.
	clock   *timectrl.FrameClock
	baseCtx context.Context

	formation model.FormationConfig
	center    model.GeoPoint
	hasCenter bool
	address   string
	fallback  bool

	// generation is bumped on every Start, Stop and rebuild. A frame loop
	// started under an older generation is ignored.
	generation uint64
	session    string

	log      logging.Logger
	metrics  SwarmMetricsRecorder
	onChange func()
}

// Snapshot is a consistent copy of the swarm.
type Snapshot struct {
	Center     model.GeoPoint
	HasCenter  bool
	Address    string
	Fallback   bool
	Formation  model.FormationConfig
	RadiusFeet float64
	Motion     model.MotionConfig
	Drones     []model.DroneState
	Session    string
	Generation uint64
}

// SwarmStateOption customises SwarmState construction.
type SwarmStateOption func(*SwarmState)

// WithFrameClock attaches the clock that drives motion frames.
func WithFrameClock(fc *timectrl.FrameClock) SwarmStateOption {
	return func(s *SwarmState) {
		s.clock = fc
	}
}

// WithResolver attaches the geocoding resolver used by SetAddress.
func WithResolver(r *geocode.Resolver) SwarmStateOption {
	return func(s *SwarmState) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m SwarmMetricsRecorder) SwarmStateOption {
	return func(s *SwarmState) {
		s.metrics = m
	}
}

// WithChangeNotifier registers fn to be called, outside every lock, after a
// control operation changes state the knowledge base does not carry (motion
// started, stopped or retuned).
func WithChangeNotifier(fn func()) SwarmStateOption {
	return func(s *SwarmState) {
		s.onChange = fn
	}
}

// WithBaseContext sets the context frame loops run under. Cancelling it
// stops motion the same way Stop does, minus the state change.
func WithBaseContext(ctx context.Context) SwarmStateOption {
	return func(s *SwarmState) {
		if ctx != nil {
			s.baseCtx = ctx
		}
	}
}

// WithFormation sets the initial formation config.
func WithFormation(cfg model.FormationConfig) SwarmStateOption {
	return func(s *SwarmState) {
		s.formation = cfg.Normalized()
	}
}

// WithMotion sets the initial speed and direction. Moving is ignored; use
// Start.
func WithMotion(cfg model.MotionConfig) SwarmStateOption {
	return func(s *SwarmState) {
		s.integrator.SetMotion(cfg.SpeedMph, cfg.Direction)
	}
}

// NewSwarmState wires a swarm around store. The swarm starts without a
// center and idle.
func NewSwarmState(store *kb.KnowledgeBase, log logging.Logger, opts ...SwarmStateOption) *SwarmState {
	if log == nil {
		log = logging.Noop()
	}
	if store == nil {
		store = kb.NewKnowledgeBase()
	}
	s := &SwarmState{
		swarmKB:    store,
		integrator: core.NewMotionIntegrator(model.DefaultMotion),
		resolver:   geocode.NewResolver(nil),
		baseCtx:    context.Background(),
		formation:  model.DefaultFormation,
		log:        log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.updateMetricsLocked()
	return s
}

// KB exposes the knowledge base holding the drones.
func (s *SwarmState) KB() *kb.KnowledgeBase {
	return s.swarmKB
}

// SetAddress geocodes address and recenters the formation on the result.
// Resolution never fails; an unresolvable address lands on the fallback
// center and is reported via Resolution.Fallback.
func (s *SwarmState) SetAddress(ctx context.Context, address string) (geocode.Resolution, error) {
	ctx, span := startSpan(ctx, "SwarmState.SetAddress", attribute.String("address", address))
	defer span.End()

	// Geocoding runs outside every lock.
	res := s.resolver.Resolve(ctx, address)
	span.SetAttributes(attribute.Bool("fallback", res.Fallback))
	if err := s.setCenter(ctx, res.Point, res.Address, res.Fallback); err != nil {
		span.RecordError(err)
		return res, err
	}
	return res, nil
}

// SetCenter recenters the formation on an explicit coordinate.
func (s *SwarmState) SetCenter(ctx context.Context, center model.GeoPoint) error {
	ctx, span := startSpan(ctx, "SwarmState.SetCenter",
		attribute.Float64("latitude", center.Latitude),
		attribute.Float64("longitude", center.Longitude),
	)
	defer span.End()
	if err := s.setCenter(ctx, center, "", false); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *SwarmState) setCenter(ctx context.Context, center model.GeoPoint, address string, fallback bool) error {
	if !center.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidCenter, center)
	}
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()

	s.rebuild(ctx, func() {
		s.center = center
		s.hasCenter = true
		s.address = address
		s.fallback = fallback
	})
	s.log.Info(ctx, "reference point set",
		logging.String("center", center.String()),
		logging.String("address", address),
		logging.Bool("fallback", fallback),
	)
	return nil
}

// FormationUpdate is a partial formation change. Nil fields keep their
// current value.
type FormationUpdate struct {
	DroneCount  *int
	SpacingFeet *float64
}

// MotionUpdate is a partial motion change. Nil fields keep their current
// value.
type MotionUpdate struct {
	SpeedMph  *float64
	Direction *model.Direction
}

// ConfigureFormation changes drone count and spacing. A drone count of zero
// or less is treated as one; more than model.MaxDroneCount is rejected.
// Without a center the config is stored and used once a center arrives.
func (s *SwarmState) ConfigureFormation(ctx context.Context, cfg model.FormationConfig) error {
	_, err := s.UpdateFormation(ctx, FormationUpdate{DroneCount: &cfg.DroneCount, SpacingFeet: &cfg.SpacingFeet})
	return err
}

// UpdateFormation merges u into the current formation and applies the
// result. The merge happens under the control lock, so concurrent updates
// of different fields both land.
func (s *SwarmState) UpdateFormation(ctx context.Context, u FormationUpdate) (model.FormationConfig, error) {
	ctx, span := startSpan(ctx, "SwarmState.UpdateFormation")
	defer span.End()

	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()

	s.mu.Lock()
	cfg := s.formation
	hasCenter := s.hasCenter
	s.mu.Unlock()
	if u.DroneCount != nil {
		cfg.DroneCount = *u.DroneCount
	}
	if u.SpacingFeet != nil {
		cfg.SpacingFeet = *u.SpacingFeet
	}
	span.SetAttributes(
		attribute.Int("drone_count", cfg.DroneCount),
		attribute.Float64("spacing_feet", cfg.SpacingFeet),
	)

	if err := validateFormation(cfg); err != nil {
		span.RecordError(err)
		return model.FormationConfig{}, err
	}
	cfg = cfg.Normalized()

	if !hasCenter {
		s.mu.Lock()
		s.formation = cfg
		s.mu.Unlock()
		s.log.Debug(ctx, "formation stored until a center is set",
			logging.Int("drone_count", cfg.DroneCount),
			logging.Float64("spacing_feet", cfg.SpacingFeet),
		)
		return cfg, nil
	}

	s.rebuild(ctx, func() { s.formation = cfg })
	return cfg, nil
}

func validateFormation(cfg model.FormationConfig) error {
	if math.IsNaN(cfg.SpacingFeet) || math.IsInf(cfg.SpacingFeet, 0) || cfg.SpacingFeet <= 0 {
		return fmt.Errorf("%w: spacing must be a positive number of feet, got %v", ErrInvalidFormation, cfg.SpacingFeet)
	}
	if cfg.DroneCount > model.MaxDroneCount {
		return fmt.Errorf("%w: drone count %d exceeds %d", ErrInvalidFormation, cfg.DroneCount, model.MaxDroneCount)
	}
	return nil
}

// SetMotion changes speed and direction. While moving the change applies
// from the next frame without resetting the frame timestamp. An unknown
// direction means north.
func (s *SwarmState) SetMotion(ctx context.Context, speedMph float64, direction model.Direction) error {
	_, err := s.UpdateMotion(ctx, MotionUpdate{SpeedMph: &speedMph, Direction: &direction})
	return err
}

// UpdateMotion merges u into the current motion settings atomically.
func (s *SwarmState) UpdateMotion(ctx context.Context, u MotionUpdate) (model.MotionConfig, error) {
	s.mu.Lock()
	cfg := s.integrator.Config()
	if u.SpeedMph != nil {
		cfg.SpeedMph = *u.SpeedMph
	}
	if u.Direction != nil {
		cfg.Direction = *u.Direction
	}
	if math.IsNaN(cfg.SpeedMph) || math.IsInf(cfg.SpeedMph, 0) || cfg.SpeedMph < 0 {
		s.mu.Unlock()
		return model.MotionConfig{}, fmt.Errorf("%w: speed must be a non-negative number of mph, got %v", ErrInvalidMotion, cfg.SpeedMph)
	}
	s.integrator.SetMotion(cfg.SpeedMph, cfg.Direction)
	cfg = s.integrator.Config()
	s.mu.Unlock()

	s.log.Debug(ctx, "motion updated",
		logging.Float64("speed_mph", cfg.SpeedMph),
		logging.String("direction", string(cfg.Direction)),
	)
	s.notifyChange()
	return cfg, nil
}

// Start begins moving the formation. Starting a moving swarm is a no-op.
func (s *SwarmState) Start(ctx context.Context) error {
	ctx, span := startSpan(ctx, "SwarmState.Start")
	defer span.End()

	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()

	s.mu.Lock()
	if !s.hasCenter {
		s.mu.Unlock()
		span.RecordError(ErrCenterPending)
		return ErrCenterPending
	}
	if s.integrator.State() == core.Running {
		s.mu.Unlock()
		return nil
	}
	s.integrator.Start()
	s.generation++
	gen := s.generation
	s.updateMetricsLocked()
	s.mu.Unlock()

	s.startClock(gen)
	s.log.Info(ctx, "motion started", logging.Uint64("generation", gen))
	s.notifyChange()
	return nil
}

// Stop halts the formation. When Stop returns no further frame will move
// the drones. Stopping an idle swarm is a no-op.
func (s *SwarmState) Stop(ctx context.Context) {
	ctx, span := startSpan(ctx, "SwarmState.Stop")
	defer span.End()

	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()

	if !s.pause() {
		return
	}
	s.log.Info(ctx, "motion stopped")
	s.notifyChange()
}

// Recenter rebuilds the formation around the reference point, undoing any
// drift accumulated while moving.
func (s *SwarmState) Recenter(ctx context.Context) error {
	ctx, span := startSpan(ctx, "SwarmState.Recenter")
	defer span.End()

	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()

	s.mu.Lock()
	hasCenter := s.hasCenter
	s.mu.Unlock()
	if !hasCenter {
		span.RecordError(ErrCenterPending)
		return ErrCenterPending
	}
	s.rebuild(ctx, nil)
	return nil
}

// OnFrame applies one frame to the current generation. It is what the
// attached clock calls; callers without a clock feed frames here directly.
func (s *SwarmState) OnFrame(f timectrl.Frame) {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()
	s.applyFrame(gen, f)
}

// Snapshot returns a consistent copy of the swarm.
func (s *SwarmState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	drones := s.swarmKB.Drones()
	if !s.hasCenter {
		drones = []model.DroneState{}
	}
	return Snapshot{
		Center:     s.center,
		HasCenter:  s.hasCenter,
		Address:    s.address,
		Fallback:   s.fallback,
		Formation:  s.formation,
		RadiusFeet: core.RadiusFeet(s.formation),
		Motion:     s.integrator.Config(),
		Drones:     drones,
		Session:    s.session,
		Generation: s.generation,
	}
}

// Close stops motion and releases the clock.
func (s *SwarmState) Close() {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	s.pause()
}

// rebuild recomputes the formation after mutate has updated the inputs.
// Rebuilding while moving stops the clock, rebuilds, and restarts, so the
// first frame after a rebuild never replays time from before it.
// Caller must hold ctlMu and not mu.
func (s *SwarmState) rebuild(ctx context.Context, mutate func()) {
	wasMoving := s.pause()

	s.mu.Lock()
	if mutate != nil {
		mutate()
	}
	drones := core.NewFormation(s.center, s.formation)
	dropped := s.formation.Normalized().DroneCount - len(drones)
	s.session = uuid.NewString()
	s.generation++
	gen := s.generation
	if wasMoving {
		s.integrator.Start()
		s.generation++
		gen = s.generation
	}
	center := s.center
	cfg := s.formation
	// The KB is written under mu so a concurrent Snapshot never pairs the new
	// config with the old drones.
	s.swarmKB.ReplaceFormation(center, drones)
	if s.metrics != nil {
		s.metrics.ObserveFormationBuild(dropped)
	}
	s.updateMetricsLocked()
	s.mu.Unlock()

	if wasMoving {
		s.startClock(gen)
	}
	fields := []logging.Field{
		logging.String("center", center.String()),
		logging.Int("drone_count", cfg.DroneCount),
		logging.Float64("spacing_feet", cfg.SpacingFeet),
		logging.Float64("radius_feet", core.RadiusFeet(cfg)),
		logging.Int("drones", len(drones)),
		logging.Uint64("generation", gen),
	}
	if dropped > 0 {
		s.log.Warn(ctx, "formation built with invalid vertices dropped", append(fields, logging.Int("dropped", dropped))...)
		return
	}
	s.log.Info(ctx, "formation built", fields...)
}

// pause stops the integrator and waits for the clock. It reports whether
// the swarm was moving. Caller must hold ctlMu and not mu.
func (s *SwarmState) pause() bool {
	s.mu.Lock()
	wasMoving := s.integrator.State() == core.Running
	if wasMoving {
		s.integrator.Stop()
		s.generation++
		s.updateMetricsLocked()
	}
	s.mu.Unlock()

	// mu is released so an in-flight frame can finish; it observes the new
	// generation and does nothing.
	if s.clock != nil {
		s.clock.Stop()
	}
	return wasMoving
}

func (s *SwarmState) notifyChange() {
	if s.onChange != nil {
		s.onChange()
	}
}

func (s *SwarmState) startClock(gen uint64) {
	if s.clock == nil {
		return
	}
	s.clock.Start(s.baseCtx, 0, func(f timectrl.Frame) {
		s.applyFrame(gen, f)
	})
}

func (s *SwarmState) applyFrame(gen uint64, f timectrl.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || !s.hasCenter || s.integrator.State() != core.Running {
		return
	}
	drones := s.swarmKB.Drones()
	moved, dropped := s.integrator.Tick(f.Time, drones)
	if dropped > 0 {
		s.log.Warn(context.Background(), "drones left the valid coordinate range",
			logging.Int("dropped", dropped),
			logging.Uint64("frame", f.Seq),
		)
	}
	s.swarmKB.UpdatePositions(moved)
	if s.metrics != nil {
		s.metrics.ObserveFrame(dropped)
	}
	if dropped > 0 {
		s.updateMetricsLocked()
	}
}

// updateMetricsLocked pushes current gauges. Caller must hold mu or be the
// constructor.
func (s *SwarmState) updateMetricsLocked() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetSwarmCounts(s.swarmKB.Len(), s.integrator.State() == core.Running)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}
