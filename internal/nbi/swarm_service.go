// internal/nbi/swarm_service.go
package nbi

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/drone-formation-sim/internal/logging"
	sim "github.com/signalsfoundry/drone-formation-sim/internal/sim/state"
	"github.com/signalsfoundry/drone-formation-sim/model"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// SwarmService implements SwarmServiceServer backed by a SwarmState.
type SwarmService struct {
	state *sim.SwarmState
	log   logging.Logger
}

var _ SwarmServiceServer = (*SwarmService)(nil)

// NewSwarmService wires a SwarmService to the shared SwarmState and
// optional logger.
func NewSwarmService(state *sim.SwarmState, log logging.Logger) *SwarmService {
	if log == nil {
		log = logging.Noop()
	}
	return &SwarmService{
		state: state,
		log:   log,
	}
}

// SetCenter accepts either {"address"} or {"latitude","longitude"}.
func (s *SwarmService) SetCenter(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	log := s.logger(ctx)
	r := newRequest(in)

	address, hasAddress, err := r.str("address")
	if err != nil {
		return nil, ToStatusError(err)
	}
	lat, hasLat, err := r.number("latitude")
	if err != nil {
		return nil, ToStatusError(err)
	}
	lon, hasLon, err := r.number("longitude")
	if err != nil {
		return nil, ToStatusError(err)
	}

	switch {
	case hasLat && hasLon:
		center := model.GeoPoint{Latitude: lat, Longitude: lon}
		ctx, span := startOperationSpan(ctx, "SetCenter", centerAttrs(center)...)
		defer span.End()
		if err := s.state.SetCenter(ctx, center); err != nil {
			log.Warn(ctx, "SetCenter rejected", logging.Err(err))
			return nil, ToStatusError(failSpan(span, err))
		}
	case hasLat || hasLon:
		return nil, ToStatusError(fmt.Errorf("%w: latitude and longitude must be given together", ErrInvalidRequest))
	case hasAddress:
		ctx, span := startOperationSpan(ctx, "SetAddress", attribute.String("swarm.address", address))
		defer span.End()
		res, err := s.state.SetAddress(ctx, address)
		if err != nil {
			return nil, ToStatusError(failSpan(span, err))
		}
		span.SetAttributes(centerAttrs(res.Point)...)
		span.SetAttributes(attribute.Bool("swarm.center.fallback", res.Fallback))
		if res.Fallback {
			log.Warn(ctx, "address not resolved; formation placed at fallback center",
				logging.String("address", address))
		}
	default:
		// An empty request means "no address": use the fallback center.
		if _, err := s.state.SetAddress(ctx, ""); err != nil {
			return nil, ToStatusError(err)
		}
	}

	return s.formation(ctx)
}

// ConfigureFormation applies {"drone_count","spacing_feet"}. Omitted fields
// keep their current value.
func (s *SwarmService) ConfigureFormation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	r := newRequest(in)
	var update sim.FormationUpdate

	count, ok, err := r.integer("drone_count")
	if err != nil {
		return nil, ToStatusError(err)
	}
	if ok {
		update.DroneCount = &count
	}
	spacing, ok, err := r.number("spacing_feet")
	if err != nil {
		return nil, ToStatusError(err)
	}
	if ok {
		update.SpacingFeet = &spacing
	}

	ctx, span := startOperationSpan(ctx, "ConfigureFormation")
	defer span.End()
	cfg, err := s.state.UpdateFormation(ctx, update)
	if err != nil {
		s.logger(ctx).Warn(ctx, "ConfigureFormation rejected", logging.Err(err))
		return nil, ToStatusError(failSpan(span, err))
	}
	span.SetAttributes(formationAttrs(cfg)...)
	return s.formation(ctx)
}

// SetMotion applies {"speed_mph","direction"}. Omitted fields keep their
// current value; an unknown direction means north.
func (s *SwarmService) SetMotion(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	r := newRequest(in)
	var update sim.MotionUpdate

	speed, ok, err := r.number("speed_mph")
	if err != nil {
		return nil, ToStatusError(err)
	}
	if ok {
		update.SpeedMph = &speed
	}
	dir, ok, err := r.str("direction")
	if err != nil {
		return nil, ToStatusError(err)
	}
	if ok {
		d := model.ParseDirection(dir)
		update.Direction = &d
	}

	ctx, span := startOperationSpan(ctx, "SetMotion")
	defer span.End()
	cfg, err := s.state.UpdateMotion(ctx, update)
	if err != nil {
		s.logger(ctx).Warn(ctx, "SetMotion rejected", logging.Err(err))
		return nil, ToStatusError(failSpan(span, err))
	}
	span.SetAttributes(motionAttrs(cfg)...)
	return s.motionStatus()
}

// StartMotion begins moving the formation.
func (s *SwarmService) StartMotion(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if err := s.state.Start(ctx); err != nil {
		return nil, ToStatusError(err)
	}
	return s.motionStatus()
}

// StopMotion halts the formation.
func (s *SwarmService) StopMotion(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	s.state.Stop(ctx)
	return s.motionStatus()
}

// GetFormation returns the full swarm view.
func (s *SwarmService) GetFormation(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	return s.formation(ctx)
}

// Recenter rebuilds the formation around the reference point.
func (s *SwarmService) Recenter(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if err := s.state.Recenter(ctx); err != nil {
		return nil, ToStatusError(err)
	}
	return s.formation(ctx)
}

func (s *SwarmService) formation(ctx context.Context) (*structpb.Struct, error) {
	out, err := ViewFromSnapshot(s.state.Snapshot()).ToStruct()
	if err != nil {
		s.logger(ctx).Error(ctx, "encode formation failed", logging.Err(err))
		return nil, ToStatusError(err)
	}
	return out, nil
}

func (s *SwarmService) motionStatus() (*structpb.Struct, error) {
	snap := s.state.Snapshot()
	out, err := structpb.NewStruct(map[string]interface{}{
		"moving":     snap.Motion.Moving,
		"speed_mph":  snap.Motion.SpeedMph,
		"direction":  string(snap.Motion.Direction),
		"generation": float64(snap.Generation),
	})
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

func (s *SwarmService) ensureReady() error {
	if s == nil || s.state == nil {
		return status.Error(codes.FailedPrecondition, "swarm state is not initialised")
	}
	return nil
}

func (s *SwarmService) logger(ctx context.Context) logging.Logger {
	return logging.FromContextOr(ctx, s.log)
}
