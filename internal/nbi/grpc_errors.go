package nbi

import (
	"context"
	"errors"

	sim "github.com/signalsfoundry/drone-formation-sim/internal/sim/state"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ToStatusError maps swarm errors onto gRPC status codes for the control
// surface.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, sim.ErrInvalidCenter),
		errors.Is(err, sim.ErrInvalidFormation),
		errors.Is(err, sim.ErrInvalidMotion):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, sim.ErrCenterPending):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
