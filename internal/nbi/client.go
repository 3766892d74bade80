package nbi

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/drone-formation-sim/model"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// MotionStatus is the response to the motion RPCs.
type MotionStatus struct {
	Moving     bool
	SpeedMph   float64
	Direction  model.Direction
	Generation uint64
}

// Client is a thin typed wrapper over a SwarmService connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// SetAddress geocodes address on the server and recenters the formation.
func (c *Client) SetAddress(ctx context.Context, address string) (FormationView, error) {
	return c.formationCall(ctx, MethodSetCenter, map[string]interface{}{"address": address})
}

// SetCenter recenters the formation on an explicit coordinate.
func (c *Client) SetCenter(ctx context.Context, p model.GeoPoint) (FormationView, error) {
	return c.formationCall(ctx, MethodSetCenter, map[string]interface{}{
		"latitude":  p.Latitude,
		"longitude": p.Longitude,
	})
}

// ConfigureFormation sets drone count and spacing.
func (c *Client) ConfigureFormation(ctx context.Context, cfg model.FormationConfig) (FormationView, error) {
	return c.formationCall(ctx, MethodConfigureFormation, map[string]interface{}{
		"drone_count":  cfg.DroneCount,
		"spacing_feet": cfg.SpacingFeet,
	})
}

// SetMotion sets speed and direction.
func (c *Client) SetMotion(ctx context.Context, speedMph float64, direction model.Direction) (MotionStatus, error) {
	in, err := structpb.NewStruct(map[string]interface{}{
		"speed_mph": speedMph,
		"direction": string(direction),
	})
	if err != nil {
		return MotionStatus{}, err
	}
	return c.motionCall(ctx, MethodSetMotion, in)
}

// StartMotion starts the formation moving.
func (c *Client) StartMotion(ctx context.Context) (MotionStatus, error) {
	return c.motionCall(ctx, MethodStartMotion, &emptypb.Empty{})
}

// StopMotion stops the formation.
func (c *Client) StopMotion(ctx context.Context) (MotionStatus, error) {
	return c.motionCall(ctx, MethodStopMotion, &emptypb.Empty{})
}

// GetFormation fetches the current swarm view.
func (c *Client) GetFormation(ctx context.Context) (FormationView, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodGetFormation, &emptypb.Empty{}, out); err != nil {
		return FormationView{}, err
	}
	return FormationViewFromStruct(out)
}

// Recenter rebuilds the formation around the reference point.
func (c *Client) Recenter(ctx context.Context) (FormationView, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodRecenter, &emptypb.Empty{}, out); err != nil {
		return FormationView{}, err
	}
	return FormationViewFromStruct(out)
}

func (c *Client) formationCall(ctx context.Context, method string, fields map[string]interface{}) (FormationView, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return FormationView{}, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out); err != nil {
		return FormationView{}, err
	}
	return FormationViewFromStruct(out)
}

func (c *Client) motionCall(ctx context.Context, method string, in interface{}) (MotionStatus, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out); err != nil {
		return MotionStatus{}, err
	}
	f := out.GetFields()
	return MotionStatus{
		Moving:     f["moving"].GetBoolValue(),
		SpeedMph:   f["speed_mph"].GetNumberValue(),
		Direction:  model.ParseDirection(f["direction"].GetStringValue()),
		Generation: uint64(f["generation"].GetNumberValue()),
	}, nil
}
