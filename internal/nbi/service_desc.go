package nbi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name of the control panel.
const ServiceName = "drone.swarm.v1.SwarmService"

// Full method names, as seen by interceptors.
const (
	MethodSetCenter          = "/" + ServiceName + "/SetCenter"
	MethodConfigureFormation = "/" + ServiceName + "/ConfigureFormation"
	MethodSetMotion          = "/" + ServiceName + "/SetMotion"
	MethodStartMotion        = "/" + ServiceName + "/StartMotion"
	MethodStopMotion         = "/" + ServiceName + "/StopMotion"
	MethodGetFormation       = "/" + ServiceName + "/GetFormation"
	MethodRecenter           = "/" + ServiceName + "/Recenter"
)

// SwarmServiceServer is the server API for the swarm control panel. Messages
// are protobuf well-known types so no generated code is required.
type SwarmServiceServer interface {
	SetCenter(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfigureFormation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetMotion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartMotion(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StopMotion(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetFormation(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Recenter(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterSwarmServiceServer registers srv on s.
func RegisterSwarmServiceServer(s grpc.ServiceRegistrar, srv SwarmServiceServer) {
	s.RegisterService(&SwarmServiceDesc, srv)
}

// SwarmServiceDesc is the grpc.ServiceDesc for SwarmService.
var SwarmServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SwarmServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SetCenter", Handler: structHandler(MethodSetCenter, SwarmServiceServer.SetCenter)},
		{MethodName: "ConfigureFormation", Handler: structHandler(MethodConfigureFormation, SwarmServiceServer.ConfigureFormation)},
		{MethodName: "SetMotion", Handler: structHandler(MethodSetMotion, SwarmServiceServer.SetMotion)},
		{MethodName: "StartMotion", Handler: emptyHandler(MethodStartMotion, SwarmServiceServer.StartMotion)},
		{MethodName: "StopMotion", Handler: emptyHandler(MethodStopMotion, SwarmServiceServer.StopMotion)},
		{MethodName: "GetFormation", Handler: emptyHandler(MethodGetFormation, SwarmServiceServer.GetFormation)},
		{MethodName: "Recenter", Handler: emptyHandler(MethodRecenter, SwarmServiceServer.Recenter)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "drone/swarm/v1/swarm.proto",
}

type methodHandler = func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error)

func structHandler(fullMethod string, call func(SwarmServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) methodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SwarmServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(SwarmServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func emptyHandler(fullMethod string, call func(SwarmServiceServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)) methodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SwarmServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(SwarmServiceServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}
