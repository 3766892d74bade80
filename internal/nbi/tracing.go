package nbi

import (
	"context"
	"strings"

	"github.com/signalsfoundry/drone-formation-sim/internal/logging"
	"github.com/signalsfoundry/drone-formation-sim/internal/observability"
	"github.com/signalsfoundry/drone-formation-sim/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const tracerName = "github.com/signalsfoundry/drone-formation-sim/internal/nbi"

// TracingUnaryServerInterceptor names the control RPC span "Swarm/<method>",
// tags it with rpc and request_id attributes and marks failed calls with
// their gRPC code. It starts a server span when the otelgrpc stats handler
// has not already done so.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		service, method := observability.SplitMethod(info.FullMethod)
		name := "Swarm/" + method

		span := trace.SpanFromContext(ctx)
		created := !span.SpanContext().IsValid()
		if created {
			ctx, span = tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
		} else {
			span.SetName(name)
		}

		span.SetAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
			attribute.String("rpc.full_method", strings.TrimPrefix(info.FullMethod, "/")),
		)
		if reqID := logging.RequestIDFromContext(ctx); reqID != "" {
			span.SetAttributes(attribute.String("request_id", reqID))
		}

		resp, err := handler(ctx, req)
		if err != nil {
			st := status.Convert(err)
			span.RecordError(err)
			span.SetAttributes(attribute.String("rpc.grpc.status", st.Code().String()))
			span.SetStatus(otelcodes.Error, st.Message())
		}
		return resp, err
	}
}

// startOperationSpan opens a child span for one swarm operation.
func startOperationSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "SwarmService."+op, trace.WithAttributes(attrs...))
}

func centerAttrs(p model.GeoPoint) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Float64("swarm.center.latitude", p.Latitude),
		attribute.Float64("swarm.center.longitude", p.Longitude),
	}
}

func formationAttrs(cfg model.FormationConfig) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("swarm.drone_count", cfg.DroneCount),
		attribute.Float64("swarm.spacing_feet", cfg.SpacingFeet),
	}
}

func motionAttrs(cfg model.MotionConfig) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Float64("swarm.speed_mph", cfg.SpeedMph),
		attribute.String("swarm.direction", string(cfg.Direction)),
	}
}

// failSpan records err on span and returns it unchanged.
func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	return err
}
