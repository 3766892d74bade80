package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// SwarmCollector bundles Prometheus metrics for the control surface and the
// swarm simulation, and provides helpers to wire them into gRPC servers and
// HTTP handlers.
type SwarmCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	Drones          prometheus.Gauge
	Moving          prometheus.Gauge
	Ticks           prometheus.Counter
	DroppedDrones   prometheus.Counter
	FormationBuilds prometheus.Counter
	Geocodes        *prometheus.CounterVec
	FeedClients     prometheus.Gauge
}

// NewSwarmCollector registers swarm Prometheus metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSwarmCollector(reg prometheus.Registerer) (*SwarmCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_rpc_requests_total",
		Help: "Total number of handled control RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "swarm_rpc_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "swarm_rpc_request_duration_seconds",
		Help:    "Control RPC latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"service", "method"}), "swarm_rpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	drones, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_drones",
		Help: "Current number of drones in the formation.",
	}), "swarm_drones")
	if err != nil {
		return nil, err
	}
	moving, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_moving",
		Help: "1 while the motion integrator is running, 0 otherwise.",
	}), "swarm_moving")
	if err != nil {
		return nil, err
	}
	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_ticks_total",
		Help: "Frames applied to the formation by the motion integrator.",
	}), "swarm_ticks_total")
	if err != nil {
		return nil, err
	}
	dropped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_dropped_drones_total",
		Help: "Drones removed because their position became non-finite or out of range.",
	}), "swarm_dropped_drones_total")
	if err != nil {
		return nil, err
	}
	builds, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_formation_builds_total",
		Help: "Number of times the formation was recomputed from scratch.",
	}), "swarm_formation_builds_total")
	if err != nil {
		return nil, err
	}
	geocodes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_geocode_requests_total",
		Help: "Reference point resolutions, labeled by result (resolved or fallback).",
	}, []string{"result"}), "swarm_geocode_requests_total")
	if err != nil {
		return nil, err
	}
	clients, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_feed_clients",
		Help: "Map feed WebSocket clients currently connected.",
	}), "swarm_feed_clients")
	if err != nil {
		return nil, err
	}

	return &SwarmCollector{
		gatherer:        gatherer,
		RPCRequests:     requests,
		RPCDurations:    durations,
		Drones:          drones,
		Moving:          moving,
		Ticks:           ticks,
		DroppedDrones:   dropped,
		FormationBuilds: builds,
		Geocodes:        geocodes,
		FeedClients:     clients,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *SwarmCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SwarmCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetSwarmCounts satisfies state.SwarmMetricsRecorder so SwarmState can
// drive gauge values directly from its mutators.
func (c *SwarmCollector) SetSwarmCounts(drones int, moving bool) {
	if c == nil {
		return
	}
	if c.Drones != nil {
		c.Drones.Set(float64(drones))
	}
	if c.Moving != nil {
		if moving {
			c.Moving.Set(1)
		} else {
			c.Moving.Set(0)
		}
	}
}

// ObserveFrame counts one applied frame and any drones it dropped.
func (c *SwarmCollector) ObserveFrame(dropped int) {
	if c == nil {
		return
	}
	if c.Ticks != nil {
		c.Ticks.Inc()
	}
	if dropped > 0 && c.DroppedDrones != nil {
		c.DroppedDrones.Add(float64(dropped))
	}
}

// ObserveFormationBuild counts a formation rebuild and the vertices it had
// to drop.
func (c *SwarmCollector) ObserveFormationBuild(dropped int) {
	if c == nil {
		return
	}
	if c.FormationBuilds != nil {
		c.FormationBuilds.Inc()
	}
	if dropped > 0 && c.DroppedDrones != nil {
		c.DroppedDrones.Add(float64(dropped))
	}
}

// ObserveGeocode counts a reference point resolution.
func (c *SwarmCollector) ObserveGeocode(fallback bool) {
	if c == nil || c.Geocodes == nil {
		return
	}
	result := "resolved"
	if fallback {
		result = "fallback"
	}
	c.Geocodes.WithLabelValues(result).Inc()
}

// SetFeedClients reports the number of connected map feed clients.
func (c *SwarmCollector) SetFeedClients(n int) {
	if c == nil || c.FeedClients == nil {
		return
	}
	c.FeedClients.Set(float64(n))
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
