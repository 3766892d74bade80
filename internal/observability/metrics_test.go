package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSwarmCollector(reg)
	if err != nil {
		t.Fatalf("NewSwarmCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/drone.swarm.v1.SwarmService/ConfigureFormation"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("SwarmService", "ConfigureFormation", "OK")); got != 1 {
		t.Fatalf("swarm_rpc_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "swarm_rpc_request_duration_seconds", map[string]string{
		"service": "SwarmService",
		"method":  "ConfigureFormation",
	}); count != 1 {
		t.Fatalf("swarm_rpc_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSwarmCollector(reg)
	if err != nil {
		t.Fatalf("NewSwarmCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/drone.swarm.v1.SwarmService/SetMotion"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.InvalidArgument, "boom")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("SwarmService", "SetMotion", "InvalidArgument")); got != 1 {
		t.Fatalf("swarm_rpc_requests_total error label = %v, want 1", got)
	}
}

func TestSwarmRecorderMethods(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSwarmCollector(reg)
	if err != nil {
		t.Fatalf("NewSwarmCollector: %v", err)
	}

	collector.SetSwarmCounts(8, true)
	collector.ObserveFormationBuild(1)
	collector.ObserveFrame(0)
	collector.ObserveFrame(2)
	collector.ObserveGeocode(false)
	collector.ObserveGeocode(true)
	collector.ObserveGeocode(true)
	collector.SetFeedClients(3)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"swarm_drones", testutil.ToFloat64(collector.Drones), 8},
		{"swarm_moving", testutil.ToFloat64(collector.Moving), 1},
		{"swarm_ticks_total", testutil.ToFloat64(collector.Ticks), 2},
		{"swarm_dropped_drones_total", testutil.ToFloat64(collector.DroppedDrones), 3},
		{"swarm_formation_builds_total", testutil.ToFloat64(collector.FormationBuilds), 1},
		{"geocode resolved", testutil.ToFloat64(collector.Geocodes.WithLabelValues("resolved")), 1},
		{"geocode fallback", testutil.ToFloat64(collector.Geocodes.WithLabelValues("fallback")), 2},
		{"swarm_feed_clients", testutil.ToFloat64(collector.FeedClients), 3},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	collector.SetSwarmCounts(0, false)
	if got := testutil.ToFloat64(collector.Moving); got != 0 {
		t.Fatalf("swarm_moving after stop = %v, want 0", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *SwarmCollector
	c.SetSwarmCounts(1, true)
	c.ObserveFrame(1)
	c.ObserveFormationBuild(1)
	c.ObserveGeocode(true)
	c.SetFeedClients(1)
}

func TestRegisteringTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSwarmCollector(reg)
	if err != nil {
		t.Fatalf("first NewSwarmCollector: %v", err)
	}
	second, err := NewSwarmCollector(reg)
	if err != nil {
		t.Fatalf("second NewSwarmCollector: %v", err)
	}
	first.Ticks.Inc()
	if got := testutil.ToFloat64(second.Ticks); got != 1 {
		t.Fatalf("second collector ticks = %v, want shared value 1", got)
	}
}

func TestMetricsHandlerExposesSwarmGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSwarmCollector(reg)
	if err != nil {
		t.Fatalf("NewSwarmCollector: %v", err)
	}
	collector.SetSwarmCounts(12, false)
	collector.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()
	collector.RPCDurations.WithLabelValues("svc", "method").Observe(0.01)
	collector.Geocodes.WithLabelValues("resolved").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"swarm_rpc_requests_total",
		"swarm_rpc_request_duration_seconds",
		"swarm_drones 12",
		"swarm_moving 0",
		"swarm_ticks_total",
		"swarm_dropped_drones_total",
		"swarm_formation_builds_total",
		"swarm_geocode_requests_total",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	cases := []struct {
		in, service, method string
	}{
		{"/drone.swarm.v1.SwarmService/GetFormation", "SwarmService", "GetFormation"},
		{"SwarmService/Recenter", "SwarmService", "Recenter"},
		{"", "unknown", "unknown"},
		{"/justone", "unknown", "unknown"},
	}
	for _, tc := range cases {
		s, m := SplitMethod(tc.in)
		if s != tc.service || m != tc.method {
			t.Fatalf("SplitMethod(%q) = (%q, %q), want (%q, %q)", tc.in, s, m, tc.service, tc.method)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
