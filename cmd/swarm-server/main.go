package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalsfoundry/drone-formation-sim/internal/config"
	"github.com/signalsfoundry/drone-formation-sim/internal/geocode"
	"github.com/signalsfoundry/drone-formation-sim/internal/logging"
	"github.com/signalsfoundry/drone-formation-sim/internal/mapfeed"
	"github.com/signalsfoundry/drone-formation-sim/internal/nbi"
	"github.com/signalsfoundry/drone-formation-sim/internal/observability"
	sim "github.com/signalsfoundry/drone-formation-sim/internal/sim/state"
	"github.com/signalsfoundry/drone-formation-sim/kb"
	"github.com/signalsfoundry/drone-formation-sim/model"
	"github.com/signalsfoundry/drone-formation-sim/timectrl"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewFromEnv().Error(context.Background(), "failed to load configuration", logging.Err(err))
		os.Exit(1)
	}

	flag.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "TCP address the swarm gRPC server listens on")
	flag.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP address for the GeoJSON map feed (empty disables it)")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "HTTP address for Prometheus /metrics")
	flag.StringVar(&cfg.Address, "address", cfg.Address, "Street address to center the formation on at startup")
	flag.StringVar(&cfg.GeocoderURL, "geocoder-url", cfg.GeocoderURL, "Nominatim base URL (empty always uses the fallback center)")
	flag.IntVar(&cfg.Formation.DroneCount, "drones", cfg.Formation.DroneCount, "Number of drones in the formation")
	flag.Float64Var(&cfg.Formation.SpacingFeet, "spacing", cfg.Formation.SpacingFeet, "Distance in feet between adjacent drones")
	flag.Float64Var(&cfg.Motion.SpeedMph, "speed", cfg.Motion.SpeedMph, "Formation speed in miles per hour")
	direction := flag.String("direction", string(cfg.Motion.Direction), "Compass direction of travel (N, NE, E, SE, S, SW, W, NW)")
	flag.DurationVar(&cfg.FrameInterval, "frame-interval", cfg.FrameInterval, "Interval between motion frames")
	flag.BoolVar(&cfg.AutoStart, "autostart", cfg.AutoStart, "Start moving as soon as the formation is built")
	flag.Parse()
	cfg.Motion.Direction = model.ParseDirection(*direction)

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSwarmCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.Err(err))
		os.Exit(1)
	}
	metricsSrv := serveMetrics(cfg.MetricsAddr, collector, log)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}

	runErr := run(ctx, cfg, collector, log, lis)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if runErr != nil {
		log.Error(ctx, "swarm server exited", logging.Err(runErr))
		os.Exit(1)
	}
}

// run wires the swarm and serves gRPC on lis (and the map feed when
// cfg.HTTPAddr is set) until ctx is cancelled or a server fails.
func run(ctx context.Context, cfg *config.Config, collector *observability.SwarmCollector, log logging.Logger, lis net.Listener) error {
	resolver := newResolver(cfg, collector, log)
	clock := timectrl.NewFrameClock(time.Time{}, cfg.FrameInterval, timectrl.RealTime)

	hub := mapfeed.NewHub(log, mapfeed.WithClientRecorder(collector))
	state := sim.NewSwarmState(kb.NewKnowledgeBase(), log,
		sim.WithFrameClock(clock),
		sim.WithResolver(resolver),
		sim.WithMetricsRecorder(collector),
		sim.WithBaseContext(ctx),
		sim.WithFormation(cfg.Formation),
		sim.WithMotion(cfg.Motion),
		sim.WithChangeNotifier(hub.Notify),
	)
	defer state.Close()

	detach := hub.Attach(state, state.KB())
	defer detach()

	// A blank address resolves to the fallback center, so the swarm always
	// has a reference point once serving starts.
	res, err := state.SetAddress(ctx, cfg.Address)
	if err != nil {
		return err
	}
	log.Info(ctx, "formation centered",
		logging.String("address", res.Address),
		logging.String("center", res.Point.String()),
		logging.Bool("fallback", res.Fallback),
	)
	if cfg.AutoStart {
		if err := state.Start(ctx); err != nil {
			log.Warn(ctx, "autostart failed", logging.Err(err))
		}
	}

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			nbi.RecoveryUnaryServerInterceptor(log),
			nbi.RequestIDUnaryServerInterceptor(log),
			nbi.TracingUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
		),
	)
	nbi.RegisterSwarmServiceServer(server, nbi.NewSwarmService(state, log))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(server, healthSrv)
	healthSrv.SetServingStatus(nbi.ServiceName, healthpb.HealthCheckResponse_SERVING)

	errCh := make(chan error, 2)
	log.Info(ctx, "starting swarm gRPC server", logging.String("addr", lis.Addr().String()))
	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	var feed *mapfeed.Server
	if cfg.HTTPAddr != "" {
		feed = mapfeed.NewServer(cfg.HTTPAddr, state, hub, log)
		go func() {
			if err := feed.Start(); err != nil {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	log.Info(context.Background(), "shutting down swarm server")
	healthSrv.Shutdown()
	server.GracefulStop()
	if feed != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := feed.Shutdown(shutdownCtx); err != nil {
			log.Warn(shutdownCtx, "map feed shutdown failed", logging.Err(err))
		}
	}
	return runErr
}

func newResolver(cfg *config.Config, collector *observability.SwarmCollector, log logging.Logger) *geocode.Resolver {
	var g geocode.Geocoder
	if cfg.GeocoderURL != "" {
		g = geocode.NewNominatim(cfg.GeocoderURL, cfg.GeocoderUserAgent, cfg.GeocodeTimeout)
	}
	return geocode.NewResolver(g,
		geocode.WithTimeout(cfg.GeocodeTimeout),
		geocode.WithLogger(log),
		geocode.WithRecorder(collector),
	)
}

func serveMetrics(addr string, collector *observability.SwarmCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
