package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/signalsfoundry/drone-formation-sim/core"
	"github.com/signalsfoundry/drone-formation-sim/internal/config"
	"github.com/signalsfoundry/drone-formation-sim/internal/geocode"
	"github.com/signalsfoundry/drone-formation-sim/internal/logging"
	"github.com/signalsfoundry/drone-formation-sim/kb"
	"github.com/signalsfoundry/drone-formation-sim/model"
	"github.com/signalsfoundry/drone-formation-sim/timectrl"
)

type simConfig struct {
	Center    model.GeoPoint
	Formation model.FormationConfig
	Motion    model.MotionConfig
	Duration  time.Duration
	Tick      time.Duration
	Every     int
	Mode      timectrl.Mode
}

type simResult struct {
	Frames   uint64
	Start    []model.DroneState
	Final    []model.DroneState
	Dropped  int
	Traveled float64 // feet, measured on the lowest-index surviving drone
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	address := flag.String("address", cfg.Address, "Street address to center on (geocoded; falls back to Kansas City)")
	lat := flag.Float64("lat", model.DefaultCenter.Latitude, "Center latitude when no address is given")
	lon := flag.Float64("lon", model.DefaultCenter.Longitude, "Center longitude when no address is given")
	drones := flag.Int("drones", cfg.Formation.DroneCount, "Number of drones")
	spacing := flag.Float64("spacing", cfg.Formation.SpacingFeet, "Feet between adjacent drones")
	speed := flag.Float64("speed", cfg.Motion.SpeedMph, "Speed in miles per hour")
	direction := flag.String("direction", string(cfg.Motion.Direction), "Compass direction of travel")
	duration := flag.Duration("duration", 60*time.Second, "Total simulated duration")
	tick := flag.Duration("tick", time.Second, "Frame interval")
	every := flag.Int("every", 10, "Print positions every N frames")
	accelerated := flag.Bool("accelerated", true, "Run in accelerated mode (vs real-time)")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	center := model.GeoPoint{Latitude: *lat, Longitude: *lon}
	if *address != "" {
		var g geocode.Geocoder
		if cfg.GeocoderURL != "" {
			g = geocode.NewNominatim(cfg.GeocoderURL, cfg.GeocoderUserAgent, cfg.GeocodeTimeout)
		}
		res := geocode.NewResolver(g, geocode.WithLogger(log), geocode.WithTimeout(cfg.GeocodeTimeout)).Resolve(ctx, *address)
		center = res.Point
		fmt.Printf("Resolved %q to %s (fallback=%v)\n", res.Address, res.Point, res.Fallback)
	}
	if !center.Valid() {
		fmt.Fprintf(os.Stderr, "invalid center %s\n", center)
		os.Exit(2)
	}

	mode := timectrl.RealTime
	if *accelerated {
		mode = timectrl.Accelerated
	}
	sc := simConfig{
		Center:    center,
		Formation: model.FormationConfig{DroneCount: *drones, SpacingFeet: *spacing},
		Motion:    model.MotionConfig{SpeedMph: *speed, Direction: model.ParseDirection(*direction)},
		Duration:  *duration,
		Tick:      *tick,
		Every:     *every,
		Mode:      mode,
	}

	fmt.Printf("Starting simulation: duration=%s, tick=%s, mode=%v\n", sc.Duration, sc.Tick, sc.Mode)
	res := simulate(ctx, sc, os.Stdout)
	fmt.Printf("Simulation complete: %d frames, %.1f ft traveled, %d drones dropped.\n",
		res.Frames, res.Traveled, res.Dropped)
}

// simulate builds the formation and moves it for sc.Duration, writing a
// position report to out every sc.Every frames.
func simulate(ctx context.Context, sc simConfig, out io.Writer) simResult {
	store := kb.NewKnowledgeBase()
	cfg := sc.Formation.Normalized()
	store.ReplaceFormation(sc.Center, core.NewFormation(sc.Center, cfg))

	res := simResult{Start: store.Drones()}
	fmt.Fprintf(out, "Formation: %d drones, spacing %.1f ft, radius %.1f ft around %s\n",
		len(res.Start), cfg.SpacingFeet, core.RadiusFeet(cfg), sc.Center)

	integrator := core.NewMotionIntegrator(sc.Motion)
	integrator.Start()

	clock := timectrl.NewFrameClock(time.Now().UTC(), sc.Tick, sc.Mode)
	done := clock.Start(ctx, sc.Duration, func(f timectrl.Frame) {
		moved, dropped := integrator.Tick(f.Time, store.Drones())
		store.UpdatePositions(moved)
		res.Frames = f.Seq
		res.Dropped += dropped

		if sc.Every > 0 && f.Seq%uint64(sc.Every) == 0 {
			report(out, f, store.Drones())
		}
	})
	<-done

	res.Final = store.Drones()
	if len(res.Start) > 0 {
		first := res.Start[0]
		if last, ok := store.GetDrone(first.Index); ok {
			res.Traveled = core.DistanceFeet(first.Position, last.Position)
		}
	}
	return res
}

func report(out io.Writer, f timectrl.Frame, drones []model.DroneState) {
	fmt.Fprintf(out, "[%s] frame %d\n", f.Time.Format(time.RFC3339), f.Seq)
	for _, d := range drones {
		fmt.Fprintf(out, "  drone %-3d %s\n", d.Index, d.Position)
	}
}
