package main

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/drone-formation-sim/model"
	"github.com/signalsfoundry/drone-formation-sim/timectrl"
)

// TestIntegration_FormationDriftsNorth runs an hour of accelerated motion
// and checks distance and heading against the configured speed.
func TestIntegration_FormationDriftsNorth(t *testing.T) {
	var out bytes.Buffer
	res := simulate(context.Background(), simConfig{
		Center:    model.DefaultCenter,
		Formation: model.FormationConfig{DroneCount: 6, SpacingFeet: 100},
		Motion:    model.MotionConfig{SpeedMph: 10, Direction: model.North},
		Duration:  time.Hour,
		Tick:      time.Second,
		Every:     600,
		Mode:      timectrl.Accelerated,
	}, &out)

	if res.Frames != 3600 {
		t.Fatalf("frames = %d, want 3600", res.Frames)
	}
	if res.Dropped != 0 || len(res.Final) != 6 {
		t.Fatalf("dropped = %d, final = %d drones", res.Dropped, len(res.Final))
	}

	// The first frame only arms the integrator, so 3599 s of travel.
	wantFeet := 10 * 5280 * 3599.0 / 3600.0
	if math.Abs(res.Traveled-wantFeet)/wantFeet > 0.01 {
		t.Fatalf("traveled %.1f ft, want ≈ %.1f ft", res.Traveled, wantFeet)
	}
	for i := range res.Final {
		if res.Final[i].Position.Longitude != res.Start[i].Position.Longitude {
			t.Fatalf("drone %d longitude changed moving north", res.Final[i].Index)
		}
		if res.Final[i].Position.Latitude <= res.Start[i].Position.Latitude {
			t.Fatalf("drone %d did not move north", res.Final[i].Index)
		}
	}

	if got := strings.Count(out.String(), "] frame "); got != 6 {
		t.Fatalf("reports = %d, want 6\n%s", got, out.String())
	}
}

func TestSimulateStationaryAtZeroSpeed(t *testing.T) {
	res := simulate(context.Background(), simConfig{
		Center:    model.DefaultCenter,
		Formation: model.DefaultFormation,
		Motion:    model.MotionConfig{SpeedMph: 0, Direction: model.SouthWest},
		Duration:  10 * time.Second,
		Tick:      time.Second,
		Mode:      timectrl.Accelerated,
	}, &bytes.Buffer{})

	if res.Traveled != 0 {
		t.Fatalf("traveled %v ft at zero speed", res.Traveled)
	}
	for i := range res.Final {
		if res.Final[i] != res.Start[i] {
			t.Fatalf("drone %d moved at zero speed", res.Final[i].Index)
		}
	}
}
