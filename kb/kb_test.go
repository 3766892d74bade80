package kb

import (
	"sync"
	"testing"

	"github.com/signalsfoundry/drone-formation-sim/model"
)

var center = model.GeoPoint{Latitude: 39.0997, Longitude: -94.5786}

func threeDrones() []model.DroneState {
	return []model.DroneState{
		{Index: 1, Position: model.GeoPoint{Latitude: 39.1, Longitude: -94.5}},
		{Index: 2, Position: model.GeoPoint{Latitude: 39.2, Longitude: -94.6}},
		{Index: 4, Position: model.GeoPoint{Latitude: 39.3, Longitude: -94.7}},
	}
}

func TestReplaceFormationAndGet(t *testing.T) {
	store := NewKnowledgeBase()
	if _, ok := store.Center(); ok {
		t.Fatalf("new KB reports a center")
	}

	store.ReplaceFormation(center, threeDrones())
	if got := store.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	c, ok := store.Center()
	if !ok || c != center {
		t.Fatalf("Center() = %v, %v, want %v, true", c, ok, center)
	}
	d, ok := store.GetDrone(4)
	if !ok || d.Position.Latitude != 39.3 {
		t.Fatalf("GetDrone(4) = %+v, %v", d, ok)
	}
	if _, ok := store.GetDrone(3); ok {
		t.Fatalf("GetDrone(3) found a drone that was never stored")
	}
}

func TestDronesReturnsCopy(t *testing.T) {
	store := NewKnowledgeBase()
	input := threeDrones()
	store.ReplaceFormation(center, input)

	input[0].Position.Latitude = 0
	got := store.Drones()
	if got[0].Position.Latitude != 39.1 {
		t.Fatalf("KB aliased caller slice: %+v", got[0])
	}
	got[1].Index = 99
	if again := store.Drones(); again[1].Index != 2 {
		t.Fatalf("Drones() returned shared storage")
	}
}

func TestUpdatePositionsAndSubscribe(t *testing.T) {
	store := NewKnowledgeBase()
	var events []Event
	unsubscribe := store.Subscribe(func(e Event) {
		events = append(events, e)
	})

	store.ReplaceFormation(center, threeDrones())
	moved := threeDrones()
	for i := range moved {
		moved[i].Position.Latitude += 0.5
	}
	store.UpdatePositions(moved)

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventFormationBuilt || events[1].Type != EventPositionsUpdated {
		t.Fatalf("event types = %v, %v", events[0].Type, events[1].Type)
	}
	if events[1].Center != center {
		t.Fatalf("update event center = %v, want %v", events[1].Center, center)
	}
	if events[1].Drones[0].Position.Latitude != 39.6 {
		t.Fatalf("update event drone = %+v", events[1].Drones[0])
	}

	unsubscribe()
	unsubscribe()
	store.Clear()
	if len(events) != 2 {
		t.Fatalf("unsubscribed callback still invoked")
	}
}

func TestClear(t *testing.T) {
	store := NewKnowledgeBase()
	var got Event
	store.Subscribe(func(e Event) { got = e })
	store.ReplaceFormation(center, threeDrones())
	store.Clear()

	if got.Type != EventFormationCleared {
		t.Fatalf("last event = %v, want formation_cleared", got.Type)
	}
	if store.Len() != 0 {
		t.Fatalf("Len() after Clear = %d", store.Len())
	}
	if _, ok := store.Center(); ok {
		t.Fatalf("Center() still set after Clear")
	}
	if d := store.Drones(); d == nil || len(d) != 0 {
		t.Fatalf("Drones() after Clear = %#v, want empty slice", d)
	}
}

func TestSubscriberMayReadKB(t *testing.T) {
	store := NewKnowledgeBase()
	var seen int
	store.Subscribe(func(Event) {
		seen = store.Len()
	})
	store.ReplaceFormation(center, threeDrones())
	if seen != 3 {
		t.Fatalf("subscriber saw Len() = %d, want 3", seen)
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := NewKnowledgeBase()
	store.ReplaceFormation(center, threeDrones())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.Drones()
			_, _ = store.GetDrone(2)
		}()
		go func(i int) {
			defer wg.Done()
			moved := threeDrones()
			moved[0].Position.Longitude += float64(i) * 0.001
			store.UpdatePositions(moved)
		}(i)
	}
	wg.Wait()
}
