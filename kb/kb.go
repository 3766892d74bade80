package kb

import (
	"sort"
	"sync"

	"github.com/signalsfoundry/drone-formation-sim/model"
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	// EventFormationBuilt fires when the drone list is replaced wholesale.
	EventFormationBuilt EventType = iota
	// EventPositionsUpdated fires after a motion tick moved the drones.
	EventPositionsUpdated
	// EventFormationCleared fires when the formation is torn down.
	EventFormationCleared
)

func (t EventType) String() string {
	switch t {
	case EventFormationBuilt:
		return "formation_built"
	case EventPositionsUpdated:
		return "positions_updated"
	case EventFormationCleared:
		return "formation_cleared"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when the formation changes. Drones is a
// copy owned by the subscriber.
type Event struct {
	Type   EventType
	Center model.GeoPoint
	Drones []model.DroneState
}

// KnowledgeBase is an in-memory, thread-safe store for the drones of the
// current formation. It owns one ordered list of DroneState records; there
// are no parallel arrays to keep in sync.
type KnowledgeBase struct {
	mu sync.RWMutex

	center    model.GeoPoint
	hasCenter bool
	drones    []model.DroneState

	nextSub int
	subs    map[int]func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		subs: make(map[int]func(Event)),
	}
}

// ReplaceFormation installs a freshly computed formation around center and
// notifies subscribers.
func (kb *KnowledgeBase) ReplaceFormation(center model.GeoPoint, drones []model.DroneState) {
	kb.mu.Lock()
	kb.center = center
	kb.hasCenter = true
	kb.drones = model.CloneDrones(drones)
	if kb.drones == nil {
		kb.drones = []model.DroneState{}
	}
	event := kb.eventLocked(EventFormationBuilt)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, event)
}

// UpdatePositions stores the positions produced by a motion tick and
// notifies subscribers.
func (kb *KnowledgeBase) UpdatePositions(drones []model.DroneState) {
	kb.mu.Lock()
	kb.drones = model.CloneDrones(drones)
	event := kb.eventLocked(EventPositionsUpdated)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, event)
}

// Clear drops the formation and the center.
func (kb *KnowledgeBase) Clear() {
	kb.mu.Lock()
	kb.drones = nil
	kb.hasCenter = false
	kb.center = model.GeoPoint{}
	event := Event{Type: EventFormationCleared}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, event)
}

// Drones returns a snapshot copy of the current drones in index order.
func (kb *KnowledgeBase) Drones() []model.DroneState {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := model.CloneDrones(kb.drones)
	if out == nil {
		out = []model.DroneState{}
	}
	return out
}

// Len returns the number of drones currently held.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.drones)
}

// Center returns the reference point of the current formation and whether
// one has been set.
func (kb *KnowledgeBase) Center() (model.GeoPoint, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.center, kb.hasCenter
}

// GetDrone returns the drone with the given 1-based index, if present.
func (kb *KnowledgeBase) GetDrone(index int) (model.DroneState, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	i := sort.Search(len(kb.drones), func(i int) bool { return kb.drones[i].Index >= index })
	if i < len(kb.drones) && kb.drones[i].Index == index {
		return kb.drones[i], true
	}
	return model.DroneState{}, false
}

// Subscribe registers a callback for KB events. It returns an unsubscribe
// function that is safe to call more than once.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextSub
	kb.nextSub++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) eventLocked(t EventType) Event {
	return Event{
		Type:   t,
		Center: kb.center,
		Drones: model.CloneDrones(kb.drones),
	}
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, kb.subs[id])
	}
	return subs
}

// notify runs outside the lock so subscribers may call back into the KB.
func notify(subs []func(Event), event Event) {
	for _, sub := range subs {
		sub(event)
	}
}
