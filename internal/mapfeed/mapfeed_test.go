package mapfeed

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/signalsfoundry/drone-formation-sim/internal/logging"
	sim "github.com/signalsfoundry/drone-formation-sim/internal/sim/state"
	"github.com/signalsfoundry/drone-formation-sim/kb"
	"github.com/signalsfoundry/drone-formation-sim/model"
)

var kansasCity = model.GeoPoint{Latitude: 39.0997, Longitude: -94.5786}

type gaugeRecorder struct {
	mu sync.Mutex
	n  int
}

func (g *gaugeRecorder) SetFeedClients(n int) {
	g.mu.Lock()
	g.n = n
	g.mu.Unlock()
}

func (g *gaugeRecorder) get() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

func newFeed(t *testing.T, opts ...HubOption) (*httptest.Server, *sim.SwarmState, *Hub) {
	t.Helper()
	hub := NewHub(logging.Noop(), opts...)
	state := sim.NewSwarmState(kb.NewKnowledgeBase(), logging.Noop(), sim.WithChangeNotifier(hub.Notify))
	t.Cleanup(state.Close)
	t.Cleanup(hub.Attach(state, state.KB()))

	srv := httptest.NewServer(NewHandler(state, hub, nil))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv, state, hub
}

func dialFeed(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readCollection(t *testing.T, conn *websocket.Conn) *geojson.FeatureCollection {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(msg)
	if err != nil {
		t.Fatalf("UnmarshalFeatureCollection: %v", err)
	}
	return fc
}

// readUntil reads collections until match accepts one. Publishes coalesce,
// so intermediate states may or may not be seen.
func readUntil(t *testing.T, conn *websocket.Conn, match func(*geojson.FeatureCollection) bool) *geojson.FeatureCollection {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fc := readCollection(t, conn); match(fc) {
			return fc
		}
	}
	t.Fatalf("no matching collection before deadline")
	return nil
}

func featureCount(n int) func(*geojson.FeatureCollection) bool {
	return func(fc *geojson.FeatureCollection) bool { return len(fc.Features) == n }
}

func TestFeatureCollectionLayout(t *testing.T) {
	if fc := FeatureCollection(kansasCity, false, nil); len(fc.Features) != 0 {
		t.Fatalf("collection without center has %d features", len(fc.Features))
	}

	drones := []model.DroneState{
		{Index: 1, Position: model.GeoPoint{Latitude: 39.1, Longitude: -94.5}},
		{Index: 3, Position: model.GeoPoint{Latitude: 39.0, Longitude: -94.6}},
	}
	fc := FeatureCollection(kansasCity, true, drones)
	if len(fc.Features) != 3 {
		t.Fatalf("features = %d, want reference + 2 drones", len(fc.Features))
	}
	ref := fc.Features[0]
	if ref.Properties.MustString("kind") != KindReference {
		t.Fatalf("first feature kind = %v", ref.Properties["kind"])
	}
	if p := ref.Geometry.(orb.Point); p.Lon() != kansasCity.Longitude || p.Lat() != kansasCity.Latitude {
		t.Fatalf("reference point = %v, want lon/lat order of %v", p, kansasCity)
	}
	last := fc.Features[2]
	if last.Properties.MustString("kind") != KindDrone || last.Properties.MustInt("index") != 3 {
		t.Fatalf("drone properties = %v", last.Properties)
	}
}

func TestFormationEndpoint(t *testing.T) {
	srv, state, _ := newFeed(t)
	if err := state.SetCenter(context.Background(), kansasCity); err != nil {
		t.Fatalf("SetCenter: %v", err)
	}

	resp, err := http.Get(srv.URL + "/formation")
	if err != nil {
		t.Fatalf("GET /formation: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/geo+json" {
		t.Fatalf("Content-Type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fc.Features) != 9 {
		t.Fatalf("features = %d, want 9", len(fc.Features))
	}
	if fc.ExtraMembers.MustString("session") != state.Snapshot().Session {
		t.Fatalf("session member = %v", fc.ExtraMembers["session"])
	}
	if fc.ExtraMembers.MustString("direction") != string(model.North) {
		t.Fatalf("direction member = %v", fc.ExtraMembers["direction"])
	}
}

func TestWebSocketStreamsUpdates(t *testing.T) {
	gauge := &gaugeRecorder{}
	srv, state, hub := newFeed(t, WithClientRecorder(gauge))
	ctx := context.Background()
	if err := state.SetCenter(ctx, kansasCity); err != nil {
		t.Fatalf("SetCenter: %v", err)
	}

	conn := dialFeed(t, srv)
	first := readUntil(t, conn, featureCount(9))
	if first.ExtraMembers.MustString("session") != state.Snapshot().Session {
		t.Fatalf("stream session = %v", first.ExtraMembers["session"])
	}
	if hub.Clients() != 1 || gauge.get() != 1 {
		t.Fatalf("clients = %d, gauge = %d", hub.Clients(), gauge.get())
	}

	if err := state.ConfigureFormation(ctx, model.FormationConfig{DroneCount: 4, SpacingFeet: 50}); err != nil {
		t.Fatalf("ConfigureFormation: %v", err)
	}
	next := readUntil(t, conn, featureCount(5))
	if next.ExtraMembers.MustInt("drone_count") != 4 {
		t.Fatalf("drone_count member = %v", next.ExtraMembers["drone_count"])
	}
}

func TestWebSocketCarriesMotionSettings(t *testing.T) {
	srv, state, _ := newFeed(t)
	ctx := context.Background()
	if err := state.SetCenter(ctx, kansasCity); err != nil {
		t.Fatalf("SetCenter: %v", err)
	}
	conn := dialFeed(t, srv)
	readUntil(t, conn, featureCount(9))

	// Motion changes leave the drones where they are; the stream must still
	// report them.
	if err := state.SetMotion(ctx, 12, model.East); err != nil {
		t.Fatalf("SetMotion: %v", err)
	}
	fc := readUntil(t, conn, func(fc *geojson.FeatureCollection) bool {
		return fc.ExtraMembers.MustFloat64("speed_mph", 0) == 12
	})
	if fc.ExtraMembers.MustString("direction") != string(model.East) || fc.ExtraMembers.MustBool("moving", true) {
		t.Fatalf("members = %v, want idle east", fc.ExtraMembers)
	}

	if err := state.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	readUntil(t, conn, func(fc *geojson.FeatureCollection) bool {
		return fc.ExtraMembers.MustBool("moving", false)
	})
	state.Stop(ctx)
	readUntil(t, conn, func(fc *geojson.FeatureCollection) bool {
		return !fc.ExtraMembers.MustBool("moving", true)
	})
}

func TestSlowClientIsDropped(t *testing.T) {
	gauge := &gaugeRecorder{}
	hub := NewHub(logging.Noop(), WithClientRecorder(gauge))

	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := hub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	defer srv.Close()
	dialFeed(t, srv)

	// No write pump: nothing drains the send buffer.
	serverConn := <-conns
	defer serverConn.Close()
	c := &client{conn: serverConn, send: make(chan []byte, sendBuffer)}
	if !hub.register(c) {
		t.Fatalf("register on an open hub failed")
	}
	if hub.Clients() != 1 || gauge.get() != 1 {
		t.Fatalf("clients = %d, gauge = %d after register", hub.Clients(), gauge.get())
	}

	fc := FeatureCollection(kansasCity, true, nil)
	for i := 0; i < sendBuffer; i++ {
		hub.Publish(fc)
	}
	if hub.Clients() != 1 {
		t.Fatalf("client dropped before its buffer filled")
	}
	hub.Publish(fc)
	if hub.Clients() != 0 || gauge.get() != 0 {
		t.Fatalf("clients = %d, gauge = %d, want slow client dropped", hub.Clients(), gauge.get())
	}
	for i := 0; i < sendBuffer; i++ {
		<-c.send
	}
	select {
	case _, ok := <-c.send:
		if ok {
			t.Fatalf("dropped client received a message past its buffer")
		}
	default:
		t.Fatalf("send channel of a dropped client is still open")
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	gauge := &gaugeRecorder{}
	srv, state, hub := newFeed(t, WithClientRecorder(gauge))
	if err := state.SetCenter(context.Background(), kansasCity); err != nil {
		t.Fatalf("SetCenter: %v", err)
	}
	conn := dialFeed(t, srv)
	readUntil(t, conn, featureCount(9))

	hub.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("ReadMessage after Close = %v, want normal closure", err)
	}
	if hub.Clients() != 0 || gauge.get() != 0 {
		t.Fatalf("clients = %d, gauge = %d after Close", hub.Clients(), gauge.get())
	}
}

func TestClientDisconnectIsNoticed(t *testing.T) {
	srv, state, hub := newFeed(t)
	if err := state.SetCenter(context.Background(), kansasCity); err != nil {
		t.Fatalf("SetCenter: %v", err)
	}
	conn := dialFeed(t, srv)
	readUntil(t, conn, featureCount(9))
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("hub still has %d clients", hub.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(logging.Noop(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/formation", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
