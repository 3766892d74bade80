package mapfeed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paulmach/orb/geojson"
	"github.com/signalsfoundry/drone-formation-sim/internal/logging"
	"github.com/signalsfoundry/drone-formation-sim/kb"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 8
)

// ClientRecorder is told how many clients are connected.
type ClientRecorder interface {
	SetFeedClients(n int)
}

// Hub fans formation updates out to WebSocket clients. A client whose
// buffer is full is disconnected rather than slowing the swarm down.
type Hub struct {
	upgrader websocket.Upgrader
	log      logging.Logger
	metrics  ClientRecorder

	pending chan struct{}

	mu      sync.Mutex
	clients map[*client]struct{}
	latest  []byte
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithClientRecorder attaches a gauge for connected clients.
func WithClientRecorder(r ClientRecorder) HubOption {
	return func(h *Hub) { h.metrics = r }
}

// WithCheckOrigin overrides the WebSocket origin check. The default accepts
// every origin.
func WithCheckOrigin(fn func(*http.Request) bool) HubOption {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// NewHub constructs an empty hub.
func NewHub(log logging.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = logging.Noop()
	}
	h := &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		log:      log,
		pending:  make(chan struct{}, 1),
		clients:  make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Attach streams source to the hub. Every knowledge base event and every
// Notify schedules a publish; pending requests coalesce, so a burst of
// frames produces one snapshot taken after the burst. Snapshots are read on
// the hub's own goroutine because store subscribers run under the swarm's
// lock. The returned function stops streaming.
func (h *Hub) Attach(source SnapshotSource, store *kb.KnowledgeBase) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	unsubscribe := store.Subscribe(func(kb.Event) { h.Notify() })

	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			case <-h.pending:
				h.Publish(FromSnapshot(source.Snapshot()))
			}
		}
	}()
	h.Notify()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			close(done)
			<-stopped
		})
	}
}

// Notify schedules a publish of the current snapshot. It never blocks.
func (h *Hub) Notify() {
	select {
	case h.pending <- struct{}{}:
	default:
	}
}

// Publish sends fc to every connected client and remembers it for clients
// that connect later.
func (h *Hub) Publish(fc *geojson.FeatureCollection) {
	msg, err := fc.MarshalJSON()
	if err != nil {
		h.log.Warn(context.Background(), "encode feature collection failed", logging.Err(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.latest = msg
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.removeLocked(c)
			h.log.Warn(context.Background(), "dropping slow map feed client",
				logging.String("remote", c.conn.RemoteAddr().String()))
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a WebSocket and streams updates until
// the client goes away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.register(c) {
		conn.Close()
		return
	}

	h.log.Debug(r.Context(), "map feed client connected", logging.String("remote", conn.RemoteAddr().String()))
	go h.writePump(c)
	h.readPump(c)
}

// register adds c and queues the latest collection for it. It reports
// false once the hub is closed.
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.latest != nil {
		c.send <- h.latest
	}
	h.reportLocked()
	return true
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// readPump discards client messages; it exists to notice disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.mu.Lock()
		h.removeLocked(c)
		h.mu.Unlock()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// removeLocked is idempotent. Caller must hold mu.
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.reportLocked()
}

func (h *Hub) reportLocked() {
	if h.metrics != nil {
		h.metrics.SetFeedClients(len(h.clients))
	}
}
