package mapfeed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/signalsfoundry/drone-formation-sim/internal/logging"
	sim "github.com/signalsfoundry/drone-formation-sim/internal/sim/state"
)

// SnapshotSource supplies the current swarm snapshot.
type SnapshotSource interface {
	Snapshot() sim.Snapshot
}

// Server exposes the map feed over HTTP:
//
//	GET /formation  current swarm as a GeoJSON FeatureCollection
//	GET /ws         WebSocket stream of FeatureCollections
//	GET /healthz    liveness
type Server struct {
	httpServer *http.Server
	hub        *Hub
	log        logging.Logger
}

// NewServer builds a feed server listening on addr.
func NewServer(addr string, source SnapshotSource, hub *Hub, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	s := &Server{hub: hub, log: log}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           NewHandler(source, hub, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// NewHandler returns the feed routes wrapped in panic recovery.
func NewHandler(source SnapshotSource, hub *Hub, log logging.Logger) http.Handler {
	if log == nil {
		log = logging.Noop()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /formation", func(w http.ResponseWriter, r *http.Request) {
		body, err := FromSnapshot(source.Snapshot()).MarshalJSON()
		if err != nil {
			log.Error(r.Context(), "encode formation failed", logging.Err(err))
			http.Error(w, "encode formation", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Write(body)
	})
	mux.Handle("GET /ws", hub)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "ok",
			"clients": hub.Clients(),
		})
	})
	return RecoveryMiddleware(log, mux)
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info(context.Background(), "map feed listening", logging.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown disconnects feed clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// RecoveryMiddleware turns handler panics into 500 responses.
func RecoveryMiddleware(log logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error(r.Context(), "panic in map feed handler",
					logging.String("path", r.URL.Path),
					logging.Any("panic", rec),
				)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
