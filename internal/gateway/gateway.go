// Package gateway is the transport edge of the session engine: a WebSocket
// endpoint per session for live editing, and an HTTP API for session
// management, snapshots and catch-up reads. Fan-out between connections
// goes through the broadcast layer so several gateway nodes can serve the
// same session.
package gateway

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"codecast/collabd/internal/broadcast"
	"codecast/collabd/internal/config"
	"codecast/collabd/internal/identity"
	"codecast/collabd/internal/registry"
	"codecast/collabd/pkg/telemetry"
)

// Gateway wires the registry, identity oracle and broadcast fan-out to
// HTTP and WebSocket clients.
type Gateway struct {
	cfg      *config.Config
	registry *registry.Registry
	oracle   identity.Oracle
	caster   broadcast.Broadcaster
	upgrader websocket.Upgrader
}

// New creates a gateway.
func New(cfg *config.Config, reg *registry.Registry, oracle identity.Oracle, caster broadcast.Broadcaster) *Gateway {
	return &Gateway{
		cfg:      cfg,
		registry: reg,
		oracle:   oracle,
		caster:   caster,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes configures the HTTP routes for the gateway.
func (g *Gateway) Routes() http.Handler {
	router := mux.NewRouter()
	if g.cfg.CORS.Enabled {
		router.Use(g.corsMiddleware)
	}

	router.HandleFunc("/healthz", g.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/sessions", g.handleCreateSession).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{broadcast}", g.handleGetSession).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{broadcast}/operations", g.handleOperationsSince).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{broadcast}/activate", g.handleSetActive(true)).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{broadcast}/deactivate", g.handleSetActive(false)).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{broadcast}/ws", g.handleWS).Methods(http.MethodGet)

	return router
}

// corsMiddleware adds CORS headers and answers preflight requests.
func (g *Gateway) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", g.cfg.CORS.AllowOrigins)
		w.Header().Set("Access-Control-Allow-Methods", g.cfg.CORS.AllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", g.cfg.CORS.AllowHeaders)
		if g.cfg.CORS.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", g.cfg.CORS.MaxAge))

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
