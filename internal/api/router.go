package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// defaultWebSocketPath is used when the config leaves the path empty.
const defaultWebSocketPath = "/ws"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Discovery sweep across enabled transports
		r.Post("/discover", s.handleDiscover)

		// Device endpoints
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/stats", s.handleDeviceStats)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Delete("/", s.handleDeleteDevice)

				r.Post("/connect", s.handleConnect)
				r.Post("/disconnect", s.handleDisconnect)
				r.Post("/command", s.handleCommand)

				r.Get("/telemetry", s.handleTelemetrySnapshot)
				r.Get("/telemetry/latest", s.handleTelemetryLatest)
			})
		})
	})

	// WebSocket event stream
	wsPath := s.cfg.WebSocket.Path
	if wsPath == "" {
		wsPath = defaultWebSocketPath
	}
	r.Get(wsPath, s.handleWebSocket)

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
