package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vitalmesh/vitalmesh-core/internal/manager"
	"github.com/vitalmesh/vitalmesh-core/internal/transport"
)

// handleDiscover runs a discovery sweep across all enabled transports
// and returns the merged device list.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	devices, err := s.manager.Discover(r.Context())
	if err != nil {
		if errors.Is(err, manager.ErrShuttingDown) {
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "shutting down")
			return
		}
		writeInternalError(w, "discovery failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleConnect establishes a session to a device.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.manager.Connect(r.Context(), id); err != nil {
		s.writeManagerError(w, err, "connect failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"status":    string(s.manager.Status(id)),
	})
}

// handleDisconnect tears down a device's session and cancels any
// pending reconnect.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.manager.Disconnect(r.Context(), id); err != nil {
		s.writeManagerError(w, err, "disconnect failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"status":    string(s.manager.Status(id)),
	})
}

// commandRequest is the body for POST /devices/{id}/command.
type commandRequest struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// handleCommand sends a command to a connected device.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.sender == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "command dispatch not available")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "command name is required")
		return
	}

	if err := s.sender.Send(r.Context(), id, req.Name, req.Payload); err != nil {
		s.writeManagerError(w, err, "command failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": id,
		"command":   req.Name,
	})
}

// writeManagerError maps connection manager errors to HTTP responses.
func (s *Server) writeManagerError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, manager.ErrUnknownDevice):
		writeNotFound(w, "device not found")
	case errors.Is(err, manager.ErrInvalidTransition):
		writeConflict(w, err.Error())
	case errors.Is(err, manager.ErrNotConnected):
		writeConflict(w, "device not connected")
	case errors.Is(err, manager.ErrSuperseded):
		writeConflict(w, "superseded by a newer request")
	case errors.Is(err, manager.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "shutting down")
	case errors.Is(err, manager.ErrCommandTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "device did not accept the command in time")
	case errors.Is(err, manager.ErrTransportRejected):
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
	case errors.Is(err, manager.ErrNoAdapter):
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, "no adapter for device transport")
	case errors.Is(err, transport.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "device did not respond in time")
	case errors.Is(err, transport.ErrPermissionDenied):
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, "device rejected credentials")
	case errors.Is(err, transport.ErrNotFound):
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, "device unreachable")
	default:
		writeInternalError(w, fallback)
	}
}
