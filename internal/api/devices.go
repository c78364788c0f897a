package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vitalmesh/vitalmesh-core/internal/device"
)

// handleListDevices returns all known devices, with optional query filters.
//
// Query parameters:
//   - status: filter by connection status (disconnected, connecting, ...)
//   - transport: filter by transport class
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status := device.Status(statusStr)
		if !device.ValidStatus(status) {
			writeBadRequest(w, "unknown status: "+statusStr)
			return
		}
		devices := s.registry.ListByStatus(status)
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	if transportStr := r.URL.Query().Get("transport"); transportStr != "" {
		tr := device.Transport(transportStr)
		if !device.ValidTransport(tr) {
			writeBadRequest(w, "unknown transport: "+transportStr)
			return
		}
		devices := s.registry.ListByTransport(tr)
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	devices := s.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	info, err := s.registry.Get(id)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// handleDeleteDevice removes a device from the registry.
// The device must be disconnected first.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	info, err := s.registry.Get(id)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}
	if info.Status == device.StatusConnected || info.Status == device.StatusConnecting ||
		info.Status == device.StatusReconnecting {
		writeConflict(w, "device must be disconnected before removal")
		return
	}

	if err := s.registry.Delete(r.Context(), id); err != nil {
		writeInternalError(w, "failed to delete device")
		return
	}
	if s.buffers != nil {
		s.buffers.Remove(id)
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// handleDeviceStats returns registry counters broken down by status.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetStats())
}

// handleTelemetrySnapshot returns the buffered samples for a device,
// oldest first.
func (s *Server) handleTelemetrySnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.registry.Get(id); err != nil {
		writeNotFound(w, "device not found")
		return
	}
	if s.buffers == nil {
		writeJSON(w, http.StatusOK, map[string]any{"samples": []any{}, "count": 0})
		return
	}

	samples := s.buffers.For(id).Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"samples": samples, "count": len(samples)})
}

// handleTelemetryLatest returns the most recent sample for a device.
func (s *Server) handleTelemetryLatest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.registry.Get(id); err != nil {
		writeNotFound(w, "device not found")
		return
	}

	var latest any
	if s.buffers != nil {
		if data := s.buffers.For(id).Latest(); data != nil {
			latest = data
		}
	}
	if latest == nil {
		writeNotFound(w, "no telemetry for device")
		return
	}

	writeJSON(w, http.StatusOK, latest)
}
