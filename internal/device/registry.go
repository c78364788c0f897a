package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the catalogue of known and discovered devices.
//
// It keeps an in-memory map for fast lookups and optionally persists
// through a Repository so the catalogue survives restarts. The id is
// unique; Upsert overwrites by id.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository // may be nil (memory-only)
	cache   map[string]*Info
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new device registry.
// A nil repository yields a memory-only registry (used in tests).
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Info),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup. Devices load as
// disconnected regardless of the status they were saved with: a restart
// invalidates every session.
func (r *Registry) RefreshCache(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}

	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Info, len(devices))
	for i := range devices {
		d := devices[i]
		d.Status = StatusDisconnected
		r.cache[d.ID] = d.Clone()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Upsert inserts or replaces a device by id.
//
// An empty ID is generated; an empty Name is derived from the address.
// Validation failures return ErrInvalidDevice wrapped with detail.
func (r *Registry) Upsert(ctx context.Context, info *Info) error {
	if info.ID == "" {
		info.ID = GenerateID()
	}
	if info.Name == "" {
		info.Name = GenerateName(info.Transport, info.Address)
	}
	if info.Status == "" {
		info.Status = StatusDisconnected
	}

	if !ValidType(info.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidType, info.Type)
	}
	if !ValidTransport(info.Transport) {
		return fmt.Errorf("%w: %q", ErrInvalidTransport, info.Transport)
	}

	now := time.Now().UTC()
	if info.CreatedAt.IsZero() {
		info.CreatedAt = now
	}
	info.UpdatedAt = now

	if r.repo != nil {
		if err := r.repo.Upsert(ctx, info); err != nil {
			return err
		}
	}

	r.cacheMu.Lock()
	r.cache[info.ID] = info.Clone()
	r.cacheMu.Unlock()

	r.logger.Debug("device upserted", "id", info.ID, "name", info.Name)
	return nil
}

// Get retrieves a device by ID.
// Returns ErrNotFound if the device does not exist.
// The returned Info is a copy; callers can safely modify it.
func (r *Registry) Get(id string) (*Info, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	cached, ok := r.cache[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cached.Clone(), nil
}

// List retrieves all devices. Order is unspecified.
// The returned records are copies; callers can safely modify them.
func (r *Registry) List() []Info {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	devices := make([]Info, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d.Clone())
	}
	return devices
}

// ListConnected retrieves all devices currently in the connected state.
func (r *Registry) ListConnected() []Info {
	return r.ListByStatus(StatusConnected)
}

// ListByStatus retrieves all devices with a specific status.
func (r *Registry) ListByStatus(status Status) []Info {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var devices []Info
	for _, d := range r.cache {
		if d.Status == status {
			devices = append(devices, *d.Clone())
		}
	}
	return devices
}

// ListByTransport retrieves all devices reachable over a specific transport.
func (r *Registry) ListByTransport(tr Transport) []Info {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var devices []Info
	for _, d := range r.cache {
		if d.Transport == tr {
			devices = append(devices, *d.Clone())
		}
	}
	return devices
}

// SetStatus updates the connection status of a device and stamps LastSeen
// when the device transitions to connected.
//
// This is called only by the connection manager on state transitions.
// The updated Info copy is returned for publication as a status event.
func (r *Registry) SetStatus(ctx context.Context, id string, status Status) (*Info, error) {
	now := time.Now().UTC()

	r.cacheMu.Lock()
	cached, ok := r.cache[id]
	if !ok {
		r.cacheMu.Unlock()
		return nil, ErrNotFound
	}

	updated := cached.Clone()
	updated.Status = status
	updated.UpdatedAt = now
	if status == StatusConnected {
		updated.LastSeen = &now
	}
	r.cache[id] = updated
	snapshot := updated.Clone()
	r.cacheMu.Unlock()

	if r.repo != nil {
		if err := r.repo.UpdateStatus(ctx, id, status, now); err != nil {
			// Persistence lag is tolerable for status; the cache is canonical.
			r.logger.Warn("status persistence failed", "id", id, "error", err)
		}
	}

	r.logger.Debug("device status updated", "id", id, "status", status)
	return snapshot, nil
}

// SetBatteryLevel records the last reported battery percentage for a device.
// Called from the telemetry path; missing devices are ignored since a
// frame can outlive its catalogue entry.
func (r *Registry) SetBatteryLevel(id string, percent int) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	cached, ok := r.cache[id]
	if !ok {
		return
	}

	updated := cached.Clone()
	updated.BatteryLevel = &percent
	r.cache[id] = updated
}

// Delete removes a device by ID.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.cacheMu.Lock()
	_, ok := r.cache[id]
	delete(r.cache, id)
	r.cacheMu.Unlock()

	if !ok {
		return ErrNotFound
	}

	if r.repo != nil {
		if err := r.repo.Delete(ctx, id); err != nil {
			return err
		}
	}

	r.logger.Info("device deleted", "id", id)
	return nil
}

// Count returns the number of catalogued devices.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	ByTransport  map[Transport]int
	ByStatus     map[Status]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByTransport:  make(map[Transport]int),
		ByStatus:     make(map[Status]int),
	}

	for _, d := range r.cache {
		stats.ByTransport[d.Transport]++
		stats.ByStatus[d.Status]++
	}

	return stats
}
