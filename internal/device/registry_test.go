package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu      sync.Mutex
	devices map[string]*Info

	// For testing error paths
	upsertErr       error
	updateStatusErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		devices: make(map[string]*Info),
	}
}

func (m *MockRepository) GetByID(_ context.Context, id string) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.devices[id]; ok {
		return d.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *MockRepository) List(_ context.Context) ([]Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]Info, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, *d.Clone())
	}
	return devices, nil
}

func (m *MockRepository) Upsert(_ context.Context, info *Info) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[info.ID] = info.Clone()
	return nil
}

func (m *MockRepository) UpdateStatus(_ context.Context, id string, status Status, at time.Time) error {
	if m.updateStatusErr != nil {
		return m.updateStatusErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	d.UpdatedAt = at
	return nil
}

func (m *MockRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.devices[id]; !ok {
		return ErrNotFound
	}
	delete(m.devices, id)
	return nil
}

// testInfo returns a valid Info for tests.
func testInfo(id, name string) *Info {
	return &Info{
		ID:        id,
		Name:      name,
		Type:      TypeWearable,
		Transport: TransportSocket,
		Status:    StatusDisconnected,
		Address:   "192.168.1.10:9000",
	}
}

func TestRegistry_Upsert(t *testing.T) {
	registry := NewRegistry(NewMockRepository())
	ctx := context.Background()

	t.Run("generates id and name when missing", func(t *testing.T) {
		info := &Info{
			Type:      TypeSensor,
			Transport: TransportSerial,
			Address:   "/dev/ttyUSB0",
		}
		if err := registry.Upsert(ctx, info); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if info.ID == "" {
			t.Error("ID was not generated")
		}
		if info.Name != "serial-ttyUSB0" {
			t.Errorf("Name = %q, want %q", info.Name, "serial-ttyUSB0")
		}
	})

	t.Run("overwrites by id", func(t *testing.T) {
		first := testInfo("dev-1", "Original")
		if err := registry.Upsert(ctx, first); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		second := testInfo("dev-1", "Replaced")
		if err := registry.Upsert(ctx, second); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		got, err := registry.Get("dev-1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Name != "Replaced" {
			t.Errorf("Name = %q, want %q", got.Name, "Replaced")
		}

		count := 0
		for _, d := range registry.List() {
			if d.ID == "dev-1" {
				count++
			}
		}
		if count != 1 {
			t.Errorf("found %d entries for dev-1, want 1", count)
		}
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		info := testInfo("dev-bad", "Bad")
		info.Type = "toaster"
		if err := registry.Upsert(ctx, info); !errors.Is(err, ErrInvalidType) {
			t.Errorf("Upsert() error = %v, want ErrInvalidType", err)
		}
	})

	t.Run("rejects unknown transport", func(t *testing.T) {
		info := testInfo("dev-bad", "Bad")
		info.Transport = "carrier_pigeon"
		if err := registry.Upsert(ctx, info); !errors.Is(err, ErrInvalidTransport) {
			t.Errorf("Upsert() error = %v, want ErrInvalidTransport", err)
		}
	})
}

func TestRegistry_Get(t *testing.T) {
	registry := NewRegistry(nil)
	ctx := context.Background()

	if err := registry.Upsert(ctx, testInfo("dev-get", "Test Device")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	t.Run("returns device", func(t *testing.T) {
		got, err := registry.Get("dev-get")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.ID != "dev-get" {
			t.Errorf("ID = %q, want %q", got.ID, "dev-get")
		}
	})

	t.Run("returns ErrNotFound for nonexistent", func(t *testing.T) {
		_, err := registry.Get("nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("returned copy does not alias cache", func(t *testing.T) {
		got, _ := registry.Get("dev-get")
		got.Name = "mutated"

		again, _ := registry.Get("dev-get")
		if again.Name != "Test Device" {
			t.Errorf("cache was mutated through returned copy: Name = %q", again.Name)
		}
	})
}

func TestRegistry_ListConnected(t *testing.T) {
	registry := NewRegistry(nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := registry.Upsert(ctx, testInfo(id, "Device "+id)); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}
	if _, err := registry.SetStatus(ctx, "b", StatusConnected); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	connected := registry.ListConnected()
	if len(connected) != 1 || connected[0].ID != "b" {
		t.Errorf("ListConnected() = %v, want exactly device b", connected)
	}
}

func TestRegistry_SetStatus(t *testing.T) {
	registry := NewRegistry(nil)
	ctx := context.Background()

	if err := registry.Upsert(ctx, testInfo("dev-1", "Device 1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	t.Run("stamps last seen on connect", func(t *testing.T) {
		before := time.Now().UTC()
		info, err := registry.SetStatus(ctx, "dev-1", StatusConnected)
		if err != nil {
			t.Fatalf("SetStatus() error = %v", err)
		}
		if info.Status != StatusConnected {
			t.Errorf("Status = %q, want connected", info.Status)
		}
		if info.LastSeen == nil || info.LastSeen.Before(before) {
			t.Errorf("LastSeen = %v, want stamped at or after %v", info.LastSeen, before)
		}
	})

	t.Run("preserves last seen on disconnect", func(t *testing.T) {
		connectedInfo, _ := registry.Get("dev-1")
		info, err := registry.SetStatus(ctx, "dev-1", StatusDisconnected)
		if err != nil {
			t.Fatalf("SetStatus() error = %v", err)
		}
		if info.LastSeen == nil || !info.LastSeen.Equal(*connectedInfo.LastSeen) {
			t.Errorf("LastSeen changed on disconnect: %v vs %v", info.LastSeen, connectedInfo.LastSeen)
		}
	})

	t.Run("returns ErrNotFound for unknown id", func(t *testing.T) {
		if _, err := registry.SetStatus(ctx, "ghost", StatusConnected); !errors.Is(err, ErrNotFound) {
			t.Errorf("SetStatus() error = %v, want ErrNotFound", err)
		}
	})
}

func TestRegistry_RefreshCache(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	stale := testInfo("dev-1", "Device 1")
	stale.Status = StatusConnected
	repo.devices["dev-1"] = stale
	repo.devices["dev-2"] = testInfo("dev-2", "Device 2")

	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	if registry.Count() != 2 {
		t.Errorf("Count() = %d, want 2", registry.Count())
	}

	// Persisted "connected" must not survive a restart.
	got, err := registry.Get("dev-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusDisconnected {
		t.Errorf("Status after refresh = %q, want disconnected", got.Status)
	}
}

func TestRegistry_SetBatteryLevel(t *testing.T) {
	registry := NewRegistry(nil)
	ctx := context.Background()

	if err := registry.Upsert(ctx, testInfo("dev-1", "Device 1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	registry.SetBatteryLevel("dev-1", 82)

	got, _ := registry.Get("dev-1")
	if got.BatteryLevel == nil || *got.BatteryLevel != 82 {
		t.Errorf("BatteryLevel = %v, want 82", got.BatteryLevel)
	}

	// Unknown ids are silently ignored.
	registry.SetBatteryLevel("ghost", 50)
}

func TestRegistry_Delete(t *testing.T) {
	registry := NewRegistry(NewMockRepository())
	ctx := context.Background()

	if err := registry.Upsert(ctx, testInfo("dev-1", "Device 1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := registry.Delete(ctx, "dev-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := registry.Get("dev-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := registry.Delete(ctx, "dev-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() twice error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_GetStats(t *testing.T) {
	registry := NewRegistry(nil)
	ctx := context.Background()

	socket := testInfo("s1", "Socket 1")
	serial := testInfo("r1", "Serial 1")
	serial.Transport = TransportSerial
	serial.Address = "/dev/ttyACM0"

	if err := registry.Upsert(ctx, socket); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := registry.Upsert(ctx, serial); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	stats := registry.GetStats()
	if stats.TotalDevices != 2 {
		t.Errorf("TotalDevices = %d, want 2", stats.TotalDevices)
	}
	if stats.ByTransport[TransportSocket] != 1 || stats.ByTransport[TransportSerial] != 1 {
		t.Errorf("ByTransport = %v, want one of each", stats.ByTransport)
	}
	if stats.ByStatus[StatusDisconnected] != 2 {
		t.Errorf("ByStatus = %v, want 2 disconnected", stats.ByStatus)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry(nil)
	ctx := context.Background()

	if err := registry.Upsert(ctx, testInfo("dev-1", "Device 1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, _ = registry.SetStatus(ctx, "dev-1", StatusConnected)
		}()
		go func() {
			defer wg.Done()
			_, _ = registry.Get("dev-1")
		}()
		go func() {
			defer wg.Done()
			registry.List()
		}()
	}
	wg.Wait()
}
