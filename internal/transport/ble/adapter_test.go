package ble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vitalmesh/vitalmesh-core/internal/device"
	"github.com/vitalmesh/vitalmesh-core/internal/transport"
)

// mockBackend implements Backend for tests.
type mockBackend struct {
	mu          sync.Mutex
	peripherals []Peripheral
	scanErr     error
	connectErr  error
	conns       map[string]*mockConnection
}

func newMockBackend(peripherals ...Peripheral) *mockBackend {
	return &mockBackend{
		peripherals: peripherals,
		conns:       make(map[string]*mockConnection),
	}
}

func (m *mockBackend) Scan(_ context.Context) ([]Peripheral, error) {
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	return m.peripherals, nil
}

func (m *mockBackend) Connect(_ context.Context, address string) (Connection, error) {
	if m.connectErr != nil {
		return nil, m.connectErr
	}
	conn := newMockConnection()
	m.mu.Lock()
	m.conns[address] = conn
	m.mu.Unlock()
	return conn, nil
}

type mockConnection struct {
	mu            sync.Mutex
	notifications chan []byte
	written       [][]byte
	writeErr      error
	closed        bool
}

func newMockConnection() *mockConnection {
	return &mockConnection{notifications: make(chan []byte, 8)}
}

func (m *mockConnection) Write(_ context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	m.written = append(m.written, buf)
	return nil
}

func (m *mockConnection) Notifications() <-chan []byte { return m.notifications }

func (m *mockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.notifications)
	}
	return nil
}

func TestAdapterDiscover(t *testing.T) {
	backend := newMockBackend(
		Peripheral{Address: "AA:BB:CC:00:00:01", Name: "VM-Inhaler-01", RSSI: -52},
		Peripheral{Address: "AA:BB:CC:00:00:02", Name: "PulseBand", RSSI: -60},
		Peripheral{Address: "AA:BB:CC:00:00:03", Name: "", RSSI: -71},
	)
	a := NewAdapter(backend, nil)

	infos, err := a.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("Discover() returned %d devices, want 3", len(infos))
	}

	if infos[0].Type != device.TypeInhaler {
		t.Errorf("inhaler peripheral classified as %s", infos[0].Type)
	}
	if infos[1].Type != device.TypeWearable {
		t.Errorf("band peripheral classified as %s", infos[1].Type)
	}
	if infos[2].Type != device.TypeSensor {
		t.Errorf("unnamed peripheral classified as %s, want sensor fallback", infos[2].Type)
	}
	if infos[2].Name == "" {
		t.Error("unnamed peripheral should receive a generated name")
	}
	for _, info := range infos {
		if info.Transport != device.TransportWireless {
			t.Errorf("device %s transport = %s", info.Address, info.Transport)
		}
		if info.Status != device.StatusDisconnected {
			t.Errorf("device %s status = %s, want disconnected", info.Address, info.Status)
		}
	}
}

func TestAdapterDiscoverScanError(t *testing.T) {
	backend := newMockBackend()
	backend.scanErr = errors.New("radio unavailable")
	a := NewAdapter(backend, nil)

	if _, err := a.Discover(context.Background()); err == nil {
		t.Fatal("Discover() should surface backend scan failure")
	}
}

func TestAdapterDiscoverPartialSweep(t *testing.T) {
	// A deadline hit mid-scan returns what was found, not an error.
	backend := newMockBackend(Peripheral{Address: "AA:BB:CC:00:00:01", Name: "sensor"})
	backend.scanErr = context.DeadlineExceeded

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewAdapter(backend, nil)
	if _, err := a.Discover(ctx); err != nil {
		t.Fatalf("Discover() after deadline error = %v", err)
	}
}

func TestSessionFramePump(t *testing.T) {
	backend := newMockBackend()
	a := NewAdapter(backend, nil)

	info := device.Info{ID: "dev-1", Address: "AA:BB:CC:00:00:01"}
	sess, err := a.Connect(context.Background(), info)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	conn := backend.conns[info.Address]
	conn.notifications <- []byte{0x01, 0x02, 0x4B, 0x00}

	select {
	case frame := <-sess.Frames():
		if frame.DeviceID != "dev-1" {
			t.Errorf("frame DeviceID = %q", frame.DeviceID)
		}
		if len(frame.Payload) != 4 || frame.Payload[2] != 0x4B {
			t.Errorf("frame Payload = %x", frame.Payload)
		}
		if frame.At.IsZero() {
			t.Error("frame missing receive timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("frame was not pumped")
	}

	if err := sess.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestSessionFramesClosedOnLinkLoss(t *testing.T) {
	backend := newMockBackend()
	a := NewAdapter(backend, nil)

	sess, err := a.Connect(context.Background(), device.Info{ID: "dev-1", Address: "AA:BB"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Backend drops the link.
	backend.conns["AA:BB"].Close()

	select {
	case _, ok := <-sess.Frames():
		if ok {
			t.Fatal("expected closed frames channel, got a frame")
		}
	case <-time.After(time.Second):
		t.Fatal("frames channel not closed on link loss")
	}
}

func TestSessionSend(t *testing.T) {
	backend := newMockBackend()
	a := NewAdapter(backend, nil)

	sess, err := a.Connect(context.Background(), device.Info{ID: "dev-1", Address: "AA:BB"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := sess.Send(context.Background(), []byte("ping")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	conn := backend.conns["AA:BB"]
	conn.mu.Lock()
	wrote := len(conn.written)
	conn.mu.Unlock()
	if wrote != 1 {
		t.Errorf("backend received %d writes, want 1", wrote)
	}

	if err := sess.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sess.Send(context.Background(), []byte("after")); !errors.Is(err, transport.ErrSessionClosed) {
		t.Errorf("Send() after close error = %v, want ErrSessionClosed", err)
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	backend := newMockBackend()
	a := NewAdapter(backend, nil)

	sess, err := a.Connect(context.Background(), device.Info{ID: "dev-1", Address: "AA:BB"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := sess.Close(context.Background()); err != nil {
			t.Errorf("Close() call %d error = %v", i+1, err)
		}
	}
}

func TestConnectRequiresAddress(t *testing.T) {
	a := NewAdapter(newMockBackend(), nil)
	_, err := a.Connect(context.Background(), device.Info{ID: "dev-1"})
	if !errors.Is(err, transport.ErrNotFound) {
		t.Errorf("Connect() error = %v, want ErrNotFound", err)
	}
}
