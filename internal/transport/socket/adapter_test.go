package socket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vitalmesh/vitalmesh-core/internal/device"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/config"
	"github.com/vitalmesh/vitalmesh-core/internal/transport"
)

// fakeDevice is a WebSocket endpoint standing in for a socket device.
type fakeDevice struct {
	server   *httptest.Server
	token    string
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	received [][]byte
}

func newFakeDevice(t *testing.T, token string) *fakeDevice {
	t.Helper()
	fd := &fakeDevice{token: token}
	fd.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/telemetry" {
			http.NotFound(w, r)
			return
		}
		if fd.token != "" && r.Header.Get("Authorization") != "Bearer "+fd.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := fd.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fd.mu.Lock()
		fd.conns = append(fd.conns, conn)
		fd.mu.Unlock()

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fd.mu.Lock()
			fd.received = append(fd.received, payload)
			fd.mu.Unlock()
		}
	}))
	t.Cleanup(fd.server.Close)
	return fd
}

// knownDevice builds the address book entry pointing at the fake.
func (fd *fakeDevice) knownDevice(id string) config.KnownDevice {
	hostPort := strings.TrimPrefix(fd.server.URL, "http://")
	host, portStr, _ := strings.Cut(hostPort, ":")
	port, _ := strconv.Atoi(portStr)
	return config.KnownDevice{
		ID:        id,
		Name:      "Bedside Hub",
		Type:      string(device.TypeSensor),
		Host:      host,
		Port:      port,
		AuthToken: fd.token,
	}
}

func (fd *fakeDevice) push(t *testing.T, payload string) {
	t.Helper()
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if len(fd.conns) == 0 {
		t.Fatal("no device connection to push on")
	}
	conn := fd.conns[len(fd.conns)-1]
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func (fd *fakeDevice) dropConnections() {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	for _, conn := range fd.conns {
		conn.Close()
	}
	fd.conns = nil
}

func testAdapter(devices ...config.KnownDevice) *Adapter {
	return NewAdapter(config.SocketConfig{
		Enabled:      true,
		Tuning:       config.TransportTuning{ConnectTimeout: 2, DiscoveryTimeout: 2},
		KnownDevices: devices,
	}, nil)
}

func TestDiscoverReportsReachableDevices(t *testing.T) {
	fd := newFakeDevice(t, "")
	offline := config.KnownDevice{
		ID: "dev-offline", Name: "Unplugged", Type: "sensor",
		Host: "127.0.0.1", Port: 1, // nothing listens here
	}
	a := testAdapter(fd.knownDevice("dev-hub"), offline)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	infos, err := a.Discover(ctx)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("Discover() returned %d devices, want 1 reachable", len(infos))
	}
	got := infos[0]
	if got.ID != "dev-hub" {
		t.Errorf("ID = %q, want configured id", got.ID)
	}
	if got.Transport != device.TransportSocket {
		t.Errorf("Transport = %s", got.Transport)
	}
	if got.Status != device.StatusDisconnected {
		t.Errorf("Status = %s, want disconnected", got.Status)
	}
}

func TestConnectAndReceiveFrames(t *testing.T) {
	fd := newFakeDevice(t, "")
	kd := fd.knownDevice("dev-hub")
	a := testAdapter(kd)

	sess, err := a.Connect(context.Background(), device.Info{ID: "dev-hub", Address: kd.Host + ":" + strconv.Itoa(kd.Port)})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sess.Close(context.Background())

	fd.push(t, `{"type":"data","data":{"heartRate":75}}`)

	select {
	case frame := <-sess.Frames():
		if frame.DeviceID != "dev-hub" {
			t.Errorf("frame DeviceID = %q", frame.DeviceID)
		}
		if !strings.Contains(string(frame.Payload), "heartRate") {
			t.Errorf("frame Payload = %s", frame.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
}

func TestConnectSendsAuthToken(t *testing.T) {
	fd := newFakeDevice(t, "secret-token")
	kd := fd.knownDevice("dev-hub")
	a := testAdapter(kd)

	sess, err := a.Connect(context.Background(), device.Info{ID: "dev-hub"})
	if err != nil {
		t.Fatalf("Connect() with token error = %v", err)
	}
	sess.Close(context.Background())
}

func TestConnectRejectedCredentials(t *testing.T) {
	fd := newFakeDevice(t, "secret-token")
	kd := fd.knownDevice("dev-hub")
	kd.AuthToken = "wrong"
	a := testAdapter(kd)

	_, err := a.Connect(context.Background(), device.Info{ID: "dev-hub"})
	if !errors.Is(err, transport.ErrPermissionDenied) {
		t.Errorf("Connect() error = %v, want ErrPermissionDenied", err)
	}
}

func TestConnectUnknownDevice(t *testing.T) {
	a := testAdapter()
	_, err := a.Connect(context.Background(), device.Info{ID: "dev-stranger"})
	if !errors.Is(err, transport.ErrNotFound) {
		t.Errorf("Connect() error = %v, want ErrNotFound", err)
	}
}

func TestFramesClosedOnConnectionLoss(t *testing.T) {
	fd := newFakeDevice(t, "")
	a := testAdapter(fd.knownDevice("dev-hub"))

	sess, err := a.Connect(context.Background(), device.Info{ID: "dev-hub"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sess.Close(context.Background())

	fd.dropConnections()

	select {
	case _, ok := <-sess.Frames():
		if ok {
			t.Fatal("expected closed frames channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frames channel not closed on connection loss")
	}
}

func TestSessionSendReachesDevice(t *testing.T) {
	fd := newFakeDevice(t, "")
	a := testAdapter(fd.knownDevice("dev-hub"))

	sess, err := a.Connect(context.Background(), device.Info{ID: "dev-hub"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sess.Close(context.Background())

	if err := sess.Send(context.Background(), []byte(`{"command":"calibrate"}`)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		fd.mu.Lock()
		n := len(fd.received)
		fd.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("device never received the command")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSendAfterClose(t *testing.T) {
	fd := newFakeDevice(t, "")
	a := testAdapter(fd.knownDevice("dev-hub"))

	sess, err := a.Connect(context.Background(), device.Info{ID: "dev-hub"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := sess.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sess.Send(context.Background(), []byte("x")); !errors.Is(err, transport.ErrSessionClosed) {
		t.Errorf("Send() after close error = %v, want ErrSessionClosed", err)
	}
	// Close is idempotent.
	if err := sess.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
