package serial

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/vitalmesh/vitalmesh-core/internal/device"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/config"
	"github.com/vitalmesh/vitalmesh-core/internal/transport"
)

// mockPort is an in-memory serial port fed by tests.
type mockPort struct {
	mu       sync.Mutex
	incoming chan []byte
	written  [][]byte
	closed   chan struct{}
	once     sync.Once
}

func newMockPort() *mockPort {
	return &mockPort{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (m *mockPort) feed(data string) { m.incoming <- []byte(data) }

func (m *mockPort) Read(p []byte) (int, error) {
	select {
	case data, ok := <-m.incoming:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, data), nil
	case <-m.closed:
		return 0, io.ErrClosedPipe
	}
}

func (m *mockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(p))
	copy(buf, p)
	m.written = append(m.written, buf)
	return len(p), nil
}

func (m *mockPort) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

// mockOpener implements Opener over a fixed port table.
type mockOpener struct {
	ports   map[string]*mockPort
	listErr error
	openErr error
}

func newMockOpener(paths ...string) *mockOpener {
	o := &mockOpener{ports: make(map[string]*mockPort)}
	for _, p := range paths {
		o.ports[p] = newMockPort()
	}
	return o
}

func (o *mockOpener) ListPorts(_ context.Context) ([]string, error) {
	if o.listErr != nil {
		return nil, o.listErr
	}
	paths := make([]string, 0, len(o.ports))
	for p := range o.ports {
		paths = append(paths, p)
	}
	return paths, nil
}

func (o *mockOpener) Open(_ context.Context, path string, _ int) (Port, error) {
	if o.openErr != nil {
		return nil, o.openErr
	}
	port, ok := o.ports[path]
	if !ok {
		return nil, errors.New("no such port")
	}
	return port, nil
}

func testAdapter(opener Opener) *Adapter {
	return NewAdapter(config.SerialConfig{
		Enabled:   true,
		BaudRate:  115200,
		Delimiter: "\n",
	}, opener, nil)
}

func TestDiscoverListsPorts(t *testing.T) {
	a := testAdapter(newMockOpener("/dev/ttyUSB0", "/dev/ttyACM1"))

	infos, err := a.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("Discover() returned %d devices, want 2", len(infos))
	}
	for _, info := range infos {
		if info.Transport != device.TransportSerial {
			t.Errorf("Transport = %s", info.Transport)
		}
		if info.Type != device.TypeInhaler {
			t.Errorf("Type = %s, want inhaler", info.Type)
		}
		if info.Address == "" || info.Name == "" {
			t.Errorf("missing address or name: %+v", info)
		}
	}
}

func TestDiscoverError(t *testing.T) {
	opener := newMockOpener()
	opener.listErr = errors.New("sysfs unavailable")
	a := testAdapter(opener)

	if _, err := a.Discover(context.Background()); err == nil {
		t.Fatal("Discover() should surface enumeration failure")
	}
}

func TestConnectPermissionDenied(t *testing.T) {
	opener := newMockOpener()
	opener.openErr = errors.New("open /dev/ttyUSB0: permission denied")
	a := testAdapter(opener)

	_, err := a.Connect(context.Background(), device.Info{ID: "dev-1", Address: "/dev/ttyUSB0"})
	if !errors.Is(err, transport.ErrPermissionDenied) {
		t.Errorf("Connect() error = %v, want ErrPermissionDenied", err)
	}
}

func TestFrameReassembly(t *testing.T) {
	opener := newMockOpener("/dev/ttyUSB0")
	a := testAdapter(opener)

	sess, err := a.Connect(context.Background(), device.Info{ID: "dev-1", Address: "/dev/ttyUSB0"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sess.Close(context.Background())

	port := opener.ports["/dev/ttyUSB0"]

	// One chunk carrying two complete frames plus a partial tail, then
	// the rest of the tail in a second chunk.
	port.feed("hr:75\nhr:76\nhr:7")
	port.feed("7\n")

	want := []string{"hr:75", "hr:76", "hr:77"}
	for _, expected := range want {
		select {
		case frame := <-sess.Frames():
			if got := string(frame.Payload); got != expected {
				t.Errorf("frame = %q, want %q", got, expected)
			}
		case <-time.After(time.Second):
			t.Fatalf("frame %q never arrived", expected)
		}
	}
}

func TestBareDelimitersProduceNoFrames(t *testing.T) {
	opener := newMockOpener("/dev/ttyUSB0")
	a := testAdapter(opener)

	sess, err := a.Connect(context.Background(), device.Info{ID: "dev-1", Address: "/dev/ttyUSB0"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sess.Close(context.Background())

	opener.ports["/dev/ttyUSB0"].feed("\n\nhr:80\n\n")

	select {
	case frame := <-sess.Frames():
		if got := string(frame.Payload); got != "hr:80" {
			t.Errorf("frame = %q, want %q", got, "hr:80")
		}
	case <-time.After(time.Second):
		t.Fatal("frame never arrived")
	}

	select {
	case frame := <-sess.Frames():
		t.Errorf("unexpected extra frame %q", frame.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFramesClosedOnPortError(t *testing.T) {
	opener := newMockOpener("/dev/ttyUSB0")
	a := testAdapter(opener)

	sess, err := a.Connect(context.Background(), device.Info{ID: "dev-1", Address: "/dev/ttyUSB0"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sess.Close(context.Background())

	close(opener.ports["/dev/ttyUSB0"].incoming) // port reports EOF

	select {
	case _, ok := <-sess.Frames():
		if ok {
			t.Fatal("expected closed frames channel")
		}
	case <-time.After(time.Second):
		t.Fatal("frames channel not closed on port error")
	}
}

func TestSendAppendsDelimiter(t *testing.T) {
	opener := newMockOpener("/dev/ttyUSB0")
	a := testAdapter(opener)

	sess, err := a.Connect(context.Background(), device.Info{ID: "dev-1", Address: "/dev/ttyUSB0"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sess.Close(context.Background())

	if err := sess.Send(context.Background(), []byte("calibrate")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := sess.Send(context.Background(), []byte("reset\n")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	port := opener.ports["/dev/ttyUSB0"]
	port.mu.Lock()
	defer port.mu.Unlock()
	if len(port.written) != 2 {
		t.Fatalf("port received %d writes, want 2", len(port.written))
	}
	if got := string(port.written[0]); got != "calibrate\n" {
		t.Errorf("write = %q, want delimiter appended", got)
	}
	if got := string(port.written[1]); got != "reset\n" {
		t.Errorf("write = %q, delimiter must not double", got)
	}
}

func TestSendAfterClose(t *testing.T) {
	opener := newMockOpener("/dev/ttyUSB0")
	a := testAdapter(opener)

	sess, err := a.Connect(context.Background(), device.Info{ID: "dev-1", Address: "/dev/ttyUSB0"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := sess.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sess.Send(context.Background(), []byte("x")); !errors.Is(err, transport.ErrSessionClosed) {
		t.Errorf("Send() after close error = %v, want ErrSessionClosed", err)
	}
	if err := sess.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
