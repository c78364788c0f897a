package socket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vitalmesh/vitalmesh-core/internal/device"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/config"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/logging"
	"github.com/vitalmesh/vitalmesh-core/internal/transport"
)

// endpointPath is the WebSocket path socket devices expose.
const endpointPath = "/telemetry"

// writeTimeout bounds a single frame write when the caller's context
// carries no deadline.
const writeTimeout = 5 * time.Second

// Adapter serves the local-socket transport. Socket devices cannot be
// found by scanning, so discovery probes the configured address book
// and reports the endpoints that answer.
type Adapter struct {
	cfg    config.SocketConfig
	dialer *websocket.Dialer
	logger *logging.Logger
}

var _ transport.Adapter = (*Adapter)(nil)

// NewAdapter creates a socket adapter from the transport configuration.
func NewAdapter(cfg config.SocketConfig, logger *logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.Default()
	}
	return &Adapter{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.Tuning.ConnectTimeoutDuration(),
		},
		logger: logger.With("transport", string(device.TransportSocket)),
	}
}

// Kind returns the transport class this adapter serves.
func (a *Adapter) Kind() device.Transport {
	return device.TransportSocket
}

// Discover probes every known device concurrently and returns the ones
// that complete a WebSocket handshake before ctx expires. Unreachable
// endpoints are skipped, not errors: an address book entry being
// offline is the normal case, not a fault.
func (a *Adapter) Discover(ctx context.Context) ([]device.Info, error) {
	var (
		mu    sync.Mutex
		found []device.Info
		wg    sync.WaitGroup
	)

	for _, kd := range a.cfg.KnownDevices {
		wg.Add(1)
		go func(kd config.KnownDevice) {
			defer wg.Done()

			conn, resp, err := a.dialer.DialContext(ctx, a.endpointURL(kd), a.authHeader(kd))
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			if err != nil {
				a.logger.Debug("known device unreachable",
					"device_id", kd.ID, "address", a.address(kd), "error", err)
				return
			}
			conn.Close()

			now := time.Now().UTC()
			info := device.Info{
				ID:        kd.ID,
				Name:      kd.Name,
				Type:      device.Type(kd.Type),
				Transport: device.TransportSocket,
				Status:    device.StatusDisconnected,
				Address:   a.address(kd),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if !device.ValidType(info.Type) {
				info.Type = device.TypeSensor
			}

			mu.Lock()
			found = append(found, info)
			mu.Unlock()
		}(kd)
	}
	wg.Wait()

	a.logger.Debug("socket sweep complete",
		"probed", len(a.cfg.KnownDevices), "found", len(found))
	return found, nil
}

// Connect dials the device's WebSocket endpoint and starts the frame
// read loop.
func (a *Adapter) Connect(ctx context.Context, info device.Info) (transport.Session, error) {
	kd, ok := a.lookupKnown(info)
	if !ok {
		return nil, fmt.Errorf("%w: device %s is not in the socket address book", transport.ErrNotFound, info.ID)
	}

	conn, resp, err := a.dialer.DialContext(ctx, a.endpointURL(kd), a.authHeader(kd))
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		switch {
		case resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden):
			return nil, fmt.Errorf("%w: device %s rejected credentials", transport.ErrPermissionDenied, info.ID)
		case ctx.Err() != nil:
			return nil, fmt.Errorf("%w: dial %s: %w", transport.ErrTimeout, a.address(kd), err)
		default:
			return nil, fmt.Errorf("dial %s: %w", a.address(kd), err)
		}
	}

	s := &session{
		deviceID: info.ID,
		conn:     conn,
		frames:   make(chan transport.Frame),
		done:     make(chan struct{}),
		logger:   a.logger.With("device_id", info.ID),
	}
	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

// lookupKnown resolves a device record back to its address book entry,
// matching by id first, then by address.
func (a *Adapter) lookupKnown(info device.Info) (config.KnownDevice, bool) {
	for _, kd := range a.cfg.KnownDevices {
		if kd.ID != "" && kd.ID == info.ID {
			return kd, true
		}
	}
	for _, kd := range a.cfg.KnownDevices {
		if a.address(kd) == info.Address {
			return kd, true
		}
	}
	return config.KnownDevice{}, false
}

func (a *Adapter) address(kd config.KnownDevice) string {
	return fmt.Sprintf("%s:%d", kd.Host, kd.Port)
}

func (a *Adapter) endpointURL(kd config.KnownDevice) string {
	return fmt.Sprintf("ws://%s%s", a.address(kd), endpointPath)
}

func (a *Adapter) authHeader(kd config.KnownDevice) http.Header {
	if kd.AuthToken == "" {
		return nil
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+kd.AuthToken)
	return h
}

// session adapts one WebSocket connection to the transport.Session
// contract. Each WebSocket message is one frame; the device's JSON
// envelope framing means no reassembly is needed here.
type session struct {
	deviceID string
	conn     *websocket.Conn
	frames   chan transport.Frame
	logger   *logging.Logger

	sendMu    sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ transport.Session = (*session)(nil)

func (s *session) DeviceID() string { return s.deviceID }

func (s *session) Kind() device.Transport { return device.TransportSocket }

func (s *session) Frames() <-chan transport.Frame { return s.frames }

// Send writes one text message to the device. gorilla/websocket allows
// a single concurrent writer, so sends are serialized here.
func (s *session) Send(ctx context.Context, payload []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	select {
	case <-s.done:
		return transport.ErrSessionClosed
	default:
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("socket send: set deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("socket send: %w", err)
	}
	return nil
}

// readLoop forwards inbound messages as frames until the connection
// drops. Closing the frames channel is the loss signal consumed
// upstream.
func (s *session) readLoop() {
	defer s.wg.Done()
	defer close(s.frames)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Debug("socket read ended", "error", err)
			}
			return
		}

		select {
		case s.frames <- transport.Frame{DeviceID: s.deviceID, Payload: payload, At: time.Now().UTC()}:
		case <-s.done:
			return
		}
	}
}

// Close sends a best-effort close frame, waits for an in-flight send up
// to the context deadline, and tears down the connection.
func (s *session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		acquired := make(chan struct{})
		go func() {
			s.sendMu.Lock()
			defer s.sendMu.Unlock()
			close(acquired)
		}()
		select {
		case <-acquired:
			deadline := time.Now().Add(time.Second)
			if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
				deadline = d
			}
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		case <-ctx.Done():
			s.logger.Warn("close proceeding with send in flight", "error", ctx.Err())
		}

		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}
