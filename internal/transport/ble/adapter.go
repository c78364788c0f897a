package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vitalmesh/vitalmesh-core/internal/device"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/logging"
	"github.com/vitalmesh/vitalmesh-core/internal/transport"
)

// Adapter serves the short-range wireless transport through a pluggable
// Backend.
//
// Thread Safety: all methods are safe for concurrent use; session
// ownership rules are the connection manager's concern.
type Adapter struct {
	backend Backend
	logger  *logging.Logger
}

var _ transport.Adapter = (*Adapter)(nil)

// NewAdapter creates a wireless adapter over the given backend.
func NewAdapter(backend Backend, logger *logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.Default()
	}
	return &Adapter{
		backend: backend,
		logger:  logger.With("transport", string(device.TransportWireless)),
	}
}

// Kind returns the transport class this adapter serves.
func (a *Adapter) Kind() device.Transport {
	return device.TransportWireless
}

// Discover sweeps for advertising peripherals and maps them to device
// records. The sweep runs until ctx expires; a context deadline error
// from the backend after a partial sweep is not treated as failure.
func (a *Adapter) Discover(ctx context.Context) ([]device.Info, error) {
	peripherals, err := a.backend.Scan(ctx)
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("%w: scan: %w", transport.ErrUnsupported, err)
	}

	now := time.Now().UTC()
	infos := make([]device.Info, 0, len(peripherals))
	for _, p := range peripherals {
		name := p.Name
		if name == "" {
			name = device.GenerateName(device.TransportWireless, p.Address)
		}
		infos = append(infos, device.Info{
			Name:      name,
			Type:      peripheralType(p.Name),
			Transport: device.TransportWireless,
			Status:    device.StatusDisconnected,
			Address:   p.Address,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	a.logger.Debug("wireless sweep complete", "found", len(infos))
	return infos, nil
}

// Connect opens a link to the peripheral and starts streaming its
// notification payloads as frames.
func (a *Adapter) Connect(ctx context.Context, info device.Info) (transport.Session, error) {
	if info.Address == "" {
		return nil, fmt.Errorf("%w: device %s has no address", transport.ErrNotFound, info.ID)
	}

	conn, err := a.backend.Connect(ctx, info.Address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: connect %s: %w", transport.ErrTimeout, info.Address, err)
		}
		return nil, fmt.Errorf("connect %s: %w", info.Address, err)
	}

	s := &session{
		deviceID: info.ID,
		conn:     conn,
		frames:   make(chan transport.Frame),
		done:     make(chan struct{}),
		logger:   a.logger.With("device_id", info.ID),
	}
	s.wg.Add(1)
	go s.pump()

	return s, nil
}

// peripheralType infers the device class from the advertised name.
// Unknown names fall back to the environmental sensor class.
func peripheralType(name string) device.Type {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "inhaler"):
		return device.TypeInhaler
	case strings.Contains(lower, "band"), strings.Contains(lower, "watch"),
		strings.Contains(lower, "wear"):
		return device.TypeWearable
	default:
		return device.TypeSensor
	}
}

// session adapts one backend Connection to the transport.Session
// contract.
type session struct {
	deviceID string
	conn     Connection
	frames   chan transport.Frame
	logger   *logging.Logger

	sendMu    sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ transport.Session = (*session)(nil)

func (s *session) DeviceID() string { return s.deviceID }

func (s *session) Kind() device.Transport { return device.TransportWireless }

func (s *session) Frames() <-chan transport.Frame { return s.frames }

// Send writes a payload to the peripheral. Sends are serialized; Close
// waits for an in-flight send before releasing the link.
func (s *session) Send(ctx context.Context, payload []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	select {
	case <-s.done:
		return transport.ErrSessionClosed
	default:
	}

	if err := s.conn.Write(ctx, payload); err != nil {
		return fmt.Errorf("wireless send: %w", err)
	}
	return nil
}

// pump forwards backend notifications as frames until the link drops.
// Closing the frames channel is the loss signal consumed upstream.
func (s *session) pump() {
	defer s.wg.Done()
	defer close(s.frames)

	for payload := range s.conn.Notifications() {
		buf := make([]byte, len(payload))
		copy(buf, payload)

		select {
		case s.frames <- transport.Frame{DeviceID: s.deviceID, Payload: buf, At: time.Now().UTC()}:
		case <-s.done:
			return
		}
	}
}

// Close releases the link. It waits for an in-flight send up to the
// context deadline, then tears down the backend connection, which ends
// the pump by closing the notification channel.
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
		case <-ctx.Done():
			s.logger.Warn("close proceeding with send in flight", "error", ctx.Err())
		}

		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}
