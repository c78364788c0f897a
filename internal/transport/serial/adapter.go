package serial

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/vitalmesh/vitalmesh-core/internal/device"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/config"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/logging"
	"github.com/vitalmesh/vitalmesh-core/internal/transport"
)

// readChunkSize is the size of a single raw read from the port.
const readChunkSize = 256

// maxPendingBytes caps the reassembly buffer. A stream that never
// produces a delimiter within this window is desynchronized and the
// session is dropped rather than growing without bound.
const maxPendingBytes = 64 * 1024

// Adapter serves the serial link transport.
//
// The byte stream carries no framing of its own, so sessions reassemble
// frames on the configured delimiter and retain trailing partial
// segments until the rest arrives.
type Adapter struct {
	cfg    config.SerialConfig
	opener Opener
	logger *logging.Logger
}

var _ transport.Adapter = (*Adapter)(nil)

// NewAdapter creates a serial adapter over the given port opener.
func NewAdapter(cfg config.SerialConfig, opener Opener, logger *logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 115200
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = "\n"
	}
	return &Adapter{
		cfg:    cfg,
		opener: opener,
		logger: logger.With("transport", string(device.TransportSerial)),
	}
}

// Kind returns the transport class this adapter serves.
func (a *Adapter) Kind() device.Transport {
	return device.TransportSerial
}

// Discover enumerates serial ports and reports each as a candidate
// device. Serial peripherals in this system are inhaler docks, so the
// inhaler class is assumed until telemetry proves otherwise.
func (a *Adapter) Discover(ctx context.Context) ([]device.Info, error) {
	ports, err := a.opener.ListPorts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}

	now := time.Now().UTC()
	infos := make([]device.Info, 0, len(ports))
	for _, p := range ports {
		infos = append(infos, device.Info{
			Name:      "Serial " + path.Base(p),
			Type:      device.TypeInhaler,
			Transport: device.TransportSerial,
			Status:    device.StatusDisconnected,
			Address:   p,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	a.logger.Debug("serial sweep complete", "found", len(infos))
	return infos, nil
}

// Connect opens the device's port and starts the frame reassembly loop.
func (a *Adapter) Connect(ctx context.Context, info device.Info) (transport.Session, error) {
	if info.Address == "" {
		return nil, fmt.Errorf("%w: device %s has no port path", transport.ErrNotFound, info.ID)
	}

	port, err := a.opener.Open(ctx, info.Address, a.cfg.BaudRate)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, fmt.Errorf("%w: open %s: %w", transport.ErrTimeout, info.Address, err)
		case strings.Contains(err.Error(), "permission"):
			return nil, fmt.Errorf("%w: open %s: %w", transport.ErrPermissionDenied, info.Address, err)
		default:
			return nil, fmt.Errorf("open %s: %w", info.Address, err)
		}
	}

	s := &session{
		deviceID:  info.ID,
		port:      port,
		delimiter: []byte(a.cfg.Delimiter),
		frames:    make(chan transport.Frame),
		done:      make(chan struct{}),
		logger:    a.logger.With("device_id", info.ID),
	}
	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

// session adapts one open port to the transport.Session contract.
type session struct {
	deviceID  string
	port      Port
	delimiter []byte
	frames    chan transport.Frame
	logger    *logging.Logger

	sendMu    sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ transport.Session = (*session)(nil)

func (s *session) DeviceID() string { return s.deviceID }

func (s *session) Kind() device.Transport { return device.TransportSerial }

func (s *session) Frames() <-chan transport.Frame { return s.frames }

// Send writes a payload followed by the frame delimiter, so the device
// sees the same framing it emits.
func (s *session) Send(ctx context.Context, payload []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	select {
	case <-s.done:
		return transport.ErrSessionClosed
	case <-ctx.Done():
		return fmt.Errorf("serial send: %w", ctx.Err())
	default:
	}

	out := payload
	if !bytes.HasSuffix(payload, s.delimiter) {
		out = make([]byte, 0, len(payload)+len(s.delimiter))
		out = append(out, payload...)
		out = append(out, s.delimiter...)
	}
	if _, err := s.port.Write(out); err != nil {
		return fmt.Errorf("serial send: %w", err)
	}
	return nil
}

// readLoop reads raw chunks and reassembles delimiter-separated frames.
// A partial trailing segment stays buffered until the rest arrives.
// Closing the frames channel is the loss signal consumed upstream.
func (s *session) readLoop() {
	defer s.wg.Done()
	defer close(s.frames)

	var pending []byte
	chunk := make([]byte, readChunkSize)

	for {
		n, err := s.port.Read(chunk)
		if n > 0 {
			pending = append(pending, chunk[:n]...)
			var emitted bool
			pending, emitted = s.emitFrames(pending)
			if !emitted && len(pending) > maxPendingBytes {
				s.logger.Error("serial stream desynchronized, dropping session",
					"pending_bytes", len(pending))
				return
			}
		}
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Debug("serial read ended", "error", err)
			}
			return
		}
	}
}

// emitFrames splits off every complete frame in pending and sends each
// downstream. It returns the remaining partial tail and whether at
// least one frame was emitted.
func (s *session) emitFrames(pending []byte) ([]byte, bool) {
	emitted := false
	for {
		idx := bytes.Index(pending, s.delimiter)
		if idx < 0 {
			return pending, emitted
		}

		segment := pending[:idx]
		pending = pending[idx+len(s.delimiter):]

		// Bare delimiters between frames carry nothing.
		if len(segment) == 0 {
			continue
		}

		payload := make([]byte, len(segment))
		copy(payload, segment)
		select {
		case s.frames <- transport.Frame{DeviceID: s.deviceID, Payload: payload, At: time.Now().UTC()}:
			emitted = true
		case <-s.done:
			return nil, emitted
		}
	}
}

// Close releases the port. It waits for an in-flight send up to the
// context deadline; closing the port unblocks the read loop.
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

		err = s.port.Close()
		s.wg.Wait()
	})
	return err
}
