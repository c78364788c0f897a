package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vitalmesh/vitalmesh-core/internal/device"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/logging"
	"github.com/vitalmesh/vitalmesh-core/internal/transport"
)

// defaultCommandTimeout bounds a send when the caller's context carries
// no deadline.
const defaultCommandTimeout = 5 * time.Second

// Dispatcher funnels every outbound command through the device's live
// session, serializing writes per session and translating the command
// into the transport's wire encoding.
//
// Fire-and-forget: no request/response correlation happens here. A
// device that wants to acknowledge does so with an ordinary inbound
// frame.
type Dispatcher struct {
	manager *Manager
	logger  *logging.Logger
}

// NewDispatcher creates a command dispatcher over the manager's
// sessions.
func NewDispatcher(m *Manager, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		manager: m,
		logger:  logger.With("component", "dispatcher"),
	}
}

// Send transmits a named command to a connected device.
//
// Fails fast with ErrNotConnected unless the device is connected.
// Transport faults surface as ErrTransportRejected; a missed deadline
// surfaces as ErrCommandTimeout.
func (d *Dispatcher) Send(ctx context.Context, deviceID, name string, payload json.RawMessage) error {
	if name == "" {
		return fmt.Errorf("%w: empty command name", ErrTransportRejected)
	}

	sess, err := d.manager.Session(deviceID)
	if err != nil {
		return err
	}

	encoded, err := encodeCommand(sess.Kind(), name, payload)
	if err != nil {
		return err
	}

	sendCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, defaultCommandTimeout)
		defer cancel()
	}

	if err := sess.Send(sendCtx, encoded); err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("%w: %s %q", ErrCommandTimeout, deviceID, name)
		case errors.Is(err, transport.ErrSessionClosed):
			return fmt.Errorf("%w: session closed mid-send", ErrNotConnected)
		default:
			return fmt.Errorf("%w: %v", ErrTransportRejected, err)
		}
	}

	d.logger.Debug("command sent",
		"device_id", deviceID, "command", name, "bytes", len(encoded))
	return nil
}

// encodeCommand renders a command in the transport's outbound format:
// name, NUL separator, then raw JSON payload bytes for wireless;
// delimited text for socket and serial (the session supplies the
// delimiter where the stream needs one).
func encodeCommand(kind device.Transport, name string, payload json.RawMessage) ([]byte, error) {
	switch kind {
	case device.TransportWireless:
		out := make([]byte, 0, len(name)+1+len(payload))
		out = append(out, name...)
		out = append(out, 0x00)
		out = append(out, payload...)
		return out, nil

	case device.TransportSocket, device.TransportSerial:
		if len(payload) == 0 {
			return []byte(name), nil
		}
		out := make([]byte, 0, len(name)+1+len(payload))
		out = append(out, name...)
		out = append(out, ' ')
		out = append(out, payload...)
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, kind)
	}
}
