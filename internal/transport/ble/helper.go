package ble

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/logging"
)

// Helper protocol constants.
const (
	// defaultHelperTimeout is the per-request write timeout on the
	// helper socket.
	defaultHelperTimeout = 5 * time.Second

	// notifyQueueSize buffers notification payloads between the socket
	// reader and the session pump.
	notifyQueueSize = 64

	// maxHelperLine caps one helper protocol line. Larger lines
	// indicate a desynchronised or misbehaving helper.
	maxHelperLine = 64 * 1024
)

// helperRequest is one request line to the helper daemon.
type helperRequest struct {
	Op      string `json:"op"`
	Address string `json:"address,omitempty"`
	Payload string `json:"payload,omitempty"` // base64
}

// helperEvent is one event line from the helper daemon.
type helperEvent struct {
	Event   string `json:"event"`
	Address string `json:"address,omitempty"`
	Name    string `json:"name,omitempty"`
	RSSI    int    `json:"rssi,omitempty"`
	Payload string `json:"payload,omitempty"` // base64
	Message string `json:"message,omitempty"`
}

// HelperBackend talks to the BLE helper daemon over a local socket.
//
// The helper owns the host's wireless hardware; this backend speaks a
// newline-delimited JSON protocol to it. Each Scan and Connect call
// uses its own socket connection, so a dropped peripheral link never
// disturbs other sessions.
//
// Supported connection URLs:
//   - "unix:///run/vitalmesh/blehelper.sock"
//   - "tcp://127.0.0.1:6820"
type HelperBackend struct {
	network string
	address string
	logger  *logging.Logger
}

var _ Backend = (*HelperBackend)(nil)

// NewHelperBackend creates a backend for the helper at the given URL.
func NewHelperBackend(connection string, logger *logging.Logger) (*HelperBackend, error) {
	if logger == nil {
		logger = logging.Default()
	}

	u, err := url.Parse(connection)
	if err != nil {
		return nil, fmt.Errorf("parsing helper URL: %w", err)
	}

	var network, address string
	switch u.Scheme {
	case "unix":
		network, address = "unix", u.Path
	case "tcp":
		network, address = "tcp", u.Host
	default:
		return nil, fmt.Errorf("unsupported helper scheme %q", u.Scheme)
	}
	if address == "" {
		return nil, fmt.Errorf("helper URL %q has no address", connection)
	}

	return &HelperBackend{
		network: network,
		address: address,
		logger:  logger.With("component", "ble_helper"),
	}, nil
}

// Scan asks the helper for a sweep and collects advertised peripherals
// until the helper reports completion or ctx expires. A deadline after
// a partial sweep returns the peripherals seen so far.
func (b *HelperBackend) Scan(ctx context.Context) ([]Peripheral, error) {
	conn, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := writeRequest(conn, helperRequest{Op: "scan"}); err != nil {
		return nil, fmt.Errorf("requesting scan: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		//nolint:errcheck // Best-effort deadline; reads fail loudly below
		conn.SetReadDeadline(deadline)
	}

	var found []Peripheral
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxHelperLine)
	for scanner.Scan() {
		var ev helperEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			b.logger.Warn("malformed helper event", "error", err)
			continue
		}
		switch ev.Event {
		case "device":
			found = append(found, Peripheral{
				Address: ev.Address,
				Name:    ev.Name,
				RSSI:    ev.RSSI,
			})
		case "scan_complete":
			return found, nil
		case "error":
			return found, fmt.Errorf("helper scan: %s", ev.Message)
		}
	}

	if ctx.Err() != nil {
		// Deadline during the sweep; partial results are still useful.
		return found, nil
	}
	if err := scanner.Err(); err != nil {
		return found, fmt.Errorf("reading scan events: %w", err)
	}
	return found, fmt.Errorf("helper closed connection mid-scan")
}

// Connect asks the helper to open a peripheral link and subscribes to
// its notification stream.
func (b *HelperBackend) Connect(ctx context.Context, address string) (Connection, error) {
	conn, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}

	if err := writeRequest(conn, helperRequest{Op: "connect", Address: address}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("requesting connect: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		//nolint:errcheck // Best-effort deadline; reads fail loudly below
		conn.SetReadDeadline(deadline)
	}

	// Wait for the helper to confirm the link before handing it out.
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxHelperLine)
	for scanner.Scan() {
		var ev helperEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		switch ev.Event {
		case "connected":
			//nolint:errcheck // Clear the handshake deadline for streaming
			conn.SetReadDeadline(time.Time{})
			hc := &helperConnection{
				conn:          conn,
				scanner:       scanner,
				notifications: make(chan []byte, notifyQueueSize),
				logger:        b.logger.With("address", address),
			}
			go hc.readLoop()
			return hc, nil
		case "error":
			conn.Close()
			return nil, fmt.Errorf("helper connect %s: %s", address, ev.Message)
		}
	}

	conn.Close()
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("awaiting connect confirmation: %w", err)
	}
	return nil, fmt.Errorf("helper closed connection before confirming link")
}

// dial opens one socket connection to the helper.
func (b *HelperBackend) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, b.network, b.address)
	if err != nil {
		return nil, fmt.Errorf("dialing helper at %s: %w", b.address, err)
	}
	return conn, nil
}

// writeRequest sends one request line with a bounded deadline.
func writeRequest(conn net.Conn, req helperRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	//nolint:errcheck // Best-effort deadline; write error surfaces below
	conn.SetWriteDeadline(time.Now().Add(defaultHelperTimeout))
	_, err = conn.Write(append(data, '\n'))
	return err
}

// helperConnection is one live peripheral link through the helper.
type helperConnection struct {
	conn          net.Conn
	scanner       *bufio.Scanner
	notifications chan []byte
	logger        *logging.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

var _ Connection = (*helperConnection)(nil)

// Write forwards a payload to the peripheral through the helper.
func (c *helperConnection) Write(ctx context.Context, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		//nolint:errcheck // Best-effort deadline; write error surfaces below
		c.conn.SetWriteDeadline(deadline)
	} else {
		//nolint:errcheck // Best-effort deadline; write error surfaces below
		c.conn.SetWriteDeadline(time.Now().Add(defaultHelperTimeout))
	}

	return writeRequest(c.conn, helperRequest{
		Op:      "write",
		Payload: base64.StdEncoding.EncodeToString(payload),
	})
}

// Notifications returns the stream of raw characteristic payloads.
func (c *helperConnection) Notifications() <-chan []byte {
	return c.notifications
}

// readLoop decodes helper events into notification payloads. The
// notification channel closes when the helper reports the link down or
// the socket drops, which upstream treats as connection loss.
func (c *helperConnection) readLoop() {
	defer close(c.notifications)

	for c.scanner.Scan() {
		var ev helperEvent
		if err := json.Unmarshal(c.scanner.Bytes(), &ev); err != nil {
			c.logger.Warn("malformed helper event", "error", err)
			continue
		}
		switch ev.Event {
		case "notify":
			payload, err := base64.StdEncoding.DecodeString(ev.Payload)
			if err != nil {
				c.logger.Warn("invalid notification payload", "error", err)
				continue
			}
			select {
			case c.notifications <- payload:
			default:
				c.logger.Warn("notification queue full, dropping payload")
			}
		case "disconnected":
			return
		case "error":
			c.logger.Warn("helper link error", "message", ev.Message)
			return
		}
	}
}

// Close tears down the link. Best-effort disconnect request, then the
// socket close ends the read loop.
func (c *helperConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		//nolint:errcheck // Best-effort courtesy to the helper
		writeRequest(c.conn, helperRequest{Op: "disconnect"})
		err = c.conn.Close()
	})
	return err
}
