package ble

import "context"

// Peripheral describes a device seen during a scan sweep.
type Peripheral struct {
	Address string
	Name    string
	RSSI    int
}

// Connection is one open link to a peripheral.
//
// Notifications delivers raw characteristic payloads pushed by the
// device and is closed by the backend when the link drops or Close is
// called. Implementations must not reuse notification buffers after
// delivery.
type Connection interface {
	Write(ctx context.Context, payload []byte) error
	Notifications() <-chan []byte
	Close() error
}

// Backend abstracts the short-range wireless stack so the adapter can
// run against real hardware or a test double.
type Backend interface {
	// Scan sweeps for advertising peripherals until ctx expires.
	Scan(ctx context.Context) ([]Peripheral, error)

	// Connect opens a link and subscribes to telemetry notifications.
	Connect(ctx context.Context, address string) (Connection, error)
}
