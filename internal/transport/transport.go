package transport

import (
	"context"
	"time"

	"github.com/vitalmesh/vitalmesh-core/internal/device"
)

// Frame is one discrete unit of raw data received from a transport,
// before decoding into telemetry or status.
type Frame struct {
	// DeviceID identifies the session the frame arrived on.
	DeviceID string

	// Payload is the raw frame bytes. Ownership passes to the receiver;
	// adapters never reuse the backing array.
	Payload []byte

	// At is the receive timestamp.
	At time.Time
}

// Session is the live handle representing one open transport connection
// to one device.
//
// The connection manager exclusively owns sessions and maintains at most
// one active Session per device id. Sends on a session are serialized by
// the implementation; Close waits for (or times out on) an in-flight
// send before releasing the underlying handle.
type Session interface {
	// DeviceID returns the id of the connected device.
	DeviceID() string

	// Kind returns the transport class of this session.
	Kind() device.Transport

	// Send transmits payload to the device. Delivery is at-most-once;
	// no acknowledgment is guaranteed at this layer.
	Send(ctx context.Context, payload []byte) error

	// Frames returns the inbound frame stream. The channel is closed
	// when the connection is lost or the session is closed; a closed
	// channel with no pending Close call signals unsolicited loss.
	Frames() <-chan Frame

	// Close releases the connection. It waits for an in-flight send to
	// finish, up to the context deadline. Safe to call multiple times.
	Close(ctx context.Context) error
}

// Adapter abstracts one transport class behind a common capability set:
// discovery, connect, disconnect (via Session.Close), send, and a raw
// frame receive stream.
type Adapter interface {
	// Kind returns the transport class this adapter serves.
	Kind() device.Transport

	// Discover enumerates candidate devices reachable over this
	// transport. The sweep is bounded by the context deadline. Results
	// are returned for the caller to merge into the registry; Discover
	// itself never mutates shared state.
	Discover(ctx context.Context) ([]device.Info, error)

	// Connect opens a session to the given device. The context carries
	// the connect timeout taken from the configuration snapshot for
	// this attempt.
	Connect(ctx context.Context, info device.Info) (Session, error)
}
