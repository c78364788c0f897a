package transport

import "errors"

// Domain errors for transport operations. Discovery and connect failures
// map onto this fixed taxonomy; adapters wrap them with detail using %w
// so callers can classify with errors.Is().
var (
	// ErrNotFound is returned when connecting to a device id the
	// transport does not know about.
	ErrNotFound = errors.New("transport: device not found")

	// ErrUnsupported is returned when the platform or adapter cannot
	// perform the requested operation at all.
	ErrUnsupported = errors.New("transport: operation not supported")

	// ErrTimeout is returned when a discovery sweep or connect attempt
	// exceeds its deadline.
	ErrTimeout = errors.New("transport: operation timed out")

	// ErrPermissionDenied is returned when the platform refuses access
	// (missing pairing grant, port permission, auth token rejected).
	ErrPermissionDenied = errors.New("transport: permission denied")

	// ErrProtocol is returned when the remote endpoint violates the
	// expected wire protocol during connection setup.
	ErrProtocol = errors.New("transport: protocol error")

	// ErrSessionClosed is returned when sending on a closed session.
	ErrSessionClosed = errors.New("transport: session closed")
)
