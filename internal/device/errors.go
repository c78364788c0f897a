package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a device ID does not exist.
	ErrNotFound = errors.New("device: not found")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidType is returned when a device type is not recognised.
	ErrInvalidType = errors.New("device: invalid type")

	// ErrInvalidTransport is returned when a transport value is not recognised.
	ErrInvalidTransport = errors.New("device: invalid transport")
)
