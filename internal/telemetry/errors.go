package telemetry

import "errors"

// Decode errors. These are strictly local to one frame: the caller logs,
// drops the frame, and continues its read loop.
var (
	// ErrMalformed is returned when a frame cannot be decoded into a
	// record with at least one measurement field.
	ErrMalformed = errors.New("telemetry: malformed frame")

	// ErrUnknownEnvelope is returned when a socket envelope carries an
	// unrecognised type.
	ErrUnknownEnvelope = errors.New("telemetry: unknown envelope type")

	// ErrUnknownTransport is returned when decoding a frame for a
	// transport kind without a registered wire format.
	ErrUnknownTransport = errors.New("telemetry: unknown transport kind")
)
