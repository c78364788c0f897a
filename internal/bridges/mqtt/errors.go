package mqtt

import "errors"

// Domain errors for the MQTT bridge package.
var (
	// ErrInvalidTopic is returned when an inbound topic does not carry
	// a device ID.
	ErrInvalidTopic = errors.New("mqtt bridge: invalid command topic")

	// ErrInvalidCommand is returned when an inbound command payload is
	// malformed or missing its command name.
	ErrInvalidCommand = errors.New("mqtt bridge: invalid command payload")
)
