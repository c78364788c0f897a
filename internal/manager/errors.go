package manager

import "errors"

var (
	// ErrUnknownDevice indicates the device id is not in the registry.
	ErrUnknownDevice = errors.New("manager: unknown device")

	// ErrNoAdapter indicates no adapter serves the device's transport.
	ErrNoAdapter = errors.New("manager: no adapter for transport")

	// ErrInvalidTransition indicates the operation is not valid from the
	// device's current connection state.
	ErrInvalidTransition = errors.New("manager: invalid state transition")

	// ErrSuperseded indicates a disconnect or shutdown invalidated the
	// operation while it was in flight.
	ErrSuperseded = errors.New("manager: operation superseded")

	// ErrShuttingDown indicates the manager is stopping.
	ErrShuttingDown = errors.New("manager: shutting down")

	// ErrNotConnected indicates a command was sent to a device that is
	// not in the connected state.
	ErrNotConnected = errors.New("manager: device not connected")

	// ErrTransportRejected indicates the transport refused the outbound
	// command.
	ErrTransportRejected = errors.New("manager: transport rejected command")

	// ErrCommandTimeout indicates the outbound command did not complete
	// within its deadline.
	ErrCommandTimeout = errors.New("manager: command timed out")
)
