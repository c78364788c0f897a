package serial

import (
	"context"
	"io"
)

// Port is one open serial link. Read blocks until data arrives or the
// port is closed; Close unblocks a pending Read.
type Port interface {
	io.ReadWriteCloser
}

// Opener abstracts the host's serial subsystem so the adapter can run
// against real ports or a test double.
type Opener interface {
	// ListPorts enumerates candidate serial port paths.
	ListPorts(ctx context.Context) ([]string, error)

	// Open opens a port at the given baud rate.
	Open(ctx context.Context, path string, baudRate int) (Port, error)
}
