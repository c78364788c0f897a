package serial

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// portGlobs are the device node patterns scanned during discovery.
// Covers USB serial adapters on Linux and macOS.
var portGlobs = []string{
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
	"/dev/cu.usbserial*",
	"/dev/cu.usbmodem*",
}

// SystemOpener opens host serial device nodes.
//
// Line settings (baud rate, 8N1) are expected to be provisioned by the
// host, typically via a udev rule or stty at boot; the opener validates
// the configured rate but does not program the UART itself.
type SystemOpener struct{}

// NewSystemOpener returns an Opener backed by the host's /dev nodes.
func NewSystemOpener() *SystemOpener {
	return &SystemOpener{}
}

// ListPorts enumerates candidate serial port paths, sorted for stable
// discovery ordering.
func (o *SystemOpener) ListPorts(_ context.Context) ([]string, error) {
	var ports []string
	for _, pattern := range portGlobs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("scanning serial ports: %w", err)
		}
		ports = append(ports, matches...)
	}
	sort.Strings(ports)
	return ports, nil
}

// Open opens the device node for reading and writing.
func (o *SystemOpener) Open(_ context.Context, path string, baudRate int) (Port, error) {
	if baudRate <= 0 {
		return nil, fmt.Errorf("invalid baud rate %d", baudRate)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return f, nil
}
