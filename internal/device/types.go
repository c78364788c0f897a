package device

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Info describes a known or discovered device.
//
// Info records are owned by the Registry. Status, LastSeen, and
// BatteryLevel are mutated only by the connection manager through
// Registry methods; everything else is set at discovery or
// configuration time.
type Info struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Classification
	Type      Type      `json:"type"`
	Transport Transport `json:"transport"`

	// Connection state
	Status   Status     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// BatteryLevel is the last reported battery percentage, if any.
	BatteryLevel *int `json:"battery_level,omitempty"`

	// Address is the transport-specific endpoint (BLE address, host:port,
	// or serial port path).
	Address string `json:"address,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns an independent copy of the Info.
// Pointer fields are duplicated so modifications to the copy do not
// affect the original. Essential for cache isolation.
func (i *Info) Clone() *Info {
	if i == nil {
		return nil
	}

	cpy := *i

	if i.LastSeen != nil {
		ls := *i.LastSeen
		cpy.LastSeen = &ls
	}
	if i.BatteryLevel != nil {
		bl := *i.BatteryLevel
		cpy.BatteryLevel = &bl
	}

	return &cpy
}

// Type represents the kind of device.
type Type string

// Type constants.
const (
	TypeInhaler  Type = "inhaler"
	TypeWearable Type = "wearable"
	TypeSensor   Type = "sensor"
)

// AllTypes returns all valid device type values.
func AllTypes() []Type {
	return []Type{TypeInhaler, TypeWearable, TypeSensor}
}

// ValidType reports whether t is a recognised device type.
func ValidType(t Type) bool {
	switch t {
	case TypeInhaler, TypeWearable, TypeSensor:
		return true
	default:
		return false
	}
}

// Transport represents the channel class used to reach a device.
type Transport string

// Transport constants.
const (
	TransportWireless Transport = "short_range_wireless"
	TransportSocket   Transport = "local_socket"
	TransportSerial   Transport = "serial_link"
)

// AllTransports returns all valid transport values.
func AllTransports() []Transport {
	return []Transport{TransportWireless, TransportSocket, TransportSerial}
}

// ValidTransport reports whether tr is a recognised transport.
func ValidTransport(tr Transport) bool {
	switch tr {
	case TransportWireless, TransportSocket, TransportSerial:
		return true
	default:
		return false
	}
}

// Status represents the connection lifecycle state of a device.
//
// The connection manager owns all transitions. Failed is terminal until
// an explicit connect request resets it.
type Status string

// Status constants.
const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
)

// AllStatuses returns all valid status values.
func AllStatuses() []Status {
	return []Status{
		StatusDisconnected, StatusConnecting, StatusConnected,
		StatusReconnecting, StatusFailed,
	}
}

// ValidStatus reports whether s is a recognised status value.
func ValidStatus(s Status) bool {
	switch s {
	case StatusDisconnected, StatusConnecting, StatusConnected,
		StatusReconnecting, StatusFailed:
		return true
	default:
		return false
	}
}

// GenerateID returns a new unique device identifier.
func GenerateID() string {
	return uuid.NewString()
}

// GenerateName derives a fallback display name from a transport address.
// Used when discovery yields a device without a human-readable name.
func GenerateName(transport Transport, address string) string {
	addr := strings.ReplaceAll(address, ":", "-")
	switch transport {
	case TransportWireless:
		return "wireless-" + addr
	case TransportSocket:
		return "socket-" + addr
	case TransportSerial:
		return "serial-" + strings.TrimPrefix(addr, "/dev/")
	default:
		return addr
	}
}
