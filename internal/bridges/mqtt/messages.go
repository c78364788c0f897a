package mqtt

import (
	"encoding/json"
	"time"

	"github.com/vitalmesh/vitalmesh-core/internal/eventbus"
	"github.com/vitalmesh/vitalmesh-core/internal/telemetry"
)

// TelemetryMessage is the broker representation of one decoded sample.
type TelemetryMessage struct {
	DeviceID  string `json:"deviceId"`
	Transport string `json:"transport"`

	HeartRate       *float64 `json:"heartRate,omitempty"`
	AirQuality      *float64 `json:"airQuality,omitempty"`
	InhalerUsage    *float64 `json:"inhalerUsage,omitempty"`
	InhalerBattery  *int     `json:"inhalerBattery,omitempty"`
	WearableBattery *int     `json:"wearableBattery,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// StatusMessage is the broker representation of a device state change
// or device-reported status envelope.
type StatusMessage struct {
	DeviceID string `json:"deviceId"`
	Kind     string `json:"kind"`

	// State-change fields.
	Previous string `json:"previous,omitempty"`
	Current  string `json:"current,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// Device-report fields.
	Report *telemetry.StatusEnvelope `json:"report,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// CommandMessage is the inbound command payload on
// vitalmesh/command/{device_id}.
type CommandMessage struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newTelemetryMessage(ev eventbus.TelemetryEvent) TelemetryMessage {
	msg := TelemetryMessage{
		DeviceID:  ev.DeviceID,
		Transport: string(ev.Transport),
	}
	if ev.Data != nil {
		msg.HeartRate = ev.Data.HeartRate
		msg.AirQuality = ev.Data.AirQuality
		msg.InhalerUsage = ev.Data.InhalerUsage
		msg.InhalerBattery = ev.Data.InhalerBattery
		msg.WearableBattery = ev.Data.WearableBattery
		msg.Timestamp = ev.Data.Timestamp
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return msg
}

func newStatusMessage(ev eventbus.StatusEvent) StatusMessage {
	msg := StatusMessage{
		DeviceID:  ev.DeviceID,
		Kind:      ev.Kind,
		Reason:    ev.Reason,
		Report:    ev.Envelope,
		Timestamp: ev.At,
	}
	if ev.Kind == eventbus.KindStateChange {
		msg.Previous = string(ev.Previous)
		msg.Current = string(ev.Current)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return msg
}
