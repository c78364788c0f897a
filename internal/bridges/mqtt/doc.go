// Package mqtt bridges the internal event bus to the MQTT broker.
//
// The bridge is a translator between two buses:
//
//	┌─────────────────┐            ┌─────────────────┐
//	│  Device Manager │  event bus │   MQTT Bridge   │  broker
//	│   + transports  │───────────►│   (this pkg)    │◄────────► MQTT
//	└─────────────────┘            └─────────────────┘
//
// Outbound, every decoded telemetry sample is published to
// vitalmesh/telemetry/{id} and every connection state change or
// device-reported status to vitalmesh/device/{id}/status (retained).
// Inbound, commands on vitalmesh/command/{id} are dispatched to the
// addressed device's live session.
//
// The bridge never blocks the telemetry path: it consumes the bus
// through its own bounded subscriptions, and publish failures are
// logged and dropped.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package mqtt
