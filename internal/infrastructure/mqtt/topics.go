package mqtt

import "fmt"

// Topic prefixes for the VitalMesh MQTT surface.
//
// Scheme: vitalmesh/{category}/{device_id}[/suffix]
const (
	// TopicPrefix is the base for all VitalMesh topics.
	TopicPrefix = "vitalmesh"

	// TopicPrefixSystem is the base for node-level system topics.
	TopicPrefixSystem = "vitalmesh/system"
)

// Topics provides builders for VitalMesh MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	t := topics.Telemetry("dev-abc123")
//	// Returns: "vitalmesh/telemetry/dev-abc123"
type Topics struct{}

// Telemetry returns the topic for a device's decoded measurements.
//
// Example: vitalmesh/telemetry/dev-abc123
func (Topics) Telemetry(deviceID string) string {
	return fmt.Sprintf("%s/telemetry/%s", TopicPrefix, deviceID)
}

// DeviceStatus returns the topic for a device's connection state and
// device-reported status envelopes. Published retained so dashboards
// see the current state on subscribe.
//
// Example: vitalmesh/device/dev-abc123/status
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/status", TopicPrefix, deviceID)
}

// DeviceCommand returns the inbound topic for commands addressed to a
// device through this node.
//
// Example: vitalmesh/command/dev-abc123
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// SystemStatus returns the node status topic (online/offline, LWT).
//
// Example: vitalmesh/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllTelemetry returns a pattern matching every device's telemetry.
//
// Pattern: vitalmesh/telemetry/+
func (Topics) AllTelemetry() string {
	return fmt.Sprintf("%s/telemetry/+", TopicPrefix)
}

// AllDeviceStatus returns a pattern matching every device's status.
//
// Pattern: vitalmesh/device/+/status
func (Topics) AllDeviceStatus() string {
	return fmt.Sprintf("%s/device/+/status", TopicPrefix)
}

// AllDeviceCommands returns a pattern matching every inbound command.
//
// Pattern: vitalmesh/command/+
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}
