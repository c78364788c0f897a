package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/vitalmesh/vitalmesh-core/internal/telemetry"
)

// Measurement names.
const (
	measurementTelemetry  = "device_telemetry"
	measurementConnection = "connection_events"
)

// WriteTelemetry records one decoded device sample.
//
// Only populated fields are written, so sparse records (a wearable
// without air quality, an inhaler without heart rate) produce sparse
// points. The write is non-blocking; data is batched and sent
// asynchronously.
//
// Parameters:
//   - data: Decoded sample with DeviceID and Timestamp set
//   - transport: Transport class tag (low cardinality)
func (c *Client) WriteTelemetry(data *telemetry.DeviceData, transport string) {
	if !c.IsConnected() || data == nil {
		return
	}

	point := telemetryPoint(data, transport)
	if point == nil {
		return
	}
	c.writeAPI.WritePoint(point)
}

// telemetryPoint builds the line-protocol point for one sample, or nil
// when the sample carries no fields.
func telemetryPoint(data *telemetry.DeviceData, transport string) *write.Point {
	fields := make(map[string]interface{})
	if data.HeartRate != nil {
		fields["heart_rate"] = *data.HeartRate
	}
	if data.AirQuality != nil {
		fields["air_quality"] = *data.AirQuality
	}
	if data.InhalerUsage != nil {
		fields["inhaler_usage"] = *data.InhalerUsage
	}
	if data.InhalerBattery != nil {
		fields["inhaler_battery"] = *data.InhalerBattery
	}
	if data.WearableBattery != nil {
		fields["wearable_battery"] = *data.WearableBattery
	}
	if len(fields) == 0 {
		return nil
	}

	ts := data.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(
		measurementTelemetry,
		map[string]string{
			"device_id": data.DeviceID,
			"transport": transport,
		},
		fields,
		ts,
	)
}

// WriteConnectionEvent records a device connection state transition.
//
// Parameters:
//   - deviceID: Device identifier
//   - from, to: State names (e.g., "connected" -> "reconnecting")
//   - reason: Human-readable transition cause
func (c *Client) WriteConnectionEvent(deviceID, from, to, reason string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		measurementConnection,
		map[string]string{
			"device_id": deviceID,
			"to":        to,
		},
		map[string]interface{}{
			"from":   from,
			"reason": reason,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
