// Package influxdb provides the long-term telemetry sink.
//
// Decoded device samples are written as points in the device_telemetry
// measurement, tagged by device_id and transport, with one field per
// populated metric. Connection-state transitions land in
// connection_events. Writes are batched by the underlying client and
// flushed asynchronously; a write failure never blocks the telemetry
// path.
//
// The sink is optional. When disabled in configuration Connect returns
// ErrDisabled and every write method becomes a no-op.
package influxdb
