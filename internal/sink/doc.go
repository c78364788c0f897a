// Package sink persists bus events to long-term time-series storage.
//
// It is an optional component: when InfluxDB is disabled in
// configuration the sink is simply never started, and telemetry lives
// only in the in-memory ring buffers.
package sink
