// Package eventbus decouples telemetry producers from consumers.
//
// The connection manager publishes decoded telemetry and status
// transitions; the API streaming layer, the MQTT bridge, and the
// time-series sink subscribe independently. Subscribers receive events
// over bounded buffered channels, so a stalled consumer sheds its own
// oldest events rather than applying backpressure to device read
// loops.
package eventbus
