// Package telemetry decodes raw transport frames into normalised
// device measurements and retains recent samples per device.
//
// Each transport speaks a different wire format: short-range wireless
// devices emit binary TLV records, socket devices wrap readings in a
// JSON envelope, and serial devices send either JSON lines or an
// abbreviated key:value text form. Decoder normalises all three into
// DeviceData so downstream consumers never see transport detail.
//
// Buffer and BufferSet provide bounded in-memory retention (sample
// count and age limits) for the read-side API.
package telemetry
