// Package device provides the device catalogue for VitalMesh Core.
//
// The Registry is the central record of every known or discovered device,
// across all three transports. It holds an in-memory cache for fast
// lookups and optionally persists through a SQLite Repository so that
// discovered devices survive restarts.
//
// # Key Types
//
//   - Info: One catalogued device (identity, type, transport, status)
//   - Type: Device classification (inhaler, wearable, sensor)
//   - Transport: Channel class (short-range wireless, local socket, serial link)
//   - Status: Connection lifecycle state, owned by the connection manager
//
// # Ownership
//
// The Registry owns Info records. The connection manager is the only
// component that mutates Status (via SetStatus); discovery merges new
// devices with Upsert; the telemetry path records battery levels.
//
// # Thread Safety
//
// All Registry operations are safe for concurrent use. Returned Info
// values are copies and may be freely modified by callers.
package device
