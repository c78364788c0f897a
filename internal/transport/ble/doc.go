// Package ble implements the short-range wireless transport adapter.
//
// The radio stack itself sits behind the Backend interface so the
// adapter logic (discovery mapping, session lifecycle, frame pumping)
// is testable without hardware. Peripherals push binary TLV payloads as
// notifications; this package forwards them verbatim as frames and
// leaves decoding to the telemetry package.
package ble
