// Package socket implements the local network socket transport
// adapter over WebSocket.
//
// Socket devices advertise nothing, so discovery probes the configured
// address book and reports the endpoints that complete a handshake.
// Each WebSocket message carries one JSON envelope, so messages map
// one-to-one onto frames with no reassembly.
package socket
