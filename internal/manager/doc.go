// Package manager drives device connection lifecycles.
//
// Manager owns the per-device state machine (disconnected, connecting,
// connected, reconnecting, failed), one read loop per live session,
// and the fixed-delay reconnect policy with its attempt cap. All state
// transitions for a device run under that device's lock; blocking
// transport calls run outside it and apply their results only when a
// generation counter shows nothing invalidated them in flight.
//
// Dispatcher is the single outbound path: it checks connection state,
// encodes the command for the transport, and writes through the
// session, which serializes concurrent sends.
package manager
