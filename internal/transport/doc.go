// Package transport defines the common capability set shared by the three
// device transports: short-range wireless, local network socket, and
// point-to-point serial link.
//
// Each transport implements the Adapter interface (discovery + connect)
// and hands out Session handles (send + raw frame receive stream). The
// connection manager is the sole owner of sessions; adapters never talk
// to the registry or the event bus directly.
//
// Frame delivery contract: a session's Frames() channel carries raw
// frames in arrival order and is closed exactly once, either by Close()
// or by connection loss. Receivers distinguish the two by whether they
// initiated the close.
//
// Concrete adapters live in the subpackages ble, socket, and serial.
package transport
