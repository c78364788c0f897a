// Package serial implements the serial link transport adapter.
//
// The host's serial subsystem sits behind the Opener interface so the
// adapter runs against real ports or a test double. Serial links are a
// raw byte stream: sessions split frames on the configured delimiter
// and buffer partial trailing segments until the rest arrives.
package serial
