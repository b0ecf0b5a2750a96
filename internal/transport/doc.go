// Package transport provides greybus.Transport backends.
//
// # Backends
//
//   - Queue: in-memory link that records every transmitted message. Used by
//     tests and by the loopback CLI mode.
//
//   - Stream: framed messages over any io.ReadWriteCloser (a serial device
//     or a TCP connection). The cport travels in the header pad bytes.
//
//   - TCP: accepts one host connection at a time and runs a Stream over it.
//
//   - Bridge: attaches a node to an apbridge.Bridge as one interface, so a
//     bridge node can host its own greybus device next to remote peers.
//
// Send never takes ownership of the message it is given; backends that
// keep it past the call work on a Copy.
package transport
