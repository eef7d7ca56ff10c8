// Package rudp implements a connection-oriented, reliable, message-preserving
// transport on top of an unreliable datagram substrate such as UDP.
//
// A process creates a Multiplexer bound to a local datagram address (shared
// by every Conn and Listener bound to that address), then either Listens for
// inbound connections or Dials a remote endpoint. Once established, a Conn
// delivers ordered, reliable, discrete payloads to its peer: each Send call
// is matched one-to-one with a Receive call on the other side, with no
// byte-stream coalescing.
package rudp
