// Package transport provides the two link roles of a veil connection.
//
// A link is a WebSocket carried over Tor. The side that opened it is the
// Dialer; the side that accepted it on its hidden service is the Acceptor.
// Both expose the same operations to the connection layer: an immediate
// Write, a WriteBuffered that may be coalesced, and a Receive that yields
// decoded packets.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      veil packets              │
//	├────────────────────────────────┤
//	│   binary WebSocket frames      │
//	├────────────────────────────────┤
//	│   HTTP upgrade (veil.v1)       │
//	├────────────────────────────────┤
//	│   Tor onion service stream     │
//	└────────────────────────────────┘
//
// # Dialer
//
// The Dialer reaches a peer through the local Tor SOCKS5 port, upgrades
// the stream to a WebSocket and buffers its write half. A flush batcher
// pushes buffered frames to the socket at most every FlushDelay, and a
// heartbeat sends a WebSocket ping every HeartbeatInterval.
//
// # Acceptor
//
// The Listener serves the hidden service target. Each upgraded session is
// handed to the connection layer as an Acceptor built from two unbounded
// frame queues; the session's reader and writer goroutines move frames
// between the socket and the queues. Sessions that show no ping or frame
// for StaleTimeout are closed by a watchdog.
//
// # Timing
//
//   - Heartbeat interval: 12.5 seconds
//   - Staleness timeout: 25 seconds
//   - Flush delay: 100 milliseconds
package transport
