// Package connection manages verified links to peers.
//
// A Connection wraps one transport role, either a Dialer we opened or an
// Acceptor a peer opened to us, together with two verification flags:
//
//   - remote verified: the peer's identity passed our trust-on-first-use check
//   - self verified: the peer accepted our identity
//
// Both flags only ever go from false to true. Once both are set the
// connection's ready channel is closed and application packets flow.
//
// # Handshake
//
//	Dialer                         Acceptor
//	  │── SetIdentity ────────────────▶│  pin or verify
//	  │◀──────────── IdentityVerified ─│
//	  │◀────────────── VerifyIdentity ─│
//	  │  pin or verify                 │
//	  │── IdentityVerified ───────────▶│
//
// # Manager
//
// The Manager is the registry of connections, keyed by normalized peer
// address. It dials on demand, collapses concurrent dials to the same peer,
// registers inbound links after their first identity packet and runs one
// read pump per connection. The pump drives the handshake, gates message
// traffic on both flags and runs the delivery acknowledgement machine.
//
// # Delivery
//
//	Sending ──▶ Sent ──▶ Success
//	   │          │
//	   └──────────┴────▶ Failed
//
// Success and Failed are terminal. Repeated acknowledgements are no-ops.
package connection
