// Package identity implements the peer identity handshake.
//
// Every chat has its own key pair. The public half is a 64-byte value
// made of an Ed25519 verification key followed by an X25519 box key:
//
//	+----------------------+----------------------+
//	| ed25519 verify (32)  | x25519 box key (32)  |
//	+----------------------+----------------------+
//
// The Ed25519 half signs identity assertions exchanged during the
// handshake. The X25519 half seals chat messages with NaCl anonymous boxes.
//
// # Trust on first use
//
// The first key presented for an address is pinned in the KeyStore and
// accepted. Later identities for the same address must carry a signature
// that verifies against the pinned key. A mismatch is rejected with
// ErrInvalidSignature and the pin is left unchanged. Pins are only removed
// by an explicit user action.
//
// # Signed payload
//
// The dialing side signs its own address followed by the address it
// dialed, binding the assertion to one link. The accepting side signs its
// own address only.
package identity
