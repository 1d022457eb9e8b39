// Package packet defines the veil wire packets and their binary encoding.
//
// Two closed vocabularies exist, one per direction of a link:
//   - ClientPacket: sent by the dialing side (SetIdentity, IdentityVerified,
//     Message, MessageReceived, MessageFailed)
//   - ServerPacket: sent by the accepting side (VerifyIdentity, IdentityVerified,
//     Message, MessageReceived, MessageFailed)
//
// IdentityVerified, Message, MessageReceived and MessageFailed belong to both
// vocabularies and satisfy the Shared interface.
//
// # Encoding
//
// Each packet is encoded as one flat binary blob and carried in exactly one
// binary WebSocket frame:
//
//	┌──────────────┬─────────────────────────────────────────┐
//	│ tag (u32 LE) │ fields                                  │
//	└──────────────┴─────────────────────────────────────────┘
//
// Fixed-width integers are little-endian. Strings and byte slices are
// prefixed with their length as u64 LE. A MessageID is 16 bytes, low word
// first. Decoding rejects unknown tags, truncated fields, oversized fields and
// trailing bytes.
package packet
