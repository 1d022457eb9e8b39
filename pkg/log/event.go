package log

import (
	"time"
)

// Event is one captured protocol occurrence. Exactly one payload pointer
// is set. Integer CBOR keys keep capture files small.
type Event struct {
	Timestamp    time.Time `cbor:"1,keyasint"`
	ConnectionID string    `cbor:"2,keyasint"`
	Direction    Direction `cbor:"3,keyasint"`
	Layer        Layer     `cbor:"4,keyasint"`
	Category     Category  `cbor:"5,keyasint"`
	LocalRole    Role      `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the socket address; behind Tor it is the local proxy
	// or hidden service forwarder.
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// PeerAddress is the normalized onion address. Accepted links only
	// learn it from the first identity packet.
	PeerAddress string `cbor:"8,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Packet      *PacketEvent      `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// MessageID returns the message id a packet or delivery change refers to,
// or "" for other events.
func (e Event) MessageID() string {
	switch {
	case e.Packet != nil:
		return e.Packet.MessageID
	case e.StateChange != nil && e.StateChange.Entity == StateEntityDelivery:
		return e.StateChange.Reason
	}
	return ""
}

// FrameEvent captures a binary frame at the transport layer.
type FrameEvent struct {
	// Size is the frame payload size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the frame header (tag and id), truncated so that
	// ciphertext never reaches the capture.
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MaxFrameCapture is the number of frame bytes kept in a FrameEvent.
const MaxFrameCapture = 20

// NewFrameEvent builds a FrameEvent keeping at most MaxFrameCapture bytes.
func NewFrameEvent(data []byte) *FrameEvent {
	ev := &FrameEvent{Size: len(data)}
	n := len(data)
	if n > MaxFrameCapture {
		n = MaxFrameCapture
		ev.Truncated = true
	}
	ev.Data = append([]byte(nil), data[:n]...)
	return ev
}

// PacketEvent captures a decoded packet.
type PacketEvent struct {
	// Type is the packet variant name (e.g. "SetIdentity").
	Type string `cbor:"1,keyasint"`

	// Tag is the numeric wire tag.
	Tag uint32 `cbor:"2,keyasint"`

	// MessageID is the decimal message id for message and ack packets.
	MessageID string `cbor:"3,keyasint,omitempty"`

	// CiphertextLen is the ciphertext length of Message packets.
	CiphertextLen *int `cbor:"4,keyasint,omitempty"`

	// IdentityAddress is the asserted address of identity packets.
	IdentityAddress string `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent captures link, handshake and delivery state changes.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available). Delivery changes carry the
	// message id here.
	Reason string `cbor:"4,keyasint,omitempty"`
}

// ControlMsgEvent captures WebSocket control frames.
type ControlMsgEvent struct {
	// Type of control frame.
	Type ControlMsgType `cbor:"1,keyasint"`

	// CloseCode is the WebSocket close code for close frames.
	CloseCode *int `cbor:"2,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
