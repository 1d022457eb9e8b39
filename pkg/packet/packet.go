package packet

import (
	"math"
	"math/big"
	"strconv"
	"time"
)

// Tag identifies a packet variant on the wire.
type Tag uint32

const (
	// TagIdentity is SetIdentity (client) or VerifyIdentity (server).
	TagIdentity Tag = iota
	TagIdentityVerified
	TagMessage
	TagMessageReceived
	TagMessageFailed
)

// String returns the tag name.
func (t Tag) String() string {
	switch t {
	case TagIdentity:
		return "IDENTITY"
	case TagIdentityVerified:
		return "IDENTITY_VERIFIED"
	case TagMessage:
		return "MESSAGE"
	case TagMessageReceived:
		return "MESSAGE_RECEIVED"
	case TagMessageFailed:
		return "MESSAGE_FAILED"
	default:
		return "UNKNOWN"
	}
}

// MessageID is an unsigned 128-bit message identifier. Locally created ids
// carry the send time in milliseconds in the low word.
type MessageID struct {
	Hi uint64
	Lo uint64
}

// MaxMessageID is the largest representable id.
var MaxMessageID = MessageID{Hi: math.MaxUint64, Lo: math.MaxUint64}

// NewMessageID returns the id for a message sent at t.
func NewMessageID(t time.Time) MessageID {
	return MessageID{Lo: uint64(t.UnixMilli())}
}

// MessageIDFromUint64 returns an id whose value is v.
func MessageIDFromUint64(v uint64) MessageID {
	return MessageID{Lo: v}
}

// Next returns id+1, wrapping at MaxMessageID.
func (id MessageID) Next() MessageID {
	lo := id.Lo + 1
	hi := id.Hi
	if lo == 0 {
		hi++
	}
	return MessageID{Hi: hi, Lo: lo}
}

// Less reports whether id sorts before other.
func (id MessageID) Less(other MessageID) bool {
	if id.Hi != other.Hi {
		return id.Hi < other.Hi
	}
	return id.Lo < other.Lo
}

// Time interprets the id as a millisecond timestamp.
func (id MessageID) Time() time.Time {
	return time.UnixMilli(int64(id.Lo))
}

// String returns the decimal representation of the id.
func (id MessageID) String() string {
	if id.Hi == 0 {
		return strconv.FormatUint(id.Lo, 10)
	}
	v := new(big.Int).SetUint64(id.Hi)
	v.Lsh(v, 64)
	v.Or(v, new(big.Int).SetUint64(id.Lo))
	return v.String()
}

// Identity binds a peer address to a public key with a signature.
type Identity struct {
	Address   string
	Signature []byte
	PublicKey []byte
}

// ClientPacket is a packet sent from the dialing side to the accepting side.
type ClientPacket interface {
	Tag() Tag
	clientPacket()
}

// ServerPacket is a packet sent from the accepting side to the dialing side.
type ServerPacket interface {
	Tag() Tag
	serverPacket()
}

// Shared is a packet valid in both directions.
type Shared interface {
	ClientPacket
	ServerPacket
}

// SetIdentity carries the dialing side's identity.
type SetIdentity struct {
	Identity Identity
}

// VerifyIdentity carries the accepting side's identity.
type VerifyIdentity struct {
	Identity Identity
}

// IdentityVerified tells the peer its identity was accepted.
type IdentityVerified struct{}

// Message carries an encrypted chat message.
type Message struct {
	ID         MessageID
	Ciphertext []byte
}

// MessageReceived acknowledges a delivered message.
type MessageReceived struct {
	ID MessageID
}

// MessageFailed reports that a message could not be delivered.
type MessageFailed struct {
	ID MessageID
}

func (SetIdentity) Tag() Tag      { return TagIdentity }
func (VerifyIdentity) Tag() Tag   { return TagIdentity }
func (IdentityVerified) Tag() Tag { return TagIdentityVerified }
func (Message) Tag() Tag          { return TagMessage }
func (MessageReceived) Tag() Tag  { return TagMessageReceived }
func (MessageFailed) Tag() Tag    { return TagMessageFailed }

func (SetIdentity) clientPacket()      {}
func (IdentityVerified) clientPacket() {}
func (Message) clientPacket()          {}
func (MessageReceived) clientPacket()  {}
func (MessageFailed) clientPacket()    {}

func (VerifyIdentity) serverPacket()   {}
func (IdentityVerified) serverPacket() {}
func (Message) serverPacket()          {}
func (MessageReceived) serverPacket()  {}
func (MessageFailed) serverPacket()    {}

// Compile-time interface satisfaction checks.
var (
	_ ClientPacket = SetIdentity{}
	_ ServerPacket = VerifyIdentity{}
	_ Shared       = IdentityVerified{}
	_ Shared       = Message{}
	_ Shared       = MessageReceived{}
	_ Shared       = MessageFailed{}
)
