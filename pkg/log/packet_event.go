package log

import (
	"github.com/veilchat/veil-go/pkg/packet"
)

// NewPacketEvent describes p for capture. Ciphertext is reduced to its length.
func NewPacketEvent(p interface{ Tag() packet.Tag }) *PacketEvent {
	ev := &PacketEvent{Tag: uint32(p.Tag())}

	switch v := p.(type) {
	case packet.SetIdentity:
		ev.Type = "SetIdentity"
		ev.IdentityAddress = v.Identity.Address
	case packet.VerifyIdentity:
		ev.Type = "VerifyIdentity"
		ev.IdentityAddress = v.Identity.Address
	case packet.IdentityVerified:
		ev.Type = "IdentityVerified"
	case packet.Message:
		ev.Type = "Message"
		ev.MessageID = v.ID.String()
		n := len(v.Ciphertext)
		ev.CiphertextLen = &n
	case packet.MessageReceived:
		ev.Type = "MessageReceived"
		ev.MessageID = v.ID.String()
	case packet.MessageFailed:
		ev.Type = "MessageFailed"
		ev.MessageID = v.ID.String()
	default:
		ev.Type = p.Tag().String()
	}
	return ev
}
