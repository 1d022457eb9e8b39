package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Codec constants.
const (
	// TagSize is the size of the variant tag in bytes.
	TagSize = 4

	// LengthPrefixSize is the size of a variable-length field prefix in bytes.
	LengthPrefixSize = 8

	// MessageIDSize is the encoded size of a MessageID.
	MessageIDSize = 16

	// MaxFieldSize bounds a single variable-length field (1 MiB).
	MaxFieldSize = 1 << 20
)

// Codec errors.
var (
	// ErrMalformed is wrapped by every decode failure.
	ErrMalformed = errors.New("malformed packet")

	// ErrUnknownVariant indicates a packet value the encoder does not know.
	ErrUnknownVariant = errors.New("unknown packet variant")
)

// DecodeError describes where and why decoding failed.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed packet at offset %d: %s", e.Offset, e.Reason)
}

// Unwrap makes errors.Is(err, ErrMalformed) hold for every DecodeError.
func (e *DecodeError) Unwrap() error {
	return ErrMalformed
}

// EncodeClient encodes a client packet into a single frame payload.
func EncodeClient(p ClientPacket) ([]byte, error) {
	return encode(p)
}

// EncodeServer encodes a server packet into a single frame payload.
func EncodeServer(p ServerPacket) ([]byte, error) {
	return encode(p)
}

func encode(p interface{ Tag() Tag }) ([]byte, error) {
	buf := binary.LittleEndian.AppendUint32(make([]byte, 0, 64), uint32(p.Tag()))

	switch v := p.(type) {
	case SetIdentity:
		buf = appendIdentity(buf, v.Identity)
	case VerifyIdentity:
		buf = appendIdentity(buf, v.Identity)
	case IdentityVerified:
	case Message:
		buf = appendMessageID(buf, v.ID)
		buf = appendBytes(buf, v.Ciphertext)
	case MessageReceived:
		buf = appendMessageID(buf, v.ID)
	case MessageFailed:
		buf = appendMessageID(buf, v.ID)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownVariant, p)
	}
	return buf, nil
}

// DecodeClient decodes a frame payload sent by the dialing side.
func DecodeClient(data []byte) (ClientPacket, error) {
	r := &reader{data: data}
	tag := Tag(r.u32())

	var p ClientPacket
	switch tag {
	case TagIdentity:
		p = SetIdentity{Identity: r.identity()}
	case TagIdentityVerified:
		p = IdentityVerified{}
	case TagMessage:
		p = Message{ID: r.messageID(), Ciphertext: r.bytes()}
	case TagMessageReceived:
		p = MessageReceived{ID: r.messageID()}
	case TagMessageFailed:
		p = MessageFailed{ID: r.messageID()}
	default:
		r.fail(fmt.Sprintf("unknown tag %d", uint32(tag)))
	}

	if err := r.finish(); err != nil {
		return nil, err
	}
	return p, nil
}

// DecodeServer decodes a frame payload sent by the accepting side.
func DecodeServer(data []byte) (ServerPacket, error) {
	r := &reader{data: data}
	tag := Tag(r.u32())

	var p ServerPacket
	switch tag {
	case TagIdentity:
		p = VerifyIdentity{Identity: r.identity()}
	case TagIdentityVerified:
		p = IdentityVerified{}
	case TagMessage:
		p = Message{ID: r.messageID(), Ciphertext: r.bytes()}
	case TagMessageReceived:
		p = MessageReceived{ID: r.messageID()}
	case TagMessageFailed:
		p = MessageFailed{ID: r.messageID()}
	default:
		r.fail(fmt.Sprintf("unknown tag %d", uint32(tag)))
	}

	if err := r.finish(); err != nil {
		return nil, err
	}
	return p, nil
}

// PeekTag returns the variant tag of an encoded packet without decoding it.
func PeekTag(data []byte) (Tag, error) {
	if len(data) < TagSize {
		return 0, &DecodeError{Offset: 0, Reason: "short tag"}
	}
	return Tag(binary.LittleEndian.Uint32(data)), nil
}

func appendIdentity(buf []byte, id Identity) []byte {
	buf = appendBytes(buf, []byte(id.Address))
	buf = appendBytes(buf, id.Signature)
	return appendBytes(buf, id.PublicKey)
}

func appendMessageID(buf []byte, id MessageID) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, id.Lo)
	return binary.LittleEndian.AppendUint64(buf, id.Hi)
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(b)))
	return append(buf, b...)
}

// reader decodes fields with a sticky error; after the first failure every
// accessor returns a zero value.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) fail(reason string) {
	if r.err == nil {
		r.err = &DecodeError{Offset: r.off, Reason: reason}
	}
}

func (r *reader) take(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.off < n {
		r.fail("truncated " + what)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u32() uint32 {
	b := r.take(4, "tag")
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64(what string) uint64 {
	b := r.take(8, what)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) messageID() MessageID {
	lo := r.u64("message id")
	hi := r.u64("message id")
	return MessageID{Hi: hi, Lo: lo}
}

// bytes reads a length-prefixed field. An empty field decodes as nil.
func (r *reader) bytes() []byte {
	n := r.u64("length prefix")
	if r.err != nil || n == 0 {
		return nil
	}
	if n > MaxFieldSize {
		r.fail(fmt.Sprintf("field length %d exceeds %d", n, MaxFieldSize))
		return nil
	}
	b := r.take(int(n), "field")
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (r *reader) string() string {
	return string(r.bytes())
}

func (r *reader) identity() Identity {
	return Identity{
		Address:   r.string(),
		Signature: r.bytes(),
		PublicKey: r.bytes(),
	}
}

func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.data) {
		return &DecodeError{Offset: r.off, Reason: fmt.Sprintf("%d trailing bytes", len(r.data)-r.off)}
	}
	return nil
}
