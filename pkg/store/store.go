package store

import (
	"errors"
	"time"

	"github.com/veilchat/veil-go/pkg/identity"
	"github.com/veilchat/veil-go/pkg/packet"
)

// Store errors.
var (
	ErrUnknownChat     = errors.New("unknown chat")
	ErrChatExists      = errors.New("chat already exists")
	ErrMessageNotFound = errors.New("message not found")
	ErrMessageExists   = errors.New("message already exists")
	ErrInvalidPeer     = errors.New("invalid peer address")
	ErrClosed          = errors.New("store closed")
)

// MessageStatus is the delivery state of a stored message.
type MessageStatus uint8

const (
	// StatusSending means the message was stored but not yet handed to the transport.
	StatusSending MessageStatus = iota
	// StatusSent means the transport accepted the message.
	StatusSent
	// StatusSuccess means the peer acknowledged the message.
	StatusSuccess
	// StatusFailed means delivery failed.
	StatusFailed
)

// String returns the status name.
func (s MessageStatus) String() string {
	switch s {
	case StatusSending:
		return "SENDING"
	case StatusSent:
		return "SENT"
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is allowed.
func (s MessageStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// CanTransition reports whether a record in status s may move to next.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if s.Terminal() || next == s {
		return false
	}
	switch next {
	case StatusSent:
		return s == StatusSending
	case StatusSuccess, StatusFailed:
		return true
	default:
		return false
	}
}

// Record is a stored chat message.
type Record struct {
	Peer     string           `cbor:"1,keyasint"`
	ID       packet.MessageID `cbor:"2,keyasint"`
	SelfSent bool             `cbor:"3,keyasint"`
	Body     string           `cbor:"4,keyasint"`
	Status   MessageStatus    `cbor:"5,keyasint"`
	Stored   time.Time        `cbor:"6,keyasint"`
}

// Chat describes a known chat partner.
type Chat struct {
	Peer    string    `cbor:"1,keyasint"`
	Name    string    `cbor:"2,keyasint,omitempty"`
	AddedAt time.Time `cbor:"3,keyasint"`
}

// MessageStore stores chat messages.
// Implementations must be safe for concurrent access.
type MessageStore interface {
	// AppendMessage stores a message and returns the id it was stored under.
	// A self-sent id that is taken moves to the next free id. A received id
	// that is taken returns ErrMessageExists and leaves the record as is.
	// Returns ErrUnknownChat if peer has no chat.
	AppendMessage(peer string, selfSent bool, body string, id packet.MessageID) (packet.MessageID, error)

	// SetStatus moves a message to status. It returns false without error
	// when the transition is not allowed, e.g. the record is already terminal.
	SetStatus(peer string, selfSent bool, id packet.MessageID, status MessageStatus) (bool, error)

	// Message returns a single stored message.
	Message(peer string, selfSent bool, id packet.MessageID) (Record, error)

	// Messages returns all messages of a chat ordered by id.
	Messages(peer string) ([]Record, error)
}

// ChatStore manages the set of chats.
type ChatStore interface {
	AddChat(peer, name string) error
	RemoveChat(peer string) error
	HasChat(peer string) (bool, error)
	Chats() ([]Chat, error)
}

// Store is the full persistence surface of a node.
type Store interface {
	identity.KeyStore
	MessageStore
	ChatStore

	// Unpin forgets the pinned key of peer so the next identity is trusted
	// on first use again.
	Unpin(peer string) error

	Close() error
}

var (
	_ Store = (*BoltStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

func validPeer(peer string) error {
	if peer == "" {
		return ErrInvalidPeer
	}
	return nil
}
