package transport

import (
	"errors"
	"time"

	"github.com/veilchat/veil-go/pkg/log"
	"github.com/veilchat/veil-go/pkg/packet"
)

// Timing defaults.
const (
	// DefaultStaleTimeout is how long an accepted session may stay silent.
	DefaultStaleTimeout = 25 * time.Second

	// DefaultHeartbeatInterval is half the staleness timeout.
	DefaultHeartbeatInterval = DefaultStaleTimeout / 2

	// DefaultFlushDelay bounds the latency of buffered writes.
	DefaultFlushDelay = 100 * time.Millisecond

	// DefaultHandshakeTimeout bounds the WebSocket upgrade.
	DefaultHandshakeTimeout = 60 * time.Second

	// DefaultWriteTimeout bounds a single socket write.
	DefaultWriteTimeout = 30 * time.Second
)

// Subprotocol is the WebSocket subprotocol spoken on veil links.
const Subprotocol = "veil.v1"

// DefaultPath is the HTTP path of the WebSocket endpoint.
const DefaultPath = "/veil"

// MaxFrameSize is the largest accepted WebSocket message.
const MaxFrameSize = packet.MaxFieldSize + 1024

// Transport errors.
var (
	// ErrClosed is wrapped by every error caused by a closed link.
	ErrClosed = errors.New("link closed")

	ErrDialFailed          = errors.New("dial failed")
	ErrSubprotocolMismatch = errors.New("peer did not accept subprotocol")
)

// Kind identifies a role.
type Kind uint8

const (
	// KindDialer is an outbound link.
	KindDialer Kind = iota
	// KindAcceptor is an inbound link.
	KindAcceptor
)

// String returns the role name.
func (k Kind) String() string {
	switch k {
	case KindDialer:
		return "dialer"
	case KindAcceptor:
		return "acceptor"
	default:
		return "unknown"
	}
}

// LogRole converts the kind to its capture log value.
func (k Kind) LogRole() log.Role {
	if k == KindAcceptor {
		return log.RoleAcceptor
	}
	return log.RoleDialer
}

// Role is one side of a link. It is implemented only by *Dialer and
// *Acceptor; callers type-switch on the concrete type to send packets of
// the right direction.
type Role interface {
	// Kind reports which role this is.
	Kind() Kind

	// ConnID returns the capture log id of the link.
	ConnID() string

	// Close tears the link down. It is safe to call more than once.
	Close() error

	// Done is closed once the link is closed.
	Done() <-chan struct{}

	role()
}

var (
	_ Role = (*Dialer)(nil)
	_ Role = (*Acceptor)(nil)
)
