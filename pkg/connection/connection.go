package connection

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/veilchat/veil-go/pkg/log"
	"github.com/veilchat/veil-go/pkg/packet"
	"github.com/veilchat/veil-go/pkg/transport"
)

// Connection errors.
var (
	ErrNotVerified      = errors.New("connection not verified")
	ErrNotRegistered    = errors.New("no connection for address")
	ErrConnectionClosed = errors.New("connection closed")
	ErrManagerClosed    = errors.New("manager closed")
	ErrUnexpectedPacket = errors.New("unexpected packet")
	ErrDuplicateLink    = errors.New("duplicate link rejected")
)

// Connection is one link to a peer plus its verification state.
type Connection struct {
	address string
	role    transport.Role
	capture log.Logger
	created time.Time

	mu             sync.RWMutex
	selfVerified   bool
	remoteVerified bool
	identitySent   bool
	ready          chan struct{}
}

func newConnection(address string, role transport.Role, capture log.Logger) *Connection {
	return &Connection{
		address: address,
		role:    role,
		capture: log.OrNoop(capture),
		created: time.Now(),
		ready:   make(chan struct{}),
	}
}

// Address returns the normalized peer address.
func (c *Connection) Address() string { return c.address }

// Role returns the underlying transport role.
func (c *Connection) Role() transport.Role { return c.role }

// Kind reports whether we dialed or accepted the link.
func (c *Connection) Kind() transport.Kind { return c.role.Kind() }

// Created returns when the connection was registered.
func (c *Connection) Created() time.Time { return c.created }

// SelfVerified reports whether the peer accepted our identity.
func (c *Connection) SelfVerified() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selfVerified
}

// RemoteVerified reports whether we accepted the peer's identity.
func (c *Connection) RemoteVerified() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remoteVerified
}

// Verified reports whether both flags are set.
func (c *Connection) Verified() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selfVerified && c.remoteVerified
}

// Ready is closed once both flags are set.
func (c *Connection) Ready() <-chan struct{} { return c.ready }

// Done is closed once the underlying link is closed.
func (c *Connection) Done() <-chan struct{} { return c.role.Done() }

// Close closes the underlying link. The read pump then deregisters the
// connection.
func (c *Connection) Close() error { return c.role.Close() }

// markSelfVerified sets the self flag. It reports whether this call
// completed verification.
func (c *Connection) markSelfVerified() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.selfVerified {
		return false
	}
	c.selfVerified = true
	c.logState("SELF_VERIFIED")
	return c.fireReadyLocked()
}

// markRemoteVerified sets the remote flag. It reports whether this call
// completed verification.
func (c *Connection) markRemoteVerified() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.remoteVerified {
		return false
	}
	c.remoteVerified = true
	c.logState("REMOTE_VERIFIED")
	return c.fireReadyLocked()
}

func (c *Connection) fireReadyLocked() bool {
	if !c.selfVerified || !c.remoteVerified {
		return false
	}
	close(c.ready)
	c.logState("VERIFIED")
	return true
}

// claimIdentitySend reports true exactly once, for the acceptor's own
// VerifyIdentity.
func (c *Connection) claimIdentitySend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.identitySent {
		return false
	}
	c.identitySent = true
	return true
}

// Send writes p and flushes it.
func (c *Connection) Send(p packet.Shared) error {
	switch r := c.role.(type) {
	case *transport.Dialer:
		return r.Write(p)
	case *transport.Acceptor:
		return r.Write(p)
	default:
		return fmt.Errorf("unsupported role %T", c.role)
	}
}

// SendBuffered writes p through the flush batcher where the role has one.
func (c *Connection) SendBuffered(p packet.Shared) error {
	switch r := c.role.(type) {
	case *transport.Dialer:
		return r.WriteBuffered(p)
	case *transport.Acceptor:
		return r.WriteBuffered(p)
	default:
		return fmt.Errorf("unsupported role %T", c.role)
	}
}

// sendIdentity sends id as SetIdentity or VerifyIdentity depending on
// the role.
func (c *Connection) sendIdentity(id packet.Identity) error {
	switch r := c.role.(type) {
	case *transport.Dialer:
		return r.Write(packet.SetIdentity{Identity: id})
	case *transport.Acceptor:
		return r.Write(packet.VerifyIdentity{Identity: id})
	default:
		return fmt.Errorf("unsupported role %T", c.role)
	}
}

func (c *Connection) logState(state string) {
	c.capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.role.ConnID(),
		Layer:        log.LayerSession,
		Category:     log.CategoryState,
		LocalRole:    c.role.Kind().LogRole(),
		PeerAddress:  c.address,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityHandshake,
			NewState: state,
		},
	})
}
