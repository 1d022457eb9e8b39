package connection

import (
	"context"
	"errors"
	"time"

	"github.com/veilchat/veil-go/pkg/identity"
	"github.com/veilchat/veil-go/pkg/instrument"
	"github.com/veilchat/veil-go/pkg/log"
	"github.com/veilchat/veil-go/pkg/packet"
	"github.com/veilchat/veil-go/pkg/transport"
)

// pumpDialer runs the read pump of an outbound link.
func (m *Manager) pumpDialer(c *Connection, d *transport.Dialer) {
	defer m.pumpExit(c)

	pump(m.ctx, m, c, d.Receive, func(p packet.ServerPacket) {
		switch v := p.(type) {
		case packet.VerifyIdentity:
			m.handleIdentity(c, v.Identity, identity.RoleAcceptor)
		case packet.IdentityVerified:
			m.handleIdentityVerified(c)
		case packet.Message:
			m.handleApplication(c, v)
		case packet.MessageReceived:
			m.handleApplication(c, v)
		case packet.MessageFailed:
			m.handleApplication(c, v)
		}
	})
}

// pumpAcceptor runs the read pump of an inbound link whose first identity
// Accept already checked.
func (m *Manager) pumpAcceptor(c *Connection, a *transport.Acceptor) {
	defer m.pumpExit(c)

	handle := func(p packet.ClientPacket) {
		switch v := p.(type) {
		case packet.SetIdentity:
			m.handleIdentity(c, v.Identity, identity.RoleDialer)
		case packet.IdentityVerified:
			m.handleIdentityVerified(c)
		case packet.Message:
			m.handleApplication(c, v)
		case packet.MessageReceived:
			m.handleApplication(c, v)
		case packet.MessageFailed:
			m.handleApplication(c, v)
		}
	}

	m.identityAccepted(c)
	pump(m.ctx, m, c, a.Receive, handle)
}

// pump receives packets in order until the link fails. Malformed frames
// are dropped.
func pump[P any](ctx context.Context, m *Manager, c *Connection, recv func(context.Context) (P, error), handle func(P)) {
	for {
		p, err := recv(ctx)
		if err != nil {
			if errors.Is(err, packet.ErrMalformed) {
				m.logger.Warn("dropping malformed packet", "peer", c.address, "error", err)
				continue
			}
			if !errors.Is(err, transport.ErrClosed) && ctx.Err() == nil {
				m.logger.Info("link failed", "peer", c.address, "error", err)
			}
			return
		}
		handle(p)
	}
}

func (m *Manager) pumpExit(c *Connection) {
	defer m.wg.Done()

	m.removeIf(c)
	c.Close()

	m.logger.Info("disconnected", "peer", c.address, "role", c.Kind().String(), "verified", c.Verified())
	m.notify(Event{Kind: EventDisconnected, Peer: c.address, Role: c.Kind()})
}

// handleIdentity checks an identity presented by the peer acting as from.
// A rejected identity leaves the connection unverified.
func (m *Manager) handleIdentity(c *Connection, id packet.Identity, from identity.Role) {
	if m.checkIdentity(c, id, from) != nil {
		return
	}
	m.identityAccepted(c)
}

func (m *Manager) checkIdentity(c *Connection, id packet.Identity, from identity.Role) error {
	if _, err := m.verifier.Check(id, c.address, from); err != nil {
		instrument.Handshake("rejected")
		m.logger.Warn("identity rejected", "peer", c.address, "error", err)
		m.logSession(c, err, "identity")
		return err
	}
	instrument.Handshake("accepted")
	return nil
}

// identityAccepted sets the remote flag, confirms it to the peer and, on an
// inbound link, answers with our own identity once.
func (m *Manager) identityAccepted(c *Connection) {
	if c.markRemoteVerified() {
		m.verified(c)
	}
	if err := c.Send(packet.IdentityVerified{}); err != nil {
		m.logger.Warn("send IdentityVerified failed", "peer", c.address, "error", err)
		return
	}

	if c.Kind() == transport.KindAcceptor && c.claimIdentitySend() {
		own, err := m.verifier.Assert(c.address, identity.RoleAcceptor)
		if err == nil {
			err = c.sendIdentity(own)
		}
		if err != nil {
			m.logger.Warn("send identity failed", "peer", c.address, "error", err)
		}
	}
}

func (m *Manager) handleIdentityVerified(c *Connection) {
	if c.markSelfVerified() {
		m.verified(c)
	}
}

func (m *Manager) verified(c *Connection) {
	m.logger.Info("peer verified", "peer", c.address, "role", c.Kind().String())
	m.notify(Event{Kind: EventVerified, Peer: c.address, Role: c.Kind()})
}

// handleApplication routes message traffic once both flags are set.
func (m *Manager) handleApplication(c *Connection, p packet.Shared) {
	if !c.Verified() {
		instrument.PacketDropped("unverified")
		m.logger.Warn("dropping packet", "peer", c.address, "packet", p.Tag().String(), "error", ErrNotVerified)
		m.logSession(c, ErrNotVerified, p.Tag().String())
		return
	}

	switch v := p.(type) {
	case packet.Message:
		m.receiveMessage(c, v)
	case packet.MessageReceived:
		m.acknowledge(c, v.ID, true)
	case packet.MessageFailed:
		m.acknowledge(c, v.ID, false)
	}
}

func (m *Manager) logSession(c *Connection, err error, context string) {
	c.capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.role.ConnID(),
		Layer:        log.LayerSession,
		Category:     log.CategoryError,
		LocalRole:    c.role.Kind().LogRole(),
		PeerAddress:  c.address,
		Error: &log.ErrorEventData{
			Layer:   log.LayerSession,
			Message: err.Error(),
			Context: context,
		},
	})
}
