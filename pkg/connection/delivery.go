package connection

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/veilchat/veil-go/pkg/instrument"
	"github.com/veilchat/veil-go/pkg/log"
	"github.com/veilchat/veil-go/pkg/packet"
	"github.com/veilchat/veil-go/pkg/store"
)

// Delivery errors.
var (
	ErrNoPinnedKey = errors.New("no pinned key for peer")
	ErrInvalidUTF8 = errors.New("message is not valid UTF-8")
)

// SendMessage stores body as a message to address, encrypts it for the
// peer's pinned key and queues it on a verified connection. It returns
// the id the message was stored under; the id is valid even when sending
// fails after the message was stored.
func (m *Manager) SendMessage(ctx context.Context, address, body string) (packet.MessageID, error) {
	if !utf8.ValidString(body) {
		return packet.MessageID{}, ErrInvalidUTF8
	}

	c, err := m.GetOrConnect(ctx, address)
	if err != nil {
		return packet.MessageID{}, err
	}
	if err := m.WaitUntilVerified(ctx, address); err != nil {
		return packet.MessageID{}, err
	}
	if current, ok := m.Connection(address); ok {
		c = current
	}

	id, err := m.config.Store.AppendMessage(address, true, body, packet.NewMessageID(m.config.Clock.Now()))
	if err != nil {
		return packet.MessageID{}, fmt.Errorf("store message: %w", err)
	}

	key, ok, err := m.config.Store.PinnedKey(address)
	if err == nil && !ok {
		err = ErrNoPinnedKey
	}
	var sealed []byte
	if err == nil {
		sealed, err = key.Seal([]byte(body))
	}
	if err == nil {
		err = c.SendBuffered(packet.Message{ID: id, Ciphertext: sealed})
	}
	if err != nil {
		m.setStatus(address, true, id, store.StatusFailed)
		return id, fmt.Errorf("send message %s to %s: %w", id, address, err)
	}

	m.setStatus(address, true, id, store.StatusSent)
	return id, nil
}

// receiveMessage decrypts, stores and acknowledges an inbound message.
// Any failure is answered with MessageFailed and nothing is forwarded.
func (m *Manager) receiveMessage(c *Connection, msg packet.Message) {
	body, err := m.openMessage(c.address, msg)
	var id packet.MessageID
	if err == nil {
		id, err = m.config.Store.AppendMessage(c.address, false, body, msg.ID)
	}
	if errors.Is(err, store.ErrMessageExists) {
		m.repeatedMessage(c, msg.ID)
		return
	}
	if err == nil {
		_, err = m.setStatus(c.address, false, id, store.StatusSuccess)
	}
	if err != nil {
		m.rejectMessage(c, msg.ID, err)
		return
	}

	if err := c.SendBuffered(packet.MessageReceived{ID: msg.ID}); err != nil {
		m.logger.Warn("send MessageReceived failed", "peer", c.address, "messageID", msg.ID.String(), "error", err)
	}
	m.notify(Event{
		Kind:      EventMessageDelivered,
		Peer:      c.address,
		MessageID: msg.ID,
		Body:      body,
		Status:    store.StatusSuccess,
	})
}

// repeatedMessage answers a message whose id is already stored. The stored
// record is never changed; only a delivered one is acknowledged again.
func (m *Manager) repeatedMessage(c *Connection, id packet.MessageID) {
	var reply packet.Shared = packet.MessageFailed{ID: id}
	rec, err := m.config.Store.Message(c.address, false, id)
	if err == nil && rec.Status == store.StatusSuccess {
		reply = packet.MessageReceived{ID: id}
	}
	m.logger.Info("repeated message", "peer", c.address, "messageID", id.String(), "reply", reply.Tag().String())

	if err := c.SendBuffered(reply); err != nil {
		m.logger.Warn("answer repeated message failed", "peer", c.address, "messageID", id.String(), "error", err)
	}
}

func (m *Manager) openMessage(peer string, msg packet.Message) (string, error) {
	key, err := m.config.Store.PrivateKey(peer)
	if err != nil {
		return "", fmt.Errorf("chat key: %w", err)
	}
	plain, err := key.Open(msg.Ciphertext)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plain) {
		return "", ErrInvalidUTF8
	}
	return string(plain), nil
}

// rejectMessage records a failed inbound message when the chat exists and
// the id is new, and tells the sender.
func (m *Manager) rejectMessage(c *Connection, id packet.MessageID, cause error) {
	m.logger.Warn("rejecting message", "peer", c.address, "messageID", id.String(), "error", cause)

	_, err := m.config.Store.AppendMessage(c.address, false, "", id)
	switch {
	case err == nil:
		m.setStatus(c.address, false, id, store.StatusFailed)
	case errors.Is(err, store.ErrUnknownChat), errors.Is(err, store.ErrMessageExists):
	default:
		m.logger.Error("record failed message", "peer", c.address, "messageID", id.String(), "error", err)
	}

	if err := c.SendBuffered(packet.MessageFailed{ID: id}); err != nil {
		m.logger.Warn("send MessageFailed failed", "peer", c.address, "messageID", id.String(), "error", err)
	}
}

// acknowledge applies a peer's delivery report to one of our messages.
// Reports for unknown ids and for messages in a terminal state are
// ignored.
func (m *Manager) acknowledge(c *Connection, id packet.MessageID, delivered bool) {
	status := store.StatusFailed
	if delivered {
		status = store.StatusSuccess
	}

	changed, err := m.setStatus(c.address, true, id, status)
	switch {
	case errors.Is(err, store.ErrMessageNotFound), errors.Is(err, store.ErrUnknownChat):
		m.logger.Info("acknowledgement for unknown message", "peer", c.address, "messageID", id.String())
	case err != nil:
		m.logger.Error("apply acknowledgement", "peer", c.address, "messageID", id.String(), "error", err)
	case !changed:
		m.logger.Debug("duplicate acknowledgement", "peer", c.address, "messageID", id.String(), "status", status.String())
	}
}

// setStatus moves a record to status. Changes to our own messages are
// reported to the sink.
func (m *Manager) setStatus(peer string, selfSent bool, id packet.MessageID, status store.MessageStatus) (bool, error) {
	changed, err := m.config.Store.SetStatus(peer, selfSent, id, status)
	if err != nil {
		if selfSent {
			m.logger.Error("set message status", "peer", peer, "messageID", id.String(), "status", status.String(), "error", err)
		}
		return false, err
	}
	if !changed {
		return false, nil
	}

	instrument.MessageStatus(status.String())
	m.logDelivery(peer, id, status)
	if selfSent {
		m.notify(Event{
			Kind:      EventMessageStatusChanged,
			Peer:      peer,
			MessageID: id,
			Status:    status,
		})
	}
	return true, nil
}

func (m *Manager) logDelivery(peer string, id packet.MessageID, status store.MessageStatus) {
	if m.config.Capture == nil {
		return
	}
	var connID string
	if c, ok := m.Connection(peer); ok {
		connID = c.role.ConnID()
	}
	m.config.Capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        log.LayerSession,
		Category:     log.CategoryState,
		PeerAddress:  peer,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityDelivery,
			NewState: status.String(),
			Reason:   id.String(),
		},
	})
}
