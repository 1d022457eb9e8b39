package transport

import (
	"sync"
	"time"

	"github.com/veilchat/veil-go/pkg/log"
	"github.com/veilchat/veil-go/pkg/packet"
)

// capture emits protocol log events for one link.
type capture struct {
	logger log.Logger
	connID string
	role   log.Role
	remote string

	mu   sync.RWMutex
	peer string
}

func newCapture(logger log.Logger, connID string, kind Kind, remote string) *capture {
	return &capture{
		logger: log.OrNoop(logger),
		connID: connID,
		role:   kind.LogRole(),
		remote: remote,
	}
}

// setPeer records the onion address once it is known.
func (c *capture) setPeer(peer string) {
	c.mu.Lock()
	c.peer = peer
	c.mu.Unlock()
}

func (c *capture) event(dir log.Direction, layer log.Layer, cat log.Category) log.Event {
	c.mu.RLock()
	peer := c.peer
	c.mu.RUnlock()

	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    dir,
		Layer:        layer,
		Category:     cat,
		LocalRole:    c.role,
		RemoteAddr:   c.remote,
		PeerAddress:  peer,
	}
}

func (c *capture) frame(dir log.Direction, data []byte) {
	ev := c.event(dir, log.LayerTransport, log.CategoryMessage)
	ev.Frame = log.NewFrameEvent(data)
	c.logger.Log(ev)
}

func (c *capture) packet(dir log.Direction, p interface{ Tag() packet.Tag }) {
	ev := c.event(dir, log.LayerPacket, log.CategoryMessage)
	ev.Packet = log.NewPacketEvent(p)
	c.logger.Log(ev)
}

func (c *capture) control(dir log.Direction, typ log.ControlMsgType, code *int) {
	ev := c.event(dir, log.LayerTransport, log.CategoryControl)
	ev.ControlMsg = &log.ControlMsgEvent{Type: typ, CloseCode: code}
	c.logger.Log(ev)
}

func (c *capture) state(oldState, newState, reason string) {
	ev := c.event(log.DirectionIn, log.LayerTransport, log.CategoryState)
	ev.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntityConnection,
		OldState: oldState,
		NewState: newState,
		Reason:   reason,
	}
	c.logger.Log(ev)
}

func (c *capture) err(layer log.Layer, err error, context string) {
	ev := c.event(log.DirectionIn, layer, log.CategoryError)
	ev.Error = &log.ErrorEventData{Layer: layer, Message: err.Error(), Context: context}
	c.logger.Log(ev)
}
