package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/veilchat/veil-go/pkg/instrument"
	"github.com/veilchat/veil-go/pkg/log"
	"github.com/veilchat/veil-go/pkg/packet"
)

// AcceptorConfig configures an Acceptor.
type AcceptorConfig struct {
	// ConnID is the capture log id (default: a fresh UUID).
	ConnID string

	// RemoteAddr is the socket address, for logs.
	RemoteAddr string

	Logger  *slog.Logger
	Capture log.Logger
}

// Acceptor is the inbound side of a link. It receives client packets and
// sends server packets through a pair of frame queues owned by the
// listener session.
//
// Both write methods enqueue; there is no flush batching on this side.
type Acceptor struct {
	connID   string
	inbound  *FrameQueue
	outbound *FrameQueue
	capture  *capture
	logger   *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewAcceptor creates an Acceptor reading from inbound and writing to
// outbound.
func NewAcceptor(inbound, outbound *FrameQueue, config AcceptorConfig) *Acceptor {
	if config.ConnID == "" {
		config.ConnID = uuid.New().String()
	}
	a := &Acceptor{
		connID:   config.ConnID,
		inbound:  inbound,
		outbound: outbound,
		capture:  newCapture(config.Capture, config.ConnID, KindAcceptor, config.RemoteAddr),
		logger:   orDiscard(config.Logger).With("connID", config.ConnID, "role", KindAcceptor.String()),
		done:     make(chan struct{}),
	}
	instrument.LinkOpened(KindAcceptor.String())
	a.capture.state("", "CONNECTED", "")
	return a
}

// Kind returns KindAcceptor.
func (a *Acceptor) Kind() Kind { return KindAcceptor }

// ConnID returns the capture log id of the link.
func (a *Acceptor) ConnID() string { return a.connID }

// Done is closed once the link is closed.
func (a *Acceptor) Done() <-chan struct{} { return a.done }

func (a *Acceptor) role() {}

// SetPeer tags capture events with the peer address once the peer has
// presented its identity.
func (a *Acceptor) SetPeer(address string) {
	a.capture.setPeer(address)
}

// Write enqueues p for the session writer.
func (a *Acceptor) Write(p packet.ServerPacket) error {
	data, err := packet.EncodeServer(p)
	if err != nil {
		return err
	}
	if err := a.outbound.Push(data); err != nil {
		return err
	}
	a.capture.packet(log.DirectionOut, p)
	instrument.PacketOut(p.Tag().String())
	return nil
}

// WriteBuffered is Write; the session writer does its own batching.
func (a *Acceptor) WriteBuffered(p packet.ServerPacket) error {
	return a.Write(p)
}

// Receive blocks until the next client packet arrives. Decode failures
// wrap packet.ErrMalformed and leave the link usable.
func (a *Acceptor) Receive(ctx context.Context) (packet.ClientPacket, error) {
	data, err := a.inbound.Pop(ctx)
	if err != nil {
		return nil, err
	}

	a.capture.frame(log.DirectionIn, data)
	p, err := packet.DecodeClient(data)
	if err != nil {
		a.capture.err(log.LayerPacket, err, "decode")
		instrument.PacketDropped("malformed")
		return nil, fmt.Errorf("acceptor %s: %w", a.connID, err)
	}
	a.capture.packet(log.DirectionIn, p)
	instrument.PacketIn(p.Tag().String())
	return p, nil
}

// Close closes both queues. The session writer drains the outbound queue
// before closing the socket.
func (a *Acceptor) Close() error {
	a.closeOnce.Do(func() {
		a.inbound.Close()
		a.outbound.Close()
		close(a.done)
		instrument.LinkClosed(KindAcceptor.String())
		a.capture.state("CONNECTED", "CLOSED", "")
		a.logger.Debug("link closed")
	})
	return nil
}
