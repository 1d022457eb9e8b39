package connection

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/veilchat/veil-go/pkg/packet"
	"github.com/veilchat/veil-go/pkg/store"
	"github.com/veilchat/veil-go/pkg/transport"
)

// ErrSinkClosed is returned by a closed ChanSink.
var ErrSinkClosed = errors.New("sink closed")

// EventKind identifies a notification.
type EventKind uint8

const (
	// EventConnected is sent when a link is registered.
	EventConnected EventKind = iota
	// EventVerified is sent when both verification flags are set.
	EventVerified
	// EventDisconnected is sent when a link's read pump exits.
	EventDisconnected
	// EventMessageDelivered carries a received message.
	EventMessageDelivered
	// EventMessageStatusChanged reports a new status of a sent message.
	EventMessageStatusChanged
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "CONNECTED"
	case EventVerified:
		return "VERIFIED"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventMessageDelivered:
		return "MESSAGE_DELIVERED"
	case EventMessageStatusChanged:
		return "MESSAGE_STATUS_CHANGED"
	default:
		return "UNKNOWN"
	}
}

// Event is a notification about a peer.
type Event struct {
	Kind EventKind
	Time time.Time
	Peer string

	// Role is set for connection events.
	Role transport.Kind

	// MessageID, Body and Status are set for message events.
	MessageID packet.MessageID
	Body      string
	Status    store.MessageStatus
}

// Sink receives notifications. Errors are logged by the caller and
// otherwise ignored. Notify must not block for long.
type Sink interface {
	Notify(Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

// Notify calls f.
func (f SinkFunc) Notify(ev Event) error { return f(ev) }

// MultiSink fans out to several sinks. Every sink is called; the first
// error is returned.
type MultiSink []Sink

// Notify calls every sink.
func (m MultiSink) Notify(ev Event) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogSink writes notifications to a slog logger.
type LogSink struct {
	Logger *slog.Logger
}

// Notify logs ev at Info level.
func (s LogSink) Notify(ev Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []any{"event", ev.Kind.String(), "peer", ev.Peer}
	switch ev.Kind {
	case EventConnected, EventVerified, EventDisconnected:
		attrs = append(attrs, "role", ev.Role.String())
	case EventMessageDelivered:
		attrs = append(attrs, "messageID", ev.MessageID.String(), "bytes", len(ev.Body))
	case EventMessageStatusChanged:
		attrs = append(attrs, "messageID", ev.MessageID.String(), "status", ev.Status.String())
	}
	logger.Info("peer event", attrs...)
	return nil
}

// ChanSink buffers notifications without bound and delivers them in order
// on a channel.
type ChanSink struct {
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	out    chan Event

	closeOnce sync.Once
	done      chan struct{}
}

// NewChanSink creates a sink and starts its delivery goroutine.
func NewChanSink() *ChanSink {
	s := &ChanSink{
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// C returns the delivery channel. It is closed after Close.
func (s *ChanSink) C() <-chan Event {
	return s.out
}

// Notify queues ev. It never blocks.
func (s *ChanSink) Notify(ev Event) error {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return ErrSinkClosed
	default:
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close stops delivery. Undelivered events are dropped.
func (s *ChanSink) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.done)
		s.mu.Unlock()
	})
}

func (s *ChanSink) run() {
	defer close(s.out)

	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.notify:
		case <-s.done:
			return
		}
	}
}
