// Package node wires the stores, connection manager, listener, protocol
// capture and metrics of one veil peer into an application context.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/veilchat/veil-go/pkg/config"
	"github.com/veilchat/veil-go/pkg/connection"
	"github.com/veilchat/veil-go/pkg/instrument"
	"github.com/veilchat/veil-go/pkg/log"
	"github.com/veilchat/veil-go/pkg/packet"
	"github.com/veilchat/veil-go/pkg/store"
	"github.com/veilchat/veil-go/pkg/transport"
)

// Node errors.
var (
	ErrNotStarted     = errors.New("node not started")
	ErrAlreadyStarted = errors.New("node already started")
)

// State is the lifecycle state of a Node.
type State uint8

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Option customizes a Node.
type Option func(*options)

type options struct {
	store   store.Store
	sink    connection.Sink
	logger  *slog.Logger
	clock   clock.Clock
	resolve func(string) string
}

// WithStore uses s instead of opening the bbolt file in DataDir. The node
// does not close a store passed this way.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithSink delivers notifications to s in addition to the log.
func WithSink(s connection.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the clock driving timers and message ids.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithResolver maps peer addresses to WebSocket URLs, bypassing the
// onion host name.
func WithResolver(fn func(address string) string) Option {
	return func(o *options) { o.resolve = fn }
}

// Node is one running veil peer.
type Node struct {
	mu    sync.Mutex
	state State

	config config.Config
	logger *slog.Logger

	store     store.Store
	ownsStore bool
	capture   *log.FileLogger

	manager  *connection.Manager
	listener *transport.Listener

	metricsAddr net.Addr

	ctx    context.Context
	cancel context.CancelFunc
}

// New validates cfg and builds a node. Nothing listens until Start.
func New(cfg config.Config, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = clock.New()
	}

	n := &Node{config: cfg, logger: o.logger}
	n.ctx, n.cancel = context.WithCancel(context.Background())

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	n.store = o.store
	if n.store == nil {
		s, err := store.OpenBolt(cfg.StorePath())
		if err != nil {
			return nil, err
		}
		n.store = s
		n.ownsStore = true
	}

	var captures []log.Logger
	if path := cfg.ProtocolLogPath(); path != "" {
		fl, err := log.NewFileLogger(path, log.WithMaxSize(cfg.ProtocolLogMaxSize))
		if err != nil {
			n.closeResources()
			return nil, fmt.Errorf("open protocol log: %w", err)
		}
		n.capture = fl
		captures = append(captures, fl)
	}
	if o.logger.Enabled(context.Background(), slog.LevelDebug) {
		captures = append(captures, log.NewSlogAdapter(o.logger))
	}
	capture := log.NewMultiLogger(captures...)

	sink := connection.Sink(connection.LogSink{Logger: o.logger})
	if o.sink != nil {
		sink = connection.MultiSink{sink, o.sink}
	}

	dialer := cfg.DialerConfig()
	dialer.Resolve = o.resolve
	dialer.Clock = o.clock
	dialer.Logger = o.logger
	dialer.Capture = capture

	manager, err := connection.NewManager(connection.Config{
		Self:             cfg.SelfAddress,
		Store:            n.store,
		Sink:             sink,
		Dialer:           dialer,
		HandshakeTimeout: cfg.HandshakeTimeout.Std(),
		Clock:            o.clock,
		Logger:           o.logger,
		Capture:          capture,
	})
	if err != nil {
		n.closeResources()
		return nil, err
	}
	n.manager = manager

	lc := cfg.ListenerConfig()
	lc.Clock = o.clock
	lc.Logger = o.logger
	lc.Capture = capture
	lc.OnAccept = n.accept
	n.listener, err = transport.NewListener(lc)
	if err != nil {
		n.closeResources()
		return nil, err
	}

	return n, nil
}

// Start binds the listener and, if configured, the metrics endpoint.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != StateIdle {
		return ErrAlreadyStarted
	}

	if err := n.listener.Start(ctx); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}

	if n.config.MetricsAddress != "" {
		addr, err := instrument.Serve(n.ctx, n.config.MetricsAddress)
		if err != nil {
			n.listener.Stop()
			return fmt.Errorf("serve metrics: %w", err)
		}
		n.metricsAddr = addr
		n.logger.Info("serving metrics", "address", addr.String())
	}

	n.state = StateRunning
	n.logger.Info("node started",
		"self", n.config.SelfAddress,
		"listen", n.listener.Addr().String())
	return nil
}

// Close stops the listener, closes every connection and releases the
// stores. It may be called once, started or not.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.state == StateStopped {
		n.mu.Unlock()
		return ErrNotStarted
	}
	running := n.state == StateRunning
	n.state = StateStopped
	n.mu.Unlock()

	var err error
	if running {
		err = multierr.Append(err, n.listener.Stop())
	}
	err = multierr.Append(err, n.manager.Close())
	err = multierr.Append(err, n.closeResources())

	n.logger.Info("node stopped", "self", n.config.SelfAddress)
	return err
}

func (n *Node) closeResources() error {
	n.cancel()

	var err error
	if n.capture != nil {
		err = multierr.Append(err, n.capture.Close())
	}
	if n.ownsStore && n.store != nil {
		err = multierr.Append(err, n.store.Close())
	}
	return err
}

func (n *Node) accept(a *transport.Acceptor) {
	if err := n.manager.Accept(n.ctx, a); err != nil {
		n.logger.Debug("inbound link rejected", "connID", a.ConnID(), "error", err)
	}
}

// State returns the lifecycle state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Self returns our normalized address.
func (n *Node) Self() string { return n.config.SelfAddress }

// Config returns the validated configuration.
func (n *Node) Config() config.Config { return n.config }

// Manager returns the connection registry.
func (n *Node) Manager() *connection.Manager { return n.manager }

// Store returns the persistence layer.
func (n *Node) Store() store.Store { return n.store }

// ListenAddr returns the bound listener address, or nil before Start.
func (n *Node) ListenAddr() net.Addr { return n.listener.Addr() }

// MetricsAddr returns the bound metrics address, or nil.
func (n *Node) MetricsAddr() net.Addr { return n.metricsAddr }

// AddChat starts a chat with peer.
func (n *Node) AddChat(peer, name string) (string, error) {
	peer = connection.NormalizeAddress(peer)
	if err := n.store.AddChat(peer, name); err != nil {
		return peer, err
	}
	return peer, nil
}

// RemoveChat drops a chat and its messages and closes the link to peer.
func (n *Node) RemoveChat(peer string) error {
	peer = connection.NormalizeAddress(peer)
	if err := n.store.RemoveChat(peer); err != nil {
		return err
	}
	n.manager.Remove(peer)
	return nil
}

// ResetTrust forgets the pinned key of peer and closes the link, so the
// next identity the peer presents is trusted on first use.
func (n *Node) ResetTrust(peer string) error {
	peer = connection.NormalizeAddress(peer)
	if err := n.store.Unpin(peer); err != nil {
		return err
	}
	n.manager.Remove(peer)
	n.logger.Warn("pinned key reset", "peer", peer)
	return nil
}

// SendMessage sends body to peer, connecting first if needed.
func (n *Node) SendMessage(ctx context.Context, peer, body string) (packet.MessageID, error) {
	if n.State() != StateRunning {
		return packet.MessageID{}, ErrNotStarted
	}
	return n.manager.SendMessage(ctx, connection.NormalizeAddress(peer), body)
}

// Connect opens and verifies the link to peer without sending anything.
func (n *Node) Connect(ctx context.Context, peer string) error {
	if n.State() != StateRunning {
		return ErrNotStarted
	}
	peer = connection.NormalizeAddress(peer)
	if _, err := n.manager.GetOrConnect(ctx, peer); err != nil {
		return err
	}
	return n.manager.WaitUntilVerified(ctx, peer)
}
