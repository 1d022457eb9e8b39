package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"github.com/veilchat/veil-go/pkg/identity"
	"github.com/veilchat/veil-go/pkg/log"
	"github.com/veilchat/veil-go/pkg/packet"
	"github.com/veilchat/veil-go/pkg/store"
	"github.com/veilchat/veil-go/pkg/transport"
)

// DefaultHandshakeTimeout bounds waiting for a peer's identity.
const DefaultHandshakeTimeout = 60 * time.Second

// Store is the persistence the manager needs.
type Store interface {
	identity.KeyStore
	store.MessageStore
}

// DialFunc opens an outbound link.
type DialFunc func(ctx context.Context, address string) (*transport.Dialer, error)

// Config configures a Manager.
type Config struct {
	// Self is our own normalized onion address.
	Self string

	// Store holds keys, pins and messages.
	Store Store

	// Sink receives notifications (optional).
	Sink Sink

	// Dialer configures outbound links.
	Dialer transport.DialerConfig

	// Dial overrides how outbound links are opened. The default calls
	// transport.Dial with Dialer.
	Dial DialFunc

	// HandshakeTimeout bounds waiting for the first identity packet of an
	// inbound link and WaitUntilVerified calls without a deadline.
	HandshakeTimeout time.Duration

	// Clock provides message timestamps (default: wall clock).
	Clock clock.Clock

	Logger  *slog.Logger
	Capture log.Logger
}

// Manager is the registry of connections keyed by peer address.
type Manager struct {
	config   Config
	verifier *identity.Verifier
	logger   *slog.Logger
	dials    singleflight.Group

	mu     sync.RWMutex
	conns  map[string]*Connection
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager.
func NewManager(config Config) (*Manager, error) {
	if config.Self == "" {
		return nil, fmt.Errorf("self address is required")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Sink == nil {
		config.Sink = LogSink{Logger: config.Logger}
	}
	if config.Dial == nil {
		dialer := config.Dialer
		if dialer.Logger == nil {
			dialer.Logger = config.Logger
		}
		if dialer.Capture == nil {
			dialer.Capture = config.Capture
		}
		config.Dial = func(ctx context.Context, address string) (*transport.Dialer, error) {
			return transport.Dial(ctx, dialer, address)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config:   config,
		verifier: identity.NewVerifier(config.Self, config.Store, config.Logger),
		logger:   config.Logger,
		conns:    make(map[string]*Connection),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Self returns our own address.
func (m *Manager) Self() string { return m.config.Self }

// Connection returns the registered connection for address, if any.
func (m *Manager) Connection(address string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[address]
	return c, ok
}

// GetOrConnect returns the connection to address, dialing it if needed.
// Concurrent calls for the same address share one dial. A new link has
// sent our identity by the time it is returned.
func (m *Manager) GetOrConnect(ctx context.Context, address string) (*Connection, error) {
	if c, ok := m.Connection(address); ok {
		return c, nil
	}

	v, err, _ := m.dials.Do(address, func() (any, error) {
		if c, ok := m.Connection(address); ok {
			return c, nil
		}
		return m.dial(ctx, address)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Connection), nil
}

func (m *Manager) dial(ctx context.Context, address string) (*Connection, error) {
	if m.isClosed() {
		return nil, ErrManagerClosed
	}

	d, err := m.config.Dial(ctx, address)
	if err != nil {
		m.logger.Info("dial failed", "peer", address, "error", err)
		return nil, err
	}

	c := newConnection(address, d, m.config.Capture)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		d.Close()
		return nil, ErrManagerClosed
	}
	if existing, ok := m.conns[address]; ok {
		// The peer reached us first.
		m.mu.Unlock()
		d.Close()
		return existing, nil
	}
	m.conns[address] = c
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("connected", "peer", address, "role", c.Kind().String(), "connID", d.ConnID())
	m.notify(Event{Kind: EventConnected, Peer: address, Role: c.Kind()})
	go m.pumpDialer(c, d)

	id, err := m.verifier.Assert(address, identity.RoleDialer)
	if err == nil {
		err = c.sendIdentity(id)
	}
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("send identity to %s: %w", address, err)
	}
	return c, nil
}

// Accept registers an inbound link. It waits for the first packet, which
// must be SetIdentity, checks that identity and then runs the link's read
// pump. Accept returns once the link is registered or rejected. A rejected
// identity never touches the registry.
//
// When a link to the same peer already exists, an existing Acceptor is
// replaced. An existing Dialer is kept if our address sorts before the
// peer's, since the link dialed by the smaller address wins.
func (m *Manager) Accept(ctx context.Context, a *transport.Acceptor) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.HandshakeTimeout)
	p, err := a.Receive(ctx)
	cancel()
	if err != nil {
		a.Close()
		return fmt.Errorf("await identity: %w", err)
	}

	set, ok := p.(packet.SetIdentity)
	if !ok {
		a.Close()
		return fmt.Errorf("%w: %s before identity", ErrUnexpectedPacket, p.Tag())
	}
	address := NormalizeAddress(set.Identity.Address)
	if address == "" || address != set.Identity.Address {
		a.Close()
		return fmt.Errorf("%w: %q", identity.ErrEmptyAddress, set.Identity.Address)
	}
	a.SetPeer(address)

	if m.isClosed() {
		a.Close()
		return ErrManagerClosed
	}

	c := newConnection(address, a, m.config.Capture)
	if err := m.checkIdentity(c, set.Identity, identity.RoleDialer); err != nil {
		a.Close()
		return fmt.Errorf("verify identity of %s: %w", address, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		a.Close()
		return ErrManagerClosed
	}
	existing, ok := m.conns[address]
	if ok && keepExisting(m.config.Self, address, existing.Kind()) {
		m.mu.Unlock()
		m.logger.Info("rejecting duplicate inbound link", "peer", address)
		a.Close()
		return ErrDuplicateLink
	}
	m.conns[address] = c
	m.wg.Add(1)
	m.mu.Unlock()

	if ok {
		m.logger.Info("replacing link", "peer", address, "old", existing.Kind().String())
		existing.Close()
	}

	m.logger.Info("connected", "peer", address, "role", c.Kind().String(), "connID", a.ConnID())
	m.notify(Event{Kind: EventConnected, Peer: address, Role: c.Kind()})
	go m.pumpAcceptor(c, a)
	return nil
}

// keepExisting decides a collision between an existing link of kind
// existing and a new inbound link from peer.
func keepExisting(self, peer string, existing transport.Kind) bool {
	return existing == transport.KindDialer && self < peer
}

// WaitUntilVerified blocks until the connection to address is verified.
// Without a deadline on ctx the wait is bounded by HandshakeTimeout.
func (m *Manager) WaitUntilVerified(ctx context.Context, address string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.HandshakeTimeout)
		defer cancel()
	}

	c, ok := m.Connection(address)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, address)
	}

	for {
		select {
		case <-c.Ready():
			return nil
		default:
		}

		select {
		case <-c.Ready():
			return nil
		case <-c.Done():
			// A replacing link may have been registered meanwhile.
			next, ok := m.Connection(address)
			if !ok || next == c {
				return fmt.Errorf("%w: %s", ErrConnectionClosed, address)
			}
			c = next
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Remove closes and deregisters the connection to address. It is safe to
// call for unknown addresses.
func (m *Manager) Remove(address string) {
	m.mu.Lock()
	c, ok := m.conns[address]
	delete(m.conns, address)
	m.mu.Unlock()

	if ok {
		c.Close()
	}
}

// removeIf deregisters c if it is still the registered connection.
func (m *Manager) removeIf(c *Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conns[c.address] != c {
		return false
	}
	delete(m.conns, c.address)
	return true
}

// IsConnected reports whether a connection to address is registered.
func (m *Manager) IsConnected(address string) bool {
	_, ok := m.Connection(address)
	return ok
}

// IsVerified reports whether the connection to address is verified.
func (m *Manager) IsVerified(address string) bool {
	c, ok := m.Connection(address)
	return ok && c.Verified()
}

// Addresses returns the registered peer addresses in sorted order.
func (m *Manager) Addresses() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.conns))
	for addr := range m.conns {
		out = append(out, addr)
	}
	m.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Close closes every connection and waits for their read pumps.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	m.cancel()
	for _, c := range conns {
		c.Close()
	}
	m.wg.Wait()
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Manager) notify(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = m.config.Clock.Now()
	}
	if err := m.config.Sink.Notify(ev); err != nil {
		m.logger.Warn("notification failed", "event", ev.Kind.String(), "peer", ev.Peer, "error", err)
	}
}
