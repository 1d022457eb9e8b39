package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilchat/veil-go/pkg/log"
	"github.com/veilchat/veil-go/pkg/packet"
)

// recorder collects capture events.
type recorder struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *recorder) Log(ev log.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count(match func(log.Event) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if match(ev) {
			n++
		}
	}
	return n
}

func startListener(t *testing.T, config ListenerConfig) (*Listener, chan *Acceptor) {
	t.Helper()

	accepted := make(chan *Acceptor, 4)
	config.Address = "127.0.0.1:0"
	config.OnAccept = func(a *Acceptor) { accepted <- a }

	l, err := NewListener(config)
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { l.Stop() })
	return l, accepted
}

func dialListener(t *testing.T, l *Listener, config DialerConfig) *Dialer {
	t.Helper()

	config.Proxy = ProxyConfig{Type: ProxyNone}
	config.Resolve = func(string) string {
		return "ws://" + l.Addr().String() + DefaultPath
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d, err := Dial(ctx, config, "peer")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func awaitAcceptor(t *testing.T, accepted chan *Acceptor) *Acceptor {
	t.Helper()
	select {
	case a := <-accepted:
		return a
	case <-time.After(5 * time.Second):
		t.Fatal("no session accepted")
		return nil
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestLinkRoundTrip(t *testing.T) {
	l, accepted := startListener(t, ListenerConfig{})
	d := dialListener(t, l, DialerConfig{Clock: clock.NewMock()})
	a := awaitAcceptor(t, accepted)
	ctx := testContext(t)

	id := packet.Identity{Address: "alice", Signature: []byte{1}, PublicKey: []byte{2}}
	require.NoError(t, d.Write(packet.SetIdentity{Identity: id}))

	got, err := a.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, packet.SetIdentity{Identity: id}, got)

	require.NoError(t, a.Write(packet.VerifyIdentity{Identity: id}))
	back, err := d.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, packet.VerifyIdentity{Identity: id}, back)

	assert.Equal(t, 1, l.SessionCount())
	assert.Equal(t, KindDialer, d.Kind())
	assert.Equal(t, "peer", d.Address())
}

func TestDialerWriteBufferedCoalesces(t *testing.T) {
	mock := clock.NewMock()
	l, accepted := startListener(t, ListenerConfig{})
	d := dialListener(t, l, DialerConfig{Clock: mock, FlushDelay: 100 * time.Millisecond})
	a := awaitAcceptor(t, accepted)
	ctx := testContext(t)

	base := d.Flushes()
	for i := uint64(1); i <= 3; i++ {
		msg := packet.Message{ID: packet.MessageIDFromUint64(i), Ciphertext: []byte("x")}
		require.NoError(t, d.WriteBuffered(msg))
	}
	assert.Equal(t, base, d.Flushes(), "buffered writes flushed early")

	mock.Add(100 * time.Millisecond)

	for i := uint64(1); i <= 3; i++ {
		p, err := a.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, packet.MessageIDFromUint64(i), p.(packet.Message).ID)
	}
	assert.Equal(t, base+1, d.Flushes())
}

func TestDialerHeartbeatReachesListener(t *testing.T) {
	mock := clock.NewMock()
	rec := &recorder{}
	l, accepted := startListener(t, ListenerConfig{Capture: rec})
	d := dialListener(t, l, DialerConfig{Clock: mock, HeartbeatInterval: time.Second})
	awaitAcceptor(t, accepted)

	mock.Add(time.Second)

	isPing := func(ev log.Event) bool {
		return ev.LocalRole == log.RoleAcceptor &&
			ev.ControlMsg != nil && ev.ControlMsg.Type == log.ControlMsgPing
	}
	assert.Eventually(t, func() bool { return rec.count(isPing) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return d.heartbeat.Sent() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestListenerClosesStaleSession(t *testing.T) {
	mock := clock.NewMock()
	l, accepted := startListener(t, ListenerConfig{Clock: mock, StaleTimeout: time.Second})
	d := dialListener(t, l, DialerConfig{Clock: clock.NewMock()})
	a := awaitAcceptor(t, accepted)

	require.Eventually(t, func() bool { return l.SessionCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	for i := 0; i < 6; i++ {
		mock.Add(250 * time.Millisecond)
	}

	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stale session not closed")
	}
	assert.Eventually(t, func() bool { return l.SessionCount() == 0 }, 5*time.Second, 10*time.Millisecond)

	_, err := d.Receive(testContext(t))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDialerCloseEndsSession(t *testing.T) {
	l, accepted := startListener(t, ListenerConfig{})
	d := dialListener(t, l, DialerConfig{Clock: clock.NewMock()})
	a := awaitAcceptor(t, accepted)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	assert.ErrorIs(t, d.Write(packet.IdentityVerified{}), ErrClosed)
	assert.ErrorIs(t, d.WriteBuffered(packet.IdentityVerified{}), ErrClosed)

	_, err := a.Receive(testContext(t))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAcceptorCloseDeliversPending(t *testing.T) {
	l, accepted := startListener(t, ListenerConfig{})
	d := dialListener(t, l, DialerConfig{Clock: clock.NewMock()})
	a := awaitAcceptor(t, accepted)

	require.NoError(t, a.Write(packet.MessageFailed{ID: packet.MessageIDFromUint64(9)}))
	require.NoError(t, a.Close())

	ctx := testContext(t)
	p, err := d.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, packet.MessageFailed{ID: packet.MessageIDFromUint64(9)}, p)

	_, err = d.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDialFailure(t *testing.T) {
	ctx := testContext(t)
	_, err := Dial(ctx, DialerConfig{
		Proxy:   ProxyConfig{Type: ProxyNone},
		Resolve: func(string) string { return "ws://127.0.0.1:1/veil" },
	}, "nobody")
	assert.ErrorIs(t, err, ErrDialFailed)
}

func TestListenerStop(t *testing.T) {
	l, accepted := startListener(t, ListenerConfig{})
	dialListener(t, l, DialerConfig{Clock: clock.NewMock()})
	a := awaitAcceptor(t, accepted)

	require.NoError(t, l.Stop())
	require.NoError(t, l.Stop())

	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session not closed by Stop")
	}
	assert.Equal(t, 0, l.SessionCount())
}
