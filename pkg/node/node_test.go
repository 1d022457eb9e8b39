package node

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilchat/veil-go/pkg/config"
	"github.com/veilchat/veil-go/pkg/connection"
	"github.com/veilchat/veil-go/pkg/log"
	"github.com/veilchat/veil-go/pkg/store"
	"github.com/veilchat/veil-go/pkg/transport"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig(t *testing.T, self string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.SelfAddress = self
	cfg.DataDir = t.TempDir()
	cfg.Listen = "127.0.0.1:0"
	cfg.Proxy = transport.ProxyConfig{Type: transport.ProxyNone}
	cfg.FlushDelay = config.Duration(10 * time.Millisecond)
	cfg.HandshakeTimeout = config.Duration(5 * time.Second)
	return cfg
}

// peers maps addresses to started nodes so dialers resolve to the local
// listener instead of an onion host.
type peers map[string]*Node

func (p peers) resolve(address string) string {
	n, ok := p[address]
	if !ok || n.ListenAddr() == nil {
		return "ws://127.0.0.1:1/veil"
	}
	return "ws://" + n.ListenAddr().String() + transport.DefaultPath
}

func startNode(t *testing.T, all peers, cfg config.Config, opts ...Option) *Node {
	t.Helper()
	opts = append([]Option{WithLogger(discard), WithResolver(all.resolve)}, opts...)
	n, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	all[n.Self()] = n
	t.Cleanup(func() { n.Close() })
	return n
}

func TestNodesExchangeMessages(t *testing.T) {
	all := peers{}

	aliceCfg := testConfig(t, "Alice.onion")
	aliceCfg.ProtocolLog = "capture.cbor"
	alice := startNode(t, all, aliceCfg)

	bobSink := connection.NewChanSink()
	defer bobSink.Close()
	bob := startNode(t, all, testConfig(t, "bob"), WithStore(store.NewMemoryStore()), WithSink(bobSink))

	assert.Equal(t, "alice", alice.Self())

	_, err := alice.AddChat("bob.onion", "Bob")
	require.NoError(t, err)
	_, err = bob.AddChat("alice", "Alice")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id, err := alice.SendMessage(ctx, "bob", "hi bob")
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for delivered := false; !delivered; {
		select {
		case ev := <-bobSink.C():
			if ev.Kind == connection.EventMessageDelivered {
				assert.Equal(t, "alice", ev.Peer)
				assert.Equal(t, "hi bob", ev.Body)
				delivered = true
			}
		case <-deadline:
			t.Fatal("bob never received the message")
		}
	}

	assert.Eventually(t, func() bool {
		rec, err := alice.Store().Message("bob", true, id)
		return err == nil && rec.Status == store.StatusSuccess
	}, 5*time.Second, 10*time.Millisecond)

	// Bob answers over the link alice opened.
	reply, err := bob.SendMessage(ctx, "alice", "hi alice")
	require.NoError(t, err)
	c, ok := bob.Manager().Connection("alice")
	require.True(t, ok)
	assert.Equal(t, transport.KindAcceptor, c.Kind())

	assert.Eventually(t, func() bool {
		rec, err := bob.Store().Message("alice", true, reply)
		return err == nil && rec.Status == store.StatusSuccess
	}, 5*time.Second, 10*time.Millisecond)

	recs, err := alice.Store().Messages("bob")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	require.NoError(t, alice.Close())

	r, err := log.NewReader(alice.Config().ProtocolLogPath())
	require.NoError(t, err)
	defer r.Close()

	var packets int
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if ev.Packet != nil {
			packets++
		}
	}
	assert.Greater(t, packets, 0)
}

func TestNodeReopensStore(t *testing.T) {
	all := peers{}
	cfg := testConfig(t, "carol")

	n := startNode(t, all, cfg)
	_, err := n.AddChat("dave", "")
	require.NoError(t, err)
	require.NoError(t, n.Close())

	n2, err := New(cfg, WithLogger(discard))
	require.NoError(t, err)
	defer n2.Close()

	ok, err := n2.Store().HasChat("dave")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNodeResetTrust(t *testing.T) {
	all := peers{}
	st := store.NewMemoryStore()
	n := startNode(t, all, testConfig(t, "erin"), WithStore(st))

	other, err := st.PrivateKey("frank")
	require.NoError(t, err)
	require.NoError(t, st.PinKey("frank", other.Public()))

	require.NoError(t, n.ResetTrust("frank.onion"))
	_, pinned, err := st.PinnedKey("frank")
	require.NoError(t, err)
	assert.False(t, pinned)
}

func TestNodeRemoveChat(t *testing.T) {
	all := peers{}
	n := startNode(t, all, testConfig(t, "gina"), WithStore(store.NewMemoryStore()))

	peer, err := n.AddChat("HANK.onion", "")
	require.NoError(t, err)
	assert.Equal(t, "hank", peer)

	require.NoError(t, n.RemoveChat("hank"))
	ok, err := n.Store().HasChat("hank")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNodeLifecycle(t *testing.T) {
	n, err := New(testConfig(t, "ivan"), WithLogger(discard), WithStore(store.NewMemoryStore()))
	require.NoError(t, err)
	assert.Equal(t, StateIdle, n.State())
	assert.Nil(t, n.ListenAddr())

	_, err = n.SendMessage(context.Background(), "judy", "early")
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, n.Connect(context.Background(), "judy"), ErrNotStarted)

	require.NoError(t, n.Start(context.Background()))
	assert.Equal(t, StateRunning, n.State())
	assert.NotNil(t, n.ListenAddr())
	assert.ErrorIs(t, n.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, n.Close())
	assert.Equal(t, StateStopped, n.State())
	assert.ErrorIs(t, n.Close(), ErrNotStarted)
	assert.ErrorIs(t, n.Start(context.Background()), ErrAlreadyStarted)
}

func TestNodeConnectFailure(t *testing.T) {
	all := peers{}
	n := startNode(t, all, testConfig(t, "kate"), WithStore(store.NewMemoryStore()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := n.Connect(ctx, "nobody")
	assert.ErrorIs(t, err, transport.ErrDialFailed)
	assert.False(t, n.Manager().IsConnected("nobody"))
}

func TestNodeServesMetrics(t *testing.T) {
	cfg := testConfig(t, "leo")
	cfg.MetricsAddress = "127.0.0.1:0"
	n := startNode(t, peers{}, cfg, WithStore(store.NewMemoryStore()))
	require.NotNil(t, n.MetricsAddr())

	resp, err := http.Get("http://" + n.MetricsAddr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "veil_")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "")
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = testConfig(t, "mia")
	cfg.LogLevel = "chatty"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "UNKNOWN", State(9).String())
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNodeEchoesCaptureAtDebug(t *testing.T) {
	all := peers{}
	var out lockedBuffer
	debug := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))

	startNode(t, all, testConfig(t, "nina"), WithStore(store.NewMemoryStore()))
	owen := startNode(t, all, testConfig(t, "owen"), WithStore(store.NewMemoryStore()), WithLogger(debug))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, owen.Connect(ctx, "nina"))

	assert.Contains(t, out.String(), "msg=protocol")
	assert.Contains(t, out.String(), "packet=SetIdentity")
}
