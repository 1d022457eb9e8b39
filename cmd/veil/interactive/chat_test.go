package interactive

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilchat/veil-go/pkg/config"
	"github.com/veilchat/veil-go/pkg/connection"
	"github.com/veilchat/veil-go/pkg/node"
	"github.com/veilchat/veil-go/pkg/packet"
	"github.com/veilchat/veil-go/pkg/store"
	"github.com/veilchat/veil-go/pkg/transport"
)

const peer = "2gzyxa5ihm7nsggfxnu52rck2vv4rvmdlkiu3zzui5du4xyclen53wid"

func newTestChat(t *testing.T) (*Chat, *bytes.Buffer, *store.MemoryStore) {
	t.Helper()

	cfg := config.Default()
	cfg.SelfAddress = "me"
	cfg.DataDir = t.TempDir()
	cfg.Listen = "127.0.0.1:0"
	cfg.Proxy = transport.ProxyConfig{Type: transport.ProxyNone}

	st := store.NewMemoryStore()
	n, err := node.New(cfg,
		node.WithStore(st),
		node.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		node.WithResolver(func(string) string { return "ws://127.0.0.1:1/veil" }))
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() { n.Close() })

	var out bytes.Buffer
	return newChat(n, &out), &out, st
}

func TestChatAddListRemove(t *testing.T) {
	c, out, st := newTestChat(t)
	ctx := context.Background()

	c.Exec(ctx, "add "+peer+".onion Alice Liddell")
	assert.Contains(t, out.String(), "Added chat "+peer)

	ok, err := st.HasChat(peer)
	require.NoError(t, err)
	assert.True(t, ok)

	out.Reset()
	c.Exec(ctx, "chats")
	assert.Contains(t, out.String(), "Alice Liddell")
	assert.Contains(t, out.String(), "offline")

	out.Reset()
	c.Exec(ctx, "add bob")
	assert.Contains(t, out.String(), "not a v3 onion address")

	out.Reset()
	c.Exec(ctx, "rm "+peer)
	assert.Contains(t, out.String(), "Removed chat")
	ok, err = st.HasChat(peer)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChatOpenRoutesPlainLines(t *testing.T) {
	c, out, _ := newTestChat(t)
	ctx := context.Background()

	c.Exec(ctx, "open "+peer)
	assert.Contains(t, out.String(), "No chat with")
	assert.Equal(t, "veil> ", c.prompt())

	c.Exec(ctx, "add "+peer)
	c.Exec(ctx, "open "+peer)
	assert.Equal(t, peer, c.current)
	assert.Equal(t, "2gzyxa5i..3wid> ", c.prompt())

	// Plain text is a message; the peer is unreachable.
	out.Reset()
	c.Exec(ctx, "hello there")
	assert.Contains(t, out.String(), "Send failed")

	// Slash escapes to commands while a chat is open.
	out.Reset()
	assert.False(t, c.Exec(ctx, "/close"))
	assert.Empty(t, c.current)
}

func TestChatHistory(t *testing.T) {
	c, out, st := newTestChat(t)
	ctx := context.Background()

	require.NoError(t, st.AddChat(peer, ""))
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, body := range []string{"one", "two", "three"} {
		id := packet.NewMessageID(base.Add(time.Duration(i) * time.Second))
		_, err := st.AppendMessage(peer, i%2 == 0, body, id)
		require.NoError(t, err)
	}

	c.Exec(ctx, "history "+peer+" 2")
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "<2gzyxa5i..3wid> two")
	assert.Contains(t, lines[1], "<me> three (sending)")

	out.Reset()
	c.Exec(ctx, "history")
	assert.Contains(t, out.String(), "Usage: history")
}

func TestChatStatusAndTrustReset(t *testing.T) {
	c, out, st := newTestChat(t)
	ctx := context.Background()

	c.Exec(ctx, "status")
	assert.Contains(t, out.String(), "Self: me")
	assert.Contains(t, out.String(), "Links: 0")

	key, err := st.PrivateKey(peer)
	require.NoError(t, err)
	require.NoError(t, st.PinKey(peer, key.Public()))

	out.Reset()
	c.Exec(ctx, "trust-reset "+peer)
	assert.Contains(t, out.String(), "Pinned key removed")
	_, pinned, err := st.PinnedKey(peer)
	require.NoError(t, err)
	assert.False(t, pinned)
}

func TestChatUnknownAndQuit(t *testing.T) {
	c, out, _ := newTestChat(t)
	ctx := context.Background()

	assert.False(t, c.Exec(ctx, "   "))
	assert.False(t, c.Exec(ctx, "dance"))
	assert.Contains(t, out.String(), "Unknown command: dance")

	assert.False(t, c.Exec(ctx, "msg "+peer))
	assert.Contains(t, out.String(), "Usage: msg")

	assert.True(t, c.Exec(ctx, "quit"))
}

func TestChatPrintEvent(t *testing.T) {
	c, out, _ := newTestChat(t)
	ts := time.Date(2026, 5, 1, 8, 30, 0, 0, time.Local)

	c.printEvent(connection.Event{Kind: connection.EventMessageDelivered, Time: ts, Peer: peer, Body: "hi"})
	c.printEvent(connection.Event{
		Kind: connection.EventMessageStatusChanged, Time: ts, Peer: peer,
		MessageID: packet.MessageIDFromUint64(7), Status: store.StatusSuccess,
	})
	c.printEvent(connection.Event{Kind: connection.EventConnected, Time: ts, Peer: peer})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[08:30:00] <2gzyxa5i..3wid> hi", lines[0])
	assert.Equal(t, "[08:30:00] message 7 to 2gzyxa5i..3wid: SUCCESS", lines[1])
}

func TestChatWatch(t *testing.T) {
	c, out, _ := newTestChat(t)
	events := make(chan connection.Event, 1)
	events <- connection.Event{Kind: connection.EventDisconnected, Time: time.Now(), Peer: "bob"}
	close(events)

	c.Watch(context.Background(), events)
	assert.Contains(t, out.String(), "bob disconnected")
}
