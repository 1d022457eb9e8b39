package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilchat/veil-go/pkg/packet"
)

func newQueueAcceptor(t *testing.T) (*Acceptor, *FrameQueue, *FrameQueue) {
	t.Helper()
	in, out := NewFrameQueue(), NewFrameQueue()
	a := NewAcceptor(in, out, AcceptorConfig{RemoteAddr: "127.0.0.1:1"})
	t.Cleanup(func() { a.Close() })
	return a, in, out
}

func TestAcceptorReceive(t *testing.T) {
	a, in, _ := newQueueAcceptor(t)

	want := packet.Message{ID: packet.MessageIDFromUint64(42), Ciphertext: []byte("sealed")}
	data, err := packet.EncodeClient(want)
	require.NoError(t, err)
	require.NoError(t, in.Push(data))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := a.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAcceptorReceiveMalformedKeepsLink(t *testing.T) {
	a, in, _ := newQueueAcceptor(t)

	require.NoError(t, in.Push([]byte{0xFF}))
	ok, err := packet.EncodeClient(packet.IdentityVerified{})
	require.NoError(t, err)
	require.NoError(t, in.Push(ok))

	ctx := context.Background()
	_, err = a.Receive(ctx)
	if !errors.Is(err, packet.ErrMalformed) {
		t.Fatalf("Receive err = %v, want ErrMalformed", err)
	}

	p, err := a.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, packet.IdentityVerified{}, p)
}

func TestAcceptorWriteEnqueuesServerPacket(t *testing.T) {
	a, _, out := newQueueAcceptor(t)

	p := packet.MessageReceived{ID: packet.MessageIDFromUint64(7)}
	require.NoError(t, a.Write(p))
	require.NoError(t, a.WriteBuffered(packet.IdentityVerified{}))
	assert.Equal(t, 2, out.Len())

	data, err := out.Pop(context.Background())
	require.NoError(t, err)
	got, err := packet.DecodeServer(data)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestAcceptorClose(t *testing.T) {
	a, _, out := newQueueAcceptor(t)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed")
	}
	select {
	case <-out.Closed():
	default:
		t.Error("outbound queue not closed")
	}

	_, err := a.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, a.Write(packet.IdentityVerified{}), ErrClosed)
	assert.Equal(t, KindAcceptor, a.Kind())
	assert.NotEmpty(t, a.ConnID())
}
