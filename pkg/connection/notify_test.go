package connection

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilchat/veil-go/pkg/packet"
	"github.com/veilchat/veil-go/pkg/store"
)

func TestChanSinkDeliversInOrder(t *testing.T) {
	s := NewChanSink()
	defer s.Close()

	// Notify never blocks, even with no reader.
	for i := 0; i < 100; i++ {
		require.NoError(t, s.Notify(Event{Kind: EventMessageDelivered, MessageID: packet.MessageIDFromUint64(uint64(i))}))
	}

	for i := 0; i < 100; i++ {
		select {
		case ev := <-s.C():
			assert.Equal(t, packet.MessageIDFromUint64(uint64(i)), ev.MessageID)
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestChanSinkClose(t *testing.T) {
	s := NewChanSink()
	s.Close()
	s.Close()

	assert.ErrorIs(t, s.Notify(Event{}), ErrSinkClosed)

	select {
	case _, ok := <-s.C():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestMultiSink(t *testing.T) {
	var got []EventKind
	record := SinkFunc(func(ev Event) error {
		got = append(got, ev.Kind)
		return nil
	})
	failing := SinkFunc(func(Event) error { return errors.New("full") })

	m := MultiSink{record, nil, failing, record}
	err := m.Notify(Event{Kind: EventVerified})

	assert.EqualError(t, err, "full")
	assert.Equal(t, []EventKind{EventVerified, EventVerified}, got)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	require.NoError(t, s.Notify(Event{
		Kind:      EventMessageStatusChanged,
		Peer:      "alice",
		MessageID: packet.MessageIDFromUint64(5),
		Status:    store.StatusSuccess,
	}))

	out := buf.String()
	assert.Contains(t, out, "event=MESSAGE_STATUS_CHANGED")
	assert.Contains(t, out, "peer=alice")
	assert.Contains(t, out, "status=SUCCESS")
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "VERIFIED", EventVerified.String())
	assert.Equal(t, "UNKNOWN", EventKind(99).String())
}
