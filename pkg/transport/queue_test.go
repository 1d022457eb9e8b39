package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameQueueFIFO(t *testing.T) {
	q := NewFrameQueue()
	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push([]byte(s)))
	}
	assert.Equal(t, 3, q.Len())

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
	assert.Equal(t, 0, q.Len())
}

func TestFrameQueuePopBlocksUntilPush(t *testing.T) {
	q := NewFrameQueue()

	got := make(chan []byte, 1)
	go func() {
		b, err := q.Pop(context.Background())
		if err == nil {
			got <- b
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before Push")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Push([]byte("x")))
	select {
	case b := <-got:
		assert.Equal(t, "x", string(b))
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestFrameQueueCloseDrains(t *testing.T) {
	q := NewFrameQueue()
	require.NoError(t, q.Push([]byte("last")))
	q.Close()
	q.Close()

	if err := q.Push([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Push after Close err = %v, want ErrClosed", err)
	}

	b, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "last", string(b))

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFrameQueuePopContext(t *testing.T) {
	q := NewFrameQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
