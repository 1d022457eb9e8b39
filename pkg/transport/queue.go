package transport

import (
	"context"
	"sync"
)

// FrameQueue is an unbounded FIFO of encoded frames. Push never blocks.
// After Close, Pop drains what is left and then returns ErrClosed.
type FrameQueue struct {
	mu     sync.Mutex
	items  [][]byte
	notify chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFrameQueue creates an empty queue.
func NewFrameQueue() *FrameQueue {
	return &FrameQueue{
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Push appends a frame.
func (q *FrameQueue) Push(frame []byte) error {
	q.mu.Lock()
	select {
	case <-q.closed:
		q.mu.Unlock()
		return ErrClosed
	default:
	}
	q.items = append(q.items, frame)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes the oldest frame, blocking until one is available.
func (q *FrameQueue) Pop(ctx context.Context) ([]byte, error) {
	for {
		if frame, ok := q.tryPop(); ok {
			return frame, nil
		}

		select {
		case <-q.notify:
		case <-q.closed:
			if frame, ok := q.tryPop(); ok {
				return frame, nil
			}
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *FrameQueue) tryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	frame := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return frame, true
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further pushes. It is safe to call more than once.
func (q *FrameQueue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		close(q.closed)
		q.mu.Unlock()
	})
}

// Closed is closed once Close has been called.
func (q *FrameQueue) Closed() <-chan struct{} {
	return q.closed
}
