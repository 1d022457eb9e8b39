package transport

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func newTestBatcher(t *testing.T, delay time.Duration) (*FlushBatcher, *clock.Mock, *atomic.Int32) {
	t.Helper()

	mock := clock.NewMock()
	var flushes atomic.Int32
	b := NewFlushBatcher(delay, mock, func() error {
		flushes.Add(1)
		return nil
	}, nil)
	b.Start()
	t.Cleanup(b.Stop)
	return b, mock, &flushes
}

func TestFlushBatcherCoalescesBurst(t *testing.T) {
	b, mock, flushes := newTestBatcher(t, 100*time.Millisecond)

	// Three buffered writes within 10ms.
	b.MarkDirty()
	mock.Add(3 * time.Millisecond)
	b.MarkDirty()
	mock.Add(3 * time.Millisecond)
	b.MarkDirty()

	mock.Add(100 * time.Millisecond)
	assert.Eventually(t, func() bool { return flushes.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, b.Dirty())

	// Nothing new was written, so later ticks do not flush.
	mock.Add(100 * time.Millisecond)
	assert.Never(t, func() bool { return flushes.Load() > 1 }, 30*time.Millisecond, 5*time.Millisecond)
}

func TestFlushBatcherWaitsForDelay(t *testing.T) {
	b, mock, flushes := newTestBatcher(t, 100*time.Millisecond)

	mock.Add(50 * time.Millisecond)
	b.MarkDirty()

	// The tick at 100ms sees data only 50ms old.
	mock.Add(50 * time.Millisecond)
	assert.Never(t, func() bool { return flushes.Load() > 0 }, 30*time.Millisecond, 5*time.Millisecond)
	assert.True(t, b.Dirty())

	mock.Add(100 * time.Millisecond)
	assert.Eventually(t, func() bool { return flushes.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestFlushBatcherFirstWriteAlwaysFlushes(t *testing.T) {
	b, mock, flushes := newTestBatcher(t, 100*time.Millisecond)

	for i := 0; i < 3; i++ {
		b.MarkDirty()
		mock.Add(100 * time.Millisecond)
		want := int32(i + 1)
		assert.Eventually(t, func() bool { return flushes.Load() == want }, time.Second, 5*time.Millisecond)
	}
}

func TestFlushBatcherStopFlushesPending(t *testing.T) {
	mock := clock.NewMock()
	var flushes atomic.Int32
	b := NewFlushBatcher(time.Second, mock, func() error {
		flushes.Add(1)
		return nil
	}, nil)
	b.Start()

	b.MarkDirty()
	b.Stop()

	if got := flushes.Load(); got != 1 {
		t.Errorf("flushes after Stop = %d, want 1", got)
	}

	// A second Stop does nothing.
	b.Stop()
	if got := flushes.Load(); got != 1 {
		t.Errorf("flushes after second Stop = %d, want 1", got)
	}
}
