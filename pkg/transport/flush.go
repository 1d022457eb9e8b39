package transport

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// FlushBatcher coalesces buffered writes into periodic flushes.
//
// MarkDirty records the time of the first unflushed write. A checker wakes
// every delay and flushes once that time is at least delay old, so bursts
// of writes within one delay window cost one physical flush.
type FlushBatcher struct {
	delay  time.Duration
	clock  clock.Clock
	flush  func() error
	logger *slog.Logger

	mu         sync.Mutex
	dirty      bool
	dirtySince time.Time

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewFlushBatcher creates a batcher that calls flush.
func NewFlushBatcher(delay time.Duration, clk clock.Clock, flush func() error, logger *slog.Logger) *FlushBatcher {
	if delay <= 0 {
		delay = DefaultFlushDelay
	}
	if clk == nil {
		clk = clock.New()
	}
	return &FlushBatcher{
		delay:  delay,
		clock:  clk,
		flush:  flush,
		logger: orDiscard(logger),
	}
}

// MarkDirty notes that buffered data is waiting.
func (b *FlushBatcher) MarkDirty() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.dirty {
		b.dirty = true
		b.dirtySince = b.clock.Now()
	}
}

// Dirty reports whether unflushed data is pending.
func (b *FlushBatcher) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

// Start runs the checker. The ticker is created before Start returns.
func (b *FlushBatcher) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})

	ticker := b.clock.Ticker(b.delay)
	go b.loop(ticker, b.stopCh, b.doneCh)
}

// Stop ends the checker and waits for it to exit. Pending data is flushed.
func (b *FlushBatcher) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	done := b.doneCh
	b.mu.Unlock()

	<-done
	b.check(true)
}

func (b *FlushBatcher) loop(ticker *clock.Ticker, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			b.check(false)
		}
	}
}

func (b *FlushBatcher) check(force bool) {
	b.mu.Lock()
	if !b.dirty || (!force && b.clock.Since(b.dirtySince) < b.delay) {
		b.mu.Unlock()
		return
	}
	b.dirty = false
	b.mu.Unlock()

	if err := b.flush(); err != nil && !isClosedErr(err) {
		b.logger.Warn("flush failed", "error", err)
	}
}
