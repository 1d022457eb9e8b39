package transport

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
)

// Heartbeat sends a keep-alive ping at a fixed interval.
//
// A ping failing because the link is already closed ends the loop quietly.
// Other failures are logged and the loop keeps going.
type Heartbeat struct {
	interval time.Duration
	clock    clock.Clock
	ping     func() error
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	sent    int
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewHeartbeat creates a heartbeat calling ping every interval.
func NewHeartbeat(interval time.Duration, clk clock.Clock, ping func() error, logger *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Heartbeat{
		interval: interval,
		clock:    clk,
		ping:     ping,
		logger:   orDiscard(logger),
	}
}

// Start begins the loop. The ticker is created before Start returns.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})

	ticker := h.clock.Ticker(h.interval)
	go h.loop(ticker, h.stopCh, h.doneCh)
}

// Stop ends the loop and waits for it to exit.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.stopCh)
	done := h.doneCh
	h.mu.Unlock()

	<-done
}

// Done is closed when the loop has exited, by Stop or by a closed link.
func (h *Heartbeat) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doneCh
}

// Sent returns the number of successful pings.
func (h *Heartbeat) Sent() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sent
}

func (h *Heartbeat) loop(ticker *clock.Ticker, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			err := h.ping()
			switch {
			case err == nil:
				h.mu.Lock()
				h.sent++
				h.mu.Unlock()
			case isClosedErr(err):
				h.logger.Debug("heartbeat stopped, link closed")
				h.mu.Lock()
				h.running = false
				h.mu.Unlock()
				return
			default:
				h.logger.Warn("heartbeat ping failed", "error", err)
			}
		}
	}
}

// isClosedErr reports whether err means the socket is gone.
func isClosedErr(err error) bool {
	return errors.Is(err, ErrClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, io.ErrClosedPipe) ||
		websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseAbnormalClosure)
}

func orDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}
