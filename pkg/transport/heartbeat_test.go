package transport

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestHeartbeatDefaults(t *testing.T) {
	if DefaultHeartbeatInterval != 12500*time.Millisecond {
		t.Errorf("DefaultHeartbeatInterval = %v, want 12.5s", DefaultHeartbeatInterval)
	}

	h := NewHeartbeat(0, nil, func() error { return nil }, nil)
	if h.interval != DefaultHeartbeatInterval {
		t.Errorf("interval = %v, want %v", h.interval, DefaultHeartbeatInterval)
	}
}

func TestHeartbeatPingsEveryInterval(t *testing.T) {
	mock := clock.NewMock()
	var pings atomic.Int32

	h := NewHeartbeat(10*time.Second, mock, func() error {
		pings.Add(1)
		return nil
	}, nil)
	h.Start()
	defer h.Stop()

	mock.Add(5 * time.Second)
	assert.Never(t, func() bool { return pings.Load() > 0 }, 30*time.Millisecond, 5*time.Millisecond)

	mock.Add(5 * time.Second)
	assert.Eventually(t, func() bool { return pings.Load() == 1 }, time.Second, 5*time.Millisecond)

	mock.Add(10 * time.Second)
	assert.Eventually(t, func() bool { return h.Sent() == 2 }, time.Second, 5*time.Millisecond)
}

func TestHeartbeatExitsOnClosedLink(t *testing.T) {
	mock := clock.NewMock()

	h := NewHeartbeat(time.Second, mock, func() error {
		return ErrClosed
	}, nil)
	h.Start()
	done := h.Done()

	mock.Add(time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat did not exit after closed link")
	}

	// Stop after a self-exit must not block.
	h.Stop()
}

func TestHeartbeatContinuesAfterError(t *testing.T) {
	mock := clock.NewMock()
	var calls atomic.Int32

	h := NewHeartbeat(time.Second, mock, func() error {
		if calls.Add(1) == 1 {
			return errors.New("write timeout")
		}
		return nil
	}, nil)
	h.Start()
	defer h.Stop()

	mock.Add(time.Second)
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	mock.Add(time.Second)
	assert.Eventually(t, func() bool { return h.Sent() == 1 }, time.Second, 5*time.Millisecond)
}

func TestHeartbeatStartStop(t *testing.T) {
	h := NewHeartbeat(time.Hour, clock.NewMock(), func() error { return nil }, nil)

	// Stop before Start is a no-op.
	h.Stop()

	h.Start()
	h.Start()
	h.Stop()
	h.Stop()

	select {
	case <-h.Done():
	default:
		t.Error("Done not closed after Stop")
	}
}

func TestIsClosedErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"link closed", ErrClosed, true},
		{"wrapped link closed", errors.Join(errors.New("write"), ErrClosed), true},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isClosedErr(tt.err); got != tt.want {
				t.Errorf("isClosedErr(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
