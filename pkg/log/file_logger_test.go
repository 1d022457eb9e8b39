package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFileLoggerCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.vlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("capture file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 600", perm)
	}
}

func TestFileLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.vlog")

	for _, id := range []string{"conn-1", "conn-2"} {
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger failed: %v", err)
		}
		logger.Log(Event{Timestamp: time.Now(), ConnectionID: id})
		logger.Close()
	}

	events := readAll(t, path)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ConnectionID != "conn-1" || events[1].ConnectionID != "conn-2" {
		t.Errorf("events = %q, %q", events[0].ConnectionID, events[1].ConnectionID)
	}
}

func TestFileLoggerThreadSafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.vlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	const numGoroutines = 10
	const eventsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				logger.Log(Event{
					Timestamp:    time.Now(),
					ConnectionID: fmt.Sprintf("conn-%d", id),
					Layer:        LayerTransport,
				})
			}
		}(i)
	}
	wg.Wait()
	logger.Close()

	if got := len(readAll(t, path)); got != numGoroutines*eventsPerGoroutine {
		t.Errorf("event count: got %d, want %d", got, numGoroutines*eventsPerGoroutine)
	}
}

func TestFileLoggerClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.vlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	logger.Log(Event{ConnectionID: "conn-123"})

	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	// Ignored after close.
	logger.Log(Event{ConnectionID: "conn-456"})

	if got := len(readAll(t, path)); got != 1 {
		t.Errorf("event count: got %d, want 1", got)
	}
}

func readAll(t *testing.T, path string) []Event {
	t.Helper()

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	var out []Event
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		out = append(out, ev)
	}
}

func TestFileLoggerRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.vlog")

	data, err := EncodeEvent(Event{ConnectionID: "conn-0"})
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	// Room for two events per file.
	logger, err := NewFileLogger(path, WithMaxSize(int64(2*len(data))))
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		logger.Log(Event{ConnectionID: fmt.Sprintf("conn-%d", i)})
	}
	if got := logger.Events(); got != 5 {
		t.Errorf("Events() = %d, want 5", got)
	}
	logger.Close()

	current := readAll(t, path)
	if len(current) != 1 || current[0].ConnectionID != "conn-4" {
		t.Errorf("current file = %v, want only conn-4", current)
	}
	previous := readAll(t, path+".1")
	if len(previous) != 2 || previous[0].ConnectionID != "conn-2" {
		t.Errorf("rotated file = %v, want conn-2 and conn-3", previous)
	}
}
