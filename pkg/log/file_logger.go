package log

import (
	"fmt"
	"os"
	"sync"
)

// FileOption configures a FileLogger.
type FileOption func(*FileLogger)

// WithMaxSize rotates the capture file once it would grow past n bytes.
// The previous file is kept as path + ".1"; older ones are discarded.
// Zero disables rotation.
func WithMaxSize(n int64) FileOption {
	return func(l *FileLogger) { l.maxSize = n }
}

// FileLogger appends capture events to a CBOR file. Write errors are
// dropped: capture never disturbs the link it observes.
type FileLogger struct {
	mu      sync.Mutex
	path    string
	maxSize int64

	file   *os.File
	size   int64
	events int
	closed bool
}

// NewFileLogger opens path for appending, creating it with mode 0600.
func NewFileLogger(path string, opts ...FileOption) (*FileLogger, error) {
	l := &FileLogger{path: path}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	l.file = f
	l.size = info.Size()
	return nil
}

func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(l.path, l.path+".1"); err != nil {
		return fmt.Errorf("rotate capture file: %w", err)
	}
	return l.open()
}

// Log appends event.
func (l *FileLogger) Log(event Event) {
	data, err := EncodeEvent(event)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	if l.maxSize > 0 && l.size > 0 && l.size+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			// Without an open file there is nothing left to write to.
			l.closed = true
			return
		}
	}

	n, _ := l.file.Write(data)
	l.size += int64(n)
	l.events++
}

// Events returns the number of events written since the logger was opened.
func (l *FileLogger) Events() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events
}

// Path returns the active capture file path.
func (l *FileLogger) Path() string { return l.path }

// Close closes the file. It is safe to call more than once; later Log
// calls are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)
