package log

// Logger receives capture events. Log is called inline from link read and
// write paths, so implementations must be safe for concurrent use and must
// not block.
type Logger interface {
	Log(event Event)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(Event)

// Log calls f.
func (f LoggerFunc) Log(event Event) { f(event) }

// NoopLogger discards events.
type NoopLogger struct{}

// Log does nothing.
func (NoopLogger) Log(Event) {}

// OrNoop returns l, or NoopLogger when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}
