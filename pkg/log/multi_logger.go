package log

// MultiLogger fans every event out to each of its loggers in order.
type MultiLogger []Logger

// NewMultiLogger combines loggers, dropping nil entries. It returns
// NoopLogger when nothing is left and the sole logger when only one is.
func NewMultiLogger(loggers ...Logger) Logger {
	var m MultiLogger
	for _, l := range loggers {
		if l != nil {
			m = append(m, l)
		}
	}
	switch len(m) {
	case 0:
		return NoopLogger{}
	case 1:
		return m[0]
	}
	return m
}

// Log forwards event to every logger.
func (m MultiLogger) Log(event Event) {
	for _, l := range m {
		l.Log(event)
	}
}

var _ Logger = MultiLogger(nil)
