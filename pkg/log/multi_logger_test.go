package log

import "testing"

func TestMultiLoggerFansOut(t *testing.T) {
	a, b := &mockLogger{}, &mockLogger{}
	multi := NewMultiLogger(a, nil, b)

	multi.Log(Event{ConnectionID: "conn-1"})
	multi.Log(Event{ConnectionID: "conn-2"})

	for name, m := range map[string]*mockLogger{"a": a, "b": b} {
		ids := m.ids()
		if len(ids) != 2 || ids[0] != "conn-1" || ids[1] != "conn-2" {
			t.Errorf("%s received %v, want [conn-1 conn-2]", name, ids)
		}
	}
}

func TestNewMultiLoggerCollapses(t *testing.T) {
	if _, ok := NewMultiLogger().(NoopLogger); !ok {
		t.Error("empty input should give NoopLogger")
	}
	if _, ok := NewMultiLogger(nil, nil).(NoopLogger); !ok {
		t.Error("all-nil input should give NoopLogger")
	}

	mock := &mockLogger{}
	if got := NewMultiLogger(nil, mock); got != Logger(mock) {
		t.Errorf("single logger should be returned as is, got %T", got)
	}
	if _, ok := NewMultiLogger(mock, &mockLogger{}).(MultiLogger); !ok {
		t.Error("two loggers should give a MultiLogger")
	}
}
