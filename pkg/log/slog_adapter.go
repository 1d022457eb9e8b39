package log

import (
	"context"
	"log/slog"
)

// SlogAdapter echoes capture events to an operational logger at Debug
// level, one flat record per event.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter returns an adapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes event if the logger has Debug enabled.
func (a *SlogAdapter) Log(event Event) {
	ctx := context.Background()
	if !a.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	a.logger.LogAttrs(ctx, slog.LevelDebug, "protocol", event.attrs()...)
}

func (e Event) attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 12)
	attrs = append(attrs,
		slog.String("conn_id", e.ConnectionID),
		slog.String("direction", e.Direction.String()),
		slog.String("layer", e.Layer.String()),
		slog.String("category", e.Category.String()),
		slog.String("role", e.LocalRole.String()),
	)
	attrs = appendNonEmpty(attrs, "peer", e.PeerAddress)
	attrs = appendNonEmpty(attrs, "remote_addr", e.RemoteAddr)

	switch {
	case e.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", e.Frame.Size),
			slog.Bool("truncated", e.Frame.Truncated))
	case e.Packet != nil:
		p := e.Packet
		attrs = append(attrs, slog.String("packet", p.Type))
		attrs = appendNonEmpty(attrs, "msg_id", p.MessageID)
		attrs = appendNonEmpty(attrs, "identity", p.IdentityAddress)
		if p.CiphertextLen != nil {
			attrs = append(attrs, slog.Int("ciphertext_len", *p.CiphertextLen))
		}
	case e.StateChange != nil:
		s := e.StateChange
		attrs = append(attrs,
			slog.String("entity", s.Entity.String()),
			slog.String("old_state", s.OldState),
			slog.String("new_state", s.NewState))
		attrs = appendNonEmpty(attrs, "reason", s.Reason)
	case e.ControlMsg != nil:
		attrs = append(attrs, slog.String("ctrl_type", e.ControlMsg.Type.String()))
		if e.ControlMsg.CloseCode != nil {
			attrs = append(attrs, slog.Int("close_code", *e.ControlMsg.CloseCode))
		}
	case e.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", e.Error.Layer.String()),
			slog.String("error_msg", e.Error.Message))
		attrs = appendNonEmpty(attrs, "error_context", e.Error.Context)
	}
	return attrs
}

func appendNonEmpty(attrs []slog.Attr, key, value string) []slog.Attr {
	if value == "" {
		return attrs
	}
	return append(attrs, slog.String(key, value))
}

var _ Logger = (*SlogAdapter)(nil)
