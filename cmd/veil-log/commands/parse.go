// Package commands implements the veil-log CLI commands.
package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/veilchat/veil-go/pkg/log"
)

// Selection is the set of event criteria shared by the commands. Empty
// fields match everything.
type Selection struct {
	ConnID    string
	Peer      string
	Role      string
	Layer     string
	Direction string
	Category  string
	Type      string
	MessageID string
	TimeStart string
	TimeEnd   string
}

// Filter converts the selection into a log.Filter.
func (s Selection) Filter() (log.Filter, error) {
	f := log.Filter{
		ConnectionID: s.ConnID,
		PeerAddress:  strings.TrimSuffix(strings.ToLower(s.Peer), ".onion"),
		PacketType:   s.Type,
		MessageID:    s.MessageID,
	}

	if s.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, s.TimeStart)
		if err != nil {
			return f, fmt.Errorf("invalid time-start format: %w", err)
		}
		f.TimeStart = &t
	}
	if s.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, s.TimeEnd)
		if err != nil {
			return f, fmt.Errorf("invalid time-end format: %w", err)
		}
		f.TimeEnd = &t
	}
	if s.Layer != "" {
		l, err := log.ParseLayer(s.Layer)
		if err != nil {
			return f, err
		}
		f.Layer = &l
	}
	if s.Direction != "" {
		d, err := log.ParseDirection(s.Direction)
		if err != nil {
			return f, err
		}
		f.Direction = &d
	}
	if s.Category != "" {
		c, err := log.ParseCategory(s.Category)
		if err != nil {
			return f, err
		}
		f.Category = &c
	}
	if s.Role != "" {
		r, err := log.ParseRole(s.Role)
		if err != nil {
			return f, err
		}
		f.Role = &r
	}
	return f, nil
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// shortenPeer abbreviates a 56 character onion address for display.
func shortenPeer(addr string) string {
	if len(addr) > 16 {
		return addr[:8] + ".." + addr[len(addr)-6:]
	}
	return addr
}

// eventType returns a short label for the payload of an event.
func eventType(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Packet != nil:
		return event.Packet.Type
	case event.StateChange != nil:
		return "State"
	case event.ControlMsg != nil:
		return event.ControlMsg.Type.String()
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}
