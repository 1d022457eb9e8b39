package log

import (
	"strings"
	"testing"
)

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"direction in", DirectionIn.String(), "IN"},
		{"direction out", DirectionOut.String(), "OUT"},
		{"direction unknown", Direction(9).String(), "UNKNOWN"},
		{"layer transport", LayerTransport.String(), "TRANSPORT"},
		{"layer packet", LayerPacket.String(), "PACKET"},
		{"layer session", LayerSession.String(), "SESSION"},
		{"layer unknown", Layer(9).String(), "UNKNOWN"},
		{"category message", CategoryMessage.String(), "MESSAGE"},
		{"category control", CategoryControl.String(), "CONTROL"},
		{"category state", CategoryState.String(), "STATE"},
		{"category error", CategoryError.String(), "ERROR"},
		{"role dialer", RoleDialer.String(), "DIALER"},
		{"role acceptor", RoleAcceptor.String(), "ACCEPTOR"},
		{"role unknown", Role(9).String(), "UNKNOWN"},
		{"entity connection", StateEntityConnection.String(), "CONNECTION"},
		{"entity handshake", StateEntityHandshake.String(), "HANDSHAKE"},
		{"entity delivery", StateEntityDelivery.String(), "DELIVERY"},
		{"control ping", ControlMsgPing.String(), "PING"},
		{"control pong", ControlMsgPong.String(), "PONG"},
		{"control close", ControlMsgClose.String(), "CLOSE"},
		{"control unknown", ControlMsgType(9).String(), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("String() = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

// Values are persisted in capture files and must not change.
func TestEnumWireValues(t *testing.T) {
	if DirectionIn != 0 || DirectionOut != 1 {
		t.Error("Direction values changed")
	}
	if LayerTransport != 0 || LayerPacket != 1 || LayerSession != 2 {
		t.Error("Layer values changed")
	}
	if CategoryMessage != 0 || CategoryControl != 1 || CategoryState != 2 || CategoryError != 3 {
		t.Error("Category values changed")
	}
	if RoleDialer != 0 || RoleAcceptor != 1 {
		t.Error("Role values changed")
	}
	if ControlMsgPing != 0 || ControlMsgPong != 1 || ControlMsgClose != 2 {
		t.Error("ControlMsgType values changed")
	}
}

func TestNewFrameEventTruncates(t *testing.T) {
	small := NewFrameEvent([]byte{1, 2, 3})
	if small.Size != 3 || small.Truncated || len(small.Data) != 3 {
		t.Errorf("small frame = %+v", small)
	}

	big := NewFrameEvent(make([]byte, 500))
	if big.Size != 500 {
		t.Errorf("Size = %d, want 500", big.Size)
	}
	if !big.Truncated || len(big.Data) != MaxFrameCapture {
		t.Errorf("Truncated = %v, len(Data) = %d", big.Truncated, len(big.Data))
	}
}

func TestParseEnums(t *testing.T) {
	if d, err := ParseDirection("Out"); err != nil || d != DirectionOut {
		t.Errorf("ParseDirection(Out) = %v, %v", d, err)
	}
	if l, err := ParseLayer("session"); err != nil || l != LayerSession {
		t.Errorf("ParseLayer(session) = %v, %v", l, err)
	}
	if c, err := ParseCategory("ERROR"); err != nil || c != CategoryError {
		t.Errorf("ParseCategory(ERROR) = %v, %v", c, err)
	}
	if r, err := ParseRole("acceptor"); err != nil || r != RoleAcceptor {
		t.Errorf("ParseRole(acceptor) = %v, %v", r, err)
	}

	_, err := ParseLayer("wire")
	if err == nil || !strings.Contains(err.Error(), "transport, packet, session") {
		t.Errorf("ParseLayer(wire) error = %v", err)
	}
}

func TestEventMessageID(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"packet", Event{Packet: &PacketEvent{Type: "Message", MessageID: "7"}}, "7"},
		{"delivery", Event{StateChange: &StateChangeEvent{Entity: StateEntityDelivery, Reason: "8"}}, "8"},
		{"handshake", Event{StateChange: &StateChangeEvent{Entity: StateEntityHandshake, Reason: "bad sig"}}, ""},
		{"frame", Event{Frame: &FrameEvent{Size: 3}}, ""},
	}
	for _, tt := range tests {
		if got := tt.event.MessageID(); got != tt.want {
			t.Errorf("%s: MessageID() = %q, want %q", tt.name, got, tt.want)
		}
	}
}
