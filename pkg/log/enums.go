package log

import (
	"fmt"
	"strings"
)

// Enum values are persisted in capture files; append only.

// Direction is the flow of a captured packet or frame.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

// Layer is where an event was captured: WebSocket frames, decoded packets,
// or the handshake and delivery session above them.
type Layer uint8

const (
	LayerTransport Layer = iota
	LayerPacket
	LayerSession
)

// Category classifies an event.
type Category uint8

const (
	CategoryMessage Category = iota
	CategoryControl
	CategoryState
	CategoryError
)

// Role is our side of the link.
type Role uint8

const (
	RoleDialer Role = iota
	RoleAcceptor
)

// StateEntity is what a StateChangeEvent refers to.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = iota
	// StateEntityHandshake covers verification flag changes.
	StateEntityHandshake
	// StateEntityDelivery covers message status changes.
	StateEntityDelivery
)

// ControlMsgType is a WebSocket control frame type.
type ControlMsgType uint8

const (
	ControlMsgPing ControlMsgType = iota
	ControlMsgPong
	ControlMsgClose
)

var (
	directionNames   = []string{"IN", "OUT"}
	layerNames       = []string{"TRANSPORT", "PACKET", "SESSION"}
	categoryNames    = []string{"MESSAGE", "CONTROL", "STATE", "ERROR"}
	roleNames        = []string{"DIALER", "ACCEPTOR"}
	stateEntityNames = []string{"CONNECTION", "HANDSHAKE", "DELIVERY"}
	controlNames     = []string{"PING", "PONG", "CLOSE"}
)

func enumName[T ~uint8](names []string, v T) string {
	if int(v) < len(names) {
		return names[v]
	}
	return "UNKNOWN"
}

func parseEnum[T ~uint8](kind string, names []string, s string) (T, error) {
	for i, name := range names {
		if strings.EqualFold(name, s) {
			return T(i), nil
		}
	}
	return 0, fmt.Errorf("invalid %s: %s (must be one of %s)",
		kind, s, strings.ToLower(strings.Join(names, ", ")))
}

func (d Direction) String() string      { return enumName(directionNames, d) }
func (l Layer) String() string          { return enumName(layerNames, l) }
func (c Category) String() string       { return enumName(categoryNames, c) }
func (r Role) String() string           { return enumName(roleNames, r) }
func (s StateEntity) String() string    { return enumName(stateEntityNames, s) }
func (c ControlMsgType) String() string { return enumName(controlNames, c) }

// ParseDirection parses "in" or "out", ignoring case.
func ParseDirection(s string) (Direction, error) {
	return parseEnum[Direction]("direction", directionNames, s)
}

// ParseLayer parses a layer name, ignoring case.
func ParseLayer(s string) (Layer, error) {
	return parseEnum[Layer]("layer", layerNames, s)
}

// ParseCategory parses a category name, ignoring case.
func ParseCategory(s string) (Category, error) {
	return parseEnum[Category]("category", categoryNames, s)
}

// ParseRole parses "dialer" or "acceptor", ignoring case.
func ParseRole(s string) (Role, error) {
	return parseEnum[Role]("role", roleNames, s)
}
