package identity

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/veilchat/veil-go/pkg/packet"
)

// Handshake errors.
var (
	ErrInvalidSignature = errors.New("identity signature does not match pinned key")
	ErrAddressMismatch  = errors.New("identity address does not match peer")
	ErrEmptyAddress     = errors.New("identity address is empty")
)

// Role is the side of a link an identity is asserted from.
type Role uint8

const (
	// RoleDialer is the side that opened the link.
	RoleDialer Role = iota
	// RoleAcceptor is the side that accepted the link.
	RoleAcceptor
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleDialer:
		return "dialer"
	case RoleAcceptor:
		return "acceptor"
	default:
		return "unknown"
	}
}

// KeyStore holds chat keys and pinned peer keys.
// Implementations must be safe for concurrent access.
type KeyStore interface {
	// PrivateKey returns our chat key for peer, creating it on first use.
	PrivateKey(peer string) (*PrivateKey, error)

	// PinnedKey returns the key pinned for peer, if any.
	PinnedKey(peer string) (*PublicKey, bool, error)

	// PinKey pins key for peer. A pinned key must survive crashes.
	PinKey(peer string, key *PublicKey) error
}

// SignedPayload returns the bytes an identity asserted by signer from the
// given role signs. The dialer binds the remote address, the acceptor does
// not know it in advance. The parts are not delimited; onion v3 addresses
// have a fixed length.
func SignedPayload(from Role, signer, remote string) []byte {
	if from == RoleAcceptor {
		return []byte(signer)
	}
	out := make([]byte, 0, len(signer)+len(remote))
	out = append(out, signer...)
	return append(out, remote...)
}

// Verifier produces and checks identity assertions for the local peer.
type Verifier struct {
	// Self is our own normalized address.
	Self string

	// Keys stores chat keys and pins.
	Keys KeyStore

	// Logger is used for handshake events. Nil discards.
	Logger *slog.Logger
}

// NewVerifier creates a verifier for self backed by keys.
func NewVerifier(self string, keys KeyStore, logger *slog.Logger) *Verifier {
	return &Verifier{Self: self, Keys: keys, Logger: logger}
}

func (v *Verifier) logger() *slog.Logger {
	if v.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return v.Logger
}

// Assert returns the signed identity for the link to remote, with us acting
// as role. The signature is deterministic, so every handshake of a chat
// carries the same assertion.
func (v *Verifier) Assert(remote string, role Role) (packet.Identity, error) {
	key, err := v.Keys.PrivateKey(remote)
	if err != nil {
		return packet.Identity{}, fmt.Errorf("chat key for %s: %w", remote, err)
	}
	return packet.Identity{
		Address:   v.Self,
		Signature: key.Sign(SignedPayload(role, v.Self, remote)),
		PublicKey: key.Public().Bytes(),
	}, nil
}

// Check validates an identity presented by a peer acting as from.
//
// expected is the address we believe the peer has; it is empty when the
// peer is not known yet. An unpinned address has its key pinned and is
// accepted. A pinned address must present a signature that verifies against
// the pinned key. The returned key is the pinned key.
func (v *Verifier) Check(id packet.Identity, expected string, from Role) (*PublicKey, error) {
	if id.Address == "" {
		return nil, ErrEmptyAddress
	}
	if expected != "" && id.Address != expected {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrAddressMismatch, id.Address, expected)
	}

	pinned, ok, err := v.Keys.PinnedKey(id.Address)
	if err != nil {
		return nil, fmt.Errorf("lookup pinned key for %s: %w", id.Address, err)
	}

	if !ok {
		presented, err := ParsePublicKey(id.PublicKey)
		if err != nil {
			return nil, err
		}
		if err := v.Keys.PinKey(id.Address, presented); err != nil {
			return nil, fmt.Errorf("pin key for %s: %w", id.Address, err)
		}
		v.logger().Info("pinned new peer key",
			"peer", id.Address,
			"fingerprint", presented.Fingerprint())
		return presented, nil
	}

	if !pinned.Verify(SignedPayload(from, id.Address, v.Self), id.Signature) {
		v.logger().Warn("identity signature mismatch",
			"peer", id.Address,
			"role", from.String(),
			"pinned", pinned.Fingerprint(),
			"possibleAttack", true)
		return nil, ErrInvalidSignature
	}
	return pinned, nil
}
