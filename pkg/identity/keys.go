package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// Key sizes.
const (
	// PublicKeySize is the encoded size of a PublicKey.
	PublicKeySize = ed25519.PublicKeySize + 32

	// PrivateKeySize is the encoded size of a PrivateKey.
	PrivateKeySize = ed25519.SeedSize + 32

	// SignatureSize is the size of an identity signature.
	SignatureSize = ed25519.SignatureSize
)

// Key errors.
var (
	ErrInvalidKey = errors.New("invalid key")
	ErrOpenFailed = errors.New("unable to open sealed message")
)

// PublicKey is the public half of a chat key.
type PublicKey struct {
	verify ed25519.PublicKey
	box    [32]byte
}

// PrivateKey is a chat key pair.
type PrivateKey struct {
	sign    ed25519.PrivateKey
	boxPriv [32]byte
	public  *PublicKey
}

// GenerateKey creates a new chat key pair using crypto/rand.
func GenerateKey() (*PrivateKey, error) {
	return generateKey(rand.Reader)
}

func generateKey(r io.Reader) (*PrivateKey, error) {
	seed := make([]byte, PrivateKeySize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return ParsePrivateKey(seed)
}

// ParsePrivateKey decodes a key produced by PrivateKey.Bytes.
func ParsePrivateKey(b []byte) (*PrivateKey, error) {
	if len(b) != PrivateKeySize {
		return nil, fmt.Errorf("%w: private key length %d", ErrInvalidKey, len(b))
	}

	k := &PrivateKey{sign: ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])}
	copy(k.boxPriv[:], b[ed25519.SeedSize:])

	boxPub, err := curve25519.X25519(k.boxPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	k.public = &PublicKey{verify: k.sign.Public().(ed25519.PublicKey)}
	copy(k.public.box[:], boxPub)
	return k, nil
}

// Bytes returns the Ed25519 seed followed by the X25519 private key.
func (k *PrivateKey) Bytes() []byte {
	out := make([]byte, 0, PrivateKeySize)
	out = append(out, k.sign.Seed()...)
	return append(out, k.boxPriv[:]...)
}

// Public returns the public half of the key.
func (k *PrivateKey) Public() *PublicKey {
	return k.public
}

// Sign signs msg with the Ed25519 half.
func (k *PrivateKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.sign, msg)
}

// Open decrypts a message sealed to this key with PublicKey.Seal.
func (k *PrivateKey) Open(sealed []byte) ([]byte, error) {
	out, ok := box.OpenAnonymous(nil, sealed, &k.public.box, &k.boxPriv)
	if !ok {
		return nil, ErrOpenFailed
	}
	return out, nil
}

// ParsePublicKey decodes a 64-byte public key.
func ParsePublicKey(b []byte) (*PublicKey, error) {
	if len(b) != PublicKeySize {
		return nil, fmt.Errorf("%w: public key length %d", ErrInvalidKey, len(b))
	}
	pk := &PublicKey{verify: make(ed25519.PublicKey, ed25519.PublicKeySize)}
	copy(pk.verify, b[:ed25519.PublicKeySize])
	copy(pk.box[:], b[ed25519.PublicKeySize:])
	return pk, nil
}

// Bytes returns the 64-byte encoding of the key.
func (pk *PublicKey) Bytes() []byte {
	out := make([]byte, 0, PublicKeySize)
	out = append(out, pk.verify...)
	return append(out, pk.box[:]...)
}

// Equal reports whether two keys are identical.
func (pk *PublicKey) Equal(other *PublicKey) bool {
	if pk == nil || other == nil {
		return pk == other
	}
	return subtle.ConstantTimeCompare(pk.Bytes(), other.Bytes()) == 1
}

// Verify reports whether sig is a valid signature of msg.
func (pk *PublicKey) Verify(msg, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(pk.verify, msg, sig)
}

// Seal encrypts msg so that only the holder of the matching private key can
// open it.
func (pk *PublicKey) Seal(msg []byte) ([]byte, error) {
	out, err := box.SealAnonymous(nil, msg, &pk.box, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return out, nil
}

// Fingerprint returns a short hex digest suitable for display.
func (pk *PublicKey) Fingerprint() string {
	return hex.EncodeToString(pk.verify[:8])
}

func (pk *PublicKey) String() string {
	return hex.EncodeToString(pk.Bytes())
}
