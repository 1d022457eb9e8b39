package identity

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyRoundTrip(t *testing.T) {
	k, err := GenerateKey()
	require.NoError(t, err)

	parsed, err := ParsePrivateKey(k.Bytes())
	require.NoError(t, err)
	assert.True(t, parsed.Public().Equal(k.Public()))

	pub, err := ParsePublicKey(k.Public().Bytes())
	require.NoError(t, err)
	assert.True(t, pub.Equal(k.Public()))
	assert.Len(t, pub.Bytes(), PublicKeySize)
}

func TestParseInvalidKeys(t *testing.T) {
	_, err := ParsePublicKey(make([]byte, 10))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = ParsePrivateKey(make([]byte, PublicKeySize+1))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSignVerify(t *testing.T) {
	k, err := generateKey(bytes.NewReader(bytes.Repeat([]byte{7}, PrivateKeySize)))
	require.NoError(t, err)

	sig := k.Sign([]byte("alice"))
	assert.True(t, k.Public().Verify([]byte("alice"), sig))
	assert.False(t, k.Public().Verify([]byte("mallory"), sig))
	assert.False(t, k.Public().Verify([]byte("alice"), sig[:10]))
}

func TestSealOpen(t *testing.T) {
	k, err := GenerateKey()
	require.NoError(t, err)
	other, err := GenerateKey()
	require.NoError(t, err)

	sealed, err := k.Public().Seal([]byte("hello"))
	require.NoError(t, err)

	plain, err := k.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), plain)

	_, err = other.Open(sealed)
	if !errors.Is(err, ErrOpenFailed) {
		t.Errorf("Open with wrong key err = %v, want ErrOpenFailed", err)
	}

	_, err = k.Open([]byte("garbage"))
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestPublicKeyEqualNil(t *testing.T) {
	var a, b *PublicKey
	assert.True(t, a.Equal(b))

	k, err := GenerateKey()
	require.NoError(t, err)
	assert.False(t, k.Public().Equal(nil))
}
