package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCipherRoundTrip(t *testing.T) {
	c, err := NewTokenCipher("test-secret")
	require.NoError(t, err)

	sealed, err := c.Seal("ya29.a0AfH6SMBx")
	require.NoError(t, err)
	assert.NotEqual(t, "ya29.a0AfH6SMBx", sealed)

	opened, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "ya29.a0AfH6SMBx", opened)
}

func TestTokenCipherEmptyValues(t *testing.T) {
	c, err := NewTokenCipher("test-secret")
	require.NoError(t, err)

	sealed, err := c.Seal("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	opened, err := c.Open("")
	require.NoError(t, err)
	assert.Empty(t, opened)
}

func TestTokenCipherRandomNonce(t *testing.T) {
	c, err := NewTokenCipher("test-secret")
	require.NoError(t, err)

	a, err := c.Seal("same-token")
	require.NoError(t, err)
	b, err := c.Seal("same-token")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTokenCipherTamperDetection(t *testing.T) {
	c, err := NewTokenCipher("test-secret")
	require.NoError(t, err)

	sealed, err := c.Seal("refresh-token-value")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = c.Open(tampered)
	assert.Error(t, err)
}

func TestTokenCipherWrongKey(t *testing.T) {
	a, err := NewTokenCipher("secret-a")
	require.NoError(t, err)
	b, err := NewTokenCipher("secret-b")
	require.NoError(t, err)

	sealed, err := a.Seal("token")
	require.NoError(t, err)
	_, err = b.Open(sealed)
	assert.Error(t, err)
}

func TestTokenCipherRejectsBadInput(t *testing.T) {
	_, err := NewTokenCipher("")
	assert.Error(t, err)

	c, err := NewTokenCipher("test-secret")
	require.NoError(t, err)

	_, err = c.Open("not-base64!!!")
	assert.Error(t, err)

	_, err = c.Open(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}
