package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyRing_SignUsesActiveKey(t *testing.T) {
	ring := NewKeyRing()
	k1, err := NewRSASigner("k1")
	require.NoError(t, err)
	k2, err := NewRSASigner("k2")
	require.NoError(t, err)

	ring.AddKey(k1)
	ring.AddKey(k2)

	sig, keyID, err := ring.Sign([]byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, "k2", keyID)

	ok, err := ring.Verify(keyID, []byte("payload"), sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKeyRing_RotationKeepsOldKeyVerifiable(t *testing.T) {
	ring := NewKeyRing()
	k1, err := NewRSASigner("k1")
	require.NoError(t, err)
	ring.AddKey(k1)

	sig, keyID, err := ring.Sign([]byte("payload"))
	require.NoError(t, err)

	k2, err := NewRSASigner("k2")
	require.NoError(t, err)
	ring.AddKey(k2)

	ok, err := ring.Verify(keyID, []byte("payload"), sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKeyRing_RevokeRemovesVerifiability(t *testing.T) {
	ring := NewKeyRing()
	k1, err := NewRSASigner("k1")
	require.NoError(t, err)
	ring.AddKey(k1)

	sig, keyID, err := ring.Sign([]byte("payload"))
	require.NoError(t, err)

	ring.RevokeKey(keyID)

	_, err = ring.Verify(keyID, []byte("payload"), sig)
	assert.Error(t, err)
}

func TestKeyRing_VerifyAnyFindsMatchingKey(t *testing.T) {
	ring := NewKeyRing()
	k1, err := NewRSASigner("k1")
	require.NoError(t, err)
	ring.AddKey(k1)

	sig, _, err := ring.Sign([]byte("payload"))
	require.NoError(t, err)

	ok, keyID := ring.VerifyAny([]byte("payload"), sig)
	assert.True(t, ok)
	assert.Equal(t, "k1", keyID)
}
