package service

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
)

func TestStatusSigner(t *testing.T) {
	pub, seed, err := GenerateRSK()
	require.NoError(t, err)

	signer, err := LoadStatusSigner(base64.StdEncoding.EncodeToString(seed))
	require.NoError(t, err)
	assert.Equal(t, pub, signer.PublicKey())

	message := []byte("keymanager/status: v1 body")
	signature, err := signer.Sign(message)
	require.NoError(t, err)

	assert.True(t, VerifyStatus(signer.PublicKey(), message, signature))
	assert.False(t, VerifyStatus(signer.PublicKey(), []byte("other"), signature))
	assert.False(t, VerifyStatus([]byte("short"), message, signature))
}

func TestNewStatusSigner_AcceptsFullPrivateKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer, err := NewStatusSigner(priv)
	require.NoError(t, err)
	assert.Equal(t, pub, signer.PublicKey())
	assert.Equal(t, make([]byte, ed25519.PrivateKeySize), []byte(priv))
}

func TestNewStatusSigner_InvalidKey(t *testing.T) {
	_, err := NewStatusSigner(make([]byte, 10))
	assert.ErrorIs(t, err, cryptoDomain.ErrInvalidPrivateKey)

	_, err = LoadStatusSigner("not base64!")
	assert.ErrorIs(t, err, cryptoDomain.ErrInvalidPrivateKey)
}
