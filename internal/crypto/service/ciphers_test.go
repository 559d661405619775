package service

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, cryptoDomain.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestCiphers(t *testing.T) {
	constructors := map[string]func(key []byte) (AEAD, error){
		"aes-gcm": func(key []byte) (AEAD, error) { return NewAESGCM(key) },
		"chacha20-poly1305": func(key []byte) (AEAD, error) {
			return NewChaCha20Poly1305(key)
		},
	}

	for name, newCipher := range constructors {
		t.Run(name, func(t *testing.T) {
			cipher, err := newCipher(randomKey(t))
			require.NoError(t, err)

			t.Run("round trip with aad", func(t *testing.T) {
				plaintext := []byte("master secret material")
				aad := []byte("rt-1/master/0")

				ciphertext, nonce, err := cipher.Encrypt(plaintext, aad)
				require.NoError(t, err)
				assert.Len(t, nonce, 12)
				assert.Len(t, ciphertext, len(plaintext)+16)

				decrypted, err := cipher.Decrypt(ciphertext, nonce, aad)
				require.NoError(t, err)
				assert.Equal(t, plaintext, decrypted)
			})

			t.Run("nonces are unique", func(t *testing.T) {
				_, nonce1, err := cipher.Encrypt([]byte("x"), nil)
				require.NoError(t, err)
				_, nonce2, err := cipher.Encrypt([]byte("x"), nil)
				require.NoError(t, err)
				assert.NotEqual(t, nonce1, nonce2)
			})

			t.Run("wrong aad fails", func(t *testing.T) {
				ciphertext, nonce, err := cipher.Encrypt([]byte("secret"), []byte("rt-1/master/0"))
				require.NoError(t, err)

				_, err = cipher.Decrypt(ciphertext, nonce, []byte("rt-1/master/1"))
				assert.ErrorIs(t, err, cryptoDomain.ErrDecryptionFailed)
			})

			t.Run("tampered ciphertext fails", func(t *testing.T) {
				ciphertext, nonce, err := cipher.Encrypt([]byte("secret"), nil)
				require.NoError(t, err)
				ciphertext[0] ^= 0xff

				_, err = cipher.Decrypt(ciphertext, nonce, nil)
				assert.ErrorIs(t, err, cryptoDomain.ErrDecryptionFailed)
			})

			t.Run("short nonce fails", func(t *testing.T) {
				ciphertext, _, err := cipher.Encrypt([]byte("secret"), nil)
				require.NoError(t, err)

				_, err = cipher.Decrypt(ciphertext, []byte{1, 2, 3}, nil)
				assert.ErrorIs(t, err, cryptoDomain.ErrDecryptionFailed)
			})

			t.Run("wrong key fails", func(t *testing.T) {
				ciphertext, nonce, err := cipher.Encrypt([]byte("secret"), nil)
				require.NoError(t, err)

				other, err := newCipher(randomKey(t))
				require.NoError(t, err)
				_, err = other.Decrypt(ciphertext, nonce, nil)
				assert.Error(t, err)
			})
		})
	}
}

func TestNewCiphers_InvalidKeySize(t *testing.T) {
	_, err := NewAESGCM(make([]byte, 16))
	assert.ErrorIs(t, err, cryptoDomain.ErrInvalidKeySize)

	_, err = NewChaCha20Poly1305(make([]byte, 16))
	assert.Error(t, err)
}
