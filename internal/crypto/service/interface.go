// Package service provides the cryptographic services of the key manager: AEAD
// ciphers, sealing of records at rest, KMS access, anonymous boxes to runtime
// encryption keys and status signing.
package service

import (
	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
)

// AEAD defines the interface for Authenticated Encryption with Associated Data.
type AEAD interface {
	// Encrypt encrypts plaintext with optional AAD and returns ciphertext and nonce.
	Encrypt(plaintext, aad []byte) (ciphertext, nonce []byte, err error)

	// Decrypt decrypts ciphertext using the provided nonce and AAD.
	Decrypt(ciphertext, nonce, aad []byte) ([]byte, error)
}

// AEADManager defines the interface for creating AEAD cipher instances.
type AEADManager interface {
	// CreateCipher creates an AEAD cipher instance for the specified algorithm.
	CreateCipher(key []byte, alg cryptoDomain.Algorithm) (AEAD, error)
}

// Sealer protects record material at rest with the sealing keychain.
type Sealer interface {
	// Seal encrypts plaintext under the active sealing key, binding aad.
	Seal(plaintext, aad []byte) (*cryptoDomain.Sealed, error)

	// Open reverses Seal. It fails with ErrSealingKeyNotFound or ErrDecryptionFailed.
	Open(sealed *cryptoDomain.Sealed, aad []byte) ([]byte, error)
}
