package service

import (
	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
)

// sealingCiphers builds the cipher for each algorithm a sealed record may
// name. Records written under either algorithm stay readable after
// SEALING_ALGORITHM changes.
var sealingCiphers = map[cryptoDomain.Algorithm]func(key []byte) (AEAD, error){
	cryptoDomain.AESGCM: func(key []byte) (AEAD, error) {
		return NewAESGCM(key)
	},
	cryptoDomain.ChaCha20: func(key []byte) (AEAD, error) {
		return NewChaCha20Poly1305(key)
	},
}

// SealingCipherFactory builds record ciphers from derived sealing keys.
type SealingCipherFactory struct{}

// NewAEADManager returns the factory the sealing service uses.
func NewAEADManager() *SealingCipherFactory {
	return &SealingCipherFactory{}
}

// CreateCipher returns the cipher for alg keyed with key. key must be
// KeySize bytes.
func (SealingCipherFactory) CreateCipher(key []byte, alg cryptoDomain.Algorithm) (AEAD, error) {
	if len(key) != cryptoDomain.KeySize {
		return nil, cryptoDomain.ErrInvalidKeySize
	}
	build, ok := sealingCiphers[alg]
	if !ok {
		return nil, cryptoDomain.ErrUnsupportedAlgorithm
	}
	return build(key)
}
