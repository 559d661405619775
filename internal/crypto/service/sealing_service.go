package service

import (
	"fmt"

	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
)

// SealingService implements Sealer on top of a SealingKeyChain.
type SealingService struct {
	keychain    *cryptoDomain.SealingKeyChain
	aeadManager AEADManager
	alg         cryptoDomain.Algorithm
}

// NewSealingService creates a Sealer that seals new records with alg under the
// keychain's active key.
func NewSealingService(
	keychain *cryptoDomain.SealingKeyChain,
	aeadManager AEADManager,
	alg cryptoDomain.Algorithm,
) *SealingService {
	return &SealingService{
		keychain:    keychain,
		aeadManager: aeadManager,
		alg:         alg,
	}
}

// Seal encrypts plaintext under the active sealing key.
func (s *SealingService) Seal(plaintext, aad []byte) (*cryptoDomain.Sealed, error) {
	key, ok := s.keychain.Active()
	if !ok {
		return nil, cryptoDomain.ErrActiveSealingKeyNotFound
	}

	aead, err := s.cipherFor(key, s.alg)
	if err != nil {
		return nil, err
	}

	ciphertext, nonce, err := aead.Encrypt(plaintext, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to seal record: %w", err)
	}

	return &cryptoDomain.Sealed{
		KeyID:      key.ID,
		Algorithm:  s.alg,
		Ciphertext: ciphertext,
		Nonce:      nonce,
	}, nil
}

// Open decrypts sealed with the key that sealed it.
func (s *SealingService) Open(sealed *cryptoDomain.Sealed, aad []byte) ([]byte, error) {
	key, ok := s.keychain.Get(sealed.KeyID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", cryptoDomain.ErrSealingKeyNotFound, sealed.KeyID)
	}

	aead, err := s.cipherFor(key, sealed.Algorithm)
	if err != nil {
		return nil, err
	}

	return aead.Decrypt(sealed.Ciphertext, sealed.Nonce, aad)
}

// cipherFor opens the enclave only long enough to key the cipher. Both AEAD
// implementations copy the key during construction.
func (s *SealingService) cipherFor(key *cryptoDomain.SealingKey, alg cryptoDomain.Algorithm) (AEAD, error) {
	buf, err := key.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open sealing key %s: %w", key.ID, err)
	}
	defer buf.Destroy()

	return s.aeadManager.CreateCipher(buf.Bytes(), alg)
}
