package service

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/awnumar/memguard"

	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
)

// GenerateRSK creates a new ed25519 runtime signing key and returns the public
// key and the 32-byte seed.
func GenerateRSK() (publicKey ed25519.PublicKey, seed []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate runtime signing key: %w", err)
	}
	return pub, priv.Seed(), nil
}

// StatusSigner signs status reports with this node's runtime signing key.
type StatusSigner struct {
	publicKey ed25519.PublicKey
	enclave   *memguard.Enclave
}

// NewStatusSigner accepts a 32-byte seed or a 64-byte private key. The caller's
// slice is wiped.
func NewStatusSigner(key []byte) (*StatusSigner, error) {
	var privateKey ed25519.PrivateKey
	switch len(key) {
	case ed25519.SeedSize:
		privateKey = ed25519.NewKeyFromSeed(key)
	case ed25519.PrivateKeySize:
		privateKey = ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
	default:
		cryptoDomain.Zero(key)
		return nil, cryptoDomain.ErrInvalidPrivateKey
	}
	cryptoDomain.Zero(key)

	publicKey := privateKey.Public().(ed25519.PublicKey)
	seed := privateKey.Seed()
	cryptoDomain.Zero(privateKey)

	return &StatusSigner{
		publicKey: publicKey,
		enclave:   memguard.NewEnclave(seed),
	}, nil
}

// LoadStatusSigner decodes a base64 ed25519 seed or private key.
func LoadStatusSigner(encoded string) (*StatusSigner, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cryptoDomain.ErrInvalidPrivateKey, err)
	}
	return NewStatusSigner(key)
}

// PublicKey returns the verification key.
func (s *StatusSigner) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

// Sign signs message.
func (s *StatusSigner) Sign(message []byte) ([]byte, error) {
	buf, err := s.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open runtime signing key: %w", err)
	}
	defer buf.Destroy()

	privateKey := ed25519.NewKeyFromSeed(buf.Bytes())
	defer cryptoDomain.Zero(privateKey)

	return ed25519.Sign(privateKey, message), nil
}

// VerifyStatus checks a signature produced by a StatusSigner.
func VerifyStatus(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}
