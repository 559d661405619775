package service

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
)

// REKSize is the length of x25519 runtime encryption keys.
const REKSize = 32

// GenerateREK creates a new x25519 key pair.
func GenerateREK() (publicKey, privateKey []byte, err error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate runtime encryption key: %w", err)
	}
	return pub[:], priv[:], nil
}

// SealToREK seals plaintext into an anonymous box that only the holder of the
// private half of rek can open.
func SealToREK(rek, plaintext []byte) ([]byte, error) {
	if len(rek) != REKSize {
		return nil, cryptoDomain.ErrInvalidPublicKey
	}

	var recipient [REKSize]byte
	copy(recipient[:], rek)

	sealed, err := box.SealAnonymous(nil, plaintext, &recipient, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to seal to runtime encryption key: %w", err)
	}
	return sealed, nil
}

// NodeREK is this replica's runtime encryption key. Peers seal exported
// secrets to its public half; the private half stays in a memguard enclave.
type NodeREK struct {
	publicKey [REKSize]byte
	enclave   *memguard.Enclave
}

// NewNodeREK takes ownership of privateKey and wipes the caller's slice.
func NewNodeREK(privateKey []byte) (*NodeREK, error) {
	if len(privateKey) != REKSize {
		cryptoDomain.Zero(privateKey)
		return nil, cryptoDomain.ErrInvalidPrivateKey
	}

	pub, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		cryptoDomain.Zero(privateKey)
		return nil, fmt.Errorf("%w: %v", cryptoDomain.ErrInvalidPrivateKey, err)
	}

	rek := &NodeREK{enclave: memguard.NewEnclave(privateKey)}
	copy(rek.publicKey[:], pub)
	return rek, nil
}

// LoadNodeREK decodes a base64 x25519 private key.
func LoadNodeREK(encoded string) (*NodeREK, error) {
	privateKey, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cryptoDomain.ErrInvalidPrivateKey, err)
	}
	return NewNodeREK(privateKey)
}

// PublicKey returns the public half of the key.
func (n *NodeREK) PublicKey() []byte {
	return n.publicKey[:]
}

// Open opens an anonymous box sealed to this node.
func (n *NodeREK) Open(sealed []byte) ([]byte, error) {
	buf, err := n.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open runtime encryption key: %w", err)
	}
	defer buf.Destroy()

	var privateKey [REKSize]byte
	copy(privateKey[:], buf.Bytes())
	defer cryptoDomain.Zero(privateKey[:])

	plaintext, ok := box.OpenAnonymous(nil, sealed, &n.publicKey, &privateKey)
	if !ok {
		return nil, cryptoDomain.ErrDecryptionFailed
	}
	return plaintext, nil
}
