package domain

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
)

// SealingKey is a 32-byte key that protects secret records at rest.
//
// The key bytes live in a memguard enclave: they are encrypted in memory and
// only decrypted into a locked buffer for the duration of a seal or open.
type SealingKey struct {
	ID      string
	enclave *memguard.Enclave
}

// NewSealingKey moves key into an enclave. The caller's slice is wiped.
func NewSealingKey(id string, key []byte) (*SealingKey, error) {
	if len(key) != KeySize {
		Zero(key)
		return nil, fmt.Errorf("%w: sealing key %s must be %d bytes, got %d", ErrInvalidKeySize, id, KeySize, len(key))
	}
	return &SealingKey{ID: id, enclave: memguard.NewEnclave(key)}, nil
}

// Open decrypts the key into a locked buffer. Callers must Destroy the buffer.
func (k *SealingKey) Open() (*memguard.LockedBuffer, error) {
	return k.enclave.Open()
}

// SealingKeyChain holds every known sealing key with one designated as active.
//
// New records are sealed with the active key; older records keep the id of the
// key that sealed them so rotation never requires rewriting stored rows.
type SealingKeyChain struct {
	activeID string
	keys     sync.Map
}

// NewSealingKeyChain builds a keychain from already loaded keys.
func NewSealingKeyChain(activeID string, keys ...*SealingKey) (*SealingKeyChain, error) {
	chain := &SealingKeyChain{activeID: activeID}
	for _, key := range keys {
		chain.keys.Store(key.ID, key)
	}
	if _, ok := chain.Get(activeID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrActiveSealingKeyNotFound, activeID)
	}
	return chain, nil
}

// ActiveKeyID returns the id of the key used for new records.
func (c *SealingKeyChain) ActiveKeyID() string {
	return c.activeID
}

// Active returns the key used for new records.
func (c *SealingKeyChain) Active() (*SealingKey, bool) {
	return c.Get(c.activeID)
}

// Get retrieves a key by id.
func (c *SealingKeyChain) Get(id string) (*SealingKey, bool) {
	if key, ok := c.keys.Load(id); ok {
		return key.(*SealingKey), true
	}
	return nil, false
}

// Close forgets every key.
func (c *SealingKeyChain) Close() {
	c.activeID = ""
	c.keys.Clear()
}

// LoadSealingKeyChain parses a SEALING_KEYS value ("id:base64,id:base64").
//
// When keeper is nil the values are raw 32-byte keys. Otherwise each value is a
// KMS ciphertext that keeper unwraps. Decoded plaintext is wiped as soon as it is
// moved into an enclave, and a partially loaded keychain is closed on error.
func LoadSealingKeyChain(
	ctx context.Context,
	raw string,
	activeID string,
	keeper KMSKeeper,
) (*SealingKeyChain, error) {
	if raw == "" {
		return nil, ErrSealingKeysNotSet
	}
	if activeID == "" {
		return nil, ErrActiveSealingKeyIDNotSet
	}

	chain := &SealingKeyChain{activeID: activeID}

	for part := range strings.SplitSeq(raw, ",") {
		p := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(p) != 2 || p[0] == "" {
			chain.Close()
			return nil, fmt.Errorf("%w: %q", ErrInvalidSealingKeysFormat, part)
		}
		id := p[0]

		decoded, err := base64.StdEncoding.DecodeString(p[1])
		if err != nil {
			chain.Close()
			return nil, fmt.Errorf("%w for %s: %v", ErrInvalidSealingKeyBase64, id, err)
		}

		key := decoded
		if keeper != nil {
			key, err = keeper.Decrypt(ctx, decoded)
			if err != nil {
				chain.Close()
				return nil, fmt.Errorf("failed to unwrap sealing key %s: %w", id, err)
			}
		}

		sealingKey, err := NewSealingKey(id, key)
		if err != nil {
			chain.Close()
			return nil, err
		}
		chain.keys.Store(id, sealingKey)
	}

	if _, ok := chain.Get(activeID); !ok {
		chain.Close()
		return nil, fmt.Errorf("%w: ACTIVE_SEALING_KEY_ID=%s", ErrActiveSealingKeyNotFound, activeID)
	}

	return chain, nil
}
