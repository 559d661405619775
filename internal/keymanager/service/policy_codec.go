// Package service provides the encodings and primitives the key manager core
// depends on: canonical policy and status documents, signature verification
// and ephemeral secret derivation.
package service

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/allisson/keymanager/internal/keymanager/domain"
)

// PolicyCodec encodes policies as canonical CBOR so that equal policies always
// produce equal bytes.
type PolicyCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewPolicyCodec creates a codec with canonical encoding and strict decoding.
func NewPolicyCodec() (*PolicyCodec, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create cbor encoder: %w", err)
	}

	dec, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create cbor decoder: %w", err)
	}

	return &PolicyCodec{enc: enc, dec: dec}, nil
}

// SigningBody returns the context prefixed canonical policy body that signers sign.
func (c *PolicyCodec) SigningBody(policy domain.Policy) ([]byte, error) {
	body, err := c.enc.Marshal(policy)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy: %w", err)
	}
	return append([]byte(domain.PolicySignatureContext), body...), nil
}

// Encode returns the canonical document of a signed policy.
func (c *PolicyCodec) Encode(signed *domain.SignedPolicy) ([]byte, error) {
	document, err := c.enc.Marshal(signed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed policy: %w", err)
	}
	return document, nil
}

// Decode parses a document produced by Encode.
func (c *PolicyCodec) Decode(document []byte) (*domain.SignedPolicy, error) {
	var signed domain.SignedPolicy
	if err := c.dec.Unmarshal(document, &signed); err != nil {
		return nil, fmt.Errorf("failed to decode signed policy: %w", err)
	}
	return &signed, nil
}

// Checksum returns the SHA-256 of the canonical document, as stored with the policy.
func (c *PolicyCodec) Checksum(signed *domain.SignedPolicy) ([]byte, error) {
	document, err := c.Encode(signed)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(document)
	return sum[:], nil
}
