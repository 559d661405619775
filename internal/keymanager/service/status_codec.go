package service

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/allisson/keymanager/internal/keymanager/domain"
)

// StatusSignatureContext prefixes the canonical status body before signing.
const StatusSignatureContext = "keymanager/status: v1"

type statusBody struct {
	RuntimeID      string   `cbor:"runtime_id"`
	IsInitialized  bool     `cbor:"is_initialized"`
	Checksum       []byte   `cbor:"checksum"`
	Generation     uint64   `cbor:"generation"`
	HasGeneration  bool     `cbor:"has_generation"`
	Epoch          uint64   `cbor:"epoch"`
	HasEpoch       bool     `cbor:"has_epoch"`
	Replicas       []string `cbor:"replicas"`
	PolicySerial   uint64   `cbor:"policy_serial"`
	PolicyChecksum []byte   `cbor:"policy_checksum"`
	UpdatedAt      int64    `cbor:"updated_at"`
}

// StatusCodec encodes status reports for signing.
type StatusCodec struct {
	enc      cbor.EncMode
	policies *PolicyCodec
}

// NewStatusCodec creates a StatusCodec that reports policy checksums with policies.
func NewStatusCodec(policies *PolicyCodec) (*StatusCodec, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create cbor encoder: %w", err)
	}
	return &StatusCodec{enc: enc, policies: policies}, nil
}

// SigningBody returns the context prefixed canonical status body.
func (c *StatusCodec) SigningBody(status *domain.Status) ([]byte, error) {
	body, err := c.enc.Marshal(statusBody{
		RuntimeID:      status.RuntimeID,
		IsInitialized:  status.IsInitialized,
		Checksum:       status.Checksum,
		Generation:     status.Generation,
		HasGeneration:  status.HasGeneration,
		Epoch:          status.Epoch,
		HasEpoch:       status.HasEpoch,
		Replicas:       status.Replicas,
		PolicySerial:   status.PolicySerial,
		PolicyChecksum: status.PolicyChecksum,
		UpdatedAt:      status.UpdatedAt.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode status: %w", err)
	}
	return append([]byte(StatusSignatureContext), body...), nil
}

// PolicyChecksum returns the checksum of the canonical policy document.
func (c *StatusCodec) PolicyChecksum(signed *domain.SignedPolicy) ([]byte, error) {
	return c.policies.Checksum(signed)
}
