// Package dto provides data transfer objects for HTTP request and response handling.
package dto

import (
	validation "github.com/jellydator/validation"

	"github.com/allisson/keymanager/internal/keymanager/domain"
	customValidation "github.com/allisson/keymanager/internal/validation"
)

// FetchSecretRequest asks for a secret at the consensus height the client observed.
// The runtime and version come from the URL.
type FetchSecretRequest struct {
	Height *uint64 `json:"height"`
}

// Validate checks if the fetch request is valid.
func (r *FetchSecretRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Height, validation.NotNil),
	)
}

// PolicySignatureRequest is one signature over the canonical policy body.
type PolicySignatureRequest struct {
	PublicKey []byte `json:"public_key"`
	Signature []byte `json:"signature"`
}

// Validate checks if the signature is complete.
func (r PolicySignatureRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PublicKey, validation.Required),
		validation.Field(&r.Signature, validation.Required),
	)
}

// SubmitPolicyRequest carries a signed policy document.
type SubmitPolicyRequest struct {
	Policy     domain.Policy            `json:"policy"`
	Signatures []PolicySignatureRequest `json:"signatures"`
}

// Validate checks the structure of the request. Measurement syntax and
// signatures are checked by the policy engine so that every rejection carries
// a policy condition code.
func (r *SubmitPolicyRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Signatures, validation.Required),
	)
}

// ToDomain converts the request into a signed policy.
func (r *SubmitPolicyRequest) ToDomain() *domain.SignedPolicy {
	signatures := make([]domain.PolicySignature, 0, len(r.Signatures))
	for _, s := range r.Signatures {
		signatures = append(signatures, domain.PolicySignature{
			PublicKey: s.PublicKey,
			Signature: s.Signature,
		})
	}
	return &domain.SignedPolicy{
		Policy:     r.Policy,
		Signatures: signatures,
	}
}

// AdvanceConsensusRequest moves the manual consensus oracle forward.
type AdvanceConsensusRequest struct {
	Height *uint64 `json:"height"`
	Epoch  *uint64 `json:"epoch"`
}

// Validate checks if the advance request is valid.
func (r *AdvanceConsensusRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Height, validation.NotNil),
		validation.Field(&r.Epoch, validation.NotNil),
	)
}

// AckRequest is a replica's acknowledgment of the checksum it stored.
type AckRequest struct {
	Checksum []byte `json:"checksum"`
}

// Validate checks if the acknowledgment is valid.
func (r *AckRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Checksum, validation.Required, validation.Length(32, 32)),
	)
}

// ImportSecretRequest carries material a peer sealed to this node's REK.
type ImportSecretRequest struct {
	Checksum []byte `json:"checksum"`
	Sealed   []byte `json:"sealed"`
}

// Validate checks if the import request is valid.
func (r *ImportSecretRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Checksum, validation.Required, validation.Length(32, 32)),
		validation.Field(&r.Sealed, validation.Required),
	)
}

// ToDomain converts the request into a sealed secret for key.
func (r *ImportSecretRequest) ToDomain(key domain.RecordKey) *domain.SealedSecret {
	return &domain.SealedSecret{
		RuntimeID: key.RuntimeID,
		Kind:      key.Kind,
		Version:   key.Version,
		Checksum:  r.Checksum,
		Sealed:    r.Sealed,
	}
}

// ValidateRuntimeID checks a runtime id taken from the URL.
func ValidateRuntimeID(runtimeID string) error {
	return customValidation.WrapValidationError(
		validation.Validate(runtimeID, validation.Required, customValidation.Identifier),
	)
}
