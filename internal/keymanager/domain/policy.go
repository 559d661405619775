package domain

import (
	"math"
	"strings"
	"time"

	validation "github.com/jellydator/validation"

	customValidation "github.com/allisson/keymanager/internal/validation"
)

// PolicySignatureContext prefixes the canonical policy body before signing.
const PolicySignatureContext = "keymanager/policy: v1"

// Policy lists the enclave measurements allowed to receive a runtime's secrets.
type Policy struct {
	RuntimeID              string   `cbor:"runtime_id"              json:"runtime_id"`
	Serial                 uint64   `cbor:"serial"                  json:"serial"`
	QuorumThreshold        int      `cbor:"quorum_threshold"        json:"quorum_threshold"`
	AuthorizedMeasurements []string `cbor:"authorized_measurements" json:"authorized_measurements"`
}

// Validate checks the structure of the policy body.
func (p Policy) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.RuntimeID,
			validation.Required,
			customValidation.Identifier,
		),
		validation.Field(&p.Serial, validation.Max(uint64(math.MaxInt64))),
		validation.Field(&p.QuorumThreshold,
			validation.Required,
			validation.Min(1),
		),
		validation.Field(&p.AuthorizedMeasurements,
			validation.Required,
			validation.Each(validation.Required, customValidation.Measurement),
		),
	)
}

// Authorizes reports whether measurement is on the allow list.
func (p Policy) Authorizes(measurement string) bool {
	measurement = strings.ToLower(measurement)
	for _, m := range p.AuthorizedMeasurements {
		if m == measurement {
			return true
		}
	}
	return false
}

// PolicySignature is one signer's signature over the canonical policy body.
// PublicKey is a PKIX (DER) encoded ed25519 or ECDSA P-256 key.
type PolicySignature struct {
	PublicKey []byte `cbor:"public_key" json:"public_key"`
	Signature []byte `cbor:"signature"  json:"signature"`
}

// Validate checks that both halves of the signature are present.
func (s PolicySignature) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.PublicKey, validation.Required),
		validation.Field(&s.Signature, validation.Required),
	)
}

// SignedPolicy is a policy together with its signatures.
type SignedPolicy struct {
	Policy     Policy            `cbor:"policy"     json:"policy"`
	Signatures []PolicySignature `cbor:"signatures" json:"signatures"`
}

// Validate checks the policy body and that at least one signature is attached.
func (s *SignedPolicy) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Policy),
		validation.Field(&s.Signatures, validation.Required),
	)
}

// StoredPolicy is the persisted form of the current policy of a runtime.
// Document is the canonical encoding of the SignedPolicy and is what
// equal-serial comparisons run against.
type StoredPolicy struct {
	RuntimeID string
	Serial    uint64
	Document  []byte
	Checksum  []byte
	UpdatedAt time.Time
}
