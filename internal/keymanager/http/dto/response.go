package dto

import (
	"time"

	"github.com/allisson/keymanager/internal/keymanager/domain"
)

// ReleasedSecretResponse is a secret released to an attested client.
// SECURITY: Secret contains plaintext and is only set when the session carried
// no REK. Must be transmitted over HTTPS in production.
type ReleasedSecretResponse struct {
	RuntimeID string `json:"runtime_id"`
	Kind      string `json:"kind"`
	Version   uint64 `json:"version"`
	Checksum  []byte `json:"checksum"`
	Secret    []byte `json:"secret,omitempty"`
	Sealed    []byte `json:"sealed,omitempty"`
}

// MapReleasedSecretToResponse converts a released secret to an API response.
// SECURITY: Caller must zero released.Secret after the response is written.
func MapReleasedSecretToResponse(released *domain.ReleasedSecret) ReleasedSecretResponse {
	return ReleasedSecretResponse{
		RuntimeID: released.RuntimeID,
		Kind:      string(released.Kind),
		Version:   released.Version,
		Checksum:  released.Checksum,
		Secret:    released.Secret,
		Sealed:    released.Sealed,
	}
}

// MasterSecretResponse describes a master secret without its material.
type MasterSecretResponse struct {
	RuntimeID       string    `json:"runtime_id"`
	Generation      uint64    `json:"generation"`
	Checksum        []byte    `json:"checksum"`
	ReplicationAcks []string  `json:"replication_acks"`
	CreatedAt       time.Time `json:"created_at"`
}

// MapMasterSecretToResponse converts a master secret to an API response.
func MapMasterSecretToResponse(secret *domain.MasterSecret) MasterSecretResponse {
	return MasterSecretResponse{
		RuntimeID:       secret.RuntimeID,
		Generation:      secret.Generation,
		Checksum:        secret.Checksum,
		ReplicationAcks: nonNil(secret.ReplicationAcks),
		CreatedAt:       secret.CreatedAt,
	}
}

// EphemeralSecretResponse describes an ephemeral secret without its material.
type EphemeralSecretResponse struct {
	RuntimeID       string    `json:"runtime_id"`
	Epoch           uint64    `json:"epoch"`
	Checksum        []byte    `json:"checksum"`
	State           string    `json:"state"`
	ReplicationAcks []string  `json:"replication_acks"`
	CreatedAt       time.Time `json:"created_at"`
}

// MapEphemeralSecretToResponse converts an ephemeral secret to an API response.
func MapEphemeralSecretToResponse(secret *domain.EphemeralSecret) EphemeralSecretResponse {
	return EphemeralSecretResponse{
		RuntimeID:       secret.RuntimeID,
		Epoch:           secret.Epoch,
		Checksum:        secret.Checksum,
		State:           string(secret.State()),
		ReplicationAcks: nonNil(secret.ReplicationAcks),
		CreatedAt:       secret.CreatedAt,
	}
}

// SealedSecretResponse is material sealed to a peer replica.
type SealedSecretResponse struct {
	RuntimeID string `json:"runtime_id"`
	Kind      string `json:"kind"`
	Version   uint64 `json:"version"`
	Checksum  []byte `json:"checksum"`
	Sealed    []byte `json:"sealed"`
}

// MapSealedSecretToResponse converts a sealed secret to an API response.
func MapSealedSecretToResponse(sealed *domain.SealedSecret) SealedSecretResponse {
	return SealedSecretResponse{
		RuntimeID: sealed.RuntimeID,
		Kind:      string(sealed.Kind),
		Version:   sealed.Version,
		Checksum:  sealed.Checksum,
		Sealed:    sealed.Sealed,
	}
}

// StatusResponse is the key manager state of one runtime.
type StatusResponse struct {
	RuntimeID      string    `json:"runtime_id"`
	IsInitialized  bool      `json:"is_initialized"`
	Checksum       []byte    `json:"checksum,omitempty"`
	Generation     *uint64   `json:"generation,omitempty"`
	Epoch          *uint64   `json:"epoch,omitempty"`
	Replicas       []string  `json:"replicas"`
	PolicySerial   uint64    `json:"policy_serial"`
	PolicyChecksum []byte    `json:"policy_checksum,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MapStatusToResponse converts a status to an API response. Generation and
// epoch are omitted until the first one exists.
func MapStatusToResponse(status *domain.Status) StatusResponse {
	response := StatusResponse{
		RuntimeID:      status.RuntimeID,
		IsInitialized:  status.IsInitialized,
		Checksum:       status.Checksum,
		Replicas:       nonNil(status.Replicas),
		PolicySerial:   status.PolicySerial,
		PolicyChecksum: status.PolicyChecksum,
		UpdatedAt:      status.UpdatedAt,
	}
	if status.HasGeneration {
		generation := status.Generation
		response.Generation = &generation
	}
	if status.HasEpoch {
		epoch := status.Epoch
		response.Epoch = &epoch
	}
	return response
}

// SignedStatusResponse is a status with this node's RSK signature.
type SignedStatusResponse struct {
	Status    StatusResponse `json:"status"`
	PublicKey []byte         `json:"public_key"`
	Signature []byte         `json:"signature"`
}

// MapSignedStatusToResponse converts a signed status to an API response.
func MapSignedStatusToResponse(signed *domain.SignedStatus) SignedStatusResponse {
	return SignedStatusResponse{
		Status:    MapStatusToResponse(&signed.Status),
		PublicKey: signed.PublicKey,
		Signature: signed.Signature,
	}
}

// PolicyResponse is the current signed policy of a runtime.
type PolicyResponse struct {
	Policy     domain.Policy            `json:"policy"`
	Signatures []PolicySignatureRequest `json:"signatures"`
}

// MapPolicyToResponse converts a signed policy to an API response.
func MapPolicyToResponse(signed *domain.SignedPolicy) PolicyResponse {
	signatures := make([]PolicySignatureRequest, 0, len(signed.Signatures))
	for _, s := range signed.Signatures {
		signatures = append(signatures, PolicySignatureRequest{
			PublicKey: s.PublicKey,
			Signature: s.Signature,
		})
	}
	return PolicyResponse{
		Policy:     signed.Policy,
		Signatures: signatures,
	}
}

// ConsensusResponse reports the manual oracle position.
type ConsensusResponse struct {
	Height uint64 `json:"height"`
	Epoch  uint64 `json:"epoch"`
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
