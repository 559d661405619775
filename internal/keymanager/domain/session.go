package domain

import "time"

// Session is the authenticated context of one client connection. It is built
// from a verified attestation receipt and never persisted.
type Session struct {
	Identity      string
	RuntimeID     string
	Measurement   string
	REK           []byte
	Authenticated bool
	Authorized    bool
}

// HasREK reports whether the client published a runtime encryption key.
func (s *Session) HasREK() bool {
	return s != nil && len(s.REK) > 0
}

// FetchRequest asks for one secret version at a consensus height.
type FetchRequest struct {
	RuntimeID string
	Version   uint64
	Height    uint64
}

// ReleasedSecret is what the gate hands back to an authorized client. Exactly
// one of Secret and Sealed is set: Sealed when the session carried a REK.
type ReleasedSecret struct {
	RuntimeID string
	Kind      Kind
	Version   uint64
	Checksum  []byte
	Secret    []byte
	Sealed    []byte
}

// Status summarizes the key manager state of one runtime.
type Status struct {
	RuntimeID      string
	IsInitialized  bool
	Checksum       []byte
	Generation     uint64
	HasGeneration  bool
	Epoch          uint64
	HasEpoch       bool
	Replicas       []string
	PolicySerial   uint64
	PolicyChecksum []byte
	UpdatedAt      time.Time
}

// SignedStatus is a Status signed with this node's runtime signing key.
type SignedStatus struct {
	Status    Status
	PublicKey []byte
	Signature []byte
}
