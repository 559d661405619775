// Package domain defines the key manager's records, policies and conditions.
package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	apperrors "github.com/allisson/keymanager/internal/errors"
)

// Kind distinguishes the two secret families. It is part of every record key.
type Kind string

const (
	// KindMaster is a generation-indexed, long-lived secret.
	KindMaster Kind = "master"
	// KindEphemeral is an epoch-indexed, short-lived secret.
	KindEphemeral Kind = "ephemeral"
)

// ParseKind converts a path or config value to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindMaster:
		return KindMaster, nil
	case KindEphemeral:
		return KindEphemeral, nil
	default:
		return "", apperrors.Wrapf(apperrors.ErrInvalidInput, "unknown secret kind %q", s)
	}
}

// checksumContext separates checksums from any other SHA-256 use.
const checksumContext = "keymanager/checksum: v1"

// SecretSize is the length of generated master and ephemeral material.
const SecretSize = 32

// Record is the persisted form shared by master and ephemeral secrets.
// Secret holds plaintext only after the store unsealed it and is never persisted.
type Record struct {
	RuntimeID        string
	Kind             Kind
	Version          uint64
	Secret           []byte
	Ciphertext       []byte
	Nonce            []byte
	SealingKeyID     string
	SealingAlgorithm string
	Checksum         []byte
	CreatedAt        time.Time
}

// Key returns the identity of the record inside the store.
func (r *Record) Key() RecordKey {
	return RecordKey{RuntimeID: r.RuntimeID, Kind: r.Kind, Version: r.Version}
}

// RecordKey addresses one secret: (runtime, kind, version).
type RecordKey struct {
	RuntimeID string
	Kind      Kind
	Version   uint64
}

// String renders the key for logs and per-key locks.
func (k RecordKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.RuntimeID, k.Kind, k.Version)
}

// ComputeChecksum binds material to its key so that identical bytes stored
// under a different runtime, kind or version never share a checksum.
func ComputeChecksum(kind Kind, runtimeID string, version uint64, secret []byte) []byte {
	h := sha256.New()
	h.Write([]byte(checksumContext))
	writeLengthPrefixed(h, []byte(kind))
	writeLengthPrefixed(h, []byte(runtimeID))

	var v [8]byte
	binary.BigEndian.PutUint64(v[:], version)
	h.Write(v[:])
	h.Write(secret)

	return h.Sum(nil)
}

func writeLengthPrefixed(w io.Writer, data []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	_, _ = w.Write(length[:])
	_, _ = w.Write(data)
}

// Replicable is implemented by both secret families so replication logic can
// treat them uniformly.
type Replicable interface {
	RecordKey() RecordKey
	RecordChecksum() []byte
	Acks() []string
}

// MasterSecret is one generation of a runtime's master secret.
type MasterSecret struct {
	RuntimeID       string
	Generation      uint64
	Secret          []byte
	Checksum        []byte
	ReplicationAcks []string
	CreatedAt       time.Time
}

// RecordKey implements Replicable.
func (m *MasterSecret) RecordKey() RecordKey {
	return RecordKey{RuntimeID: m.RuntimeID, Kind: KindMaster, Version: m.Generation}
}

// RecordChecksum implements Replicable.
func (m *MasterSecret) RecordChecksum() []byte { return m.Checksum }

// Acks implements Replicable.
func (m *MasterSecret) Acks() []string { return m.ReplicationAcks }

// NewMasterSecret builds the domain view of a stored master record.
func NewMasterSecret(record *Record, acks []string) *MasterSecret {
	return &MasterSecret{
		RuntimeID:       record.RuntimeID,
		Generation:      record.Version,
		Secret:          record.Secret,
		Checksum:        record.Checksum,
		ReplicationAcks: acks,
		CreatedAt:       record.CreatedAt,
	}
}

// EphemeralState is the derived lifecycle position of an ephemeral secret.
type EphemeralState string

const (
	EphemeralGenerated   EphemeralState = "generated"
	EphemeralReplicating EphemeralState = "replicating"
	EphemeralReplicated  EphemeralState = "replicated"
	EphemeralPublished   EphemeralState = "published"
)

// EphemeralSecret is the secret of one epoch.
type EphemeralSecret struct {
	RuntimeID       string
	Epoch           uint64
	Secret          []byte
	Checksum        []byte
	ReplicationAcks []string
	Replicated      bool
	Published       bool
	CreatedAt       time.Time
}

// RecordKey implements Replicable.
func (e *EphemeralSecret) RecordKey() RecordKey {
	return RecordKey{RuntimeID: e.RuntimeID, Kind: KindEphemeral, Version: e.Epoch}
}

// RecordChecksum implements Replicable.
func (e *EphemeralSecret) RecordChecksum() []byte { return e.Checksum }

// Acks implements Replicable.
func (e *EphemeralSecret) Acks() []string { return e.ReplicationAcks }

// State derives the lifecycle position. Publication implies replication, so the
// state never moves backwards once acknowledgments only accumulate.
func (e *EphemeralSecret) State() EphemeralState {
	switch {
	case e.Published:
		return EphemeralPublished
	case e.Replicated:
		return EphemeralReplicated
	case len(e.ReplicationAcks) > 0:
		return EphemeralReplicating
	default:
		return EphemeralGenerated
	}
}

// NewEphemeralSecret builds the domain view of a stored ephemeral record.
func NewEphemeralSecret(record *Record, acks []string, replicated, published bool) *EphemeralSecret {
	return &EphemeralSecret{
		RuntimeID:       record.RuntimeID,
		Epoch:           record.Version,
		Secret:          record.Secret,
		Checksum:        record.Checksum,
		ReplicationAcks: acks,
		Replicated:      replicated,
		Published:       published,
		CreatedAt:       record.CreatedAt,
	}
}

// ReplicationAck is one replica's confirmation that it holds a record.
type ReplicationAck struct {
	RuntimeID string
	Kind      Kind
	Version   uint64
	ReplicaID string
	Checksum  []byte
	CreatedAt time.Time
}

// SealedSecret carries material sealed to a peer replica's encryption key.
type SealedSecret struct {
	RuntimeID string
	Kind      Kind
	Version   uint64
	Checksum  []byte
	Sealed    []byte
}
