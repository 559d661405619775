// Package usecase implements the key manager core: the sealed secret store,
// replication tracking, the master and ephemeral secret lifecycles, policy
// admission and the authorization gate that releases secrets to enclaves.
package usecase

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/allisson/keymanager/internal/keymanager/domain"
)

// SecretRepository persists sealed secret records.
type SecretRepository interface {
	// Create inserts record unless a row already exists for its key. It reports
	// whether the row was inserted. Existing rows are never overwritten.
	Create(ctx context.Context, record *domain.Record) (bool, error)
	Get(ctx context.Context, key domain.RecordKey) (*domain.Record, error)
	Latest(ctx context.Context, runtimeID string, kind domain.Kind) (uint64, bool, error)
}

// ReplicationRepository persists replica acknowledgments and ephemeral publications.
type ReplicationRepository interface {
	// CreateAck inserts ack unless the replica already acknowledged the key.
	CreateAck(ctx context.Context, ack *domain.ReplicationAck) (bool, error)
	ListAcks(ctx context.Context, key domain.RecordKey) ([]*domain.ReplicationAck, error)
	// CreatePublication marks an epoch as published. Repeated calls are no-ops.
	CreatePublication(ctx context.Context, runtimeID string, epoch uint64, publishedAt time.Time) error
	IsPublished(ctx context.Context, runtimeID string, epoch uint64) (bool, error)
}

// PolicyRepository persists the current policy document of each runtime.
type PolicyRepository interface {
	Get(ctx context.Context, runtimeID string) (*domain.StoredPolicy, error)
	// GetForUpdate reads the row and locks it until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, runtimeID string) (*domain.StoredPolicy, error)
	// Create inserts the first policy of a runtime unless a row already exists.
	// It reports whether the row was inserted.
	Create(ctx context.Context, policy *domain.StoredPolicy) (bool, error)
	Update(ctx context.Context, policy *domain.StoredPolicy) error
}

// PolicyCodec produces the canonical encodings of policies.
type PolicyCodec interface {
	// SigningBody returns the bytes every policy signature covers.
	SigningBody(policy domain.Policy) ([]byte, error)
	Encode(signed *domain.SignedPolicy) ([]byte, error)
	Decode(document []byte) (*domain.SignedPolicy, error)
}

// SignatureVerifier checks one signature made by a PKIX encoded public key.
type SignatureVerifier interface {
	Verify(publicKey, message, signature []byte) error
}

// EphemeralDeriver produces the material of a new ephemeral secret.
type EphemeralDeriver interface {
	Derive(ctx context.Context, runtimeID string, epoch uint64) ([]byte, error)
}

// StatusCodec produces the canonical bytes a signed status covers.
type StatusCodec interface {
	SigningBody(status *domain.Status) ([]byte, error)
	// PolicyChecksum returns the checksum reported for the current policy.
	PolicyChecksum(signed *domain.SignedPolicy) ([]byte, error)
}

// StatusSigner signs status reports with the node's runtime signing key.
type StatusSigner interface {
	PublicKey() ed25519.PublicKey
	Sign(message []byte) ([]byte, error)
}

// REKOpener opens material sealed to this node's runtime encryption key.
type REKOpener interface {
	Open(sealed []byte) ([]byte, error)
}

// SecretStore is the sole writer of secret and policy rows. Material is sealed
// at rest and every read is integrity checked.
type SecretStore interface {
	// Put stores record first-writer-wins and returns the record now stored
	// under its key, which is the existing one when another writer got there first.
	//
	// Security Note: the returned Secret is plaintext. Callers MUST zero it after use.
	Put(ctx context.Context, record *domain.Record) (*domain.Record, error)
	// Get returns the unsealed record.
	//
	// Security Note: the returned Secret is plaintext. Callers MUST zero it after use.
	Get(ctx context.Context, key domain.RecordKey) (*domain.Record, error)
	// Checksum returns the stored checksum of a record without unsealing it.
	Checksum(ctx context.Context, key domain.RecordKey) ([]byte, error)
	Latest(ctx context.Context, runtimeID string, kind domain.Kind) (uint64, bool, error)
	CurrentPolicy(ctx context.Context, runtimeID string) (*domain.SignedPolicy, error)
	// PutPolicy replaces the current policy under compare-and-set serial rules.
	PutPolicy(ctx context.Context, signed *domain.SignedPolicy) error
}

// ReplicationCoordinator tracks which replicas hold a copy of each record.
type ReplicationCoordinator interface {
	Ack(ctx context.Context, key domain.RecordKey, replicaID string, checksum []byte) error
	IsReplicated(ctx context.Context, key domain.RecordKey) (bool, error)
	Acks(ctx context.Context, key domain.RecordKey) ([]string, error)
	Threshold(ctx context.Context) (int, error)
	MarkPublished(ctx context.Context, runtimeID string, epoch uint64) error
	IsPublished(ctx context.Context, runtimeID string, epoch uint64) (bool, error)
}

// MasterSecretManager owns the generation sequence of master secrets.
type MasterSecretManager interface {
	Generate(ctx context.Context, runtimeID string, generation uint64) (*domain.MasterSecret, error)
	Fetch(ctx context.Context, runtimeID string, generation uint64) (*domain.MasterSecret, error)
	Latest(ctx context.Context, runtimeID string) (uint64, bool, error)
	Import(ctx context.Context, sealed *domain.SealedSecret) (*domain.MasterSecret, error)
	Export(ctx context.Context, runtimeID string, generation uint64, peerREK []byte) (*domain.SealedSecret, error)
}

// EphemeralSecretManager owns the epoch sequence of ephemeral secrets.
type EphemeralSecretManager interface {
	Generate(ctx context.Context, runtimeID string, epoch uint64) (*domain.EphemeralSecret, error)
	Fetch(ctx context.Context, runtimeID string, epoch uint64) (*domain.EphemeralSecret, error)
	Latest(ctx context.Context, runtimeID string) (uint64, bool, error)
	Publish(ctx context.Context, runtimeID string, epoch uint64) (*domain.EphemeralSecret, error)
	Import(ctx context.Context, sealed *domain.SealedSecret) (*domain.EphemeralSecret, error)
	Export(ctx context.Context, runtimeID string, epoch uint64, peerREK []byte) (*domain.SealedSecret, error)
}

// PolicyEngine admits signed policies and answers authorization questions.
type PolicyEngine interface {
	Submit(ctx context.Context, signed *domain.SignedPolicy) error
	Authorize(ctx context.Context, measurement, runtimeID string) (bool, error)
	Current(ctx context.Context, runtimeID string) (*domain.SignedPolicy, error)
}

// Gate decides whether an attested session may receive a secret.
type Gate interface {
	FetchMasterSecret(
		ctx context.Context,
		session *domain.Session,
		req *domain.FetchRequest,
	) (*domain.ReleasedSecret, error)
	FetchEphemeralSecret(
		ctx context.Context,
		session *domain.Session,
		req *domain.FetchRequest,
	) (*domain.ReleasedSecret, error)
	Status(ctx context.Context, runtimeID string) (*domain.Status, error)
	SignedStatus(ctx context.Context, runtimeID string) (*domain.SignedStatus, error)
}

// AuditLogRepository persists the signed audit trail.
type AuditLogRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
	// Last returns the newest entry, locking it until the surrounding transaction
	// ends. It returns ErrNotFound while the trail is empty.
	Last(ctx context.Context) (*domain.AuditLog, error)
	GetBySequence(ctx context.Context, sequence uint64) (*domain.AuditLog, error)
	// List returns up to limit entries created within [from, to] whose sequence
	// is above afterSequence, ordered by sequence.
	List(ctx context.Context, from, to time.Time, afterSequence uint64, limit int) ([]*domain.AuditLog, error)
}

// AuditSigner signs audit entries and checks their signatures.
type AuditSigner interface {
	Sign(entry *domain.AuditLog) error
	Verify(entry *domain.AuditLog) error
}

// AuditLogUseCase appends to and verifies the signed audit trail.
type AuditLogUseCase interface {
	// Record chains entry to the newest stored entry, signs it and stores it.
	Record(ctx context.Context, entry *domain.AuditLog) error
	// Verify checks the signature and chain link of every entry created within [from, to].
	Verify(ctx context.Context, from, to time.Time) (*domain.AuditVerificationReport, error)
}
