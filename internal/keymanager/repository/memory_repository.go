// Package repository implements key manager persistence for PostgreSQL, MySQL
// and an in-memory backend used by single-node deployments and tests.
package repository

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/keymanager/domain"
)

func cloneRecord(r *domain.Record) *domain.Record {
	c := *r
	c.Secret = nil
	c.Ciphertext = bytes.Clone(r.Ciphertext)
	c.Nonce = bytes.Clone(r.Nonce)
	c.Checksum = bytes.Clone(r.Checksum)
	return &c
}

// MemorySecretRepository keeps sealed records in process memory.
type MemorySecretRepository struct {
	mu      sync.RWMutex
	records map[domain.RecordKey]*domain.Record
}

// Create implements first-writer-wins insertion.
func (m *MemorySecretRepository) Create(_ context.Context, record *domain.Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := record.Key()
	if _, exists := m.records[key]; exists {
		return false, nil
	}
	m.records[key] = cloneRecord(record)
	return true, nil
}

// Get returns the sealed record stored under key.
func (m *MemorySecretRepository) Get(_ context.Context, key domain.RecordKey) (*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[key]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneRecord(record), nil
}

// Latest returns the highest stored version of a runtime's kind.
func (m *MemorySecretRepository) Latest(_ context.Context, runtimeID string, kind domain.Kind) (uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest uint64
	found := false
	for key := range m.records {
		if key.RuntimeID != runtimeID || key.Kind != kind {
			continue
		}
		if !found || key.Version > latest {
			latest = key.Version
			found = true
		}
	}
	return latest, found, nil
}

// NewMemorySecretRepository creates an empty in-memory secret repository.
func NewMemorySecretRepository() *MemorySecretRepository {
	return &MemorySecretRepository{records: make(map[domain.RecordKey]*domain.Record)}
}

type publicationKey struct {
	runtimeID string
	epoch     uint64
}

// MemoryReplicationRepository keeps acknowledgments and publications in process memory.
type MemoryReplicationRepository struct {
	mu           sync.RWMutex
	acks         map[domain.RecordKey][]*domain.ReplicationAck
	publications map[publicationKey]time.Time
}

// CreateAck records ack unless the replica already acknowledged the key.
func (m *MemoryReplicationRepository) CreateAck(_ context.Context, ack *domain.ReplicationAck) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := domain.RecordKey{RuntimeID: ack.RuntimeID, Kind: ack.Kind, Version: ack.Version}
	for _, existing := range m.acks[key] {
		if existing.ReplicaID == ack.ReplicaID {
			return false, nil
		}
	}

	stored := *ack
	stored.Checksum = bytes.Clone(ack.Checksum)
	m.acks[key] = append(m.acks[key], &stored)
	return true, nil
}

// ListAcks returns the acknowledgments of key ordered by replica id.
func (m *MemoryReplicationRepository) ListAcks(
	_ context.Context,
	key domain.RecordKey,
) ([]*domain.ReplicationAck, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acks := make([]*domain.ReplicationAck, 0, len(m.acks[key]))
	for _, ack := range m.acks[key] {
		c := *ack
		c.Checksum = bytes.Clone(ack.Checksum)
		acks = append(acks, &c)
	}
	slices.SortFunc(acks, func(a, b *domain.ReplicationAck) int {
		return strings.Compare(a.ReplicaID, b.ReplicaID)
	})
	return acks, nil
}

// CreatePublication marks an epoch as published, keeping the first timestamp.
func (m *MemoryReplicationRepository) CreatePublication(
	_ context.Context,
	runtimeID string,
	epoch uint64,
	publishedAt time.Time,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := publicationKey{runtimeID: runtimeID, epoch: epoch}
	if _, exists := m.publications[key]; !exists {
		m.publications[key] = publishedAt
	}
	return nil
}

// IsPublished reports whether an epoch was published.
func (m *MemoryReplicationRepository) IsPublished(_ context.Context, runtimeID string, epoch uint64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.publications[publicationKey{runtimeID: runtimeID, epoch: epoch}]
	return ok, nil
}

// NewMemoryReplicationRepository creates an empty in-memory replication repository.
func NewMemoryReplicationRepository() *MemoryReplicationRepository {
	return &MemoryReplicationRepository{
		acks:         make(map[domain.RecordKey][]*domain.ReplicationAck),
		publications: make(map[publicationKey]time.Time),
	}
}

// MemoryPolicyRepository keeps policy documents in process memory. It has no
// row locks: the store serializes policy updates per runtime.
type MemoryPolicyRepository struct {
	mu       sync.RWMutex
	policies map[string]*domain.StoredPolicy
}

func clonePolicy(p *domain.StoredPolicy) *domain.StoredPolicy {
	c := *p
	c.Document = bytes.Clone(p.Document)
	c.Checksum = bytes.Clone(p.Checksum)
	return &c
}

// Get returns the stored policy of runtimeID.
func (m *MemoryPolicyRepository) Get(_ context.Context, runtimeID string) (*domain.StoredPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	policy, ok := m.policies[runtimeID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return clonePolicy(policy), nil
}

// GetForUpdate is Get for this backend.
func (m *MemoryPolicyRepository) GetForUpdate(ctx context.Context, runtimeID string) (*domain.StoredPolicy, error) {
	return m.Get(ctx, runtimeID)
}

// Create inserts a policy for a runtime that has none.
func (m *MemoryPolicyRepository) Create(_ context.Context, policy *domain.StoredPolicy) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.policies[policy.RuntimeID]; exists {
		return false, nil
	}
	m.policies[policy.RuntimeID] = clonePolicy(policy)
	return true, nil
}

// Update replaces the policy of a runtime.
func (m *MemoryPolicyRepository) Update(_ context.Context, policy *domain.StoredPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.policies[policy.RuntimeID]; !exists {
		return apperrors.ErrNotFound
	}
	m.policies[policy.RuntimeID] = clonePolicy(policy)
	return nil
}

// NewMemoryPolicyRepository creates an empty in-memory policy repository.
func NewMemoryPolicyRepository() *MemoryPolicyRepository {
	return &MemoryPolicyRepository{policies: make(map[string]*domain.StoredPolicy)}
}
