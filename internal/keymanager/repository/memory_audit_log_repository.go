package repository

import (
	"bytes"
	"context"
	"sync"
	"time"

	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/keymanager/domain"
)

func cloneAuditLog(entry *domain.AuditLog) *domain.AuditLog {
	c := *entry
	c.PreviousSignature = bytes.Clone(entry.PreviousSignature)
	c.Signature = bytes.Clone(entry.Signature)
	return &c
}

// MemoryAuditLogRepository keeps the audit trail in process memory, ordered by sequence.
type MemoryAuditLogRepository struct {
	mu      sync.RWMutex
	entries []*domain.AuditLog
}

// Create appends entry. Its sequence must follow the newest stored entry.
func (m *MemoryAuditLogRepository) Create(_ context.Context, entry *domain.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n := len(m.entries); n > 0 && m.entries[n-1].Sequence >= entry.Sequence {
		return apperrors.Wrapf(apperrors.ErrConflict, "audit sequence %d already stored", entry.Sequence)
	}
	m.entries = append(m.entries, cloneAuditLog(entry))
	return nil
}

// Last returns the newest entry.
func (m *MemoryAuditLogRepository) Last(_ context.Context) (*domain.AuditLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return cloneAuditLog(m.entries[len(m.entries)-1]), nil
}

// GetBySequence returns the entry with the given sequence.
func (m *MemoryAuditLogRepository) GetBySequence(_ context.Context, sequence uint64) (*domain.AuditLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, entry := range m.entries {
		if entry.Sequence == sequence {
			return cloneAuditLog(entry), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

// List returns entries created within [from, to] after afterSequence.
func (m *MemoryAuditLogRepository) List(
	_ context.Context,
	from, to time.Time,
	afterSequence uint64,
	limit int,
) ([]*domain.AuditLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*domain.AuditLog, 0)
	for _, entry := range m.entries {
		if len(entries) == limit {
			break
		}
		if entry.Sequence <= afterSequence || entry.CreatedAt.Before(from) || entry.CreatedAt.After(to) {
			continue
		}
		entries = append(entries, cloneAuditLog(entry))
	}
	return entries, nil
}

// NewMemoryAuditLogRepository creates an empty in-memory audit log repository.
func NewMemoryAuditLogRepository() *MemoryAuditLogRepository {
	return &MemoryAuditLogRepository{}
}
