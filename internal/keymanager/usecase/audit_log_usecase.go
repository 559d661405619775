package usecase

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/keymanager/internal/database"
	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/keymanager/domain"
)

const auditVerifyPageSize = 500

// auditLogUseCase implements AuditLogUseCase over a repository and an HMAC signer.
type auditLogUseCase struct {
	txManager database.TxManager
	repo      AuditLogRepository
	signer    AuditSigner
	now       func() time.Time

	// mu serializes appends within this process. Appends from other nodes are
	// serialized by the row lock Last takes on the chain head.
	mu sync.Mutex
}

// Record assigns the entry its id, timestamp and sequence, links it to the
// previous entry and stores it signed.
func (a *auditLogUseCase) Record(ctx context.Context, entry *domain.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.txManager.WithTx(ctx, func(txCtx context.Context) error {
		entry.ID = uuid.Must(uuid.NewV7())
		entry.CreatedAt = a.now().UTC().Truncate(time.Microsecond)
		entry.Sequence = 1
		entry.PreviousSignature = nil

		last, err := a.repo.Last(txCtx)
		switch {
		case err == nil:
			entry.Sequence = last.Sequence + 1
			entry.PreviousSignature = bytes.Clone(last.Signature)
		case apperrors.Is(err, apperrors.ErrNotFound):
		default:
			return apperrors.Wrap(err, "failed to read audit chain head")
		}

		if err := a.signer.Sign(entry); err != nil {
			return apperrors.Wrap(err, "failed to sign audit log")
		}
		if err := a.repo.Create(txCtx, entry); err != nil {
			return apperrors.Wrap(err, "failed to create audit log")
		}
		return nil
	})
}

// Verify walks the entries of [from, to] in sequence order. An entry fails when
// its signature does not match or when it does not link to its predecessor,
// which is also read when it falls outside the range.
func (a *auditLogUseCase) Verify(ctx context.Context, from, to time.Time) (*domain.AuditVerificationReport, error) {
	report := &domain.AuditVerificationReport{StartTime: from, EndTime: to}

	var previous *domain.AuditLog
	var after uint64
	for {
		page, err := a.repo.List(ctx, from, to, after, auditVerifyPageSize)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to list audit logs")
		}

		for _, entry := range page {
			report.TotalChecked++

			signed := a.signer.Verify(entry) == nil
			if signed {
				report.ValidCount++
			} else {
				report.InvalidCount++
			}

			linked, err := a.linked(ctx, previous, entry)
			if err != nil {
				return nil, err
			}
			if !linked {
				report.BrokenLinks++
			}

			if !signed || !linked {
				report.InvalidEntries = append(report.InvalidEntries, entry.Sequence)
			}

			previous = entry
			after = entry.Sequence
		}

		if len(page) < auditVerifyPageSize {
			return report, nil
		}
	}
}

func (a *auditLogUseCase) linked(ctx context.Context, previous, entry *domain.AuditLog) (bool, error) {
	switch entry.Sequence {
	case 0:
		return false, nil
	case 1:
		return len(entry.PreviousSignature) == 0, nil
	}

	if previous == nil || previous.Sequence != entry.Sequence-1 {
		p, err := a.repo.GetBySequence(ctx, entry.Sequence-1)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, apperrors.Wrap(err, "failed to read preceding audit log")
		}
		previous = p
	}

	return bytes.Equal(previous.Signature, entry.PreviousSignature), nil
}

// NewAuditLogUseCase creates a new AuditLogUseCase with the provided dependencies.
func NewAuditLogUseCase(txManager database.TxManager, repo AuditLogRepository, signer AuditSigner) AuditLogUseCase {
	return &auditLogUseCase{
		txManager: txManager,
		repo:      repo,
		signer:    signer,
		now:       time.Now,
	}
}
