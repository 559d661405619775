package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/allisson/keymanager/internal/database"
	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/keymanager/domain"
)

const mysqlAuditColumns = `sequence, id, action, identity, runtime_id, kind, version, outcome,
			  previous_signature, signature, signing_key_id, created_at`

// MySQLAuditLogRepository implements audit trail persistence for MySQL databases.
// Uses BINARY(16) for entry ids.
type MySQLAuditLogRepository struct {
	db *sql.DB
}

func scanMySQLAuditLog(row interface{ Scan(dest ...any) error }) (*domain.AuditLog, error) {
	var entry domain.AuditLog
	var id []byte
	var action, kind string
	if err := row.Scan(
		&entry.Sequence,
		&id,
		&action,
		&entry.Identity,
		&entry.RuntimeID,
		&kind,
		&entry.Version,
		&entry.Outcome,
		&entry.PreviousSignature,
		&entry.Signature,
		&entry.SigningKeyID,
		&entry.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := entry.ID.UnmarshalBinary(id); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal audit log id")
	}
	entry.Action = domain.AuditAction(action)
	entry.Kind = domain.Kind(kind)
	entry.CreatedAt = entry.CreatedAt.UTC()
	return &entry, nil
}

// Create inserts a signed audit entry. The sequence is the primary key, so a
// concurrent writer that read the same chain head fails instead of forking the chain.
func (m *MySQLAuditLogRepository) Create(ctx context.Context, entry *domain.AuditLog) error {
	querier := database.GetTx(ctx, m.db)

	id, err := entry.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal audit log id")
	}

	query := `INSERT INTO audit_logs (` + mysqlAuditColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = querier.ExecContext(
		ctx,
		query,
		entry.Sequence,
		id,
		string(entry.Action),
		entry.Identity,
		entry.RuntimeID,
		string(entry.Kind),
		entry.Version,
		entry.Outcome,
		entry.PreviousSignature,
		entry.Signature,
		entry.SigningKeyID,
		entry.CreatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create audit log")
	}

	return nil
}

// Last returns the chain head and locks it until the surrounding transaction ends.
func (m *MySQLAuditLogRepository) Last(ctx context.Context) (*domain.AuditLog, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT ` + mysqlAuditColumns + `
			  FROM audit_logs
			  ORDER BY sequence DESC
			  LIMIT 1
			  FOR UPDATE`

	entry, err := scanMySQLAuditLog(querier.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get audit chain head")
	}

	return entry, nil
}

// GetBySequence retrieves one audit entry.
func (m *MySQLAuditLogRepository) GetBySequence(ctx context.Context, sequence uint64) (*domain.AuditLog, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT ` + mysqlAuditColumns + `
			  FROM audit_logs
			  WHERE sequence = ?`

	entry, err := scanMySQLAuditLog(querier.QueryRowContext(ctx, query, sequence))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get audit log")
	}

	return entry, nil
}

// List retrieves entries created within [from, to] after afterSequence, ordered by sequence.
func (m *MySQLAuditLogRepository) List(
	ctx context.Context,
	from, to time.Time,
	afterSequence uint64,
	limit int,
) ([]*domain.AuditLog, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT ` + mysqlAuditColumns + `
			  FROM audit_logs
			  WHERE sequence > ? AND created_at >= ? AND created_at <= ?
			  ORDER BY sequence ASC
			  LIMIT ?`

	rows, err := querier.QueryContext(ctx, query, afterSequence, from, to, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list audit logs")
	}
	defer func() {
		_ = rows.Close()
	}()

	entries := make([]*domain.AuditLog, 0)
	for rows.Next() {
		entry, err := scanMySQLAuditLog(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan audit log")
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate audit logs")
	}

	return entries, nil
}

// NewMySQLAuditLogRepository creates a new MySQL audit log repository instance.
func NewMySQLAuditLogRepository(db *sql.DB) *MySQLAuditLogRepository {
	return &MySQLAuditLogRepository{db: db}
}
