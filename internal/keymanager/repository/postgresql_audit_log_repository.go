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

const postgresAuditColumns = `sequence, id, action, identity, runtime_id, kind, version, outcome,
			  previous_signature, signature, signing_key_id, created_at`

// PostgreSQLAuditLogRepository implements audit trail persistence for PostgreSQL databases.
type PostgreSQLAuditLogRepository struct {
	db *sql.DB
}

func scanPostgresAuditLog(row interface{ Scan(dest ...any) error }) (*domain.AuditLog, error) {
	var entry domain.AuditLog
	var action, kind string
	if err := row.Scan(
		&entry.Sequence,
		&entry.ID,
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
	entry.Action = domain.AuditAction(action)
	entry.Kind = domain.Kind(kind)
	entry.CreatedAt = entry.CreatedAt.UTC()
	return &entry, nil
}

// Create inserts a signed audit entry. The sequence is the primary key, so a
// concurrent writer that read the same chain head fails instead of forking the chain.
func (p *PostgreSQLAuditLogRepository) Create(ctx context.Context, entry *domain.AuditLog) error {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO audit_logs (` + postgresAuditColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := querier.ExecContext(
		ctx,
		query,
		entry.Sequence,
		entry.ID,
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
func (p *PostgreSQLAuditLogRepository) Last(ctx context.Context) (*domain.AuditLog, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + postgresAuditColumns + `
			  FROM audit_logs
			  ORDER BY sequence DESC
			  LIMIT 1
			  FOR UPDATE`

	entry, err := scanPostgresAuditLog(querier.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get audit chain head")
	}

	return entry, nil
}

// GetBySequence retrieves one audit entry.
func (p *PostgreSQLAuditLogRepository) GetBySequence(ctx context.Context, sequence uint64) (*domain.AuditLog, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + postgresAuditColumns + `
			  FROM audit_logs
			  WHERE sequence = $1`

	entry, err := scanPostgresAuditLog(querier.QueryRowContext(ctx, query, sequence))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get audit log")
	}

	return entry, nil
}

// List retrieves entries created within [from, to] after afterSequence, ordered by sequence.
func (p *PostgreSQLAuditLogRepository) List(
	ctx context.Context,
	from, to time.Time,
	afterSequence uint64,
	limit int,
) ([]*domain.AuditLog, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + postgresAuditColumns + `
			  FROM audit_logs
			  WHERE sequence > $1 AND created_at >= $2 AND created_at <= $3
			  ORDER BY sequence ASC
			  LIMIT $4`

	rows, err := querier.QueryContext(ctx, query, afterSequence, from, to, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list audit logs")
	}
	defer func() {
		_ = rows.Close()
	}()

	entries := make([]*domain.AuditLog, 0)
	for rows.Next() {
		entry, err := scanPostgresAuditLog(rows)
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

// NewPostgreSQLAuditLogRepository creates a new PostgreSQL audit log repository instance.
func NewPostgreSQLAuditLogRepository(db *sql.DB) *PostgreSQLAuditLogRepository {
	return &PostgreSQLAuditLogRepository{db: db}
}
