package repository

import (
	"context"
	"database/sql"

	"github.com/allisson/keymanager/internal/database"
	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/keymanager/domain"
)

// PostgreSQLPolicyRepository implements policy persistence for PostgreSQL databases.
type PostgreSQLPolicyRepository struct {
	db *sql.DB
}

func (p *PostgreSQLPolicyRepository) get(ctx context.Context, query, runtimeID string) (*domain.StoredPolicy, error) {
	querier := database.GetTx(ctx, p.db)

	var policy domain.StoredPolicy
	err := querier.QueryRowContext(ctx, query, runtimeID).Scan(
		&policy.RuntimeID,
		&policy.Serial,
		&policy.Document,
		&policy.Checksum,
		&policy.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get policy")
	}

	return &policy, nil
}

// Get retrieves the current policy of a runtime.
func (p *PostgreSQLPolicyRepository) Get(ctx context.Context, runtimeID string) (*domain.StoredPolicy, error) {
	query := `SELECT runtime_id, serial, document, checksum, updated_at
			  FROM policies
			  WHERE runtime_id = $1`

	return p.get(ctx, query, runtimeID)
}

// GetForUpdate retrieves the current policy of a runtime and locks the row
// until the surrounding transaction ends.
func (p *PostgreSQLPolicyRepository) GetForUpdate(
	ctx context.Context,
	runtimeID string,
) (*domain.StoredPolicy, error) {
	query := `SELECT runtime_id, serial, document, checksum, updated_at
			  FROM policies
			  WHERE runtime_id = $1
			  FOR UPDATE`

	return p.get(ctx, query, runtimeID)
}

// Create inserts the first policy of a runtime and reports whether it did. A
// row committed concurrently by another node wins and leaves the transaction usable.
func (p *PostgreSQLPolicyRepository) Create(ctx context.Context, policy *domain.StoredPolicy) (bool, error) {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO policies (runtime_id, serial, document, checksum, updated_at)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (runtime_id) DO NOTHING`

	result, err := querier.ExecContext(
		ctx,
		query,
		policy.RuntimeID,
		policy.Serial,
		policy.Document,
		policy.Checksum,
		policy.UpdatedAt,
	)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to create policy")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to get rows affected")
	}

	return rows == 1, nil
}

// Update replaces the policy of a runtime.
func (p *PostgreSQLPolicyRepository) Update(ctx context.Context, policy *domain.StoredPolicy) error {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE policies
			  SET serial = $1, document = $2, checksum = $3, updated_at = $4
			  WHERE runtime_id = $5`

	result, err := querier.ExecContext(
		ctx,
		query,
		policy.Serial,
		policy.Document,
		policy.Checksum,
		policy.UpdatedAt,
		policy.RuntimeID,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update policy")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// NewPostgreSQLPolicyRepository creates a new PostgreSQL Policy repository instance.
func NewPostgreSQLPolicyRepository(db *sql.DB) *PostgreSQLPolicyRepository {
	return &PostgreSQLPolicyRepository{db: db}
}
