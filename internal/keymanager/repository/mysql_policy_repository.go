package repository

import (
	"context"
	"database/sql"

	"github.com/allisson/keymanager/internal/database"
	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/keymanager/domain"
)

// MySQLPolicyRepository implements policy persistence for MySQL databases.
type MySQLPolicyRepository struct {
	db *sql.DB
}

func (m *MySQLPolicyRepository) get(ctx context.Context, query, runtimeID string) (*domain.StoredPolicy, error) {
	querier := database.GetTx(ctx, m.db)

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
func (m *MySQLPolicyRepository) Get(ctx context.Context, runtimeID string) (*domain.StoredPolicy, error) {
	query := `SELECT runtime_id, serial, document, checksum, updated_at
			  FROM policies
			  WHERE runtime_id = ?`

	return m.get(ctx, query, runtimeID)
}

// GetForUpdate retrieves the current policy of a runtime and locks the row
// until the surrounding transaction ends.
func (m *MySQLPolicyRepository) GetForUpdate(
	ctx context.Context,
	runtimeID string,
) (*domain.StoredPolicy, error) {
	query := `SELECT runtime_id, serial, document, checksum, updated_at
			  FROM policies
			  WHERE runtime_id = ?
			  FOR UPDATE`

	return m.get(ctx, query, runtimeID)
}

// Create inserts the first policy of a runtime and reports whether it did. A
// row committed concurrently by another node wins.
func (m *MySQLPolicyRepository) Create(ctx context.Context, policy *domain.StoredPolicy) (bool, error) {
	querier := database.GetTx(ctx, m.db)

	query := `INSERT IGNORE INTO policies (runtime_id, serial, document, checksum, updated_at)
			  VALUES (?, ?, ?, ?, ?)`

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
func (m *MySQLPolicyRepository) Update(ctx context.Context, policy *domain.StoredPolicy) error {
	querier := database.GetTx(ctx, m.db)

	query := `UPDATE policies
			  SET serial = ?, document = ?, checksum = ?, updated_at = ?
			  WHERE runtime_id = ?`

	_, err := querier.ExecContext(
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

	return nil
}

// NewMySQLPolicyRepository creates a new MySQL Policy repository instance.
func NewMySQLPolicyRepository(db *sql.DB) *MySQLPolicyRepository {
	return &MySQLPolicyRepository{db: db}
}
