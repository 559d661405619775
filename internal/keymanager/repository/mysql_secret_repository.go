package repository

import (
	"context"
	"database/sql"

	"github.com/allisson/keymanager/internal/database"
	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/keymanager/domain"
)

// MySQLSecretRepository implements sealed record persistence for MySQL databases.
type MySQLSecretRepository struct {
	db *sql.DB
}

// Create inserts a sealed record. A row already stored under the same key wins.
func (m *MySQLSecretRepository) Create(ctx context.Context, record *domain.Record) (bool, error) {
	querier := database.GetTx(ctx, m.db)

	query := `INSERT IGNORE INTO secrets (runtime_id, kind, version, ciphertext, nonce, sealing_key_id,
			  sealing_algorithm, checksum, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := querier.ExecContext(
		ctx,
		query,
		record.RuntimeID,
		string(record.Kind),
		record.Version,
		record.Ciphertext,
		record.Nonce,
		record.SealingKeyID,
		record.SealingAlgorithm,
		record.Checksum,
		record.CreatedAt,
	)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to create secret")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to get rows affected")
	}

	return rows == 1, nil
}

// Get retrieves the sealed record stored under key.
func (m *MySQLSecretRepository) Get(ctx context.Context, key domain.RecordKey) (*domain.Record, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT runtime_id, kind, version, ciphertext, nonce, sealing_key_id, sealing_algorithm,
			  checksum, created_at
			  FROM secrets
			  WHERE runtime_id = ? AND kind = ? AND version = ?`

	var record domain.Record
	var kind string

	err := querier.QueryRowContext(ctx, query, key.RuntimeID, string(key.Kind), key.Version).Scan(
		&record.RuntimeID,
		&kind,
		&record.Version,
		&record.Ciphertext,
		&record.Nonce,
		&record.SealingKeyID,
		&record.SealingAlgorithm,
		&record.Checksum,
		&record.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get secret")
	}

	record.Kind = domain.Kind(kind)
	return &record, nil
}

// Latest returns the highest stored version of a runtime's kind.
func (m *MySQLSecretRepository) Latest(
	ctx context.Context,
	runtimeID string,
	kind domain.Kind,
) (uint64, bool, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT version FROM secrets
			  WHERE runtime_id = ? AND kind = ?
			  ORDER BY version DESC
			  LIMIT 1`

	var version uint64
	err := querier.QueryRowContext(ctx, query, runtimeID, string(kind)).Scan(&version)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, apperrors.Wrap(err, "failed to get latest secret version")
	}

	return version, true, nil
}

// NewMySQLSecretRepository creates a new MySQL Secret repository instance.
func NewMySQLSecretRepository(db *sql.DB) *MySQLSecretRepository {
	return &MySQLSecretRepository{db: db}
}
