package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/allisson/keymanager/internal/database"
	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/keymanager/domain"
)

// PostgreSQLReplicationRepository implements acknowledgment and publication
// persistence for PostgreSQL databases.
type PostgreSQLReplicationRepository struct {
	db *sql.DB
}

// CreateAck inserts an acknowledgment. The first acknowledgment of a replica is kept.
func (p *PostgreSQLReplicationRepository) CreateAck(ctx context.Context, ack *domain.ReplicationAck) (bool, error) {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO replication_acks (runtime_id, kind, version, replica_id, checksum, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  ON CONFLICT (runtime_id, kind, version, replica_id) DO NOTHING`

	result, err := querier.ExecContext(
		ctx,
		query,
		ack.RuntimeID,
		string(ack.Kind),
		ack.Version,
		ack.ReplicaID,
		ack.Checksum,
		ack.CreatedAt,
	)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to create replication ack")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to get rows affected")
	}

	return rows == 1, nil
}

// ListAcks returns the acknowledgments of key ordered by replica id.
func (p *PostgreSQLReplicationRepository) ListAcks(
	ctx context.Context,
	key domain.RecordKey,
) ([]*domain.ReplicationAck, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT runtime_id, kind, version, replica_id, checksum, created_at
			  FROM replication_acks
			  WHERE runtime_id = $1 AND kind = $2 AND version = $3
			  ORDER BY replica_id ASC`

	rows, err := querier.QueryContext(ctx, query, key.RuntimeID, string(key.Kind), key.Version)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list replication acks")
	}
	defer func() {
		_ = rows.Close()
	}()

	acks := make([]*domain.ReplicationAck, 0)
	for rows.Next() {
		var ack domain.ReplicationAck
		var kind string
		if err := rows.Scan(
			&ack.RuntimeID,
			&kind,
			&ack.Version,
			&ack.ReplicaID,
			&ack.Checksum,
			&ack.CreatedAt,
		); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan replication ack")
		}
		ack.Kind = domain.Kind(kind)
		acks = append(acks, &ack)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate replication acks")
	}

	return acks, nil
}

// CreatePublication marks an epoch as published, keeping the first timestamp.
func (p *PostgreSQLReplicationRepository) CreatePublication(
	ctx context.Context,
	runtimeID string,
	epoch uint64,
	publishedAt time.Time,
) error {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO publications (runtime_id, epoch, published_at)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (runtime_id, epoch) DO NOTHING`

	if _, err := querier.ExecContext(ctx, query, runtimeID, epoch, publishedAt); err != nil {
		return apperrors.Wrap(err, "failed to create publication")
	}

	return nil
}

// IsPublished reports whether an epoch was published.
func (p *PostgreSQLReplicationRepository) IsPublished(
	ctx context.Context,
	runtimeID string,
	epoch uint64,
) (bool, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT EXISTS(SELECT 1 FROM publications WHERE runtime_id = $1 AND epoch = $2)`

	var published bool
	if err := querier.QueryRowContext(ctx, query, runtimeID, epoch).Scan(&published); err != nil {
		return false, apperrors.Wrap(err, "failed to check publication")
	}

	return published, nil
}

// NewPostgreSQLReplicationRepository creates a new PostgreSQL replication repository instance.
func NewPostgreSQLReplicationRepository(db *sql.DB) *PostgreSQLReplicationRepository {
	return &PostgreSQLReplicationRepository{db: db}
}
