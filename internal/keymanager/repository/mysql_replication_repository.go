package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/allisson/keymanager/internal/database"
	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/keymanager/domain"
)

// MySQLReplicationRepository implements acknowledgment and publication
// persistence for MySQL databases.
type MySQLReplicationRepository struct {
	db *sql.DB
}

// CreateAck inserts an acknowledgment. The first acknowledgment of a replica is kept.
func (m *MySQLReplicationRepository) CreateAck(ctx context.Context, ack *domain.ReplicationAck) (bool, error) {
	querier := database.GetTx(ctx, m.db)

	query := `INSERT IGNORE INTO replication_acks (runtime_id, kind, version, replica_id, checksum, created_at)
			  VALUES (?, ?, ?, ?, ?, ?)`

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
func (m *MySQLReplicationRepository) ListAcks(
	ctx context.Context,
	key domain.RecordKey,
) ([]*domain.ReplicationAck, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT runtime_id, kind, version, replica_id, checksum, created_at
			  FROM replication_acks
			  WHERE runtime_id = ? AND kind = ? AND version = ?
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
func (m *MySQLReplicationRepository) CreatePublication(
	ctx context.Context,
	runtimeID string,
	epoch uint64,
	publishedAt time.Time,
) error {
	querier := database.GetTx(ctx, m.db)

	query := `INSERT IGNORE INTO publications (runtime_id, epoch, published_at)
			  VALUES (?, ?, ?)`

	if _, err := querier.ExecContext(ctx, query, runtimeID, epoch, publishedAt); err != nil {
		return apperrors.Wrap(err, "failed to create publication")
	}

	return nil
}

// IsPublished reports whether an epoch was published.
func (m *MySQLReplicationRepository) IsPublished(
	ctx context.Context,
	runtimeID string,
	epoch uint64,
) (bool, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT EXISTS(SELECT 1 FROM publications WHERE runtime_id = ? AND epoch = ?)`

	var published bool
	if err := querier.QueryRowContext(ctx, query, runtimeID, epoch).Scan(&published); err != nil {
		return false, apperrors.Wrap(err, "failed to check publication")
	}

	return published, nil
}

// NewMySQLReplicationRepository creates a new MySQL replication repository instance.
func NewMySQLReplicationRepository(db *sql.DB) *MySQLReplicationRepository {
	return &MySQLReplicationRepository{db: db}
}
