package usecase

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/keymanager/domain"
	"github.com/allisson/keymanager/internal/registry"
)

// replicationCoordinator implements ReplicationCoordinator.
type replicationCoordinator struct {
	replicationRepo   ReplicationRepository
	secretRepo        SecretRepository
	registry          registry.Registry
	thresholdOverride int
	locks             *keyLock
	logger            *slog.Logger
	now               func() time.Time
}

// Ack records that replicaID holds the record under key with checksum. The
// first acknowledgment of a replica is final and every acknowledgment of a key
// must agree with the others and with the local copy.
func (r *replicationCoordinator) Ack(
	ctx context.Context,
	key domain.RecordKey,
	replicaID string,
	checksum []byte,
) error {
	known, err := r.registry.IsReplica(ctx, replicaID)
	if err != nil {
		return err
	}
	if !known {
		return domain.ErrNotAuthorized
	}

	unlock := r.locks.Lock(key.String())
	defer unlock()

	local, err := r.secretRepo.Get(ctx, key)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	if local != nil && !bytes.Equal(local.Checksum, checksum) {
		r.logMismatch(key, replicaID)
		return domain.ChecksumMismatchFor(key.Kind)
	}

	acked, err := r.checkAcks(ctx, key, replicaID, checksum)
	if err != nil || acked {
		return err
	}

	created, err := r.replicationRepo.CreateAck(ctx, &domain.ReplicationAck{
		RuntimeID: key.RuntimeID,
		Kind:      key.Kind,
		Version:   key.Version,
		ReplicaID: replicaID,
		Checksum:  bytes.Clone(checksum),
		CreatedAt: r.now().UTC(),
	})
	if err != nil {
		return err
	}
	if !created {
		// Another process stored the acknowledgment in between.
		_, err = r.checkAcks(ctx, key, replicaID, checksum)
		return err
	}

	r.logger.Debug("replication acknowledged",
		slog.String("record", key.String()),
		slog.String("replica_id", replicaID),
	)
	return nil
}

// checkAcks compares checksum with every stored acknowledgment of key and
// reports whether replicaID already acknowledged it.
func (r *replicationCoordinator) checkAcks(
	ctx context.Context,
	key domain.RecordKey,
	replicaID string,
	checksum []byte,
) (bool, error) {
	acks, err := r.replicationRepo.ListAcks(ctx, key)
	if err != nil {
		return false, err
	}

	acked := false
	for _, ack := range acks {
		if !bytes.Equal(ack.Checksum, checksum) {
			r.logMismatch(key, replicaID)
			return false, domain.ChecksumMismatchFor(key.Kind)
		}
		if ack.ReplicaID == replicaID {
			acked = true
		}
	}
	return acked, nil
}

func (r *replicationCoordinator) logMismatch(key domain.RecordKey, replicaID string) {
	r.logger.Warn("replication checksum mismatch",
		slog.String("record", key.String()),
		slog.String("replica_id", replicaID),
	)
}

// Threshold returns the number of distinct replicas a record needs.
func (r *replicationCoordinator) Threshold(ctx context.Context) (int, error) {
	replicas, err := r.registry.Replicas(ctx)
	if err != nil {
		return 0, err
	}
	return registry.ReplicationThreshold(len(replicas), r.thresholdOverride), nil
}

// IsReplicated reports whether enough current replicas acknowledged key.
func (r *replicationCoordinator) IsReplicated(ctx context.Context, key domain.RecordKey) (bool, error) {
	replicas, err := r.registry.Replicas(ctx)
	if err != nil {
		return false, err
	}
	threshold := registry.ReplicationThreshold(len(replicas), r.thresholdOverride)

	acks, err := r.replicationRepo.ListAcks(ctx, key)
	if err != nil {
		return false, err
	}

	count := 0
	for _, ack := range acks {
		if slices.Contains(replicas, ack.ReplicaID) {
			count++
		}
	}
	return count >= threshold, nil
}

// Acks returns the replicas that acknowledged key, sorted.
func (r *replicationCoordinator) Acks(ctx context.Context, key domain.RecordKey) ([]string, error) {
	acks, err := r.replicationRepo.ListAcks(ctx, key)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(acks))
	for _, ack := range acks {
		ids = append(ids, ack.ReplicaID)
	}
	slices.Sort(ids)
	return ids, nil
}

// MarkPublished publishes a replicated epoch. Publishing twice is a no-op.
func (r *replicationCoordinator) MarkPublished(ctx context.Context, runtimeID string, epoch uint64) error {
	key := domain.RecordKey{RuntimeID: runtimeID, Kind: domain.KindEphemeral, Version: epoch}

	replicated, err := r.IsReplicated(ctx, key)
	if err != nil {
		return err
	}
	if !replicated {
		return domain.NewEphemeralSecretNotReplicatedError(epoch)
	}

	return r.replicationRepo.CreatePublication(ctx, runtimeID, epoch, r.now().UTC())
}

// IsPublished reports whether an epoch was published.
func (r *replicationCoordinator) IsPublished(ctx context.Context, runtimeID string, epoch uint64) (bool, error) {
	return r.replicationRepo.IsPublished(ctx, runtimeID, epoch)
}

// NewReplicationCoordinator creates a new ReplicationCoordinator. A positive
// thresholdOverride replaces the threshold derived from the replica set.
func NewReplicationCoordinator(
	replicationRepo ReplicationRepository,
	secretRepo SecretRepository,
	reg registry.Registry,
	thresholdOverride int,
	logger *slog.Logger,
) ReplicationCoordinator {
	return &replicationCoordinator{
		replicationRepo:   replicationRepo,
		secretRepo:        secretRepo,
		registry:          reg,
		thresholdOverride: thresholdOverride,
		locks:             newKeyLock(),
		logger:            logger,
		now:               time.Now,
	}
}
