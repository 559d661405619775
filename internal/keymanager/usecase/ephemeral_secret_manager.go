package usecase

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/allisson/keymanager/internal/consensus"
	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/keymanager/domain"
)

// ephemeralSecretManager implements EphemeralSecretManager.
type ephemeralSecretManager struct {
	lifecycle
	oracle  consensus.Oracle
	deriver EphemeralDeriver
	group   singleflight.Group
}

func ephemeralKey(runtimeID string, epoch uint64) domain.RecordKey {
	return domain.RecordKey{RuntimeID: runtimeID, Kind: domain.KindEphemeral, Version: epoch}
}

// checkEpoch rejects epochs the consensus layer has not reached yet.
func (e *ephemeralSecretManager) checkEpoch(ctx context.Context, epoch uint64) error {
	current, err := e.oracle.CurrentEpoch(ctx)
	if err != nil {
		return err
	}
	if epoch > current {
		return domain.NewGenerationFromFutureError(current, epoch)
	}
	return nil
}

// checkSequence accepts any reached epoch as the first one and only latest+1 afterwards.
func (e *ephemeralSecretManager) checkSequence(ctx context.Context, key domain.RecordKey) error {
	latest, found, err := e.store.Latest(ctx, key.RuntimeID, domain.KindEphemeral)
	if err != nil {
		return err
	}
	if found && key.Version != latest+1 {
		return domain.NewInvalidEpochError(latest+1, key.Version)
	}
	return nil
}

// Generate creates the secret of epoch or returns the existing one. The
// returned secret carries no material.
func (e *ephemeralSecretManager) Generate(
	ctx context.Context,
	runtimeID string,
	epoch uint64,
) (*domain.EphemeralSecret, error) {
	if err := e.checkEpoch(ctx, epoch); err != nil {
		return nil, err
	}

	key := ephemeralKey(runtimeID, epoch)
	return generateOnce(ctx, &e.group, key, e.generate)
}

func (e *ephemeralSecretManager) generate(ctx context.Context, key domain.RecordKey) (*domain.EphemeralSecret, error) {
	existing, err := e.describe(ctx, key)
	if err == nil {
		return e.view(ctx, existing)
	}
	if !errors.Is(err, domain.ErrEphemeralSecretNotFound) {
		return nil, err
	}

	if err := e.checkSequence(ctx, key); err != nil {
		return nil, err
	}

	secret, err := e.deriver.Derive(ctx, key.RuntimeID, key.Version)
	if err != nil {
		return nil, err
	}
	defer cryptoDomain.Zero(secret)

	stored, err := e.persistGenerated(ctx, key, secret)
	if err != nil {
		return nil, err
	}

	e.logger.Info("ephemeral secret generated",
		slog.String("runtime_id", key.RuntimeID),
		slog.Uint64("epoch", key.Version),
	)

	return e.view(ctx, stored)
}

func (e *ephemeralSecretManager) view(ctx context.Context, record *domain.Record) (*domain.EphemeralSecret, error) {
	key := record.Key()

	acks, err := e.coordinator.Acks(ctx, key)
	if err != nil {
		return nil, err
	}
	replicated, err := e.coordinator.IsReplicated(ctx, key)
	if err != nil {
		return nil, err
	}
	published, err := e.coordinator.IsPublished(ctx, key.RuntimeID, key.Version)
	if err != nil {
		return nil, err
	}

	return domain.NewEphemeralSecret(record, acks, replicated, published), nil
}

// Fetch returns the material of a replicated and published epoch.
//
// Security Note: callers MUST zero the returned Secret after use.
func (e *ephemeralSecretManager) Fetch(
	ctx context.Context,
	runtimeID string,
	epoch uint64,
) (*domain.EphemeralSecret, error) {
	key := ephemeralKey(runtimeID, epoch)

	if _, err := e.store.Checksum(ctx, key); err != nil {
		return nil, err
	}

	replicated, err := e.coordinator.IsReplicated(ctx, key)
	if err != nil {
		return nil, err
	}
	if !replicated {
		return nil, domain.NewEphemeralSecretNotReplicatedError(epoch)
	}

	published, err := e.coordinator.IsPublished(ctx, runtimeID, epoch)
	if err != nil {
		return nil, err
	}
	if !published {
		return nil, domain.ErrEphemeralSecretNotPublished
	}

	record, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	secret, err := e.view(ctx, record)
	if err != nil {
		cryptoDomain.Zero(record.Secret)
		return nil, err
	}
	return secret, nil
}

// Latest returns the newest stored epoch.
func (e *ephemeralSecretManager) Latest(ctx context.Context, runtimeID string) (uint64, bool, error) {
	return e.store.Latest(ctx, runtimeID, domain.KindEphemeral)
}

// Publish makes a replicated epoch available to enclaves.
func (e *ephemeralSecretManager) Publish(
	ctx context.Context,
	runtimeID string,
	epoch uint64,
) (*domain.EphemeralSecret, error) {
	key := ephemeralKey(runtimeID, epoch)

	if _, err := e.store.Checksum(ctx, key); err != nil {
		return nil, err
	}

	if err := e.coordinator.MarkPublished(ctx, runtimeID, epoch); err != nil {
		return nil, err
	}

	e.logger.Info("ephemeral secret published",
		slog.String("runtime_id", runtimeID),
		slog.Uint64("epoch", epoch),
	)

	record, err := e.describe(ctx, key)
	if err != nil {
		return nil, err
	}
	return e.view(ctx, record)
}

// Import stores an epoch exported by a peer replica.
func (e *ephemeralSecretManager) Import(
	ctx context.Context,
	sealed *domain.SealedSecret,
) (*domain.EphemeralSecret, error) {
	if sealed.Kind != domain.KindEphemeral {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "cannot import %s secret as ephemeral", sealed.Kind)
	}
	if err := e.checkEpoch(ctx, sealed.Version); err != nil {
		return nil, err
	}
	key := ephemeralKey(sealed.RuntimeID, sealed.Version)

	secret, err := e.openImport(sealed)
	if err != nil {
		return nil, err
	}
	defer cryptoDomain.Zero(secret)

	existing, err := e.existing(ctx, key, sealed.Checksum)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return e.view(ctx, existing)
	}

	if err := e.checkSequence(ctx, key); err != nil {
		return nil, err
	}

	stored, err := e.persist(ctx, key, secret)
	if err != nil {
		return nil, err
	}

	e.logger.Info("ephemeral secret imported",
		slog.String("runtime_id", key.RuntimeID),
		slog.Uint64("epoch", key.Version),
	)

	return e.view(ctx, stored)
}

// Export seals a stored epoch to a peer replica's encryption key.
func (e *ephemeralSecretManager) Export(
	ctx context.Context,
	runtimeID string,
	epoch uint64,
	peerREK []byte,
) (*domain.SealedSecret, error) {
	return e.export(ctx, ephemeralKey(runtimeID, epoch), peerREK)
}

// NewEphemeralSecretManager creates a new EphemeralSecretManager.
func NewEphemeralSecretManager(
	store SecretStore,
	coordinator ReplicationCoordinator,
	oracle consensus.Oracle,
	deriver EphemeralDeriver,
	replicaID string,
	nodeREK REKOpener,
	logger *slog.Logger,
) EphemeralSecretManager {
	return &ephemeralSecretManager{
		lifecycle: lifecycle{
			store:       store,
			coordinator: coordinator,
			replicaID:   replicaID,
			nodeREK:     nodeREK,
			logger:      logger,
		},
		oracle:  oracle,
		deriver: deriver,
	}
}
