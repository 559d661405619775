package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/keymanager/domain"
)

// masterSecretManager implements MasterSecretManager.
type masterSecretManager struct {
	lifecycle
	group singleflight.Group
}

func masterKey(runtimeID string, generation uint64) domain.RecordKey {
	return domain.RecordKey{RuntimeID: runtimeID, Kind: domain.KindMaster, Version: generation}
}

// nextVersion returns the only version that may be created after latest.
func nextVersion(latest uint64, found bool) uint64 {
	if !found {
		return 0
	}
	return latest + 1
}

// Generate creates the next master generation or returns the existing one.
// The returned secret carries no material.
func (m *masterSecretManager) Generate(
	ctx context.Context,
	runtimeID string,
	generation uint64,
) (*domain.MasterSecret, error) {
	key := masterKey(runtimeID, generation)

	return generateOnce(ctx, &m.group, key, m.generate)
}

func (m *masterSecretManager) generate(ctx context.Context, key domain.RecordKey) (*domain.MasterSecret, error) {
	existing, err := m.describe(ctx, key)
	if err == nil {
		return m.view(ctx, existing)
	}
	if !errors.Is(err, domain.ErrMasterSecretNotFound) {
		return nil, err
	}

	latest, found, err := m.store.Latest(ctx, key.RuntimeID, domain.KindMaster)
	if err != nil {
		return nil, err
	}
	if expected := nextVersion(latest, found); key.Version != expected {
		return nil, domain.NewInvalidGenerationError(expected, key.Version)
	}

	if found {
		replicated, err := m.coordinator.IsReplicated(ctx, masterKey(key.RuntimeID, latest))
		if err != nil {
			return nil, err
		}
		if !replicated {
			return nil, domain.ErrReplicationRequired
		}
	}

	secret := make([]byte, domain.SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate master secret: %w", err)
	}
	defer cryptoDomain.Zero(secret)

	stored, err := m.persistGenerated(ctx, key, secret)
	if err != nil {
		return nil, err
	}

	m.logger.Info("master secret generated",
		slog.String("runtime_id", key.RuntimeID),
		slog.Uint64("generation", key.Version),
	)

	return m.view(ctx, stored)
}

func (m *masterSecretManager) view(ctx context.Context, record *domain.Record) (*domain.MasterSecret, error) {
	acks, err := m.coordinator.Acks(ctx, record.Key())
	if err != nil {
		return nil, err
	}
	return domain.NewMasterSecret(record, acks), nil
}

// Fetch returns the material of a replicated generation.
//
// Security Note: callers MUST zero the returned Secret after use.
func (m *masterSecretManager) Fetch(
	ctx context.Context,
	runtimeID string,
	generation uint64,
) (*domain.MasterSecret, error) {
	key := masterKey(runtimeID, generation)

	if _, err := m.store.Checksum(ctx, key); err != nil {
		return nil, err
	}

	replicated, err := m.coordinator.IsReplicated(ctx, key)
	if err != nil {
		return nil, err
	}
	if !replicated {
		return nil, domain.NewMasterSecretNotReplicatedError(generation)
	}

	record, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	secret, err := m.view(ctx, record)
	if err != nil {
		cryptoDomain.Zero(record.Secret)
		return nil, err
	}
	return secret, nil
}

// Latest returns the newest stored generation.
func (m *masterSecretManager) Latest(ctx context.Context, runtimeID string) (uint64, bool, error) {
	return m.store.Latest(ctx, runtimeID, domain.KindMaster)
}

// Import stores a generation exported by a peer replica. The generation
// sequence applies, but the previous generation need not be replicated here
// since this replica is the one catching up.
func (m *masterSecretManager) Import(
	ctx context.Context,
	sealed *domain.SealedSecret,
) (*domain.MasterSecret, error) {
	if sealed.Kind != domain.KindMaster {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "cannot import %s secret as master", sealed.Kind)
	}
	key := masterKey(sealed.RuntimeID, sealed.Version)

	secret, err := m.openImport(sealed)
	if err != nil {
		return nil, err
	}
	defer cryptoDomain.Zero(secret)

	existing, err := m.existing(ctx, key, sealed.Checksum)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return m.view(ctx, existing)
	}

	latest, found, err := m.store.Latest(ctx, key.RuntimeID, domain.KindMaster)
	if err != nil {
		return nil, err
	}
	if expected := nextVersion(latest, found); key.Version != expected {
		return nil, domain.NewInvalidGenerationError(expected, key.Version)
	}

	stored, err := m.persist(ctx, key, secret)
	if err != nil {
		return nil, err
	}

	m.logger.Info("master secret imported",
		slog.String("runtime_id", key.RuntimeID),
		slog.Uint64("generation", key.Version),
	)

	return m.view(ctx, stored)
}

// Export seals a stored generation to a peer replica's encryption key.
func (m *masterSecretManager) Export(
	ctx context.Context,
	runtimeID string,
	generation uint64,
	peerREK []byte,
) (*domain.SealedSecret, error) {
	return m.export(ctx, masterKey(runtimeID, generation), peerREK)
}

// NewMasterSecretManager creates a new MasterSecretManager. nodeREK may be nil,
// in which case imports are refused.
func NewMasterSecretManager(
	store SecretStore,
	coordinator ReplicationCoordinator,
	replicaID string,
	nodeREK REKOpener,
	logger *slog.Logger,
) MasterSecretManager {
	return &masterSecretManager{
		lifecycle: lifecycle{
			store:       store,
			coordinator: coordinator,
			replicaID:   replicaID,
			nodeREK:     nodeREK,
			logger:      logger,
		},
	}
}
