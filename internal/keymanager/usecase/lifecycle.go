package usecase

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"

	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
	cryptoService "github.com/allisson/keymanager/internal/crypto/service"
	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/keymanager/domain"
)

var errNodeREKMissing = apperrors.Wrap(
	apperrors.ErrServiceUnavailable,
	"node runtime encryption key is not configured",
)

// lifecycle holds what master and ephemeral secrets share: storing material
// with a self acknowledgment and moving material between replicas.
type lifecycle struct {
	store       SecretStore
	coordinator ReplicationCoordinator
	replicaID   string
	nodeREK     REKOpener
	logger      *slog.Logger
}

// persist stores secret under key and acknowledges the local copy. The
// returned record carries no material.
func (l *lifecycle) persist(ctx context.Context, key domain.RecordKey, secret []byte) (*domain.Record, error) {
	stored, err := l.store.Put(ctx, &domain.Record{
		RuntimeID: key.RuntimeID,
		Kind:      key.Kind,
		Version:   key.Version,
		Secret:    secret,
		Checksum:  domain.ComputeChecksum(key.Kind, key.RuntimeID, key.Version, secret),
	})
	if err != nil {
		return nil, err
	}
	cryptoDomain.Zero(stored.Secret)
	stored.Secret = nil

	if err := l.coordinator.Ack(ctx, key, l.replicaID, stored.Checksum); err != nil {
		return nil, err
	}
	return stored, nil
}

// persistGenerated stores freshly drawn material. Another generator storing
// the key first is not an error: its record is the one every caller sees.
func (l *lifecycle) persistGenerated(ctx context.Context, key domain.RecordKey, secret []byte) (*domain.Record, error) {
	stored, err := l.persist(ctx, key, secret)
	if errors.Is(err, errConflictingWrite) {
		l.logger.Info("concurrent generation already stored",
			slog.String("record", key.String()),
		)
		return l.describe(ctx, key)
	}
	return stored, err
}

// describe loads the stored record of key without keeping its material.
func (l *lifecycle) describe(ctx context.Context, key domain.RecordKey) (*domain.Record, error) {
	record, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	cryptoDomain.Zero(record.Secret)
	record.Secret = nil
	return record, nil
}

// openImport recovers material a peer sealed to this node and checks it
// against the checksum the peer announced.
func (l *lifecycle) openImport(sealed *domain.SealedSecret) ([]byte, error) {
	if l.nodeREK == nil {
		return nil, errNodeREKMissing
	}

	plaintext, err := l.nodeREK.Open(sealed.Sealed)
	if err != nil {
		return nil, domain.ErrInvalidCiphertext
	}

	expected := domain.ComputeChecksum(sealed.Kind, sealed.RuntimeID, sealed.Version, plaintext)
	if subtle.ConstantTimeCompare(expected, sealed.Checksum) != 1 {
		cryptoDomain.Zero(plaintext)
		return nil, domain.ChecksumMismatchFor(sealed.Kind)
	}
	return plaintext, nil
}

// existing returns the stored record of key without material, nil when absent,
// or a checksum mismatch when the stored copy differs from checksum.
func (l *lifecycle) existing(ctx context.Context, key domain.RecordKey, checksum []byte) (*domain.Record, error) {
	stored, err := l.store.Checksum(ctx, key)
	if err != nil {
		if apperrors.Is(err, domain.NotFoundFor(key.Kind, key.Version)) {
			return nil, nil
		}
		return nil, err
	}
	if !bytes.Equal(stored, checksum) {
		return nil, domain.ChecksumMismatchFor(key.Kind)
	}
	return l.describe(ctx, key)
}

// export seals the stored material of key to a peer replica's encryption key.
func (l *lifecycle) export(ctx context.Context, key domain.RecordKey, peerREK []byte) (*domain.SealedSecret, error) {
	record, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer cryptoDomain.Zero(record.Secret)

	sealed, err := cryptoService.SealToREK(peerREK, record.Secret)
	if err != nil {
		return nil, err
	}

	l.logger.Info("secret exported",
		slog.String("record", key.String()),
	)

	return &domain.SealedSecret{
		RuntimeID: key.RuntimeID,
		Kind:      key.Kind,
		Version:   key.Version,
		Checksum:  record.Checksum,
		Sealed:    sealed,
	}, nil
}
