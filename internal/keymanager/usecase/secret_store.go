package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"time"

	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
	cryptoService "github.com/allisson/keymanager/internal/crypto/service"
	"github.com/allisson/keymanager/internal/database"
	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/keymanager/domain"
)

var (
	errChecksumMismatch = apperrors.New("stored checksum does not match material")
	errConflictingWrite = apperrors.New("key already holds different material")
)

// secretStore implements SecretStore on top of the repositories and the sealer.
type secretStore struct {
	txManager  database.TxManager
	secretRepo SecretRepository
	policyRepo PolicyRepository
	sealer     cryptoService.Sealer
	codec      PolicyCodec
	locks      *keyLock
	now        func() time.Time
}

// recordAAD binds sealed material to the key it is stored under, so a row
// copied to another key fails to open.
func recordAAD(key domain.RecordKey) []byte {
	return []byte(key.String())
}

// Put seals record.Secret and inserts it unless another writer stored the key
// first. A key that already holds different material is reported as state
// corruption; the stored record is never replaced.
func (s *secretStore) Put(ctx context.Context, record *domain.Record) (*domain.Record, error) {
	key := record.Key()

	expected := domain.ComputeChecksum(key.Kind, key.RuntimeID, key.Version, record.Secret)
	if subtle.ConstantTimeCompare(expected, record.Checksum) != 1 {
		return nil, domain.ChecksumMismatchFor(key.Kind)
	}

	sealed, err := s.sealer.Seal(record.Secret, recordAAD(key))
	if err != nil {
		return nil, err
	}

	row := &domain.Record{
		RuntimeID:        key.RuntimeID,
		Kind:             key.Kind,
		Version:          key.Version,
		Ciphertext:       sealed.Ciphertext,
		Nonce:            sealed.Nonce,
		SealingKeyID:     sealed.KeyID,
		SealingAlgorithm: string(sealed.Algorithm),
		Checksum:         bytes.Clone(record.Checksum),
		CreatedAt:        s.now().UTC(),
	}

	created, err := s.secretRepo.Create(ctx, row)
	if err != nil {
		return nil, err
	}
	if !created {
		winner, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if subtle.ConstantTimeCompare(winner.Checksum, record.Checksum) != 1 {
			cryptoDomain.Zero(winner.Secret)
			return nil, domain.NewStateCorruptedError(errConflictingWrite)
		}
		return winner, nil
	}

	row.Secret = bytes.Clone(record.Secret)
	return row, nil
}

// Get loads, unseals and integrity checks a record.
func (s *secretStore) Get(ctx context.Context, key domain.RecordKey) (*domain.Record, error) {
	row, err := s.secretRepo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, domain.NotFoundFor(key.Kind, key.Version)
		}
		return nil, err
	}

	plaintext, err := s.sealer.Open(&cryptoDomain.Sealed{
		KeyID:      row.SealingKeyID,
		Algorithm:  cryptoDomain.Algorithm(row.SealingAlgorithm),
		Ciphertext: row.Ciphertext,
		Nonce:      row.Nonce,
	}, recordAAD(key))
	if err != nil {
		return nil, domain.NewStateCorruptedError(err)
	}

	expected := domain.ComputeChecksum(key.Kind, key.RuntimeID, key.Version, plaintext)
	if subtle.ConstantTimeCompare(expected, row.Checksum) != 1 {
		cryptoDomain.Zero(plaintext)
		return nil, domain.NewStateCorruptedError(errChecksumMismatch)
	}

	row.Secret = plaintext
	return row, nil
}

// Checksum returns the stored checksum of a record without unsealing it.
func (s *secretStore) Checksum(ctx context.Context, key domain.RecordKey) ([]byte, error) {
	row, err := s.secretRepo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, domain.NotFoundFor(key.Kind, key.Version)
		}
		return nil, err
	}
	return row.Checksum, nil
}

// Latest returns the newest stored version of a runtime's kind.
func (s *secretStore) Latest(ctx context.Context, runtimeID string, kind domain.Kind) (uint64, bool, error) {
	return s.secretRepo.Latest(ctx, runtimeID, kind)
}

// CurrentPolicy loads and verifies the stored policy document of a runtime.
func (s *secretStore) CurrentPolicy(ctx context.Context, runtimeID string) (*domain.SignedPolicy, error) {
	stored, err := s.policyRepo.Get(ctx, runtimeID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, domain.ErrPolicyNotFound
		}
		return nil, err
	}

	return s.decodePolicy(stored)
}

func (s *secretStore) decodePolicy(stored *domain.StoredPolicy) (*domain.SignedPolicy, error) {
	sum := sha256.Sum256(stored.Document)
	if subtle.ConstantTimeCompare(sum[:], stored.Checksum) != 1 {
		return nil, domain.NewStateCorruptedError(errChecksumMismatch)
	}

	signed, err := s.codec.Decode(stored.Document)
	if err != nil {
		return nil, domain.NewStateCorruptedError(err)
	}
	if signed.Policy.RuntimeID != stored.RuntimeID || signed.Policy.Serial != stored.Serial {
		return nil, domain.NewStateCorruptedError(apperrors.New("policy row does not match its document"))
	}

	return signed, nil
}

// PutPolicy applies the serial rules against the current policy and writes the
// new one, all under a per-runtime lock and a row lock.
func (s *secretStore) PutPolicy(ctx context.Context, signed *domain.SignedPolicy) error {
	document, err := s.codec.Encode(signed)
	if err != nil {
		return domain.NewPolicyInvalidError(err)
	}
	sum := sha256.Sum256(document)

	next := &domain.StoredPolicy{
		RuntimeID: signed.Policy.RuntimeID,
		Serial:    signed.Policy.Serial,
		Document:  document,
		Checksum:  sum[:],
		UpdatedAt: s.now().UTC(),
	}

	unlock := s.locks.Lock("policy/" + next.RuntimeID)
	defer unlock()

	return s.txManager.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.policyRepo.GetForUpdate(txCtx, next.RuntimeID)
		if errors.Is(err, apperrors.ErrNotFound) {
			var created bool
			if created, err = s.policyRepo.Create(txCtx, next); err != nil || created {
				return err
			}
			// Another node inserted the first policy after our read.
			current, err = s.policyRepo.GetForUpdate(txCtx, next.RuntimeID)
		}
		if err != nil {
			return err
		}

		if _, err := s.decodePolicy(current); err != nil {
			return err
		}

		switch {
		case next.Serial < current.Serial:
			return domain.ErrPolicyRollback
		case next.Serial == current.Serial:
			if bytes.Equal(next.Document, current.Document) {
				return nil
			}
			return domain.ErrPolicyChanged
		default:
			return s.policyRepo.Update(txCtx, next)
		}
	})
}

// NewSecretStore creates a new SecretStore.
func NewSecretStore(
	txManager database.TxManager,
	secretRepo SecretRepository,
	policyRepo PolicyRepository,
	sealer cryptoService.Sealer,
	codec PolicyCodec,
) SecretStore {
	return &secretStore{
		txManager:  txManager,
		secretRepo: secretRepo,
		policyRepo: policyRepo,
		sealer:     sealer,
		codec:      codec,
		locks:      newKeyLock(),
		now:        time.Now,
	}
}
