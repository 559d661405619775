package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/keymanager/domain"
)

// Ephemeral derivation strategies.
const (
	DerivationRandom = "random"
	DerivationMaster = "master"
)

const ephemeralInfoContext = "keymanager/ephemeral: v1"

// EphemeralDeriver produces the material of a new ephemeral secret.
type EphemeralDeriver interface {
	Derive(ctx context.Context, runtimeID string, epoch uint64) ([]byte, error)
}

// RandomDeriver draws ephemeral secrets from crypto/rand.
type RandomDeriver struct{}

// Derive returns fresh random material.
func (RandomDeriver) Derive(_ context.Context, _ string, _ uint64) ([]byte, error) {
	secret := make([]byte, domain.SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral secret: %w", err)
	}
	return secret, nil
}

// MasterSource is the view of master secrets a MasterDeriver needs.
type MasterSource interface {
	Latest(ctx context.Context, runtimeID string) (uint64, bool, error)
	Fetch(ctx context.Context, runtimeID string, generation uint64) (*domain.MasterSecret, error)
}

// MasterDeriver derives ephemeral secrets with HKDF-SHA256 from the newest
// replicated master generation.
type MasterDeriver struct {
	masters MasterSource
}

// NewMasterDeriver creates a MasterDeriver.
func NewMasterDeriver(masters MasterSource) *MasterDeriver {
	return &MasterDeriver{masters: masters}
}

// Derive expands the master secret with info = context, runtime and epoch.
func (d *MasterDeriver) Derive(ctx context.Context, runtimeID string, epoch uint64) ([]byte, error) {
	master, err := d.latestReplicated(ctx, runtimeID)
	if err != nil {
		return nil, err
	}
	defer cryptoDomain.Zero(master.Secret)

	secret := make([]byte, domain.SecretSize)
	reader := hkdf.New(sha256.New, master.Secret, nil, ephemeralInfo(runtimeID, epoch))
	if _, err := io.ReadFull(reader, secret); err != nil {
		return nil, fmt.Errorf("failed to derive ephemeral secret: %w", err)
	}
	return secret, nil
}

// latestReplicated returns the newest generation, or the one before it when the
// newest is still replicating. Older generations are always replicated because
// a new generation requires its predecessor to be.
func (d *MasterDeriver) latestReplicated(ctx context.Context, runtimeID string) (*domain.MasterSecret, error) {
	latest, found, err := d.masters.Latest(ctx, runtimeID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrNotInitialized
	}

	master, err := d.masters.Fetch(ctx, runtimeID, latest)
	if err == nil {
		return master, nil
	}
	if !errors.Is(err, domain.ErrMasterSecretNotReplicated) || latest == 0 {
		return nil, err
	}
	return d.masters.Fetch(ctx, runtimeID, latest-1)
}

func ephemeralInfo(runtimeID string, epoch uint64) []byte {
	info := make([]byte, 0, len(ephemeralInfoContext)+4+len(runtimeID)+8)
	info = append(info, ephemeralInfoContext...)
	info = binary.BigEndian.AppendUint32(info, uint32(len(runtimeID)))
	info = append(info, runtimeID...)
	return binary.BigEndian.AppendUint64(info, epoch)
}

// NewEphemeralDeriver returns the deriver named by strategy.
func NewEphemeralDeriver(strategy string, masters MasterSource) (EphemeralDeriver, error) {
	switch strategy {
	case "", DerivationRandom:
		return RandomDeriver{}, nil
	case DerivationMaster:
		return NewMasterDeriver(masters), nil
	default:
		return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "unknown ephemeral derivation %q", strategy)
	}
}
