package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/keymanager/domain"
)

// fakeMasterSource hands out a fresh copy of each generation on every call,
// since the deriver wipes what it receives.
type fakeMasterSource struct {
	generations   map[uint64]byte
	notReplicated map[uint64]bool
	fetched       []uint64
}

func (f *fakeMasterSource) Latest(_ context.Context, _ string) (uint64, bool, error) {
	var latest uint64
	found := false
	for g := range f.generations {
		if !found || g > latest {
			latest, found = g, true
		}
	}
	return latest, found, nil
}

func (f *fakeMasterSource) Fetch(_ context.Context, _ string, generation uint64) (*domain.MasterSecret, error) {
	f.fetched = append(f.fetched, generation)
	if f.notReplicated[generation] {
		return nil, domain.NewMasterSecretNotReplicatedError(generation)
	}
	b, ok := f.generations[generation]
	if !ok {
		return nil, domain.NewMasterSecretNotFoundError(generation)
	}
	return &domain.MasterSecret{Generation: generation, Secret: bytes.Repeat([]byte{b}, domain.SecretSize)}, nil
}

func TestRandomDeriver(t *testing.T) {
	ctx := context.Background()

	a, err := RandomDeriver{}.Derive(ctx, "rt-1", 1)
	require.NoError(t, err)
	b, err := RandomDeriver{}.Derive(ctx, "rt-1", 1)
	require.NoError(t, err)

	assert.Len(t, a, domain.SecretSize)
	assert.NotEqual(t, a, b)
}

func TestMasterDeriver(t *testing.T) {
	ctx := context.Background()

	t.Run("deterministic per runtime and epoch", func(t *testing.T) {
		deriver := NewMasterDeriver(&fakeMasterSource{generations: map[uint64]byte{0: 7}})

		first, err := deriver.Derive(ctx, "rt-1", 5)
		require.NoError(t, err)
		second, err := deriver.Derive(ctx, "rt-1", 5)
		require.NoError(t, err)
		otherEpoch, err := deriver.Derive(ctx, "rt-1", 6)
		require.NoError(t, err)
		otherRuntime, err := deriver.Derive(ctx, "rt-2", 5)
		require.NoError(t, err)

		assert.Len(t, first, domain.SecretSize)
		assert.Equal(t, first, second)
		assert.NotEqual(t, first, otherEpoch)
		assert.NotEqual(t, first, otherRuntime)
	})

	t.Run("different master secrets derive different material", func(t *testing.T) {
		a, err := NewMasterDeriver(&fakeMasterSource{generations: map[uint64]byte{0: 1}}).Derive(ctx, "rt-1", 1)
		require.NoError(t, err)
		b, err := NewMasterDeriver(&fakeMasterSource{generations: map[uint64]byte{0: 2}}).Derive(ctx, "rt-1", 1)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("falls back to the previous generation while the newest replicates", func(t *testing.T) {
		source := &fakeMasterSource{
			generations:   map[uint64]byte{2: 2, 3: 3},
			notReplicated: map[uint64]bool{3: true},
		}

		secret, err := NewMasterDeriver(source).Derive(ctx, "rt-1", 1)
		require.NoError(t, err)
		assert.Len(t, secret, domain.SecretSize)
		assert.Equal(t, []uint64{3, 2}, source.fetched)
	})

	t.Run("requires a master secret", func(t *testing.T) {
		_, err := NewMasterDeriver(&fakeMasterSource{}).Derive(ctx, "rt-1", 1)
		assert.ErrorIs(t, err, domain.ErrNotInitialized)
	})
}

func TestNewEphemeralDeriver(t *testing.T) {
	deriver, err := NewEphemeralDeriver("random", nil)
	require.NoError(t, err)
	assert.IsType(t, RandomDeriver{}, deriver)

	deriver, err = NewEphemeralDeriver("master", &fakeMasterSource{})
	require.NoError(t, err)
	assert.IsType(t, &MasterDeriver{}, deriver)

	_, err = NewEphemeralDeriver("sha1", nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
