package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type customError struct {
	Msg string
}

func (e customError) Error() string { return e.Msg }

func TestNew(t *testing.T) {
	err := New("test error")
	require.Error(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestWrap(t *testing.T) {
	baseErr := errors.New("base error")

	t.Run("wrap non-nil error", func(t *testing.T) {
		wrapped := Wrap(baseErr, "wrapped")
		require.Error(t, wrapped)
		assert.Equal(t, "wrapped: base error", wrapped.Error())
		assert.ErrorIs(t, wrapped, baseErr)
	})

	t.Run("wrap nil error", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, "wrapped"))
	})
}

func TestWrapf(t *testing.T) {
	baseErr := errors.New("base error")

	t.Run("wrapf non-nil error", func(t *testing.T) {
		wrapped := Wrapf(baseErr, "wrapped %d", 123)
		require.Error(t, wrapped)
		assert.Equal(t, "wrapped 123: base error", wrapped.Error())
		assert.ErrorIs(t, wrapped, baseErr)
	})

	t.Run("wrapf nil error", func(t *testing.T) {
		assert.NoError(t, Wrapf(nil, "wrapped %d", 123))
	})
}

func TestIs(t *testing.T) {
	categories := []error{
		ErrNotFound,
		ErrConflict,
		ErrInvalidInput,
		ErrUnauthorized,
		ErrForbidden,
		ErrRetryable,
		ErrServiceUnavailable,
	}

	for _, category := range categories {
		t.Run(category.Error(), func(t *testing.T) {
			assert.True(t, Is(Wrap(category, "context"), category))
			for _, other := range categories {
				if other != category {
					assert.False(t, Is(category, other))
				}
			}
		})
	}
}

func TestAs(t *testing.T) {
	wrapped := Wrap(customError{Msg: "custom"}, "context")

	var target customError
	require.True(t, As(wrapped, &target))
	assert.Equal(t, "custom", target.Msg)
}

func TestJoin(t *testing.T) {
	joined := Join(ErrNotFound, ErrRetryable)
	assert.True(t, Is(joined, ErrNotFound))
	assert.True(t, Is(joined, ErrRetryable))
	assert.NoError(t, Join(nil, nil))
}
