package http

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/allisson/keymanager/internal/keymanager/domain"
	"github.com/allisson/keymanager/internal/keymanager/http/dto"
	"github.com/allisson/keymanager/internal/keymanager/usecase/mocks"
)

func setupSecretHandler() (*SecretHandler, *mocks.MockGate) {
	gate := &mocks.MockGate{}
	return NewSecretHandler(gate, createTestLogger()), gate
}

func TestSecretHandler_FetchMasterSecretHandler(t *testing.T) {
	path := "/v1/runtimes/rt-1/master-secrets/0/fetch"

	t.Run("Success_Plaintext", func(t *testing.T) {
		handler, gate := setupSecretHandler()
		session := testSession()
		secret := []byte("0123456789abcdef0123456789abcdef")
		released := &domain.ReleasedSecret{
			RuntimeID: testRuntime,
			Kind:      domain.KindMaster,
			Version:   0,
			Checksum:  []byte("checksum"),
			Secret:    append([]byte(nil), secret...),
		}

		gate.On("FetchMasterSecret", mock.Anything, session, &domain.FetchRequest{
			RuntimeID: testRuntime,
			Version:   0,
			Height:    100,
		}).Return(released, nil).Once()

		c, w := createTestContext(http.MethodPost, path, dto.FetchSecretRequest{Height: uint64Ptr(100)},
			"runtime", testRuntime, "generation", "0")
		withTestSession(c, session)

		handler.FetchMasterSecretHandler(c)

		assert.Equal(t, http.StatusOK, w.Code)
		var response dto.ReleasedSecretResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "master", response.Kind)
		assert.Equal(t, secret, response.Secret)
		assert.Nil(t, response.Sealed)
		// Plaintext is wiped once the response is written.
		assert.Equal(t, make([]byte, len(secret)), released.Secret)
		gate.AssertExpectations(t)
	})

	t.Run("Error_NoSession", func(t *testing.T) {
		handler, gate := setupSecretHandler()

		gate.On("FetchMasterSecret", mock.Anything, (*domain.Session)(nil), mock.Anything).
			Return(nil, domain.ErrNotAuthenticated).
			Once()

		c, w := createTestContext(http.MethodPost, path, dto.FetchSecretRequest{Height: uint64Ptr(100)},
			"runtime", testRuntime, "generation", "0")

		handler.FetchMasterSecretHandler(c)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "not_authenticated", decodeError(t, w)["code"])
	})

	t.Run("Error_HeightNotFresh", func(t *testing.T) {
		handler, gate := setupSecretHandler()

		gate.On("FetchMasterSecret", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, domain.ErrHeightNotFresh).
			Once()

		c, w := createTestContext(http.MethodPost, path, dto.FetchSecretRequest{Height: uint64Ptr(3)},
			"runtime", testRuntime, "generation", "0")
		withTestSession(c, testSession())

		handler.FetchMasterSecretHandler(c)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "1", w.Header().Get("Retry-After"))
		body := decodeError(t, w)
		assert.Equal(t, "retryable", body["error"])
		assert.Equal(t, "height_not_fresh", body["code"])
	})

	t.Run("Error_InvalidGeneration", func(t *testing.T) {
		handler, gate := setupSecretHandler()

		c, w := createTestContext(http.MethodPost, path, dto.FetchSecretRequest{Height: uint64Ptr(100)},
			"runtime", testRuntime, "generation", "-1")

		handler.FetchMasterSecretHandler(c)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		gate.AssertNotCalled(t, "FetchMasterSecret", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Error_GenerationOutOfRange", func(t *testing.T) {
		handler, gate := setupSecretHandler()

		c, w := createTestContext(http.MethodPost, path, dto.FetchSecretRequest{Height: uint64Ptr(100)},
			"runtime", testRuntime, "generation", "9223372036854775808")

		handler.FetchMasterSecretHandler(c)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		gate.AssertNotCalled(t, "FetchMasterSecret", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Error_InvalidRuntime", func(t *testing.T) {
		handler, _ := setupSecretHandler()

		c, w := createTestContext(http.MethodPost, path, dto.FetchSecretRequest{Height: uint64Ptr(100)},
			"runtime", "bad runtime", "generation", "0")

		handler.FetchMasterSecretHandler(c)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("Error_MalformedJSON", func(t *testing.T) {
		handler, _ := setupSecretHandler()

		c, w := createTestContext(http.MethodPost, path, "{not json", "runtime", testRuntime, "generation", "0")

		handler.FetchMasterSecretHandler(c)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Error_MissingHeight", func(t *testing.T) {
		handler, _ := setupSecretHandler()

		c, w := createTestContext(http.MethodPost, path, dto.FetchSecretRequest{},
			"runtime", testRuntime, "generation", "0")

		handler.FetchMasterSecretHandler(c)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestSecretHandler_FetchEphemeralSecretHandler(t *testing.T) {
	path := "/v1/runtimes/rt-1/ephemeral-secrets/4/fetch"

	t.Run("Success_Sealed", func(t *testing.T) {
		handler, gate := setupSecretHandler()
		session := testSession()
		session.REK = []byte("rek")
		released := &domain.ReleasedSecret{
			RuntimeID: testRuntime,
			Kind:      domain.KindEphemeral,
			Version:   4,
			Checksum:  []byte("checksum"),
			Sealed:    []byte("box"),
		}

		gate.On("FetchEphemeralSecret", mock.Anything, session, &domain.FetchRequest{
			RuntimeID: testRuntime,
			Version:   4,
			Height:    100,
		}).Return(released, nil).Once()

		c, w := createTestContext(http.MethodPost, path, dto.FetchSecretRequest{Height: uint64Ptr(100)},
			"runtime", testRuntime, "epoch", "4")
		withTestSession(c, session)

		handler.FetchEphemeralSecretHandler(c)

		assert.Equal(t, http.StatusOK, w.Code)
		var response dto.ReleasedSecretResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "ephemeral", response.Kind)
		assert.Equal(t, uint64(4), response.Version)
		assert.Nil(t, response.Secret)
		assert.Equal(t, []byte("box"), response.Sealed)
		gate.AssertExpectations(t)
	})

	t.Run("Error_InvalidEpoch", func(t *testing.T) {
		handler, gate := setupSecretHandler()

		gate.On("FetchEphemeralSecret", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, domain.NewInvalidEpochError(4, 2)).
			Once()

		c, w := createTestContext(http.MethodPost, path, dto.FetchSecretRequest{Height: uint64Ptr(100)},
			"runtime", testRuntime, "epoch", "4")
		withTestSession(c, testSession())

		handler.FetchEphemeralSecretHandler(c)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "invalid_epoch", decodeError(t, w)["code"])
	})

	t.Run("Error_NotPublished", func(t *testing.T) {
		handler, gate := setupSecretHandler()

		gate.On("FetchEphemeralSecret", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, domain.ErrEphemeralSecretNotPublished).
			Once()

		c, w := createTestContext(http.MethodPost, path, dto.FetchSecretRequest{Height: uint64Ptr(100)},
			"runtime", testRuntime, "epoch", "4")
		withTestSession(c, testSession())

		handler.FetchEphemeralSecretHandler(c)

		assert.Equal(t, "ephemeral_secret_not_published", decodeError(t, w)["code"])
	})
}
