package http

import (
	"encoding/json"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/allisson/keymanager/internal/consensus"
	"github.com/allisson/keymanager/internal/keymanager/domain"
	"github.com/allisson/keymanager/internal/keymanager/http/dto"
	"github.com/allisson/keymanager/internal/keymanager/usecase/mocks"
)

func setupAdminHandler(
	oracle ConsensusAdvancer,
) (*AdminHandler, *mocks.MockMasterSecretManager, *mocks.MockEphemeralSecretManager) {
	masters := &mocks.MockMasterSecretManager{}
	ephemerals := &mocks.MockEphemeralSecretManager{}
	return NewAdminHandler(masters, ephemerals, oracle, createTestLogger()), masters, ephemerals
}

func TestAdminHandler_GenerateMasterSecretHandler(t *testing.T) {
	path := "/v1/admin/runtimes/rt-1/master-secrets/1"

	t.Run("Success", func(t *testing.T) {
		handler, masters, _ := setupAdminHandler(nil)
		secret := &domain.MasterSecret{
			RuntimeID:  testRuntime,
			Generation: 1,
			Checksum:   []byte("checksum"),
			CreatedAt:  time.Now().UTC(),
		}

		masters.On("Generate", mock.Anything, testRuntime, uint64(1)).Return(secret, nil).Once()

		c, w := createTestContext(http.MethodPost, path, nil, "runtime", testRuntime, "generation", "1")
		handler.GenerateMasterSecretHandler(c)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response dto.MasterSecretResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, uint64(1), response.Generation)
		assert.Equal(t, []string{}, response.ReplicationAcks)
		assert.NotContains(t, w.Body.String(), "secret\"")
		masters.AssertExpectations(t)
	})

	t.Run("Error_ReplicationRequired", func(t *testing.T) {
		handler, masters, _ := setupAdminHandler(nil)

		masters.On("Generate", mock.Anything, testRuntime, uint64(1)).
			Return(nil, domain.ErrReplicationRequired).
			Once()

		c, w := createTestContext(http.MethodPost, path, nil, "runtime", testRuntime, "generation", "1")
		handler.GenerateMasterSecretHandler(c)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "replication_required", decodeError(t, w)["code"])
	})

	t.Run("Error_InvalidGeneration", func(t *testing.T) {
		handler, masters, _ := setupAdminHandler(nil)

		c, w := createTestContext(http.MethodPost, path, nil, "runtime", testRuntime, "generation", "one")
		handler.GenerateMasterSecretHandler(c)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		masters.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Error_GenerationOutOfRange", func(t *testing.T) {
		handler, masters, _ := setupAdminHandler(nil)

		for _, generation := range []string{"9223372036854775808", "18446744073709551615"} {
			c, w := createTestContext(http.MethodPost, path, nil, "runtime", testRuntime, "generation", generation)
			handler.GenerateMasterSecretHandler(c)

			assert.Equal(t, http.StatusUnprocessableEntity, w.Code, generation)
		}
		masters.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("MaxGeneration", func(t *testing.T) {
		handler, masters, _ := setupAdminHandler(nil)
		highest := uint64(math.MaxInt64)

		masters.On("Generate", mock.Anything, testRuntime, highest).
			Return(&domain.MasterSecret{RuntimeID: testRuntime, Generation: highest}, nil).
			Once()

		c, w := createTestContext(http.MethodPost, path, nil, "runtime", testRuntime, "generation", "9223372036854775807")
		handler.GenerateMasterSecretHandler(c)

		assert.Equal(t, http.StatusCreated, w.Code)
		masters.AssertExpectations(t)
	})
}

func TestAdminHandler_EphemeralSecretHandlers(t *testing.T) {
	t.Run("Generate", func(t *testing.T) {
		handler, _, ephemerals := setupAdminHandler(nil)

		ephemerals.On("Generate", mock.Anything, testRuntime, uint64(7)).
			Return(&domain.EphemeralSecret{RuntimeID: testRuntime, Epoch: 7}, nil).
			Once()

		c, w := createTestContext(http.MethodPost, "/v1/admin/runtimes/rt-1/ephemeral-secrets/7", nil,
			"runtime", testRuntime, "epoch", "7")
		handler.GenerateEphemeralSecretHandler(c)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response dto.EphemeralSecretResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, uint64(7), response.Epoch)
		assert.Equal(t, "generated", response.State)
	})

	t.Run("Publish", func(t *testing.T) {
		handler, _, ephemerals := setupAdminHandler(nil)

		ephemerals.On("Publish", mock.Anything, testRuntime, uint64(7)).
			Return(&domain.EphemeralSecret{RuntimeID: testRuntime, Epoch: 7, Published: true}, nil).
			Once()

		c, w := createTestContext(http.MethodPost, "/v1/admin/runtimes/rt-1/ephemeral-secrets/7/publish", nil,
			"runtime", testRuntime, "epoch", "7")
		handler.PublishEphemeralSecretHandler(c)

		assert.Equal(t, http.StatusOK, w.Code)
		var response dto.EphemeralSecretResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "published", response.State)
	})

	t.Run("Publish_NotReplicated", func(t *testing.T) {
		handler, _, ephemerals := setupAdminHandler(nil)

		ephemerals.On("Publish", mock.Anything, testRuntime, uint64(7)).
			Return(nil, domain.ErrEphemeralSecretNotReplicated).
			Once()

		c, w := createTestContext(http.MethodPost, "/v1/admin/runtimes/rt-1/ephemeral-secrets/7/publish", nil,
			"runtime", testRuntime, "epoch", "7")
		handler.PublishEphemeralSecretHandler(c)

		assert.Equal(t, "ephemeral_secret_not_replicated", decodeError(t, w)["code"])
	})
}

func TestAdminHandler_AdvanceConsensusHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		oracle := consensus.NewManualOracle(10, 1)
		handler, _, _ := setupAdminHandler(oracle)

		c, w := createTestContext(http.MethodPut, "/v1/admin/consensus",
			dto.AdvanceConsensusRequest{Height: uint64Ptr(20), Epoch: uint64Ptr(2)})
		handler.AdvanceConsensusHandler(c)

		assert.Equal(t, http.StatusOK, w.Code)
		height, err := oracle.LatestHeight(c.Request.Context())
		require.NoError(t, err)
		assert.Equal(t, uint64(20), height)
	})

	t.Run("Error_Regression", func(t *testing.T) {
		oracle := consensus.NewManualOracle(10, 1)
		handler, _, _ := setupAdminHandler(oracle)

		c, w := createTestContext(http.MethodPut, "/v1/admin/consensus",
			dto.AdvanceConsensusRequest{Height: uint64Ptr(5), Epoch: uint64Ptr(1)})
		handler.AdvanceConsensusHandler(c)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Error_MissingEpoch", func(t *testing.T) {
		handler, _, _ := setupAdminHandler(consensus.NewManualOracle(0, 0))

		c, w := createTestContext(http.MethodPut, "/v1/admin/consensus",
			dto.AdvanceConsensusRequest{Height: uint64Ptr(5)})
		handler.AdvanceConsensusHandler(c)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("Error_NotManualBackend", func(t *testing.T) {
		handler, _, _ := setupAdminHandler(nil)

		c, w := createTestContext(http.MethodPut, "/v1/admin/consensus",
			dto.AdvanceConsensusRequest{Height: uint64Ptr(5), Epoch: uint64Ptr(1)})
		handler.AdvanceConsensusHandler(c)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
