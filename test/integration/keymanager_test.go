// Package integration provides end-to-end tests of the key manager API.
// Every test runs against the memory driver, and against PostgreSQL and MySQL
// when their test databases are reachable.
package integration

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/keymanager/internal/app"
	"github.com/allisson/keymanager/internal/attestation"
	"github.com/allisson/keymanager/internal/config"
	cryptoService "github.com/allisson/keymanager/internal/crypto/service"
	"github.com/allisson/keymanager/internal/httputil"
	"github.com/allisson/keymanager/internal/keymanager/domain"
	"github.com/allisson/keymanager/internal/keymanager/http/dto"
	keymanagerService "github.com/allisson/keymanager/internal/keymanager/service"
	"github.com/allisson/keymanager/internal/testutil"
)

const (
	runtimeID = "rt-1"
	peerID    = "node-b"
)

var measurement = strings.Repeat("ab", 32)

// integrationTestContext holds all dependencies and state for integration testing.
type integrationTestContext struct {
	container  *app.Container
	db         *sql.DB
	server     *httptest.Server
	adminToken string
	receipts   *attestation.Signer
	policyKey  ed25519.PrivateKey
	peerREK    *cryptoService.NodeREK
	peerPub    []byte
	cancel     context.CancelFunc
}

// makeRequest performs an HTTP request and returns the response and body.
func (ctx *integrationTestContext) makeRequest(
	t *testing.T,
	method, path string,
	body any,
	headers map[string]string,
) (*http.Response, []byte) {
	t.Helper()

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		require.NoError(t, err, "failed to marshal request body")
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ctx.server.URL+path, bodyReader)
	require.NoError(t, err, "failed to create request")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	//nolint:gosec // controlled test environment with localhost URLs
	resp, err := client.Do(req)
	require.NoError(t, err, "failed to perform request")

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "failed to read response body")
	if closeErr := resp.Body.Close(); closeErr != nil {
		t.Logf("Warning: failed to close response body: %v", closeErr)
	}

	return resp, respBody
}

func (ctx *integrationTestContext) admin() map[string]string {
	return map[string]string{"Authorization": "Bearer " + ctx.adminToken}
}

// attested returns the receipt header of an enclave session.
func (ctx *integrationTestContext) attested(t *testing.T, identity string, rek []byte) map[string]string {
	t.Helper()

	receipt, err := ctx.receipts.Issue(attestation.Claims{
		Identity:    identity,
		RuntimeID:   runtimeID,
		Measurement: measurement,
		REK:         rek,
	})
	require.NoError(t, err)
	return map[string]string{"X-Attestation-Receipt": receipt}
}

// replicate exports a record to the peer, opens it with the peer key and
// acknowledges it.
func (ctx *integrationTestContext) replicate(t *testing.T, kind domain.Kind, version uint64) {
	t.Helper()

	path := fmt.Sprintf("/v1/replication/runtimes/%s/%s/%d", runtimeID, kind, version)
	peer := ctx.attested(t, peerID, ctx.peerPub)

	resp, body := ctx.makeRequest(t, http.MethodGet, path+"/export", nil, peer)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var sealed dto.SealedSecretResponse
	require.NoError(t, json.Unmarshal(body, &sealed))

	secret, err := ctx.peerREK.Open(sealed.Sealed)
	require.NoError(t, err)
	checksum := domain.ComputeChecksum(kind, runtimeID, version, secret)
	require.Equal(t, sealed.Checksum, checksum)

	resp, body = ctx.makeRequest(t, http.MethodPost, path+"/ack", dto.AckRequest{Checksum: checksum}, peer)
	require.Equal(t, http.StatusNoContent, resp.StatusCode, string(body))
}

func randomKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(key)
}

// setupIntegrationTest initializes all components for integration testing.
func setupIntegrationTest(t *testing.T, dbDriver string) *integrationTestContext {
	t.Helper()

	gin.SetMode(gin.TestMode)

	var db *sql.DB
	var dsn string
	switch dbDriver {
	case "postgres":
		db = testutil.SetupPostgresDB(t)
		dsn = testutil.GetPostgresTestDSN()
	case "mysql":
		db = testutil.SetupMySQLDB(t)
		dsn = testutil.GetMySQLTestDSN()
	}

	tokenService := keymanagerService.NewAdminTokenService()
	adminToken, adminTokenHash, err := tokenService.GenerateToken()
	require.NoError(t, err)

	policyPub, policyKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pkix, err := x509.MarshalPKIXPublicKey(policyPub)
	require.NoError(t, err)

	_, nodeREK, err := cryptoService.GenerateREK()
	require.NoError(t, err)
	_, nodeRSK, err := cryptoService.GenerateRSK()
	require.NoError(t, err)

	peerPub, peerPriv, err := cryptoService.GenerateREK()
	require.NoError(t, err)
	peerREK, err := cryptoService.NewNodeREK(peerPriv)
	require.NoError(t, err)

	receiptKey := randomKey(t)
	rawReceiptKey, err := base64.StdEncoding.DecodeString(receiptKey)
	require.NoError(t, err)
	receipts, err := attestation.NewSigner(rawReceiptKey, time.Minute)
	require.NoError(t, err)

	cfg := &config.Config{
		DBDriver:              dbDriver,
		DBConnectionString:    dsn,
		DBMaxOpenConnections:  10,
		DBMaxIdleConnections:  5,
		DBConnMaxLifetime:     time.Hour,
		ServerHost:            "localhost",
		ServerPort:            8080,
		LogLevel:              "error",
		SealingKeys:           "k1:" + randomKey(t),
		ActiveSealingKeyID:    "k1",
		SealingAlgorithm:      "chacha20-poly1305",
		ReplicaID:             "node-a",
		ReplicaIDs:            []string{"node-a", peerID, "node-c", "node-d"},
		RuntimeIDs:            []string{runtimeID},
		FreshnessWindow:       10,
		EphemeralEpochWindow:  1,
		EphemeralDerivation:   "master",
		NodeREKPrivateKey:     base64.StdEncoding.EncodeToString(nodeREK),
		NodeRSKPrivateKey:     base64.StdEncoding.EncodeToString(nodeRSK),
		PolicyTrustedSigners:  []string{base64.StdEncoding.EncodeToString(pkix)},
		PolicyMinSignatures:   1,
		AttestationReceiptKey: receiptKey,
		AttestationReceiptTTL: time.Minute,
		ConsensusBackend:      "manual",
		ConsensusEpochBlocks:  600,
		AdminTokenHash:        adminTokenHash,
	}
	if dbDriver == "" {
		cfg.DBDriver = app.DriverMemory
	}

	container := app.NewContainer(cfg)

	serverCtx, cancel := context.WithCancel(context.Background())
	httpSrv, err := container.HTTPServer(serverCtx)
	require.NoError(t, err, "failed to get HTTP server")

	return &integrationTestContext{
		container:  container,
		db:         db,
		server:     httptest.NewServer(httpSrv.GetHandler()),
		adminToken: adminToken,
		receipts:   receipts,
		policyKey:  policyKey,
		peerREK:    peerREK,
		peerPub:    peerPub,
		cancel:     cancel,
	}
}

// teardownIntegrationTest cleans up all resources.
func teardownIntegrationTest(t *testing.T, ctx *integrationTestContext) {
	t.Helper()

	if ctx.server != nil {
		ctx.server.Close()
	}
	if ctx.cancel != nil {
		ctx.cancel()
	}
	if ctx.container != nil {
		if err := ctx.container.Shutdown(context.Background()); err != nil {
			t.Logf("Warning: container shutdown error: %v", err)
		}
	}
	if ctx.db != nil {
		testutil.TeardownDB(t, ctx.db)
	}
}

func drivers() []string {
	return []string{"", "postgres", "mysql"}
}

func driverName(driver string) string {
	if driver == "" {
		return "memory"
	}
	return driver
}

func TestIntegration_KeyManagerLifecycle(t *testing.T) {
	for _, driver := range drivers() {
		t.Run(driverName(driver), func(t *testing.T) {
			ctx := setupIntegrationTest(t, driver)
			defer teardownIntegrationTest(t, ctx)

			codec, err := keymanagerService.NewPolicyCodec()
			require.NoError(t, err)
			enclave := ctx.attested(t, "enclave-1", nil)
			fetchHeight := uint64(100)
			fetch := dto.FetchSecretRequest{Height: &fetchHeight}

			t.Run("status before initialization", func(t *testing.T) {
				resp, body := ctx.makeRequest(t, http.MethodGet, "/v1/runtimes/rt-1/status", nil, nil)
				require.Equal(t, http.StatusOK, resp.StatusCode)

				var status dto.StatusResponse
				require.NoError(t, json.Unmarshal(body, &status))
				assert.False(t, status.IsInitialized)
				assert.Equal(t, []string{"node-a", "node-b", "node-c", "node-d"}, status.Replicas)
			})

			t.Run("advance consensus", func(t *testing.T) {
				height, epoch := uint64(100), uint64(1)
				resp, body := ctx.makeRequest(t, http.MethodPut, "/v1/admin/consensus",
					dto.AdvanceConsensusRequest{Height: &height, Epoch: &epoch}, ctx.admin())
				require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

				resp, _ = ctx.makeRequest(t, http.MethodPut, "/v1/admin/consensus",
					dto.AdvanceConsensusRequest{Height: &height, Epoch: &epoch}, nil)
				assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			})

			t.Run("submit policy", func(t *testing.T) {
				policy := domain.Policy{
					RuntimeID:              runtimeID,
					Serial:                 1,
					QuorumThreshold:        1,
					AuthorizedMeasurements: []string{measurement},
				}
				signingBody, err := codec.SigningBody(policy)
				require.NoError(t, err)
				pub, sig, err := keymanagerService.Sign(ctx.policyKey, signingBody)
				require.NoError(t, err)

				resp, body := ctx.makeRequest(t, http.MethodPut, "/v1/runtimes/rt-1/policy", dto.SubmitPolicyRequest{
					Policy:     policy,
					Signatures: []dto.PolicySignatureRequest{{PublicKey: pub, Signature: sig}},
				}, nil)
				require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

				resp, _ = ctx.makeRequest(t, http.MethodGet, "/v1/runtimes/rt-1/policy", nil, nil)
				assert.Equal(t, http.StatusOK, resp.StatusCode)
			})

			t.Run("master secret is withheld until replicated", func(t *testing.T) {
				resp, body := ctx.makeRequest(t, http.MethodPost,
					"/v1/admin/runtimes/rt-1/master-secrets/0", nil, ctx.admin())
				require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

				resp, body = ctx.makeRequest(t, http.MethodPost,
					"/v1/runtimes/rt-1/master-secrets/0/fetch", fetch, enclave)
				require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
				assert.Equal(t, "1", resp.Header.Get("Retry-After"))

				var errResp httputil.ErrorResponse
				require.NoError(t, json.Unmarshal(body, &errResp))
				assert.Equal(t, string(domain.CodeMasterSecretNotReplicated), errResp.Code)
			})

			var masterChecksum []byte
			t.Run("master secret released after replication", func(t *testing.T) {
				ctx.replicate(t, domain.KindMaster, 0)

				resp, body := ctx.makeRequest(t, http.MethodPost,
					"/v1/runtimes/rt-1/master-secrets/0/fetch", fetch, enclave)
				require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

				var released dto.ReleasedSecretResponse
				require.NoError(t, json.Unmarshal(body, &released))
				assert.Len(t, released.Secret, domain.SecretSize)
				assert.Equal(t, domain.ComputeChecksum(domain.KindMaster, runtimeID, 0, released.Secret), released.Checksum)
				masterChecksum = released.Checksum
			})

			t.Run("stale height refused", func(t *testing.T) {
				stale := uint64(50)
				resp, _ := ctx.makeRequest(t, http.MethodPost, "/v1/runtimes/rt-1/master-secrets/0/fetch",
					dto.FetchSecretRequest{Height: &stale}, enclave)
				assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
			})

			t.Run("unknown measurement refused", func(t *testing.T) {
				receipt, err := ctx.receipts.Issue(attestation.Claims{
					Identity:    "enclave-2",
					RuntimeID:   runtimeID,
					Measurement: strings.Repeat("cd", 32),
				})
				require.NoError(t, err)

				resp, _ := ctx.makeRequest(t, http.MethodPost, "/v1/runtimes/rt-1/master-secrets/0/fetch",
					fetch, map[string]string{"X-Attestation-Receipt": receipt})
				assert.Equal(t, http.StatusForbidden, resp.StatusCode)
			})

			t.Run("ephemeral secret lifecycle", func(t *testing.T) {
				resp, body := ctx.makeRequest(t, http.MethodPost,
					"/v1/admin/runtimes/rt-1/ephemeral-secrets/1", nil, ctx.admin())
				require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

				ctx.replicate(t, domain.KindEphemeral, 1)

				resp, body = ctx.makeRequest(t, http.MethodPost,
					"/v1/admin/runtimes/rt-1/ephemeral-secrets/1/publish", nil, ctx.admin())
				require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

				var published dto.EphemeralSecretResponse
				require.NoError(t, json.Unmarshal(body, &published))
				assert.Equal(t, []string{"node-a", peerID}, published.ReplicationAcks)

				resp, body = ctx.makeRequest(t, http.MethodPost,
					"/v1/runtimes/rt-1/ephemeral-secrets/1/fetch", fetch, enclave)
				require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
			})

			t.Run("signed status", func(t *testing.T) {
				resp, body := ctx.makeRequest(t, http.MethodGet, "/v1/runtimes/rt-1/status?signed=true", nil, nil)
				require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

				var signed dto.SignedStatusResponse
				require.NoError(t, json.Unmarshal(body, &signed))
				assert.True(t, signed.Status.IsInitialized)
				require.NotNil(t, signed.Status.Generation)
				assert.Equal(t, uint64(0), *signed.Status.Generation)
				require.NotNil(t, signed.Status.Epoch)
				assert.Equal(t, uint64(1), *signed.Status.Epoch)
				assert.Equal(t, masterChecksum, signed.Status.Checksum)
				assert.NotEmpty(t, signed.Signature)
			})

			t.Run("non replica cannot export", func(t *testing.T) {
				resp, _ := ctx.makeRequest(t, http.MethodGet,
					"/v1/replication/runtimes/rt-1/master/0/export", nil, ctx.attested(t, "stranger", ctx.peerPub))
				assert.Equal(t, http.StatusForbidden, resp.StatusCode)
			})
		})
	}
}
