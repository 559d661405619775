package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/allisson/keymanager/internal/attestation"
	"github.com/allisson/keymanager/internal/config"
	"github.com/allisson/keymanager/internal/consensus"
	"github.com/allisson/keymanager/internal/keymanager/domain"
	keymanagerHTTP "github.com/allisson/keymanager/internal/keymanager/http"
	"github.com/allisson/keymanager/internal/keymanager/usecase/mocks"
	"github.com/allisson/keymanager/internal/metrics"
	"github.com/allisson/keymanager/internal/registry"
)

var testReceiptKey = bytes.Repeat([]byte{0x42}, 32)

// TestMain sets Gin to test mode for all tests in this package.
func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// createTestServer creates a test server with a discarding logger.
func createTestServer(checks map[string]ReadinessCheck) *Server {
	return NewServer("localhost", 8080, discardLogger(), checks)
}

type fixedTokens struct {
	token string
}

func (f fixedTokens) CompareToken(plainToken, tokenHash string) bool {
	return tokenHash != "" && plainToken == f.token
}

type routerFixture struct {
	server *Server
	gate   *mocks.MockGate
	signer *attestation.Signer
}

func newRouterFixture(t *testing.T, adminTokenHash string) *routerFixture {
	t.Helper()

	logger := discardLogger()
	gate := &mocks.MockGate{}
	masters := &mocks.MockMasterSecretManager{}
	ephemerals := &mocks.MockEphemeralSecretManager{}
	policies := &mocks.MockPolicyEngine{}
	coordinator := &mocks.MockReplicationCoordinator{}

	verifier, err := attestation.NewVerifier(testReceiptKey, time.Minute)
	require.NoError(t, err)
	signer, err := attestation.NewSigner(testReceiptKey, time.Minute)
	require.NoError(t, err)

	cfg := &config.Config{
		RateLimitEnabled:        true,
		RateLimitRequestsPerSec: 100,
		RateLimitBurst:          100,
		AdminTokenHash:          adminTokenHash,
		MetricsNamespace:        "test",
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	server := createTestServer(nil)
	server.SetupRouter(ctx, cfg, Handlers{
		Secrets:     keymanagerHTTP.NewSecretHandler(gate, logger),
		Status:      keymanagerHTTP.NewStatusHandler(gate, logger),
		Policies:    keymanagerHTTP.NewPolicyHandler(policies, logger),
		Admin:       keymanagerHTTP.NewAdminHandler(masters, ephemerals, consensus.NewManualOracle(0, 0), logger),
		Replication: keymanagerHTTP.NewReplicationHandler(masters, ephemerals, coordinator, logger),
	}, Authenticators{
		Receipts:    verifier,
		Replicas:    registry.NewStaticRegistry("node-a", []string{"node-a", "node-b"}, []string{"rt-1"}),
		AdminTokens: fixedTokens{token: "admin-token"},
	}, nil)

	return &routerFixture{server: server, gate: gate, signer: signer}
}

func (f *routerFixture) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.server.GetHandler().ServeHTTP(w, req)
	return w
}

func (f *routerFixture) receipt(t *testing.T, identity string) string {
	t.Helper()
	receipt, err := f.signer.Issue(attestation.Claims{
		Identity:    identity,
		RuntimeID:   "rt-1",
		Measurement: strings.Repeat("ab", 32),
	})
	require.NoError(t, err)
	return receipt
}

// TestHealthHandler tests the health check endpoint handler.
func TestHealthHandler(t *testing.T) {
	server := createTestServer(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	server.healthHandler(c)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "healthy", response["status"])
}

func TestReadinessHandler(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		server := createTestServer(map[string]ReadinessCheck{
			"consensus": ConsensusCheck(consensus.NewManualOracle(1, 0)),
		})

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)

		server.readinessHandler(c)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "ready", response["status"])
		components, ok := response["components"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "ok", components["consensus"])
	})

	t.Run("not ready with a nil database", func(t *testing.T) {
		server := createTestServer(map[string]ReadinessCheck{
			"database":  DatabaseCheck(nil),
			"consensus": ConsensusCheck(consensus.NewManualOracle(1, 0)),
		})

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)

		server.readinessHandler(c)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var response map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "not_ready", response["status"])
		components, ok := response["components"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "error", components["database"])
		assert.Equal(t, "ok", components["consensus"])
	})

	t.Run("failing check", func(t *testing.T) {
		server := createTestServer(map[string]ReadinessCheck{
			"consensus": func(context.Context) error { return errors.New("rpc unreachable") },
		})

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)

		server.readinessHandler(c)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("nil oracle", func(t *testing.T) {
		assert.Error(t, ConsensusCheck(nil)(context.Background()))
	})
}

// TestCustomLoggerMiddleware tests the custom logging middleware.
func TestCustomLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	router := gin.New()
	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	router.Use(CustomLoggerMiddleware(logger))
	router.GET("/v1/runtimes/:runtime/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "test"})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/runtimes/rt-1/status?signed=true", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "http request", entry["msg"])
	assert.Equal(t, "/v1/runtimes/rt-1/status", entry["path"])
	assert.Equal(t, "/v1/runtimes/:runtime/status", entry["route"])
	assert.Equal(t, w.Header().Get("X-Request-Id"), entry["request_id"])
	assert.NotContains(t, buf.String(), "signed=true")
}

// TestRecoveryMiddleware tests Gin's built-in recovery middleware.
func TestRecoveryMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(CustomLoggerMiddleware(discardLogger()))
	router.GET("/panic", func(c *gin.Context) {
		panic("test panic")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)

	// Should not panic - Recovery middleware catches it
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRouter_PublicEndpoints(t *testing.T) {
	f := newRouterFixture(t, "")

	w := f.serve(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	f.gate.On("Status", mock.Anything, "rt-1").Return(&domain.Status{RuntimeID: "rt-1"}, nil).Once()
	w = f.serve(httptest.NewRequest(http.MethodGet, "/v1/runtimes/rt-1/status", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.serve(httptest.NewRequest(http.MethodGet, "/nonexistent", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_FetchRequiresReceipt(t *testing.T) {
	f := newRouterFixture(t, "")
	body := `{"height": 100}`

	req := httptest.NewRequest(http.MethodPost, "/v1/runtimes/rt-1/master-secrets/0/fetch", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := f.serve(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	f.gate.On("FetchMasterSecret", mock.Anything, mock.MatchedBy(func(s *domain.Session) bool {
		return s.Identity == "client-1" && s.Authenticated
	}), &domain.FetchRequest{RuntimeID: "rt-1", Height: 100}).Return(&domain.ReleasedSecret{
		RuntimeID: "rt-1",
		Kind:      domain.KindMaster,
		Sealed:    []byte("box"),
	}, nil).Once()

	req = httptest.NewRequest(http.MethodPost, "/v1/runtimes/rt-1/master-secrets/0/fetch", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(keymanagerHTTP.ReceiptHeader, f.receipt(t, "client-1"))
	w = f.serve(req)
	assert.Equal(t, http.StatusOK, w.Code)
	f.gate.AssertExpectations(t)
}

func TestRouter_AdminRequiresToken(t *testing.T) {
	advance := func(f *routerFixture, authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/v1/admin/consensus", strings.NewReader(`{"height": 5, "epoch": 1}`))
		req.Header.Set("Content-Type", "application/json")
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		return f.serve(req)
	}

	t.Run("disabled without a configured hash", func(t *testing.T) {
		f := newRouterFixture(t, "")
		assert.Equal(t, http.StatusForbidden, advance(f, "Bearer admin-token").Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		f := newRouterFixture(t, "configured-hash")
		assert.Equal(t, http.StatusUnauthorized, advance(f, "Bearer nope").Code)
	})

	t.Run("valid token", func(t *testing.T) {
		f := newRouterFixture(t, "configured-hash")
		assert.Equal(t, http.StatusOK, advance(f, "Bearer admin-token").Code)
	})
}

func TestRouter_ReplicationRequiresReplica(t *testing.T) {
	f := newRouterFixture(t, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/replication/runtimes/rt-1/master/0/export", nil)
	req.Header.Set(keymanagerHTTP.ReceiptHeader, f.receipt(t, "client-1"))
	w := f.serve(req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// A replica without a REK cannot receive an export.
	req = httptest.NewRequest(http.MethodGet, "/v1/replication/runtimes/rt-1/master/0/export", nil)
	req.Header.Set(keymanagerHTTP.ReceiptHeader, f.receipt(t, "node-b"))
	w = f.serve(req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "rek_not_published")
}

// TestServer_StartRequiresRouter tests that the server refuses to start without routes.
func TestServer_StartRequiresRouter(t *testing.T) {
	server := createTestServer(nil)
	assert.Error(t, server.Start(context.Background()))
}

// TestServer_ShutdownGracefully tests graceful server shutdown.
func TestServer_ShutdownGracefully(t *testing.T) {
	f := newRouterFixture(t, "")
	server := NewServer("localhost", 0, discardLogger(), nil)
	server.router = f.server.router

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(context.Background())
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	assert.NoError(t, server.Shutdown(shutdownCtx))

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

// TestMetricsServer_Endpoints tests the metrics server endpoints.
func TestMetricsServer_Endpoints(t *testing.T) {
	provider, err := metrics.NewProvider("test_app")
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, provider.Shutdown(context.Background()))
	}()

	metricsServer := NewMetricsServer("localhost", 8081, discardLogger(), provider)
	require.NotNil(t, metricsServer)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsServer.GetHandler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
}

func TestMetricsServer_WithoutProvider(t *testing.T) {
	metricsServer := NewMetricsServer("localhost", 8081, discardLogger(), nil)

	w := httptest.NewRecorder()
	metricsServer.GetHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
