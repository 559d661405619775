// Package app provides dependency injection container for assembling application components.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
	cryptoService "github.com/allisson/keymanager/internal/crypto/service"
	"github.com/allisson/keymanager/internal/config"
	"github.com/allisson/keymanager/internal/consensus"
	"github.com/allisson/keymanager/internal/database"
	"github.com/allisson/keymanager/internal/http"
	keymanagerService "github.com/allisson/keymanager/internal/keymanager/service"
	keymanagerUseCase "github.com/allisson/keymanager/internal/keymanager/usecase"
	"github.com/allisson/keymanager/internal/metrics"
	"github.com/allisson/keymanager/internal/registry"
)

// DriverMemory selects the in-process storage backend.
const DriverMemory = "memory"

// ErrNoDatabase is returned by DB when the memory backend is configured.
var ErrNoDatabase = errors.New("database not available with the memory driver")

// Container holds all application dependencies and provides methods to access them.
// It follows the lazy initialization pattern - components are created on first access.
type Container struct {
	// Configuration
	config *config.Config

	// Infrastructure
	logger          *slog.Logger
	db              *sql.DB
	metricsProvider *metrics.Provider
	businessMetrics metrics.BusinessMetrics

	// Managers
	txManager database.TxManager

	// Crypto
	kmsService      cryptoService.KMSService
	aeadManager     cryptoService.AEADManager
	sealingKeyChain *cryptoDomain.SealingKeyChain
	sealer          cryptoService.Sealer
	nodeREK         *cryptoService.NodeREK
	statusSigner    *cryptoService.StatusSigner

	// Collaborators
	registry       *registry.StaticRegistry
	oracle         consensus.Oracle
	manualOracle   *consensus.ManualOracle
	ethereumOracle *consensus.EthereumOracle

	// Repositories
	secretRepo      keymanagerUseCase.SecretRepository
	replicationRepo keymanagerUseCase.ReplicationRepository
	policyRepo      keymanagerUseCase.PolicyRepository
	auditLogRepo    keymanagerUseCase.AuditLogRepository

	// Services
	policyCodec       *keymanagerService.PolicyCodec
	statusCodec       *keymanagerService.StatusCodec
	adminTokenService *keymanagerService.AdminTokenService
	auditSigner       *keymanagerService.AuditSigner

	// Use Cases
	secretStore            keymanagerUseCase.SecretStore
	replicationCoordinator keymanagerUseCase.ReplicationCoordinator
	masterSecretManager    keymanagerUseCase.MasterSecretManager
	ephemeralSecretManager keymanagerUseCase.EphemeralSecretManager
	policyEngine           keymanagerUseCase.PolicyEngine
	gate                   keymanagerUseCase.Gate
	auditLogUseCase        keymanagerUseCase.AuditLogUseCase

	// Servers
	httpServer    *http.Server
	metricsServer *http.MetricsServer

	// Initialization flags and mutex for thread-safety
	mu                         sync.Mutex
	loggerInit                 sync.Once
	dbInit                     sync.Once
	txManagerInit              sync.Once
	metricsProviderInit        sync.Once
	businessMetricsInit        sync.Once
	kmsServiceInit             sync.Once
	aeadManagerInit            sync.Once
	sealingKeyChainInit        sync.Once
	sealerInit                 sync.Once
	nodeREKInit                sync.Once
	statusSignerInit           sync.Once
	registryInit               sync.Once
	oracleInit                 sync.Once
	secretRepoInit             sync.Once
	replicationRepoInit        sync.Once
	policyRepoInit             sync.Once
	auditLogRepoInit           sync.Once
	policyCodecInit            sync.Once
	statusCodecInit            sync.Once
	adminTokenServiceInit      sync.Once
	auditSignerInit            sync.Once
	secretStoreInit            sync.Once
	replicationCoordinatorInit sync.Once
	masterSecretManagerInit    sync.Once
	ephemeralSecretManagerInit sync.Once
	policyEngineInit           sync.Once
	gateInit                   sync.Once
	auditLogUseCaseInit        sync.Once
	httpServerInit             sync.Once
	metricsServerInit          sync.Once
	initErrors                 map[string]error
}

// NewContainer creates a new dependency injection container with the provided configuration.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the configured logger instance.
// It creates a new logger on first access based on the log level in configuration.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// DB returns the database connection.
// It creates and configures the database connection on first access.
func (c *Container) DB() (*sql.DB, error) {
	var err error
	c.dbInit.Do(func() {
		c.db, err = c.initDB()
		if err != nil {
			c.initErrors["db"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["db"]; exists {
		return nil, storedErr
	}
	return c.db, nil
}

// TxManager returns the transaction manager. The memory backend gets a
// manager that runs functions without a transaction.
func (c *Container) TxManager() (database.TxManager, error) {
	var err error
	c.txManagerInit.Do(func() {
		c.txManager, err = c.initTxManager()
		if err != nil {
			c.initErrors["txManager"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["txManager"]; exists {
		return nil, storedErr
	}
	return c.txManager, nil
}

// MetricsProvider returns the metrics provider, or nil when metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	var err error
	c.metricsProviderInit.Do(func() {
		c.metricsProvider, err = c.initMetricsProvider()
		if err != nil {
			c.initErrors["metricsProvider"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsProvider"]; exists {
		return nil, storedErr
	}
	return c.metricsProvider, nil
}

// BusinessMetrics returns the business metrics recorder.
func (c *Container) BusinessMetrics() (metrics.BusinessMetrics, error) {
	var err error
	c.businessMetricsInit.Do(func() {
		c.businessMetrics, err = c.initBusinessMetrics()
		if err != nil {
			c.initErrors["businessMetrics"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["businessMetrics"]; exists {
		return nil, storedErr
	}
	return c.businessMetrics, nil
}

// HTTPServer returns the HTTP server with its router configured. ctx bounds the
// background work of the router middleware.
func (c *Container) HTTPServer(ctx context.Context) (*http.Server, error) {
	var err error
	c.httpServerInit.Do(func() {
		c.httpServer, err = c.initHTTPServer(ctx)
		if err != nil {
			c.initErrors["httpServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["httpServer"]; exists {
		return nil, storedErr
	}
	return c.httpServer, nil
}

// MetricsServer returns the Prometheus metrics server, or nil when metrics are disabled.
func (c *Container) MetricsServer() (*http.MetricsServer, error) {
	var err error
	c.metricsServerInit.Do(func() {
		c.metricsServer, err = c.initMetricsServer()
		if err != nil {
			c.initErrors["metricsServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsServer"]; exists {
		return nil, storedErr
	}
	return c.metricsServer, nil
}

// Shutdown performs cleanup of all initialized resources.
// It should be called when the application is shutting down.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	// Shutdown HTTP servers if initialized
	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("http server shutdown: %w", err))
		}
	}
	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	if c.ethereumOracle != nil {
		c.ethereumOracle.Close()
	}

	// Close database connection if initialized
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("database close: %w", err))
		}
	}

	// Wipe sealing keys last so in-flight requests finish first
	if c.sealingKeyChain != nil {
		c.sealingKeyChain.Close()
	}

	// Return combined errors if any occurred
	if len(shutdownErrors) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(shutdownErrors...))
	}

	return nil
}

// initLogger creates and configures a structured logger based on the log level.
func (c *Container) initLogger() *slog.Logger {
	var logLevel slog.Level
	switch c.config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(handler)
}

// initDB creates and configures the database connection.
func (c *Container) initDB() (*sql.DB, error) {
	if c.config.DBDriver == DriverMemory {
		return nil, ErrNoDatabase
	}

	db, err := database.Connect(database.Config{
		Driver:             c.config.DBDriver,
		ConnectionString:   c.config.DBConnectionString,
		MaxOpenConnections: c.config.DBMaxOpenConnections,
		MaxIdleConnections: c.config.DBMaxIdleConnections,
		ConnMaxLifetime:    c.config.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// initTxManager creates the transaction manager using the database connection.
func (c *Container) initTxManager() (database.TxManager, error) {
	if c.config.DBDriver == DriverMemory {
		return database.NewNoopTxManager(), nil
	}

	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for tx manager: %w", err)
	}
	return database.NewTxManager(db), nil
}

// initMetricsProvider creates the OpenTelemetry provider exporting to Prometheus.
func (c *Container) initMetricsProvider() (*metrics.Provider, error) {
	if !c.config.MetricsEnabled {
		return nil, nil
	}

	provider, err := metrics.NewProvider(c.config.MetricsNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics provider: %w", err)
	}
	return provider, nil
}

// initBusinessMetrics creates the business metrics recorder, a no-op one when
// metrics are disabled.
func (c *Container) initBusinessMetrics() (metrics.BusinessMetrics, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for business metrics: %w", err)
	}
	if provider == nil {
		return metrics.NewNoOpBusinessMetrics(), nil
	}

	businessMetrics, err := metrics.NewBusinessMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to create business metrics: %w", err)
	}
	return businessMetrics, nil
}

// initHTTPServer creates the HTTP server with all its dependencies.
func (c *Container) initHTTPServer(ctx context.Context) (*http.Server, error) {
	logger := c.Logger()

	handlers, err := c.handlers()
	if err != nil {
		return nil, fmt.Errorf("failed to get handlers for http server: %w", err)
	}

	auth, err := c.authenticators()
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticators for http server: %w", err)
	}

	oracle, err := c.ConsensusOracle()
	if err != nil {
		return nil, fmt.Errorf("failed to get consensus oracle for http server: %w", err)
	}

	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for http server: %w", err)
	}

	checks := map[string]http.ReadinessCheck{
		"consensus": http.ConsensusCheck(oracle),
	}
	if c.config.DBDriver != DriverMemory {
		db, err := c.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database for http server: %w", err)
		}
		checks["database"] = http.DatabaseCheck(db)
	}

	server := http.NewServer(c.config.ServerHost, c.config.ServerPort, logger, checks)
	server.SetupRouter(ctx, c.config, *handlers, *auth, provider)

	return server, nil
}

// initMetricsServer creates the metrics server when metrics are enabled.
func (c *Container) initMetricsServer() (*http.MetricsServer, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for metrics server: %w", err)
	}
	if provider == nil {
		return nil, nil
	}

	return http.NewMetricsServer(c.config.ServerHost, c.config.MetricsPort, c.Logger(), provider), nil
}
