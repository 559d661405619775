// Package http provides the HTTP server, its router and the operational endpoints.
package http

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/allisson/keymanager/internal/config"
	"github.com/allisson/keymanager/internal/consensus"
	keymanagerHTTP "github.com/allisson/keymanager/internal/keymanager/http"
	"github.com/allisson/keymanager/internal/metrics"
)

// readinessTimeout bounds every readiness check.
const readinessTimeout = 2 * time.Second

// ReadinessCheck reports whether a dependency can serve requests.
type ReadinessCheck func(ctx context.Context) error

// DatabaseCheck pings db. A nil db is never ready.
func DatabaseCheck(db *sql.DB) ReadinessCheck {
	return func(ctx context.Context) error {
		if db == nil {
			return fmt.Errorf("database not configured")
		}
		return db.PingContext(ctx)
	}
}

// ConsensusCheck asks the oracle for the latest height.
func ConsensusCheck(oracle consensus.Oracle) ReadinessCheck {
	return func(ctx context.Context) error {
		if oracle == nil {
			return fmt.Errorf("consensus oracle not configured")
		}
		_, err := oracle.LatestHeight(ctx)
		return err
	}
}

// Handlers groups the key manager handlers mounted by SetupRouter.
type Handlers struct {
	Secrets     *keymanagerHTTP.SecretHandler
	Status      *keymanagerHTTP.StatusHandler
	Policies    *keymanagerHTTP.PolicyHandler
	Admin       *keymanagerHTTP.AdminHandler
	Replication *keymanagerHTTP.ReplicationHandler
}

// Authenticators groups what the router needs to authenticate callers.
type Authenticators struct {
	Receipts    keymanagerHTTP.ReceiptVerifier
	Replicas    keymanagerHTTP.ReplicaRegistry
	AdminTokens keymanagerHTTP.TokenComparer
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *gin.Engine
	checks map[string]ReadinessCheck
	logger *slog.Logger
}

// NewServer creates a new HTTP server. checks are run by the readiness endpoint.
func NewServer(
	host string,
	port int,
	logger *slog.Logger,
	checks map[string]ReadinessCheck,
) *Server {
	return &Server{
		logger: logger,
		checks: checks,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// SetupRouter builds the gin router with every route of the key manager API.
// ctx bounds the background goroutines of the rate limiters.
func (s *Server) SetupRouter(
	ctx context.Context,
	cfg *config.Config,
	handlers Handlers,
	auth Authenticators,
	metricsProvider *metrics.Provider,
) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	router.Use(CustomLoggerMiddleware(s.logger))

	if metricsProvider != nil {
		router.Use(metrics.HTTPMetricsMiddleware(metricsProvider.MeterProvider(), cfg.MetricsNamespace))
	}

	if corsMiddleware := createCORSMiddleware(cfg.CORSEnabled, cfg.CORSAllowOrigins, s.logger); corsMiddleware != nil {
		router.Use(corsMiddleware)
	}

	router.GET("/health", s.healthHandler)
	router.GET("/ready", s.readinessHandler)

	rateLimit := func() []gin.HandlerFunc {
		if !cfg.RateLimitEnabled {
			return nil
		}
		return []gin.HandlerFunc{
			keymanagerHTTP.RateLimitMiddleware(ctx, cfg.RateLimitRequestsPerSec, cfg.RateLimitBurst, s.logger),
		}
	}

	v1 := router.Group("/v1")

	// Public runtime endpoints
	runtimes := v1.Group("/runtimes/:runtime")
	runtimes.GET("/status", handlers.Status.GetHandler)
	runtimes.GET("/policy", handlers.Policies.GetHandler)

	// Policies authenticate themselves through their signatures
	runtimes.PUT("/policy", append(rateLimit(), handlers.Policies.SubmitHandler)...)

	// Attested enclave endpoints
	attested := runtimes.Group("")
	attested.Use(keymanagerHTTP.SessionMiddleware(auth.Receipts, s.logger))
	attested.Use(rateLimit()...)
	attested.POST("/master-secrets/:generation/fetch", handlers.Secrets.FetchMasterSecretHandler)
	attested.POST("/ephemeral-secrets/:epoch/fetch", handlers.Secrets.FetchEphemeralSecretHandler)

	// Operator endpoints
	admin := v1.Group("/admin")
	admin.Use(rateLimit()...)
	admin.Use(keymanagerHTTP.AdminAuthMiddleware(auth.AdminTokens, cfg.AdminTokenHash, s.logger))
	admin.POST("/runtimes/:runtime/master-secrets/:generation", handlers.Admin.GenerateMasterSecretHandler)
	admin.POST("/runtimes/:runtime/ephemeral-secrets/:epoch", handlers.Admin.GenerateEphemeralSecretHandler)
	admin.POST("/runtimes/:runtime/ephemeral-secrets/:epoch/publish", handlers.Admin.PublishEphemeralSecretHandler)
	admin.PUT("/consensus", handlers.Admin.AdvanceConsensusHandler)

	// Replica endpoints
	replication := v1.Group("/replication/runtimes/:runtime/:kind/:version")
	replication.Use(keymanagerHTTP.SessionMiddleware(auth.Receipts, s.logger))
	replication.Use(keymanagerHTTP.ReplicaMiddleware(auth.Replicas, s.logger))
	replication.Use(rateLimit()...)
	replication.POST("/ack", handlers.Replication.AckHandler)
	replication.GET("/export", handlers.Replication.ExportHandler)
	replication.POST("/import", handlers.Replication.ImportHandler)

	s.router = router
}

// GetHandler returns the http.Handler for testing purposes.
func (s *Server) GetHandler() http.Handler {
	return s.router
}

// healthHandler reports that the process is alive.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// readinessHandler runs every readiness check and reports each component.
func (s *Server) readinessHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ready := true
	components := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			s.logger.Warn("readiness check failed",
				slog.String("component", name),
				slog.Any("error", err))
			components[name] = "error"
			ready = false
			continue
		}
		components[name] = "ok"
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":     "not_ready",
			"components": components,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ready",
		"components": components,
	})
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	if s.router == nil {
		return fmt.Errorf("router not configured: call SetupRouter first")
	}
	s.server.Handler = s.router

	s.logger.Info("starting http server", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}
