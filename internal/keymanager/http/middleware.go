package http

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/allisson/keymanager/internal/attestation"
	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/httputil"
	"github.com/allisson/keymanager/internal/keymanager/domain"
)

// ReceiptHeader carries the attestation receipt of the calling enclave.
const ReceiptHeader = "X-Attestation-Receipt"

// ReceiptVerifier checks attestation receipts.
type ReceiptVerifier interface {
	Verify(ctx context.Context, receipt string) (*attestation.Claims, error)
}

// ReplicaRegistry answers whether an identity belongs to the replica set.
type ReplicaRegistry interface {
	IsReplica(ctx context.Context, id string) (bool, error)
}

// TokenComparer verifies a plain bearer token against its hash.
type TokenComparer interface {
	CompareToken(plainToken, tokenHash string) bool
}

// SessionMiddleware authenticates the caller from its attestation receipt and
// stores the resulting session in the request context.
//
// Error handling:
//   - Missing, malformed, forged or expired receipt → 401 not_authenticated
func SessionMiddleware(verifier ReceiptVerifier, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		receipt := strings.TrimSpace(c.GetHeader(ReceiptHeader))
		if receipt == "" {
			logger.Debug("authentication failed: missing attestation receipt")
			httputil.HandleErrorGin(c, domain.ErrNotAuthenticated, logger)
			c.Abort()
			return
		}

		claims, err := verifier.Verify(c.Request.Context(), receipt)
		if err != nil {
			logger.Debug("authentication failed", slog.String("error", err.Error()))
			httputil.HandleErrorGin(c, domain.ErrNotAuthenticated, logger)
			c.Abort()
			return
		}

		session := claims.Session()
		c.Request = c.Request.WithContext(WithSession(c.Request.Context(), session))

		logger.Debug("authentication successful",
			slog.String("identity", session.Identity),
			slog.String("runtime_id", session.RuntimeID),
			slog.String("receipt_id", claims.ID))

		c.Next()
	}
}

// ReplicaMiddleware admits only sessions whose identity is a known replica.
// It MUST run after SessionMiddleware.
func ReplicaMiddleware(registry ReplicaRegistry, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := GetSession(c.Request.Context())
		if !ok {
			httputil.HandleErrorGin(c, domain.ErrNotAuthenticated, logger)
			c.Abort()
			return
		}

		isReplica, err := registry.IsReplica(c.Request.Context(), session.Identity)
		if err != nil {
			httputil.HandleErrorGin(c, err, logger)
			c.Abort()
			return
		}
		if !isReplica {
			logger.Debug("authorization failed: not a replica", slog.String("identity", session.Identity))
			httputil.HandleErrorGin(c, domain.ErrNotAuthorized, logger)
			c.Abort()
			return
		}

		c.Next()
	}
}

// AdminAuthMiddleware protects the admin API with a bearer token whose
// Argon2id hash is configured on the server. An empty hash disables the API.
//
// Authorization header format: "Bearer <token>" (case-insensitive "bearer")
func AdminAuthMiddleware(tokens TokenComparer, tokenHash string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenHash == "" {
			logger.Debug("admin request rejected: admin token not configured")
			httputil.HandleErrorGin(c, apperrors.ErrForbidden, logger)
			c.Abort()
			return
		}

		authHeader := c.GetHeader("Authorization")

		const bearerPrefix = "bearer "
		if len(authHeader) <= len(bearerPrefix) ||
			!strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
			logger.Debug("admin authentication failed: missing or malformed authorization header")
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}

		if !tokens.CompareToken(authHeader[len(bearerPrefix):], tokenHash) {
			logger.Debug("admin authentication failed: token mismatch")
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(domain.WithActor(c.Request.Context(), domain.AdminActor))
		c.Next()
	}
}
