package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
	"github.com/allisson/keymanager/internal/httputil"
	"github.com/allisson/keymanager/internal/keymanager/domain"
	"github.com/allisson/keymanager/internal/keymanager/http/dto"
	keymanagerUseCase "github.com/allisson/keymanager/internal/keymanager/usecase"
	customValidation "github.com/allisson/keymanager/internal/validation"
)

type fetchFunc func(context.Context, *domain.Session, *domain.FetchRequest) (*domain.ReleasedSecret, error)

// SecretHandler releases secrets to attested enclaves through the authorization gate.
type SecretHandler struct {
	gate   keymanagerUseCase.Gate
	logger *slog.Logger
}

// NewSecretHandler creates a new secret handler.
func NewSecretHandler(gate keymanagerUseCase.Gate, logger *slog.Logger) *SecretHandler {
	return &SecretHandler{
		gate:   gate,
		logger: logger,
	}
}

// FetchMasterSecretHandler releases one master secret generation.
// POST /v1/runtimes/:runtime/master-secrets/:generation/fetch - Requires an attested session.
func (h *SecretHandler) FetchMasterSecretHandler(c *gin.Context) {
	h.fetch(c, "generation", h.gate.FetchMasterSecret)
}

// FetchEphemeralSecretHandler releases one ephemeral secret epoch.
// POST /v1/runtimes/:runtime/ephemeral-secrets/:epoch/fetch - Requires an attested session.
func (h *SecretHandler) FetchEphemeralSecretHandler(c *gin.Context) {
	h.fetch(c, "epoch", h.gate.FetchEphemeralSecret)
}

func (h *SecretHandler) fetch(c *gin.Context, versionName string, fetch fetchFunc) {
	runtimeID, err := runtimeParam(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	version, err := versionParam(c, versionName)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	var req dto.FetchSecretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	// A missing session is rejected by the gate as not authenticated.
	session, _ := GetSession(c.Request.Context())

	released, err := fetch(c.Request.Context(), session, &domain.FetchRequest{
		RuntimeID: runtimeID,
		Version:   version,
		Height:    *req.Height,
	})
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	// SECURITY: Zero plaintext after the response is serialized
	defer cryptoDomain.Zero(released.Secret)

	c.JSON(http.StatusOK, dto.MapReleasedSecretToResponse(released))
}
