package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/allisson/keymanager/internal/consensus"
	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/httputil"
	"github.com/allisson/keymanager/internal/keymanager/http/dto"
	keymanagerUseCase "github.com/allisson/keymanager/internal/keymanager/usecase"
	customValidation "github.com/allisson/keymanager/internal/validation"
)

// ConsensusAdvancer is an oracle an operator moves forward by hand.
type ConsensusAdvancer interface {
	consensus.Oracle
	Advance(height, epoch uint64) error
}

// AdminHandler drives the secret lifecycles on behalf of an operator.
type AdminHandler struct {
	masters    keymanagerUseCase.MasterSecretManager
	ephemerals keymanagerUseCase.EphemeralSecretManager
	oracle     ConsensusAdvancer
	logger     *slog.Logger
}

// NewAdminHandler creates a new admin handler. oracle is nil unless the
// manual consensus backend is configured.
func NewAdminHandler(
	masters keymanagerUseCase.MasterSecretManager,
	ephemerals keymanagerUseCase.EphemeralSecretManager,
	oracle ConsensusAdvancer,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		masters:    masters,
		ephemerals: ephemerals,
		oracle:     oracle,
		logger:     logger,
	}
}

// GenerateMasterSecretHandler generates a master secret generation.
// POST /v1/admin/runtimes/:runtime/master-secrets/:generation - Requires the admin token.
// Returns 201 Created with metadata only; generating an existing generation returns it unchanged.
func (h *AdminHandler) GenerateMasterSecretHandler(c *gin.Context) {
	runtimeID, err := runtimeParam(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	generation, err := versionParam(c, "generation")
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	secret, err := h.masters.Generate(c.Request.Context(), runtimeID, generation)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusCreated, dto.MapMasterSecretToResponse(secret))
}

// GenerateEphemeralSecretHandler generates an ephemeral secret epoch.
// POST /v1/admin/runtimes/:runtime/ephemeral-secrets/:epoch - Requires the admin token.
func (h *AdminHandler) GenerateEphemeralSecretHandler(c *gin.Context) {
	runtimeID, err := runtimeParam(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	epoch, err := versionParam(c, "epoch")
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	secret, err := h.ephemerals.Generate(c.Request.Context(), runtimeID, epoch)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusCreated, dto.MapEphemeralSecretToResponse(secret))
}

// PublishEphemeralSecretHandler makes a replicated epoch releasable.
// POST /v1/admin/runtimes/:runtime/ephemeral-secrets/:epoch/publish - Requires the admin token.
func (h *AdminHandler) PublishEphemeralSecretHandler(c *gin.Context) {
	runtimeID, err := runtimeParam(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	epoch, err := versionParam(c, "epoch")
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	secret, err := h.ephemerals.Publish(c.Request.Context(), runtimeID, epoch)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapEphemeralSecretToResponse(secret))
}

// AdvanceConsensusHandler moves the manual oracle forward.
// PUT /v1/admin/consensus - Requires the admin token. Only served by the manual backend.
func (h *AdminHandler) AdvanceConsensusHandler(c *gin.Context) {
	if h.oracle == nil {
		httputil.HandleErrorGin(c, apperrors.ErrNotFound, h.logger)
		return
	}

	var req dto.AdvanceConsensusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	if err := h.oracle.Advance(*req.Height, *req.Epoch); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	h.logger.Info("consensus advanced",
		slog.Uint64("height", *req.Height),
		slog.Uint64("epoch", *req.Epoch))

	c.JSON(http.StatusOK, dto.ConsensusResponse{Height: *req.Height, Epoch: *req.Epoch})
}
