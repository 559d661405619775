package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/allisson/keymanager/internal/httputil"
	"github.com/allisson/keymanager/internal/keymanager/domain"
	"github.com/allisson/keymanager/internal/keymanager/http/dto"
	keymanagerUseCase "github.com/allisson/keymanager/internal/keymanager/usecase"
	customValidation "github.com/allisson/keymanager/internal/validation"
)

// ReplicationHandler serves peer replicas: acknowledgments and the transfer of
// material sealed to runtime encryption keys.
type ReplicationHandler struct {
	masters     keymanagerUseCase.MasterSecretManager
	ephemerals  keymanagerUseCase.EphemeralSecretManager
	coordinator keymanagerUseCase.ReplicationCoordinator
	logger      *slog.Logger
}

// NewReplicationHandler creates a new replication handler.
func NewReplicationHandler(
	masters keymanagerUseCase.MasterSecretManager,
	ephemerals keymanagerUseCase.EphemeralSecretManager,
	coordinator keymanagerUseCase.ReplicationCoordinator,
	logger *slog.Logger,
) *ReplicationHandler {
	return &ReplicationHandler{
		masters:     masters,
		ephemerals:  ephemerals,
		coordinator: coordinator,
		logger:      logger,
	}
}

// AckHandler records that the calling replica holds a copy of a record.
// POST /v1/replication/runtimes/:runtime/:kind/:version/ack - Requires a replica session.
// Returns 204 No Content.
func (h *ReplicationHandler) AckHandler(c *gin.Context) {
	key, err := recordKeyParams(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	var req dto.AckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	session, ok := GetSession(c.Request.Context())
	if !ok {
		httputil.HandleErrorGin(c, domain.ErrNotAuthenticated, h.logger)
		return
	}

	if err := h.coordinator.Ack(c.Request.Context(), key, session.Identity, req.Checksum); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.Data(http.StatusNoContent, "application/json", nil)
}

// ExportHandler seals a record to the calling replica's attested REK.
// GET /v1/replication/runtimes/:runtime/:kind/:version/export - Requires a replica session with a REK.
func (h *ReplicationHandler) ExportHandler(c *gin.Context) {
	key, err := recordKeyParams(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	session, ok := GetSession(c.Request.Context())
	if !ok {
		httputil.HandleErrorGin(c, domain.ErrNotAuthenticated, h.logger)
		return
	}
	if !session.HasREK() {
		httputil.HandleErrorGin(c, domain.ErrREKNotPublished, h.logger)
		return
	}

	var sealed *domain.SealedSecret
	switch key.Kind {
	case domain.KindMaster:
		sealed, err = h.masters.Export(c.Request.Context(), key.RuntimeID, key.Version, session.REK)
	default:
		sealed, err = h.ephemerals.Export(c.Request.Context(), key.RuntimeID, key.Version, session.REK)
	}
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	h.logger.Info("secret exported",
		slog.String("key", key.String()),
		slog.String("replica_id", session.Identity))

	c.JSON(http.StatusOK, dto.MapSealedSecretToResponse(sealed))
}

// ImportHandler stores material a peer sealed to this node's REK.
// POST /v1/replication/runtimes/:runtime/:kind/:version/import - Requires a replica session.
func (h *ReplicationHandler) ImportHandler(c *gin.Context) {
	key, err := recordKeyParams(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	var req dto.ImportSecretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	switch key.Kind {
	case domain.KindMaster:
		secret, err := h.masters.Import(c.Request.Context(), req.ToDomain(key))
		if err != nil {
			httputil.HandleErrorGin(c, err, h.logger)
			return
		}
		c.JSON(http.StatusOK, dto.MapMasterSecretToResponse(secret))
	default:
		secret, err := h.ephemerals.Import(c.Request.Context(), req.ToDomain(key))
		if err != nil {
			httputil.HandleErrorGin(c, err, h.logger)
			return
		}
		c.JSON(http.StatusOK, dto.MapEphemeralSecretToResponse(secret))
	}
}
