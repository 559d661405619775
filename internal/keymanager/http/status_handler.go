package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/allisson/keymanager/internal/httputil"
	"github.com/allisson/keymanager/internal/keymanager/http/dto"
	keymanagerUseCase "github.com/allisson/keymanager/internal/keymanager/usecase"
)

// StatusHandler reports the key manager state of a runtime.
type StatusHandler struct {
	gate   keymanagerUseCase.Gate
	logger *slog.Logger
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(gate keymanagerUseCase.Gate, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		gate:   gate,
		logger: logger,
	}
}

// GetHandler returns the status of a runtime.
// GET /v1/runtimes/:runtime/status?signed=true - Public.
// With signed=true the status is signed with this node's runtime signing key.
func (h *StatusHandler) GetHandler(c *gin.Context) {
	runtimeID, err := runtimeParam(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	signed, err := strconv.ParseBool(c.DefaultQuery("signed", "false"))
	if err != nil {
		httputil.HandleValidationErrorGin(c, fmt.Errorf("invalid signed parameter: must be a boolean"), h.logger)
		return
	}

	if signed {
		status, err := h.gate.SignedStatus(c.Request.Context(), runtimeID)
		if err != nil {
			httputil.HandleErrorGin(c, err, h.logger)
			return
		}
		c.JSON(http.StatusOK, dto.MapSignedStatusToResponse(status))
		return
	}

	status, err := h.gate.Status(c.Request.Context(), runtimeID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, dto.MapStatusToResponse(status))
}
