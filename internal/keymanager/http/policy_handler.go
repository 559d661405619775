package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/allisson/keymanager/internal/httputil"
	"github.com/allisson/keymanager/internal/keymanager/http/dto"
	keymanagerUseCase "github.com/allisson/keymanager/internal/keymanager/usecase"
	customValidation "github.com/allisson/keymanager/internal/validation"
)

// PolicyHandler admits and serves signed access policies.
type PolicyHandler struct {
	policies keymanagerUseCase.PolicyEngine
	logger   *slog.Logger
}

// NewPolicyHandler creates a new policy handler.
func NewPolicyHandler(policies keymanagerUseCase.PolicyEngine, logger *slog.Logger) *PolicyHandler {
	return &PolicyHandler{
		policies: policies,
		logger:   logger,
	}
}

// SubmitHandler submits a signed policy for the runtime in the URL.
// PUT /v1/runtimes/:runtime/policy - Authenticated by the policy signatures.
// Returns 200 OK with the admitted policy.
func (h *PolicyHandler) SubmitHandler(c *gin.Context) {
	runtimeID, err := runtimeParam(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	var req dto.SubmitPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}
	if req.Policy.RuntimeID != runtimeID {
		httputil.HandleValidationErrorGin(
			c,
			fmt.Errorf("policy runtime_id %q does not match the runtime in the path", req.Policy.RuntimeID),
			h.logger,
		)
		return
	}

	signed := req.ToDomain()
	if err := h.policies.Submit(c.Request.Context(), signed); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	h.logger.Info("policy submitted",
		slog.String("runtime_id", runtimeID),
		slog.Uint64("serial", signed.Policy.Serial))

	c.JSON(http.StatusOK, dto.MapPolicyToResponse(signed))
}

// GetHandler returns the current policy of a runtime.
// GET /v1/runtimes/:runtime/policy - Public.
func (h *PolicyHandler) GetHandler(c *gin.Context) {
	runtimeID, err := runtimeParam(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	signed, err := h.policies.Current(c.Request.Context(), runtimeID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapPolicyToResponse(signed))
}
