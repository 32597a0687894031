package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"insight_backoffice_backend/internal/distribution/service"
	"insight_backoffice_backend/internal/distribution/transport"
	"insight_backoffice_backend/platform/httpkit"
	"insight_backoffice_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Handler handles HTTP requests for deal distribution.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new distribution handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// Distribute assigns the ungrouped deals to the worker roster.
// POST /api/v1/reconciliation/distribution
func (h *Handler) Distribute(c *gin.Context) {
	var req transport.DistributeRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := httpkit.GetTenantID(c)
	if !ok {
		return
	}

	actorID := identity.UserID()
	result, err := h.svc.Distribute(c.Request.Context(), tenantID, &actorID, req.Workers)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}
