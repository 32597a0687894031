package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"insight_backoffice_backend/internal/transactions/service"
	"insight_backoffice_backend/internal/transactions/transport"
	"insight_backoffice_backend/platform/httpkit"
	"insight_backoffice_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Handler handles HTTP requests for orphan promotion runs.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new transactions handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// Promote runs the orphan promotion pass over a date window.
// POST /api/v1/reconciliation/orphan-promotions
func (h *Handler) Promote(c *gin.Context) {
	var req transport.PromoteRequest
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

	result, err := h.svc.Run(c.Request.Context(), tenantID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}
