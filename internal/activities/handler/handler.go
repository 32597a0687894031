package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"insight_backoffice_backend/internal/activities/service"
	"insight_backoffice_backend/internal/activities/transport"
	"insight_backoffice_backend/platform/httpkit"
	"insight_backoffice_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidID        = "invalid duplicate record ID"
)

// Handler handles HTTP requests for duplicate-activity review.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new duplicate-activities handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// Scan triggers a duplicate detection pass.
// POST /api/v1/reconciliation/duplicate-activities/scan
func (h *Handler) Scan(c *gin.Context) {
	var req transport.ScanRequest
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

	result, err := h.svc.Scan(c.Request.Context(), tenantID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// List returns duplicate records, filterable by ?status=.
// GET /api/v1/reconciliation/duplicate-activities
func (h *Handler) List(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := httpkit.GetTenantID(c)
	if !ok {
		return
	}

	items, err := h.svc.List(c.Request.Context(), tenantID, c.Query("status"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ListResponse{Success: true, Items: items, Total: len(items)})
}

// Review sets a record's status to ignored or deleted.
// PATCH /api/v1/reconciliation/duplicate-activities/:id
func (h *Handler) Review(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}

	var req transport.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
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

	if err := h.svc.Review(c.Request.Context(), tenantID, id, req.Status, identity.UserID()); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"success": true})
}

// BulkIgnore marks every pending record as ignored.
// POST /api/v1/reconciliation/duplicate-activities/bulk-ignore
func (h *Handler) BulkIgnore(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := httpkit.GetTenantID(c)
	if !ok {
		return
	}

	count, err := h.svc.BulkIgnore(c.Request.Context(), tenantID, identity.UserID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.BulkIgnoreResponse{Success: true, Ignored: count})
}
