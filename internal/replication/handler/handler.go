package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"insight_backoffice_backend/internal/replication/service"
	"insight_backoffice_backend/internal/replication/transport"
	"insight_backoffice_backend/platform/httpkit"
	"insight_backoffice_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidID        = "invalid rule ID"
)

// Handler handles HTTP requests for the replication engine and its rules.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new replication handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// Run triggers replication for a single deal or drains the retry queue.
// POST /api/v1/reconciliation/replication
func (h *Handler) Run(c *gin.Context) {
	var req transport.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
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
	result, err := h.svc.Run(c.Request.Context(), tenantID, req, &actorID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// ListRules returns every replication rule of the organization.
// GET /api/v1/reconciliation/replication/rules
func (h *Handler) ListRules(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := httpkit.GetTenantID(c)
	if !ok {
		return
	}

	rules, err := h.svc.Rules(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}

	items := make([]transport.RuleResponse, 0, len(rules))
	for _, rule := range rules {
		items = append(items, transport.ToRuleResponse(rule))
	}
	httpkit.OK(c, transport.RuleListResponse{Success: true, Items: items, Total: len(items)})
}

// CreateRule adds a replication rule.
// POST /api/v1/reconciliation/replication/rules
func (h *Handler) CreateRule(c *gin.Context) {
	var req transport.RuleRequest
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

	created, err := h.svc.CreateRule(c.Request.Context(), req.ToRule(tenantID))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, gin.H{"success": true, "rule": transport.ToRuleResponse(created)})
}

// UpdateRule replaces a rule's fields.
// PUT /api/v1/reconciliation/replication/rules/:id
func (h *Handler) UpdateRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}

	var req transport.RuleRequest
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

	rule := req.ToRule(tenantID)
	rule.ID = id
	updated, err := h.svc.UpdateRule(c.Request.Context(), rule)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"success": true, "rule": transport.ToRuleResponse(updated)})
}

// DeleteRule removes a rule.
// DELETE /api/v1/reconciliation/replication/rules/:id
func (h *Handler) DeleteRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
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

	if err := h.svc.DeleteRule(c.Request.Context(), tenantID, id); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"success": true})
}
