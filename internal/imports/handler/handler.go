package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"insight_backoffice_backend/internal/imports/service"
	"insight_backoffice_backend/internal/imports/transport"
	"insight_backoffice_backend/platform/httpkit"
)

const (
	msgMissingFile     = "a csv file is required in the 'file' field"
	msgInvalidOriginID = "a valid origin_id form field is required"
	msgInvalidJobID    = "invalid import job ID"
)

// Handler handles HTTP requests for CSV imports.
type Handler struct {
	svc *service.Service
}

// New creates a new imports handler.
func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Import accepts a multipart CSV upload and runs or schedules the import.
// POST /api/v1/imports
func (h *Handler) Import(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgMissingFile, nil)
		return
	}

	originID, err := uuid.Parse(c.PostForm("origin_id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidOriginID, nil)
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

	file, err := fileHeader.Open()
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "could not read uploaded file", nil)
		return
	}
	defer file.Close()

	createdBy := identity.UserID()
	sync, async, err := h.svc.Import(c.Request.Context(), tenantID, &createdBy, originID, service.Upload{
		FileName:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
		Reader:      file,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	if async != nil {
		httpkit.JSON(c, http.StatusAccepted, async)
		return
	}
	httpkit.OK(c, sync)
}

// Job returns the status of a background import.
// GET /api/v1/imports/:id
func (h *Handler) Job(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidJobID, nil)
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

	job, err := h.svc.Job(c.Request.Context(), tenantID, jobID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToJobResponse(job))
}
