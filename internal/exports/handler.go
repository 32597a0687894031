package exports

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"insight_backoffice_backend/platform/httpkit"
	"insight_backoffice_backend/platform/validator"
)

const (
	dateLayout    = "2006-01-02"
	defaultLimit  = 5000
	maxLimit      = 50000
	defaultWindow = 90 // days
)

// Handler handles export requests and API key management.
type Handler struct {
	repo *Repository
	val  *validator.Validator
}

// NewHandler creates a new export handler.
func NewHandler(repo *Repository, val *validator.Validator) *Handler {
	return &Handler{repo: repo, val: val}
}

// ---- Admin API key management (JWT authenticated) ----

type CreateAPIKeyRequest struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

type APIKeyResponse struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"keyPrefix"`
	IsActive   bool       `json:"isActive"`
	CreatedAt  string     `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

type CreateAPIKeyResponse struct {
	Success bool `json:"success"`
	APIKeyResponse
	// Key is the plaintext credential, returned only on creation.
	Key string `json:"key"`
}

type APIKeyListResponse struct {
	Success bool             `json:"success"`
	Keys    []APIKeyResponse `json:"keys"`
}

// CreateAPIKey mints a new export credential.
func (h *Handler) CreateAPIKey(c *gin.Context) {
	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation error", err.Error())
		return
	}

	tenantID, ok := httpkit.GetTenantID(c)
	if !ok {
		return
	}

	plaintext, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		httpkit.Error(c, http.StatusInternalServerError, "failed to generate API key", nil)
		return
	}

	key, err := h.repo.CreateAPIKey(c.Request.Context(), tenantID, req.Name, hash, prefix)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.Created(c, CreateAPIKeyResponse{
		Success:        true,
		APIKeyResponse: toAPIKeyResponse(key),
		Key:            plaintext,
	})
}

// ListAPIKeys returns the organization's export credentials.
func (h *Handler) ListAPIKeys(c *gin.Context) {
	tenantID, ok := httpkit.GetTenantID(c)
	if !ok {
		return
	}

	keys, err := h.repo.ListAPIKeys(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}

	result := make([]APIKeyResponse, len(keys))
	for i, k := range keys {
		result[i] = toAPIKeyResponse(k)
	}
	httpkit.OK(c, APIKeyListResponse{Success: true, Keys: result})
}

// RevokeAPIKey deactivates an export credential.
func (h *Handler) RevokeAPIKey(c *gin.Context) {
	tenantID, ok := httpkit.GetTenantID(c)
	if !ok {
		return
	}

	keyID, err := uuid.Parse(c.Param("keyId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid key id", nil)
		return
	}

	if err := h.repo.RevokeAPIKey(c.Request.Context(), tenantID, keyID); err != nil {
		if err == ErrAPIKeyNotFound {
			httpkit.Error(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"success": true, "message": "api key revoked"})
}

// ---- Deal CSV export (API key authenticated) ----

// ExportDealsCSV streams the organization's deals as CSV. The column set
// mirrors what the importer accepts, so an exported file re-imports cleanly.
func (h *Handler) ExportDealsCSV(c *gin.Context) {
	orgID, ok := getExportOrgID(c)
	if !ok {
		return
	}
	if keyID, ok := getExportKeyID(c); ok {
		h.repo.TouchAPIKey(c.Request.Context(), keyID)
	}

	var originID *uuid.UUID
	if raw := strings.TrimSpace(c.Query("origin_id")); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, "invalid origin_id", nil)
			return
		}
		originID = &parsed
	}

	from, to, err := parseDateRange(c)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid date range", err.Error())
		return
	}
	limit := parseLimit(c, defaultLimit, maxLimit)

	rows, err := h.repo.ListDeals(c.Request.Context(), orgID, originID, from, to, limit)
	if httpkit.HandleError(c, err) {
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=deals.csv")

	writer := csv.NewWriter(c.Writer)
	if err := writer.Write(exportHeaders()); err != nil {
		return
	}
	for _, row := range rows {
		if err := writer.Write(row.CSV()); err != nil {
			return
		}
	}
	writer.Flush()
}

// exportHeaders lists the CSV columns in importer-compatible canonical names.
func exportHeaders() []string {
	return []string{"external_id", "name", "value", "contact_name", "email", "phone", "stage", "tags", "created_at"}
}

// CSV renders the row in the exportHeaders column order.
func (r ExportRow) CSV() []string {
	return []string{
		deref(r.ExternalID),
		r.Name,
		r.Value.StringFixed(2),
		deref(r.ContactName),
		deref(r.Email),
		deref(r.Phone),
		r.StageName,
		strings.Join(r.Tags, ","),
		r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toAPIKeyResponse(key APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:         key.ID,
		Name:       key.Name,
		KeyPrefix:  key.KeyPrefix,
		IsActive:   key.IsActive,
		CreatedAt:  key.CreatedAt.Format(time.RFC3339),
		LastUsedAt: key.LastUsedAt,
	}
}

func parseDateRange(c *gin.Context) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -defaultWindow)
	to := now

	if raw := strings.TrimSpace(c.Query("fromDate")); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}
	if raw := strings.TrimSpace(c.Query("toDate")); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("toDate before fromDate")
	}
	return from, to, nil
}

func parseLimit(c *gin.Context, fallback, max int) int {
	limit := fallback
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	if limit > max {
		return max
	}
	if limit < 1 {
		return fallback
	}
	return limit
}
