package exports

import (
	apphttp "insight_backoffice_backend/internal/http"
	"insight_backoffice_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the exports bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	repo    *Repository
}

// NewModule creates and initializes the exports module.
func NewModule(pool *pgxpool.Pool, val *validator.Validator) *Module {
	repo := NewRepository(pool)
	h := NewHandler(repo, val)

	return &Module{
		handler: h,
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "exports"
}

// RegisterRoutes mounts the public CSV endpoint and key management routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	public := ctx.V1.Group("/exports")
	public.Use(APIKeyAuthMiddleware(m.repo))
	public.GET("/deals.csv", m.handler.ExportDealsCSV)

	admin := ctx.Admin.Group("/exports/keys")
	admin.POST("", m.handler.CreateAPIKey)
	admin.GET("", m.handler.ListAPIKeys)
	admin.DELETE("/:keyId", m.handler.RevokeAPIKey)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
