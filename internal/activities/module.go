// Package activities provides the deal activity log and the duplicate
// stage-change detector. Other reconciliation modules write their audit
// entries through this module's repository.
package activities

import (
	"insight_backoffice_backend/internal/activities/handler"
	"insight_backoffice_backend/internal/activities/repository"
	"insight_backoffice_backend/internal/activities/service"
	apphttp "insight_backoffice_backend/internal/http"
	"insight_backoffice_backend/platform/config"
	"insight_backoffice_backend/platform/logger"
	"insight_backoffice_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the activities bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    *repository.Repo
}

// NewModule creates and initializes the activities module.
func NewModule(pool *pgxpool.Pool, cfg config.ReconciliationConfig, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, cfg, log)
	h := handler.New(svc, val)

	return &Module{
		handler: h,
		service: svc,
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "activities"
}

// Repository returns the activity log for other modules' audit writes.
func (m *Module) Repository() *repository.Repo {
	return m.repo
}

// RegisterRoutes mounts duplicate-activity review routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/reconciliation/duplicate-activities")
	group.POST("/scan", m.handler.Scan)
	group.GET("", m.handler.List)
	group.PATCH("/:id", m.handler.Review)
	group.POST("/bulk-ignore", m.handler.BulkIgnore)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
