// Package imports ingests CSV exports from external deal sources, either
// inline for small files or through persisted background jobs.
package imports

import (
	"insight_backoffice_backend/internal/contacts"
	"insight_backoffice_backend/internal/deals"
	"insight_backoffice_backend/internal/events"
	apphttp "insight_backoffice_backend/internal/http"
	"insight_backoffice_backend/internal/imports/handler"
	"insight_backoffice_backend/internal/imports/repository"
	"insight_backoffice_backend/internal/imports/service"
	"insight_backoffice_backend/internal/scheduler"
	"insight_backoffice_backend/internal/storage"
	"insight_backoffice_backend/platform/config"
	"insight_backoffice_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the imports bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the imports module. store and tasks may be
// nil; without both, every upload is imported synchronously.
func NewModule(pool *pgxpool.Pool, dealRepo *deals.Repository, contactRepo *contacts.Repository, store storage.Service, tasks *scheduler.Client, cfg config.ImportConfig, minioCfg config.MinIOConfig, bus events.Bus, log *logger.Logger) *Module {
	repo := repository.New(pool)

	var enqueuer service.JobEnqueuer
	if tasks != nil {
		enqueuer = tasks
	}

	svc := service.New(repo, dealRepo, contactRepo, store, minioCfg.GetMinioBucketImports(), enqueuer, cfg, bus, log)
	h := handler.New(svc)

	return &Module{
		handler: h,
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "imports"
}

// Service returns the importer for the background worker.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts the upload and job polling routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/imports")
	group.POST("", m.handler.Import)
	group.GET("/:id", m.handler.Job)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
