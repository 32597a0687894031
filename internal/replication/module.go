// Package replication copies deals into other pipelines when they match
// configured rules, with a persisted retry queue for failed items.
package replication

import (
	activityrepo "insight_backoffice_backend/internal/activities/repository"
	"insight_backoffice_backend/internal/deals"
	"insight_backoffice_backend/internal/events"
	apphttp "insight_backoffice_backend/internal/http"
	"insight_backoffice_backend/internal/replication/handler"
	"insight_backoffice_backend/internal/replication/repository"
	"insight_backoffice_backend/internal/replication/service"
	"insight_backoffice_backend/platform/logger"
	"insight_backoffice_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the replication bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the replication module.
func NewModule(pool *pgxpool.Pool, dealRepo *deals.Repository, activityLog *activityrepo.Repo, bus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, dealRepo, activityLog, bus, log)
	h := handler.New(svc, val)

	return &Module{
		handler: h,
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "replication"
}

// Service returns the engine for the background worker's queue drain.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts the engine trigger and rule management routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/reconciliation/replication")
	group.POST("", m.handler.Run)
	group.GET("/rules", m.handler.ListRules)
	group.POST("/rules", m.handler.CreateRule)
	group.PUT("/rules/:id", m.handler.UpdateRule)
	group.DELETE("/rules/:id", m.handler.DeleteRule)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
