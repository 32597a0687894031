// Package transactions promotes speculative sale records into the
// dashboard once no authoritative counterpart can be matched to them.
package transactions

import (
	"insight_backoffice_backend/internal/events"
	apphttp "insight_backoffice_backend/internal/http"
	"insight_backoffice_backend/internal/transactions/handler"
	"insight_backoffice_backend/internal/transactions/repository"
	"insight_backoffice_backend/internal/transactions/service"
	"insight_backoffice_backend/platform/config"
	"insight_backoffice_backend/platform/logger"
	"insight_backoffice_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the transactions bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the transactions module.
func NewModule(pool *pgxpool.Pool, cfg config.ReconciliationConfig, bus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, cfg, bus, log)
	h := handler.New(svc, val)

	return &Module{
		handler: h,
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "transactions"
}

// RegisterRoutes mounts the orphan promotion route.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/reconciliation")
	group.POST("/orphan-promotions", m.handler.Promote)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
