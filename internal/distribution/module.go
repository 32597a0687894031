// Package distribution assigns ungrouped deals to a configured worker roster
// by quota, in shuffled order.
package distribution

import (
	"fmt"
	"math/rand"
	"time"

	activityrepo "insight_backoffice_backend/internal/activities/repository"
	"insight_backoffice_backend/internal/deals"
	"insight_backoffice_backend/internal/distribution/handler"
	"insight_backoffice_backend/internal/distribution/service"
	apphttp "insight_backoffice_backend/internal/http"
	"insight_backoffice_backend/platform/config"
	"insight_backoffice_backend/platform/logger"
	"insight_backoffice_backend/platform/validator"
)

// Module is the distribution bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the distribution module, loading the
// default worker roster from the configured YAML file.
func NewModule(dealRepo *deals.Repository, activityLog *activityrepo.Repo, cfg config.DistributionConfig, val *validator.Validator, log *logger.Logger) (*Module, error) {
	roster, err := LoadRoster(cfg.GetDistributionRosterPath())
	if err != nil {
		return nil, fmt.Errorf("load distribution roster: %w", err)
	}

	svc := service.New(dealRepo, activityLog, roster, cfg.GetDistributionTag(),
		rand.NewSource(time.Now().UnixNano()), log)
	h := handler.New(svc, val)

	return &Module{
		handler: h,
		service: svc,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "distribution"
}

// RegisterRoutes mounts the distribution trigger route.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/reconciliation")
	group.POST("/distribution", m.handler.Distribute)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
