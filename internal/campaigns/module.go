// Package campaigns provides the outbound call campaign domain module.
package campaigns

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"outreach_backend/internal/campaigns/handler"
	"outreach_backend/internal/campaigns/repository"
	"outreach_backend/internal/campaigns/service"
	apphttp "outreach_backend/internal/http"
	"outreach_backend/platform/logger"
	"outreach_backend/platform/validator"
)

// Module represents the campaigns domain module
type Module struct {
	handler    *handler.Handler
	Service    *service.Service
	Repository *repository.Repository
}

// NewModule creates a new campaigns module with all dependencies wired
func NewModule(pool *pgxpool.Pool, val *validator.Validator, dispatcher service.Dispatcher, status handler.StatusSource, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, dispatcher, log)
	h := handler.New(svc, status, val)

	return &Module{
		handler:    h,
		Service:    svc,
		Repository: repo,
	}
}

// Name returns the module name for logging
func (m *Module) Name() string {
	return "campaigns"
}

// RegisterRoutes registers the module's routes under /api/voicebot
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	voicebot := ctx.API.Group("/voicebot")
	m.handler.RegisterRoutes(voicebot)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
