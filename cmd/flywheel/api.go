// Package main provides the flywheel server binaries.
package main

import (
	"log/slog"
	"strconv"

	"github.com/flywheelhq/flywheel/pkg/persistence"
	"github.com/flywheelhq/flywheel/pkg/pipeline"
	"github.com/flywheelhq/flywheel/pkg/web"
	"github.com/flywheelhq/flywheel/pkg/webhook"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type API struct {
	logger   *slog.Logger
	store    persistence.Store
	pipeline *pipeline.Pipeline
	webhooks *webhook.Dispatcher
	validate *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Store,
	p *pipeline.Pipeline,
	webhooks *webhook.Dispatcher,
) *API {
	return &API{
		logger:   logger,
		store:    store,
		pipeline: p,
		webhooks: webhooks,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewHandlers(a.store, a.pipeline, a.webhooks, a.validate, a.logger)

	return web.NewApp(handlers)
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
