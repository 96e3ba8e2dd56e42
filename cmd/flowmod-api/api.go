// Package main provides the flowmod API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/flowmod/flowmod/pkg/cmd"
	"github.com/flowmod/flowmod/pkg/eventbus"
	"github.com/flowmod/flowmod/pkg/orchestrator"
	"github.com/flowmod/flowmod/pkg/persistence"
	"github.com/flowmod/flowmod/pkg/services"
	"github.com/flowmod/flowmod/pkg/state"
	"github.com/flowmod/flowmod/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	workflows   *services.Workflows
	runs        *services.Runs
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	maxConcurrentTasks int,
) *API {
	store := state.NewStore(logger)
	executor := cmd.NewExecutor(logger, store)
	orch := orchestrator.NewOrchestrator(logger, store, executor, eventBus, orchestrator.Config{
		MaxConcurrentTasks: maxConcurrentTasks,
	})

	return &API{
		logger:      logger,
		persistence: persistence,
		workflows:   services.NewWorkflows(persistence),
		runs:        services.NewRuns(logger, store, orch, persistence),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Runs exposes the run service so triggers can submit and approve runs.
func (a *API) Runs() *services.Runs {
	return a.runs
}

// Workflows exposes the workflow definition service.
func (a *API) Workflows() *services.Workflows {
	return a.workflows
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.workflows, a.runs, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowmod API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
